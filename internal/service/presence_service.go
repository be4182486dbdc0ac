package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/baseline"
	"github.com/okeyenglish/presence-agent/internal/collector"
	"github.com/okeyenglish/presence-agent/internal/device"
	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/notify"
	"github.com/okeyenglish/presence-agent/internal/queue"
	"github.com/okeyenglish/presence-agent/internal/realtime"
	"github.com/okeyenglish/presence-agent/internal/sound"
	"github.com/okeyenglish/presence-agent/internal/tracker"
)

// queueRetryInterval is how often the retry queue is drained
const queueRetryInterval = 60 * time.Second

// sessionUploadInterval is how often daily totals are pushed to the
// work-session row
const sessionUploadInterval = 60 * time.Second

// queueMaxAge is how long failed snapshots stay in the retry queue
const queueMaxAge = 7 * 24 * time.Hour

// Uploader is the backend surface the service needs. *backend.Client
// satisfies it.
type Uploader interface {
	UploadSnapshots(ctx context.Context, batch models.SnapshotBatch) error
	UpsertWorkSession(ctx context.Context, row models.WorkSessionRow) error
}

// PresenceService orchestrates the agent: tracker state flows out as
// snapshots and work-session totals, server baselines flow back into the
// tracker, and the realtime synchronizer runs alongside.
type PresenceService struct {
	activityTracker *tracker.ActivityTracker
	snapshots       *collector.SnapshotCollector
	uploader        Uploader
	retryQueue      *queue.SnapshotQueue
	baselines       *baseline.Fetcher
	synchronizer    *realtime.Synchronizer
	sounds          *sound.Engine
	notifier        *notify.Gateway
	identity        device.Identity
	userID          string
	logger          *zap.Logger

	mu               sync.Mutex
	lastSnapshotTime time.Time
	stopped          bool

	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewPresenceService(
	activityTracker *tracker.ActivityTracker,
	snapshots *collector.SnapshotCollector,
	uploader Uploader,
	retryQueue *queue.SnapshotQueue,
	baselines *baseline.Fetcher,
	synchronizer *realtime.Synchronizer,
	sounds *sound.Engine,
	notifier *notify.Gateway,
	identity device.Identity,
	userID string,
	logger *zap.Logger,
) *PresenceService {
	return &PresenceService{
		activityTracker: activityTracker,
		snapshots:       snapshots,
		uploader:        uploader,
		retryQueue:      retryQueue,
		baselines:       baselines,
		synchronizer:    synchronizer,
		sounds:          sounds,
		notifier:        notifier,
		identity:        identity,
		userID:          userID,
		logger:          logger,
		stopChan:        make(chan struct{}),
	}
}

// Start brings up every component
func (ps *PresenceService) Start(ctx context.Context) error {
	ps.logger.Info("Starting presence service",
		zap.String("device_id", ps.identity.ID),
		zap.String("user_id", ps.userID),
	)

	ctx, ps.cancel = context.WithCancel(ctx)

	if err := ps.activityTracker.Start(ps.onStatusChange, ps.onLowActivity); err != nil {
		return err
	}

	ps.snapshots.Start(ps.onBatchReady)

	if ps.baselines != nil {
		ps.baselines.Start(ctx, ps.activityTracker.ApplyBaseline)
	}

	if ps.synchronizer != nil {
		ps.synchronizer.Start(ctx)
	}

	ps.wg.Add(2)
	go ps.queueLoop(ctx)
	go ps.sessionUploadLoop(ctx)

	ps.logger.Info("Presence service started")
	return nil
}

// Stop shuts the components down in dependency order and drains what it
// can before returning
func (ps *PresenceService) Stop() {
	ps.logger.Info("Stopping presence service")

	ps.mu.Lock()
	select {
	case <-ps.stopChan:
		// Already stopped
		ps.mu.Unlock()
		return
	default:
		ps.stopped = true
		close(ps.stopChan)
	}
	ps.mu.Unlock()

	if ps.synchronizer != nil {
		ps.synchronizer.Stop()
	}

	ps.activityTracker.Stop()

	// Final totals before the collector drains
	ps.uploadSessionTotals(context.Background())

	ps.snapshots.Stop()

	if ps.cancel != nil {
		ps.cancel()
	}

	done := make(chan struct{})
	go func() {
		ps.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		ps.logger.Warn("Some goroutines did not stop within timeout")
	}

	ps.logger.Info("Presence service stopped")
}

// onStatusChange records a snapshot whenever the presence status flips
func (ps *PresenceService) onStatusChange(old, current models.Status) {
	ps.mu.Lock()
	if ps.stopped {
		ps.mu.Unlock()
		return
	}

	now := time.Now()
	var duration *int64
	if !ps.lastSnapshotTime.IsZero() {
		if d := now.Sub(ps.lastSnapshotTime).Milliseconds(); d > 0 {
			duration = &d
		}
	}
	ps.lastSnapshotTime = now
	ps.mu.Unlock()

	ps.logger.Debug("Presence status changed",
		zap.String("from", string(old)),
		zap.String("to", string(current)),
	)

	ps.snapshots.Add(models.PresenceSnapshot{
		UserID:    ps.userID,
		DeviceID:  ps.identity.ID,
		Timestamp: now.UnixMilli(),
		Status:    string(current),
		Duration:  duration,
	})
}

// onLowActivity surfaces the once-daily low-activity warning
func (ps *PresenceService) onLowActivity(percent int) {
	ps.logger.Info("Low activity alert", zap.Int("active_percent", percent))

	if ps.sounds != nil {
		ps.sounds.Play(sound.CategoryDefault)
	}
	if ps.notifier != nil {
		ps.notifier.Show(notify.Notification{
			Title: "Low activity",
			Body:  "Your active time today is below the expected level.",
			Tag:   "low-activity",
		})
	}
}

// onBatchReady uploads a snapshot batch, queueing it locally on failure
func (ps *PresenceService) onBatchReady(snapshots []models.PresenceSnapshot) {
	if len(snapshots) == 0 {
		return
	}

	batch := models.SnapshotBatch{
		Snapshots:      snapshots,
		DeviceID:       ps.identity.ID,
		BatchTimestamp: time.Now().UnixMilli(),
	}

	if err := ps.uploader.UploadSnapshots(context.Background(), batch); err != nil {
		ps.logger.Warn("Failed to upload snapshots, queuing locally",
			zap.Error(err),
			zap.Int("count", len(snapshots)),
		)
		if queueErr := ps.retryQueue.Enqueue(ps.identity.ID, snapshots); queueErr != nil {
			ps.logger.Error("Failed to queue snapshots", zap.Error(queueErr))
		}
	}
}

func (ps *PresenceService) queueLoop(ctx context.Context) {
	defer ps.wg.Done()

	ticker := time.NewTicker(queueRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ps.processQueue(ctx)
			if err := ps.retryQueue.CleanupOld(queueMaxAge); err != nil {
				ps.logger.Error("Queue cleanup failed", zap.Error(err))
			}
		case <-ps.stopChan:
			// One last drain before shutdown
			ps.processQueue(context.Background())
			return
		case <-ctx.Done():
			return
		}
	}
}

func (ps *PresenceService) processQueue(ctx context.Context) {
	pending, err := ps.retryQueue.PendingCount(ps.identity.ID)
	if err != nil {
		ps.logger.Error("Failed to get pending count", zap.Error(err))
		return
	}
	if pending == 0 {
		return
	}

	snapshots, ids, err := ps.retryQueue.Dequeue(ps.identity.ID, 100)
	if err != nil {
		ps.logger.Error("Failed to dequeue snapshots", zap.Error(err))
		return
	}
	if len(snapshots) == 0 {
		return
	}

	batch := models.SnapshotBatch{
		Snapshots:      snapshots,
		DeviceID:       ps.identity.ID,
		BatchTimestamp: time.Now().UnixMilli(),
	}

	if err := ps.uploader.UploadSnapshots(ctx, batch); err != nil {
		ps.logger.Warn("Failed to upload queued snapshots",
			zap.Error(err),
			zap.Int("count", len(snapshots)),
		)
		if retryErr := ps.retryQueue.IncrementRetry(ids); retryErr != nil {
			ps.logger.Error("Failed to increment retry count", zap.Error(retryErr))
		}
		return
	}

	if err := ps.retryQueue.Remove(ids); err != nil {
		ps.logger.Error("Failed to remove uploaded snapshots", zap.Error(err))
	} else {
		ps.logger.Info("Uploaded queued snapshots", zap.Int("count", len(snapshots)))
	}
}

func (ps *PresenceService) sessionUploadLoop(ctx context.Context) {
	defer ps.wg.Done()

	ticker := time.NewTicker(sessionUploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ps.uploadSessionTotals(ctx)
		case <-ps.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// uploadSessionTotals pushes the day's accumulated totals to the backend
// work-session row. The server merges concurrent device writes.
func (ps *PresenceService) uploadSessionTotals(ctx context.Context) {
	state := ps.activityTracker.State()

	now := time.Now()
	sessionStart := state.SessionStart
	row := models.WorkSessionRow{
		UserID:        ps.userID,
		SessionDate:   now.Format("2006-01-02"),
		ActiveSeconds: state.ActiveTime / 1000,
		IdleSeconds:   state.IdleTime / 1000,
		SessionStart:  &sessionStart,
		LastUpdated:   &now,
	}

	if err := ps.uploader.UpsertWorkSession(ctx, row); err != nil {
		ps.logger.Warn("Failed to upload session totals", zap.Error(err))
		return
	}

	ps.logger.Debug("Session totals uploaded",
		zap.Int64("active_seconds", row.ActiveSeconds),
		zap.Int64("idle_seconds", row.IdleSeconds),
	)
}

// Status reports a diagnostic snapshot of the service
func (ps *PresenceService) Status() map[string]interface{} {
	pending, _ := ps.retryQueue.PendingCount(ps.identity.ID)

	status := map[string]interface{}{
		"device_id":         ps.identity.ID,
		"presence":          string(ps.activityTracker.Status()),
		"pending_snapshots": pending,
		"collector_pending": ps.snapshots.PendingCount(),
	}
	if ps.synchronizer != nil {
		status["realtime"] = string(ps.synchronizer.State())
	}
	return status
}
