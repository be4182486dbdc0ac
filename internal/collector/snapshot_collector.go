package collector

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
)

// SnapshotCollector batches presence snapshots before upload
type SnapshotCollector struct {
	snapshots     []models.PresenceSnapshot
	batchSize     int
	flushInterval time.Duration
	onBatchReady  func([]models.PresenceSnapshot)
	logger        *zap.Logger
	mu            sync.Mutex
	flushTicker   *time.Ticker
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

func NewSnapshotCollector(
	batchSize int,
	flushInterval time.Duration,
	logger *zap.Logger,
) *SnapshotCollector {
	return &SnapshotCollector{
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the collector with auto-flush
func (sc *SnapshotCollector) Start(onBatchReady func([]models.PresenceSnapshot)) {
	sc.onBatchReady = onBatchReady
	sc.flushTicker = time.NewTicker(sc.flushInterval)

	sc.wg.Add(1)
	go sc.autoFlushLoop()

	sc.logger.Info("Snapshot collector started",
		zap.Int("batch_size", sc.batchSize),
		zap.Duration("flush_interval", sc.flushInterval),
	)
}

// Stop stops the collector and flushes whatever is still buffered
func (sc *SnapshotCollector) Stop() {
	sc.mu.Lock()
	select {
	case <-sc.stopChan:
		// Already closed
		sc.mu.Unlock()
		return
	default:
		close(sc.stopChan)
	}
	sc.mu.Unlock()

	sc.wg.Wait()
	if sc.flushTicker != nil {
		sc.flushTicker.Stop()
	}

	sc.Flush()

	sc.logger.Info("Snapshot collector stopped")
}

// Add appends a snapshot and flushes when the batch is full
func (sc *SnapshotCollector) Add(snapshot models.PresenceSnapshot) {
	sc.mu.Lock()
	sc.snapshots = append(sc.snapshots, snapshot)
	shouldFlush := len(sc.snapshots) >= sc.batchSize
	var batch []models.PresenceSnapshot
	if shouldFlush {
		batch = make([]models.PresenceSnapshot, len(sc.snapshots))
		copy(batch, sc.snapshots)
		sc.snapshots = sc.snapshots[:0]
	}
	sc.mu.Unlock()

	if shouldFlush {
		sc.logger.Debug("Batch size reached, flushing snapshots",
			zap.Int("count", len(batch)),
		)
		if sc.onBatchReady != nil {
			sc.onBatchReady(batch)
		}
	}
}

// Flush hands all buffered snapshots to the batch callback
func (sc *SnapshotCollector) Flush() {
	sc.mu.Lock()
	if len(sc.snapshots) == 0 {
		sc.mu.Unlock()
		return
	}
	batch := make([]models.PresenceSnapshot, len(sc.snapshots))
	copy(batch, sc.snapshots)
	sc.snapshots = sc.snapshots[:0]
	sc.mu.Unlock()

	sc.logger.Debug("Flushing snapshots",
		zap.Int("count", len(batch)),
	)
	if sc.onBatchReady != nil {
		sc.onBatchReady(batch)
	}
}

// PendingCount returns the number of buffered snapshots
func (sc *SnapshotCollector) PendingCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.snapshots)
}

func (sc *SnapshotCollector) autoFlushLoop() {
	defer sc.wg.Done()

	for {
		select {
		case <-sc.flushTicker.C:
			sc.Flush()
		case <-sc.stopChan:
			return
		}
	}
}
