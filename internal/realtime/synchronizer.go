package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/cache"
	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/notify"
	"github.com/okeyenglish/presence-agent/internal/sound"
)

// ConnectionState is the synchronizer's transport status.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StatePolling      ConnectionState = "polling"
)

const previewLimit = 50

// dedupeWindow bounds the remembered-event set; beyond it the oldest
// entries are forgotten in insertion order.
const dedupeWindow = 512

// Synchronizer keeps local message caches fresh. It subscribes to the
// realtime transport, falls back to polling when the transport fails, and
// turns inbound inserts into cache invalidation, a chat sound, and a
// notification.
type Synchronizer struct {
	primary  Source
	fallback Source
	caches   *cache.Registry
	sounds   *sound.Engine
	notifier *notify.Gateway
	logger   *zap.Logger

	fallbackDelay time.Duration
	onStateChange func(ConnectionState)

	mu       sync.Mutex
	state    ConnectionState
	seen     map[string]struct{}
	seenList []string

	fallbackTimer *time.Timer
	stopChan      chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	cancel        context.CancelFunc
}

type SynchronizerConfig struct {
	FallbackDelay time.Duration
	// OnStateChange is invoked outside the synchronizer's lock
	OnStateChange func(ConnectionState)
}

func NewSynchronizer(primary, fallback Source, caches *cache.Registry, sounds *sound.Engine,
	notifier *notify.Gateway, cfg SynchronizerConfig, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		primary:       primary,
		fallback:      fallback,
		caches:        caches,
		sounds:        sounds,
		notifier:      notifier,
		logger:        logger,
		fallbackDelay: cfg.FallbackDelay,
		onStateChange: cfg.OnStateChange,
		state:         StateConnecting,
		seen:          make(map[string]struct{}),
		stopChan:      make(chan struct{}),
	}
}

// Start connects the realtime transport and begins consuming events. A
// failed initial connection is not an error: the synchronizer schedules
// the polling fallback and reports the state through OnStateChange.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	events, errs, err := s.primary.Subscribe(ctx)
	if err != nil {
		s.logger.Warn("Realtime transport unavailable", zap.Error(err))
		s.transportLost()
		return
	}

	s.setState(StateConnected)

	s.wg.Add(1)
	go s.consume(ctx, events, errs, true)
}

func (s *Synchronizer) consume(ctx context.Context, events <-chan models.ChatMessageEvent, errs <-chan error, isPrimary bool) {
	defer s.wg.Done()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if isPrimary {
					s.transportLost()
				}
				return
			}
			s.handleEvent(ev)
		case err := <-errs:
			if isPrimary {
				s.logger.Warn("Realtime transport failed", zap.Error(err))
				s.transportLost()
			} else {
				s.logger.Warn("Polling source failed", zap.Error(err))
			}
			return
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

// transportLost marks the connection down and arms the fallback timer. The
// grace delay gives a transient blip a chance to resolve before the
// polling machinery spins up.
func (s *Synchronizer) transportLost() {
	select {
	case <-s.stopChan:
		return
	default:
	}

	s.setState(StateDisconnected)

	s.mu.Lock()
	if s.fallbackTimer == nil {
		s.fallbackTimer = time.AfterFunc(s.fallbackDelay, s.startPolling)
	}
	s.mu.Unlock()
}

func (s *Synchronizer) startPolling() {
	select {
	case <-s.stopChan:
		return
	default:
	}

	events, errs, err := s.fallback.Subscribe(context.Background())
	if err != nil {
		s.logger.Error("Polling fallback failed to start", zap.Error(err))
		return
	}

	s.setState(StatePolling)
	s.logger.Info("Switched to polling fallback")

	s.wg.Add(1)
	go s.consume(context.Background(), events, errs, false)
}

func (s *Synchronizer) handleEvent(ev models.ChatMessageEvent) {
	if ev.MessageID != "" && s.alreadySeen(ev) {
		return
	}

	// Invalidation covers every change type and is safe to repeat
	keys := []string{"threads", "unread-counts"}
	if ev.ClientID != "" {
		keys = append(keys, "messages:"+ev.ClientID)
	}
	s.caches.Invalidate(keys...)

	if ev.Change == models.ChangeInsert && ev.Incoming() {
		s.sounds.Play(sound.CategoryChat)
		s.notifier.Show(notify.Notification{
			Title: "New message",
			Body:  truncatePreview(ev.Preview),
			Tag:   "chat-" + ev.ClientID,
		})
	}
}

func (s *Synchronizer) alreadySeen(ev models.ChatMessageEvent) bool {
	key := string(ev.Change) + ":" + ev.MessageID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	s.seenList = append(s.seenList, key)
	if len(s.seenList) > dedupeWindow {
		delete(s.seen, s.seenList[0])
		s.seenList = s.seenList[1:]
	}
	return false
}

func truncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLimit {
		return body
	}
	return string(runes[:previewLimit-1]) + "…"
}

func (s *Synchronizer) setState(state ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed && s.onStateChange != nil {
		s.onStateChange(state)
	}
}

// State reports the current transport status.
func (s *Synchronizer) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop tears the synchronizer down: both sources are closed, the fallback
// timer is disarmed, and consumers are waited out. Safe to call more than
// once.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		if s.fallbackTimer != nil {
			s.fallbackTimer.Stop()
		}
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		_ = s.primary.Close()
		_ = s.fallback.Close()
		s.wg.Wait()

		s.logger.Info("Realtime synchronizer stopped")
	})
}
