package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/cache"
	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/notify"
	"github.com/okeyenglish/presence-agent/internal/platform"
	"github.com/okeyenglish/presence-agent/internal/settings"
	"github.com/okeyenglish/presence-agent/internal/sound"
	"github.com/okeyenglish/presence-agent/internal/storage"
)

// fakeSource is a hand-driven Source for tests.
type fakeSource struct {
	mu        sync.Mutex
	events    chan models.ChatMessageEvent
	errs      chan error
	subscribe error
	closed    bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan models.ChatMessageEvent, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeSource) Subscribe(_ context.Context) (<-chan models.ChatMessageEvent, <-chan error, error) {
	if f.subscribe != nil {
		return nil, nil, f.subscribe
	}
	return f.events, f.errs, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type silentSink struct{}

func (silentSink) PlayPCM(_ []int16, _ int) error { return nil }
func (silentSink) PlayClip(_ []byte) error        { return nil }

// recordingPresenter captures shown notifications.
type recordingPresenter struct {
	mu    sync.Mutex
	shown []notify.Notification
}

func (p *recordingPresenter) Show(n notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, n)
	return nil
}

func (p *recordingPresenter) Dismiss(_ string) {}

func (p *recordingPresenter) Permission() notify.PermissionStatus {
	return notify.PermissionGranted
}

func (p *recordingPresenter) RequestPermission() notify.PermissionStatus {
	return notify.PermissionGranted
}

func (p *recordingPresenter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.shown)
}

func (p *recordingPresenter) last() notify.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown[len(p.shown)-1]
}

type syncFixture struct {
	sync      *Synchronizer
	primary   *fakeSource
	fallback  *fakeSource
	caches    *cache.Registry
	presenter *recordingPresenter
	states    chan ConnectionState
}

func newSyncFixture(t *testing.T, fallbackDelay time.Duration) *syncFixture {
	t.Helper()

	logger := zap.NewNop()
	settingsStore := settings.NewStore(storage.NewMemoryStore(), logger)

	plat := platform.NewHub()
	plat.SetVisible(false)

	presenter := &recordingPresenter{}
	gateway := notify.NewGateway(presenter, plat, settingsStore, 0, logger)
	t.Cleanup(gateway.Close)

	f := &syncFixture{
		primary:   newFakeSource(),
		fallback:  newFakeSource(),
		caches:    cache.NewRegistry(logger),
		presenter: presenter,
		states:    make(chan ConnectionState, 16),
	}

	f.sync = NewSynchronizer(f.primary, f.fallback, f.caches,
		sound.NewEngine(silentSink{}, settingsStore, logger), gateway,
		SynchronizerConfig{
			FallbackDelay: fallbackDelay,
			OnStateChange: func(st ConnectionState) { f.states <- st },
		}, logger)
	t.Cleanup(f.sync.Stop)

	return f
}

func (f *syncFixture) waitState(t *testing.T, want ConnectionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-f.states:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, current %s", want, f.sync.State())
		}
	}
}

func insertEvent(id, clientID, direction, body string) models.ChatMessageEvent {
	return models.ChatMessageEvent{
		Change:    models.ChangeInsert,
		MessageID: id,
		ClientID:  clientID,
		Direction: direction,
		Preview:   body,
		CreatedAt: time.Now(),
	}
}

func TestConnectsAndDeliversEvents(t *testing.T) {
	f := newSyncFixture(t, 50*time.Millisecond)

	invalidated := make(chan struct{}, 4)
	f.caches.Register("messages:client-1", func() { invalidated <- struct{}{} })

	f.sync.Start(context.Background())
	f.waitState(t, StateConnected)

	f.primary.events <- insertEvent("m1", "client-1", models.DirectionIncoming, "hello")

	select {
	case <-invalidated:
	case <-time.After(2 * time.Second):
		t.Fatal("cache was not invalidated")
	}

	assert.Eventually(t, func() bool { return f.presenter.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", f.presenter.last().Body)
	assert.Equal(t, "chat-client-1", f.presenter.last().Tag)
}

func TestOutgoingInsertInvalidatesWithoutAlerting(t *testing.T) {
	f := newSyncFixture(t, 50*time.Millisecond)

	invalidated := make(chan struct{}, 4)
	f.caches.Register("threads", func() { invalidated <- struct{}{} })

	f.sync.Start(context.Background())
	f.waitState(t, StateConnected)

	f.primary.events <- insertEvent("m1", "client-1", models.DirectionOutgoing, "sent from another device")

	select {
	case <-invalidated:
	case <-time.After(2 * time.Second):
		t.Fatal("cache was not invalidated")
	}

	assert.Equal(t, 0, f.presenter.count(), "self-authored messages must not notify")
}

func TestFallsBackToPollingAfterGracePeriod(t *testing.T) {
	f := newSyncFixture(t, 30*time.Millisecond)

	f.sync.Start(context.Background())
	f.waitState(t, StateConnected)

	f.primary.errs <- errors.New("connection reset")

	f.waitState(t, StateDisconnected)
	f.waitState(t, StatePolling)
}

func TestFailedInitialConnectionFallsBack(t *testing.T) {
	f := newSyncFixture(t, 30*time.Millisecond)
	f.primary.subscribe = errors.New("dial refused")

	f.sync.Start(context.Background())

	f.waitState(t, StateDisconnected)
	f.waitState(t, StatePolling)
}

func TestDuplicateEventsHandledOnce(t *testing.T) {
	f := newSyncFixture(t, 50*time.Millisecond)

	var count atomic.Int32
	done := make(chan struct{}, 4)
	f.caches.Register("messages:client-1", func() {
		count.Add(1)
		done <- struct{}{}
	})

	f.sync.Start(context.Background())
	f.waitState(t, StateConnected)

	ev := insertEvent("m1", "client-1", models.DirectionIncoming, "hi")
	f.primary.events <- ev
	<-done
	f.primary.events <- ev

	// Give the duplicate a chance to be (wrongly) processed
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, 1, f.presenter.count())
}

func TestPreviewTruncatedToFiftyCharacters(t *testing.T) {
	f := newSyncFixture(t, 50*time.Millisecond)

	f.sync.Start(context.Background())
	f.waitState(t, StateConnected)

	long := "This message is deliberately much longer than the fifty character preview limit allows."
	f.primary.events <- insertEvent("m1", "client-1", models.DirectionIncoming, long)

	require.Eventually(t, func() bool { return f.presenter.count() == 1 },
		2*time.Second, 10*time.Millisecond)

	body := f.presenter.last().Body
	assert.LessOrEqual(t, len([]rune(body)), previewLimit)
}

func TestStopClosesBothSources(t *testing.T) {
	f := newSyncFixture(t, 10*time.Millisecond)

	f.sync.Start(context.Background())
	f.waitState(t, StateConnected)

	f.sync.Stop()

	assert.True(t, f.primary.isClosed())
	assert.True(t, f.fallback.isClosed())
}

func TestStopDisarmsFallbackTimer(t *testing.T) {
	f := newSyncFixture(t, 100*time.Millisecond)

	f.sync.Start(context.Background())
	f.waitState(t, StateConnected)

	f.primary.errs <- errors.New("gone")
	f.waitState(t, StateDisconnected)

	f.sync.Stop()
	time.Sleep(200 * time.Millisecond)

	assert.NotEqual(t, StatePolling, f.sync.State(),
		"stopped synchronizer must not start polling")
}

func TestTruncatePreview(t *testing.T) {
	assert.Equal(t, "short", truncatePreview("short"))

	long := truncatePreview(string(make([]rune, 0, 80)) + "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	assert.Len(t, []rune(long), previewLimit)
}
