package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeyenglish/presence-agent/internal/logger"
	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/platform"
	"github.com/okeyenglish/presence-agent/internal/settings"
	"github.com/okeyenglish/presence-agent/internal/storage"
)

type fakePresenter struct {
	mu         sync.Mutex
	permission PermissionStatus
	requested  int
	shown      []Notification
	dismissed  []string
	failShow   bool
}

func (f *fakePresenter) Show(n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failShow {
		return errors.New("presentation rejected")
	}
	f.shown = append(f.shown, n)
	return nil
}

func (f *fakePresenter) Dismiss(tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, tag)
}

func (f *fakePresenter) Permission() PermissionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakePresenter) RequestPermission() PermissionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested++
	f.permission = PermissionGranted
	return f.permission
}

func (f *fakePresenter) shownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown)
}

func (f *fakePresenter) dismissedTags() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.dismissed))
	copy(out, f.dismissed)
	return out
}

func setupGateway(t *testing.T, presenter *fakePresenter) (*Gateway, *platform.Hub) {
	t.Helper()
	plat := platform.NewHub()
	store := settings.NewStore(storage.NewMemoryStore(), logger.NewNop().Logger)
	gw := NewGateway(presenter, plat, store, 0, logger.NewNop().Logger)
	t.Cleanup(gw.Close)
	return gw, plat
}

func TestSuppressedWhileVisibleAndFocused(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted}
	gw, plat := setupGateway(t, presenter)

	plat.SetVisible(true)
	plat.SetFocused(true)

	shown := gw.Show(Notification{Title: "New message"})
	assert.False(t, shown)
	assert.Zero(t, presenter.shownCount())
}

func TestShownWhenNotFocused(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted}
	gw, plat := setupGateway(t, presenter)

	plat.SetFocused(false)

	shown := gw.Show(Notification{Title: "New message", Body: "hello"})
	assert.True(t, shown)
	require.Equal(t, 1, presenter.shownCount())
}

func TestSuppressedWithoutPermission(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionDefault}
	gw, plat := setupGateway(t, presenter)
	plat.SetVisible(false)

	assert.False(t, gw.Show(Notification{Title: "x"}))
	assert.Zero(t, presenter.shownCount())
}

func TestSuppressedWhenDisabledInSettings(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted}
	plat := platform.NewHub()
	plat.SetFocused(false)

	store := settings.NewStore(storage.NewMemoryStore(), logger.NewNop().Logger)
	cfg := models.DefaultNotificationSettings()
	cfg.NotificationsEnabled = false
	store.Update(cfg)

	gw := NewGateway(presenter, plat, store, 0, logger.NewNop().Logger)
	defer gw.Close()

	assert.False(t, gw.Show(Notification{Title: "x"}))
}

func TestSameTagReplaces(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted}
	gw, plat := setupGateway(t, presenter)
	plat.SetFocused(false)

	require.True(t, gw.Show(Notification{Title: "first", Tag: "client-42"}))
	require.True(t, gw.Show(Notification{Title: "second", Tag: "client-42"}))

	assert.Equal(t, 2, presenter.shownCount())
	assert.Contains(t, presenter.dismissedTags(), "client-42")
}

func TestAutoDismiss(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted}
	gw, plat := setupGateway(t, presenter)
	plat.SetFocused(false)
	gw.dismiss = 20 * time.Millisecond

	require.True(t, gw.Show(Notification{Title: "x", Tag: "client-7"}))
	assert.Eventually(t, func() bool {
		for _, tag := range presenter.dismissedTags() {
			if tag == "client-7" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestUntaggedNotificationAutoDismisses(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted}
	gw, plat := setupGateway(t, presenter)
	plat.SetFocused(false)
	gw.dismiss = 20 * time.Millisecond

	require.True(t, gw.Show(Notification{Title: "x"}))
	require.Equal(t, 1, presenter.shownCount())

	assert.Eventually(t, func() bool {
		return len(presenter.dismissedTags()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, presenter.dismissedTags()[0])
}

func TestConfiguredAutoDismissDuration(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted}
	plat := platform.NewHub()
	plat.SetFocused(false)
	store := settings.NewStore(storage.NewMemoryStore(), logger.NewNop().Logger)

	gw := NewGateway(presenter, plat, store, 20*time.Millisecond, logger.NewNop().Logger)
	defer gw.Close()
	assert.Equal(t, 20*time.Millisecond, gw.dismiss)

	gw = NewGateway(presenter, plat, store, 0, logger.NewNop().Logger)
	defer gw.Close()
	assert.Equal(t, defaultAutoDismiss, gw.dismiss)
}

func TestRequestPermissionNoOpsWhenSettled(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionDenied}
	gw, _ := setupGateway(t, presenter)

	assert.Equal(t, PermissionDenied, gw.RequestPermission())
	assert.Zero(t, presenter.requested)

	presenter.permission = PermissionDefault
	assert.Equal(t, PermissionGranted, gw.RequestPermission())
	assert.Equal(t, 1, presenter.requested)
}

func TestShowFailureIsAbsorbed(t *testing.T) {
	presenter := &fakePresenter{permission: PermissionGranted, failShow: true}
	gw, plat := setupGateway(t, presenter)
	plat.SetFocused(false)

	assert.False(t, gw.Show(Notification{Title: "x"}))
}
