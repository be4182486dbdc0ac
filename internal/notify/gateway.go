package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/platform"
	"github.com/okeyenglish/presence-agent/internal/settings"
)

// PermissionStatus is the OS notification permission state
type PermissionStatus string

const (
	PermissionDefault PermissionStatus = "default"
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

// Notification is one OS-level notification request
type Notification struct {
	Title   string
	Body    string
	Icon    string
	Tag     string
	OnClick func()
}

// Presenter is the OS notification surface. Show displays a notification,
// Dismiss removes one previously shown with the given tag.
type Presenter interface {
	Show(n Notification) error
	Dismiss(tag string)
	Permission() PermissionStatus
	RequestPermission() PermissionStatus
}

// defaultAutoDismiss is how long a notification stays up before the
// gateway removes it, when no duration is configured
const defaultAutoDismiss = 5 * time.Second

// Gateway shows OS notifications only when they add value: never while the
// app is visible and focused, never without permission, never when disabled
// in settings. All short-circuits are silent no-ops.
type Gateway struct {
	presenter Presenter
	platform  platform.Platform
	settings  *settings.Store
	logger    *zap.Logger
	dismiss   time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewGateway(presenter Presenter, plat platform.Platform, settingsStore *settings.Store, autoDismiss time.Duration, logger *zap.Logger) *Gateway {
	if autoDismiss <= 0 {
		autoDismiss = defaultAutoDismiss
	}
	return &Gateway{
		presenter: presenter,
		platform:  plat,
		settings:  settingsStore,
		logger:    logger,
		dismiss:   autoDismiss,
		timers:    make(map[string]*time.Timer),
	}
}

// Show displays the notification unless a precondition short-circuits it.
// Returns whether the notification was actually presented.
func (g *Gateway) Show(n Notification) bool {
	if !g.settings.Get().NotificationsEnabled {
		return false
	}

	if g.presenter.Permission() != PermissionGranted {
		return false
	}

	// In the foreground the in-app surface already covers it
	if g.platform.Visible() && g.platform.Focused() {
		return false
	}

	// Untagged notifications get a synthesized handle so auto-dismiss can
	// still retract them
	if n.Tag == "" {
		n.Tag = "n-" + uuid.NewString()
	}

	// A second notification with the same tag replaces the first
	g.mu.Lock()
	if timer, ok := g.timers[n.Tag]; ok {
		timer.Stop()
		delete(g.timers, n.Tag)
		g.mu.Unlock()
		g.presenter.Dismiss(n.Tag)
	} else {
		g.mu.Unlock()
	}

	if err := g.presenter.Show(n); err != nil {
		g.logger.Debug("Notification presentation failed", zap.Error(err))
		return false
	}

	tag := n.Tag
	g.mu.Lock()
	g.timers[tag] = time.AfterFunc(g.dismiss, func() {
		g.presenter.Dismiss(tag)
		g.mu.Lock()
		delete(g.timers, tag)
		g.mu.Unlock()
	})
	g.mu.Unlock()

	return true
}

// RequestPermission asks for notification permission. No-ops when the
// status is already settled; the result is returned, never an error.
func (g *Gateway) RequestPermission() PermissionStatus {
	switch status := g.presenter.Permission(); status {
	case PermissionGranted, PermissionDenied:
		return status
	}
	return g.presenter.RequestPermission()
}

// Close cancels pending auto-dismiss timers
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for tag, timer := range g.timers {
		timer.Stop()
		delete(g.timers, tag)
	}
}
