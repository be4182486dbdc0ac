package tracker

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/platform"
	"github.com/okeyenglish/presence-agent/internal/settings"
	"github.com/okeyenglish/presence-agent/internal/storage"
	"github.com/okeyenglish/presence-agent/internal/throttle"
)

const (
	stateKey         = "activity_state"
	alertDateKey     = "low_activity_alert_date"
	sessionMarkerKey = "session_marker"

	// hysteresisMargin is how many percentage points above the warning
	// threshold activity must recover before the daily alert re-arms
	hysteresisMargin = 5
)

// Options configures an ActivityTracker
type Options struct {
	IdleThreshold    time.Duration // input silence before idle
	CheckInterval    time.Duration // idle recomputation period
	ActivityThrottle time.Duration // floor between activity updates
	AlertGracePeriod time.Duration // quiet window after start
	MinSessionAge    time.Duration // youngest session the alert considers
	AlertEnabled     bool
	Mobile           bool // mobile form factors never alert
}

// ActivityTracker observes qualifying input, maintains the presence state
// machine, accumulates active/idle durations, persists them locally and
// reconciles with the server baseline. All state transitions run under one
// mutex; elapsed time is always attributed to the state that was current
// before the transition.
type ActivityTracker struct {
	platform platform.Platform
	storage  storage.Store // persistent; survives restarts
	session  storage.Store // ephemeral; cleared when the process exits
	settings *settings.Store
	logger   *zap.Logger
	opts     Options

	mu              sync.Mutex
	state           models.ActivityState
	lastCheck       time.Time
	startedAt       time.Time
	freshStart      bool // no session marker existed at construction
	baselineApplied bool // a found server baseline has been merged

	onStateChange func(old, current models.Status)
	onLowActivity func(percent int)

	throttler *throttle.Throttler
	stopChan  chan struct{}
	wg        sync.WaitGroup

	now func() time.Time
}

// NewActivityTracker builds a tracker, restoring persisted state when it
// belongs to the current calendar day. Persisted state from another day, or
// a corrupt blob, is discarded for a fresh session.
func NewActivityTracker(
	plat platform.Platform,
	persistent storage.Store,
	session storage.Store,
	settingsStore *settings.Store,
	opts Options,
	logger *zap.Logger,
) *ActivityTracker {
	at := &ActivityTracker{
		platform: plat,
		storage:  persistent,
		session:  session,
		settings: settingsStore,
		logger:   logger,
		opts:     opts,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	now := at.now()
	at.startedAt = now
	at.lastCheck = now
	at.state = at.restoreState(now)

	_, hadMarker := at.session.Get(sessionMarkerKey)
	at.freshStart = !hadMarker
	at.session.Set(sessionMarkerKey, now.Format(time.RFC3339))

	at.throttler = throttle.New(opts.ActivityThrottle, func(...interface{}) {
		at.RecordActivity()
	})

	return at
}

func (at *ActivityTracker) restoreState(now time.Time) models.ActivityState {
	fresh := models.ActivityState{
		Status:       models.StatusOnline,
		LastActivity: now,
		SessionStart: now,
	}

	raw, ok := at.storage.Get(stateKey)
	if !ok {
		return fresh
	}

	var persisted models.ActivityState
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		at.logger.Warn("Discarding corrupt persisted activity state", zap.Error(err))
		at.storage.Delete(stateKey)
		return fresh
	}

	if !sameCalendarDay(persisted.SessionStart, now) {
		at.logger.Info("Persisted session is from another day, starting fresh",
			zap.Time("persisted_session_start", persisted.SessionStart),
		)
		return fresh
	}

	persisted.Status = models.StatusOnline
	persisted.LastActivity = now
	persisted.IsOnCall = false
	return persisted
}

// Start wires input, visibility and call-state signals and begins the
// periodic idle check
func (at *ActivityTracker) Start(onStateChange func(old, current models.Status), onLowActivity func(percent int)) error {
	at.mu.Lock()
	at.onStateChange = onStateChange
	at.onLowActivity = onLowActivity
	at.mu.Unlock()

	if err := at.platform.StartInputMonitoring(func(platform.InputEvent) {
		at.throttler.Call()
	}); err != nil {
		return err
	}

	at.platform.SubscribeVisibility(func(visible bool) {
		if visible {
			// Regaining visibility counts as activity immediately,
			// bypassing the throttle
			at.RecordActivity()
		}
	})

	at.platform.SubscribeCallState(at.SetOnCall)

	at.wg.Add(1)
	go at.checkLoop()

	at.logger.Info("Activity tracker started",
		zap.Duration("idle_threshold", at.opts.IdleThreshold),
		zap.Duration("check_interval", at.opts.CheckInterval),
		zap.Bool("fresh_start", at.freshStart),
	)
	return nil
}

// Stop halts monitoring and the check loop
func (at *ActivityTracker) Stop() {
	at.mu.Lock()
	select {
	case <-at.stopChan:
		at.mu.Unlock()
		return
	default:
		close(at.stopChan)
	}
	at.mu.Unlock()

	at.throttler.Cancel()
	at.wg.Wait()
	at.platform.StopInputMonitoring()
	at.logger.Info("Activity tracker stopped")
}

func (at *ActivityTracker) checkLoop() {
	defer at.wg.Done()

	ticker := time.NewTicker(at.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			at.CheckIdleStatus()
		case <-at.stopChan:
			return
		}
	}
}

// RecordActivity registers a qualifying input event: accrues elapsed time
// to the prior state, moves lastActivity, and resolves the status to
// on_call or online
func (at *ActivityTracker) RecordActivity() {
	at.mu.Lock()
	now := at.now()
	at.accrue(now)

	old := at.state.Status
	at.state.LastActivity = now
	if at.state.IsOnCall {
		at.state.Status = models.StatusOnCall
	} else {
		at.state.Status = models.StatusOnline
	}
	changed := old != at.state.Status

	at.persistLocked()
	cb := at.onStateChange
	current := at.state.Status
	at.mu.Unlock()

	if changed {
		at.logStateChange(old, current)
		if cb != nil {
			cb(old, current)
		}
	}
	at.evaluateAlert()
}

// CheckIdleStatus recomputes the status purely from elapsed time and the
// call flag. Runs on every check tick; persists only when something moved.
func (at *ActivityTracker) CheckIdleStatus() {
	at.mu.Lock()
	now := at.now()

	// Day rollover resets the session before anything else
	if !sameCalendarDay(at.state.SessionStart, now) {
		at.resetSessionLocked(now)
		at.mu.Unlock()
		return
	}

	elapsed := at.accrue(now)

	old := at.state.Status
	switch {
	case at.state.IsOnCall:
		at.state.Status = models.StatusOnCall
	case now.Sub(at.state.LastActivity) >= at.opts.IdleThreshold:
		at.state.Status = models.StatusIdle
	default:
		at.state.Status = models.StatusOnline
	}
	changed := old != at.state.Status

	if changed || elapsed > 0 {
		at.persistLocked()
	}
	cb := at.onStateChange
	current := at.state.Status
	at.mu.Unlock()

	if changed {
		at.logStateChange(old, current)
		if cb != nil {
			cb(old, current)
		}
	}
	at.evaluateAlert()
}

// SetOnCall flips the external call flag. on_call overrides idle/online;
// leaving a call lands on online regardless of recent input.
func (at *ActivityTracker) SetOnCall(onCall bool) {
	at.mu.Lock()
	now := at.now()
	at.accrue(now)

	old := at.state.Status
	at.state.IsOnCall = onCall
	if onCall {
		at.state.Status = models.StatusOnCall
	} else {
		at.state.Status = models.StatusOnline
		at.state.LastActivity = now
	}
	changed := old != at.state.Status

	at.persistLocked()
	cb := at.onStateChange
	current := at.state.Status
	at.mu.Unlock()

	if changed {
		at.logStateChange(old, current)
		if cb != nil {
			cb(old, current)
		}
	}
	at.evaluateAlert()
}

// accrue attributes the interval since the last bookkeeping point to the
// state that was current over that interval. Returns the elapsed
// milliseconds. Caller holds the lock.
func (at *ActivityTracker) accrue(now time.Time) int64 {
	elapsed := now.Sub(at.lastCheck).Milliseconds()
	if elapsed <= 0 {
		return 0
	}
	at.lastCheck = now

	switch at.state.Status {
	case models.StatusIdle:
		at.state.IdleTime += elapsed
	default:
		// online and on_call both count as active time
		at.state.ActiveTime += elapsed
	}
	return elapsed
}

// ResetSession zeroes all counters and starts a fresh session
func (at *ActivityTracker) ResetSession() {
	at.mu.Lock()
	defer at.mu.Unlock()
	at.resetSessionLocked(at.now())
}

func (at *ActivityTracker) resetSessionLocked(now time.Time) {
	at.logger.Info("Resetting tracking session",
		zap.Time("previous_session_start", at.state.SessionStart),
	)

	at.state = models.ActivityState{
		Status:       models.StatusOnline,
		LastActivity: now,
		SessionStart: now,
		IsOnCall:     at.state.IsOnCall,
	}
	if at.state.IsOnCall {
		at.state.Status = models.StatusOnCall
	}
	at.lastCheck = now
	at.baselineApplied = false
	at.storage.Delete(alertDateKey)
	at.persistLocked()
}

// ApplyBaseline merges a server-supplied daily aggregate. The merge takes
// the maximum of local and server-derived values so the outcome does not
// depend on whether a local tick or the server fetch lands first. A
// baseline that was not found on the server counts as "no reconciliation
// yet" and merges nothing.
func (at *ActivityTracker) ApplyBaseline(baseline models.WorkSessionBaseline) {
	if !baseline.Found {
		return
	}

	at.mu.Lock()
	now := at.now()
	at.accrue(now)

	if baseline.SessionStart != nil &&
		!at.state.ServerSessionStartApplied &&
		baseline.SessionStart.Before(at.state.SessionStart) &&
		sameCalendarDay(*baseline.SessionStart, now) {
		// The session started earlier on another device; the start may move
		// earlier exactly once, never later
		at.state.SessionStart = *baseline.SessionStart
		at.state.ServerSessionStartApplied = true
	}

	if baseline.ActiveSeconds > at.state.LastServerActiveSeconds ||
		baseline.IdleSeconds > at.state.LastServerIdleSeconds {
		at.state.ActiveTime = max(at.state.ActiveTime, baseline.ActiveSeconds*1000)
		at.state.IdleTime = max(at.state.IdleTime, baseline.IdleSeconds*1000)
		at.state.LastServerActiveSeconds = baseline.ActiveSeconds
		at.state.LastServerIdleSeconds = baseline.IdleSeconds

		at.logger.Debug("Merged server baseline",
			zap.Int64("server_active_seconds", baseline.ActiveSeconds),
			zap.Int64("server_idle_seconds", baseline.IdleSeconds),
		)
	}

	at.baselineApplied = true
	at.persistLocked()
	at.mu.Unlock()

	at.evaluateAlert()
}

// evaluateAlert fires the once-daily low-activity warning when engagement
// drops below the configured threshold. Never alerts on mobile, during the
// post-start grace window, on very young sessions, or on a fresh start
// before the first server reconciliation.
func (at *ActivityTracker) evaluateAlert() {
	if at.opts.Mobile || !at.opts.AlertEnabled {
		return
	}

	cfg := at.settings.Get()
	if !cfg.ActivityWarningEnabled {
		return
	}
	threshold := cfg.ActivityWarningThreshold

	at.mu.Lock()
	now := at.now()

	if now.Sub(at.startedAt) < at.opts.AlertGracePeriod {
		at.mu.Unlock()
		return
	}
	sessionAge := now.Sub(at.state.SessionStart)
	if sessionAge < at.opts.MinSessionAge {
		at.mu.Unlock()
		return
	}
	if at.freshStart && !at.baselineApplied {
		at.mu.Unlock()
		return
	}

	percent := int(math.Round(float64(at.state.ActiveTime) / float64(sessionAge.Milliseconds()) * 100))

	if at.alertedTodayLocked(now) {
		// Re-arm only after activity recovers past the hysteresis band
		if percent >= threshold+hysteresisMargin {
			at.state.LowActivityAlertShown = false
			at.storage.Delete(alertDateKey)
			at.persistLocked()
		}
		at.mu.Unlock()
		return
	}

	if percent >= threshold {
		at.mu.Unlock()
		return
	}

	at.state.LowActivityAlertShown = true
	at.storage.Set(alertDateKey, now.Format("2006-01-02"))
	at.persistLocked()
	cb := at.onLowActivity
	at.mu.Unlock()

	at.logger.Warn("Low activity for today",
		zap.Int("percent", percent),
		zap.Int("threshold", threshold),
	)
	if cb != nil {
		cb(percent)
	}
}

// alertedTodayLocked consults the persisted daily marker, which survives
// restarts independently of the in-memory flag
func (at *ActivityTracker) alertedTodayLocked(now time.Time) bool {
	if at.state.LowActivityAlertShown {
		return true
	}
	date, ok := at.storage.Get(alertDateKey)
	return ok && date == now.Format("2006-01-02")
}

// State returns a copy of the current activity state
func (at *ActivityTracker) State() models.ActivityState {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.state
}

// Status returns the current presence status
func (at *ActivityTracker) Status() models.Status {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.state.Status
}

// FreshStart reports whether this tracker began without a session marker
func (at *ActivityTracker) FreshStart() bool {
	return at.freshStart
}

func (at *ActivityTracker) persistLocked() {
	data, err := json.Marshal(at.state)
	if err != nil {
		at.logger.Error("Failed to marshal activity state", zap.Error(err))
		return
	}
	at.storage.Set(stateKey, string(data))
}

func (at *ActivityTracker) logStateChange(old, current models.Status) {
	at.logger.Info("Presence state changed",
		zap.String("old_status", string(old)),
		zap.String("new_status", string(current)),
	)
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
