package baseline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/platform"
)

// SessionReader is the backend read the fetcher depends on
type SessionReader interface {
	WorkSessionForDay(ctx context.Context, userID string, day time.Time) (*models.WorkSessionRow, error)
}

// Fetcher supplies the tracker with the authoritative server-side daily
// aggregate. Results are cached and considered stale after the configured
// window; the cache refetches when the app becomes visible again. Fetch
// failures and missing rows both surface as a not-found baseline, never an
// error: the tracker must not read "confirmed zero" out of a failed read.
type Fetcher struct {
	reader    SessionReader
	platform  platform.Platform
	userID    string
	staleness time.Duration
	logger    *zap.Logger

	onBaseline func(models.WorkSessionBaseline)

	mu        sync.Mutex
	cached    models.WorkSessionBaseline
	fetchedAt time.Time

	now func() time.Time
}

func NewFetcher(
	reader SessionReader,
	plat platform.Platform,
	userID string,
	staleness time.Duration,
	logger *zap.Logger,
) *Fetcher {
	return &Fetcher{
		reader:    reader,
		platform:  plat,
		userID:    userID,
		staleness: staleness,
		logger:    logger,
		now:       time.Now,
	}
}

// Start performs the initial fetch and refetches whenever the app regains
// visibility. The callback receives every fetched baseline, including
// not-found ones.
func (f *Fetcher) Start(ctx context.Context, onBaseline func(models.WorkSessionBaseline)) {
	f.mu.Lock()
	f.onBaseline = onBaseline
	f.mu.Unlock()

	f.platform.SubscribeVisibility(func(visible bool) {
		if visible {
			f.Refresh(ctx)
		}
	})

	f.Refresh(ctx)
}

// Get returns the cached baseline, refetching when stale
func (f *Fetcher) Get(ctx context.Context) models.WorkSessionBaseline {
	f.mu.Lock()
	fresh := !f.fetchedAt.IsZero() && f.now().Sub(f.fetchedAt) < f.staleness
	cached := f.cached
	f.mu.Unlock()

	if fresh {
		return cached
	}
	return f.Refresh(ctx)
}

// Refresh fetches unconditionally and notifies the callback
func (f *Fetcher) Refresh(ctx context.Context) models.WorkSessionBaseline {
	now := f.now()
	baseline := f.fetch(ctx, now)

	f.mu.Lock()
	f.cached = baseline
	f.fetchedAt = now
	cb := f.onBaseline
	f.mu.Unlock()

	if cb != nil {
		cb(baseline)
	}
	return baseline
}

func (f *Fetcher) fetch(ctx context.Context, now time.Time) models.WorkSessionBaseline {
	row, err := f.reader.WorkSessionForDay(ctx, f.userID, now)
	if err != nil {
		f.logger.Warn("Baseline fetch failed, treating as no baseline", zap.Error(err))
		return models.WorkSessionBaseline{}
	}
	if row == nil {
		return models.WorkSessionBaseline{}
	}

	return models.WorkSessionBaseline{
		ActiveSeconds: row.ActiveSeconds,
		IdleSeconds:   row.IdleSeconds,
		OnCallSeconds: row.OnCallSeconds,
		SessionStart:  row.SessionStart,
		LastUpdated:   row.LastUpdated,
		Found:         true,
	}
}
