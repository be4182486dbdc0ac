package baseline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeyenglish/presence-agent/internal/logger"
	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/platform"
)

type fakeReader struct {
	mu      sync.Mutex
	row     *models.WorkSessionRow
	err     error
	fetches int
}

func (f *fakeReader) WorkSessionForDay(ctx context.Context, userID string, day time.Time) (*models.WorkSessionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.row, f.err
}

func (f *fakeReader) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newFetcher(reader *fakeReader, staleness time.Duration) (*Fetcher, *platform.Hub) {
	plat := platform.NewHub()
	return NewFetcher(reader, plat, "user-1", staleness, logger.NewNop().Logger), plat
}

func TestFoundBaseline(t *testing.T) {
	start := time.Now().Add(-3 * time.Hour)
	reader := &fakeReader{row: &models.WorkSessionRow{
		UserID:        "user-1",
		ActiveSeconds: 3600,
		IdleSeconds:   600,
		SessionStart:  &start,
	}}
	f, _ := newFetcher(reader, time.Minute)

	got := f.Get(context.Background())
	assert.True(t, got.Found)
	assert.Equal(t, int64(3600), got.ActiveSeconds)
	assert.Equal(t, int64(600), got.IdleSeconds)
	require.NotNil(t, got.SessionStart)
}

func TestMissingRowIsNotFoundNotZero(t *testing.T) {
	reader := &fakeReader{}
	f, _ := newFetcher(reader, time.Minute)

	got := f.Get(context.Background())
	assert.False(t, got.Found)
	assert.Zero(t, got.ActiveSeconds)
}

func TestFetchErrorDegradesToNotFound(t *testing.T) {
	reader := &fakeReader{err: errors.New("network down")}
	f, _ := newFetcher(reader, time.Minute)

	got := f.Get(context.Background())
	assert.False(t, got.Found)
}

func TestCacheServedUntilStale(t *testing.T) {
	reader := &fakeReader{row: &models.WorkSessionRow{ActiveSeconds: 100}}
	f, _ := newFetcher(reader, time.Minute)

	base := time.Now()
	f.now = func() time.Time { return base }

	f.Get(context.Background())
	f.Get(context.Background())
	assert.Equal(t, 1, reader.fetchCount())

	// Past the staleness window the next read refetches
	f.now = func() time.Time { return base.Add(2 * time.Minute) }
	f.Get(context.Background())
	assert.Equal(t, 2, reader.fetchCount())
}

func TestRefetchOnVisibilityGain(t *testing.T) {
	reader := &fakeReader{row: &models.WorkSessionRow{ActiveSeconds: 100}}
	f, plat := newFetcher(reader, time.Hour)

	var received []models.WorkSessionBaseline
	var mu sync.Mutex
	f.Start(context.Background(), func(b models.WorkSessionBaseline) {
		mu.Lock()
		received = append(received, b)
		mu.Unlock()
	})
	require.Equal(t, 1, reader.fetchCount())

	plat.SetVisible(false)
	assert.Equal(t, 1, reader.fetchCount(), "hiding does not refetch")

	plat.SetVisible(true)
	assert.Equal(t, 2, reader.fetchCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 2)
	assert.True(t, received[1].Found)
}
