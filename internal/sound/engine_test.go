package sound

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeyenglish/presence-agent/internal/logger"
	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/settings"
	"github.com/okeyenglish/presence-agent/internal/storage"
)

type recordingSink struct {
	mu       sync.Mutex
	pcmCalls int
	clips    int
	failPCM  bool
	failClip bool
	lastRate int
}

func (r *recordingSink) PlayPCM(samples []int16, rate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPCM {
		return errors.New("audio device unavailable")
	}
	r.pcmCalls++
	r.lastRate = rate
	return nil
}

func (r *recordingSink) PlayClip(wav []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failClip {
		return errors.New("clip playback rejected")
	}
	r.clips++
	return nil
}

func newEngine(t *testing.T, sink Sink) (*Engine, *settings.Store) {
	t.Helper()
	store := settings.NewStore(storage.NewMemoryStore(), logger.NewNop().Logger)
	return NewEngine(sink, store, logger.NewNop().Logger), store
}

func TestPlaySynthesizesTone(t *testing.T) {
	sink := &recordingSink{}
	engine, _ := newEngine(t, sink)

	engine.Play(CategoryChat)

	assert.Equal(t, 1, sink.pcmCalls)
	assert.Equal(t, sampleRate, sink.lastRate)
	assert.Zero(t, sink.clips)
}

func TestReplayFloorDropsRapidCalls(t *testing.T) {
	sink := &recordingSink{}
	engine, _ := newEngine(t, sink)

	now := time.Now()
	engine.now = func() time.Time { return now }

	engine.Play(CategoryChat)
	engine.Play(CategoryChat)
	engine.Play(CategoryLesson) // global floor also blocks other categories
	assert.Equal(t, 1, sink.pcmCalls)

	// Past the floor the next call plays again
	engine.now = func() time.Time { return now.Add(600 * time.Millisecond) }
	engine.Play(CategoryChat)
	assert.Equal(t, 2, sink.pcmCalls)
}

func TestDisabledSoundIsSilent(t *testing.T) {
	sink := &recordingSink{}
	engine, store := newEngine(t, sink)

	cfg := models.DefaultNotificationSettings()
	cfg.SoundEnabled = false
	store.Update(cfg)

	engine.Play(CategoryMissedCall)
	assert.Zero(t, sink.pcmCalls)
	assert.Zero(t, sink.clips)
}

func TestSettingsReadAtCallTime(t *testing.T) {
	sink := &recordingSink{}
	engine, store := newEngine(t, sink)

	cfg := models.DefaultNotificationSettings()
	cfg.SoundEnabled = false
	store.Update(cfg)
	engine.Play(CategoryChat)
	assert.Zero(t, sink.pcmCalls)

	// Re-enabling takes effect without rebuilding the engine
	cfg.SoundEnabled = true
	store.Update(cfg)
	now := time.Now()
	engine.now = func() time.Time { return now.Add(time.Second) }
	engine.Play(CategoryChat)
	assert.Equal(t, 1, sink.pcmCalls)
}

func TestFallbackClipOnSynthesisFailure(t *testing.T) {
	sink := &recordingSink{failPCM: true}
	engine, _ := newEngine(t, sink)

	engine.Play(CategoryChat)
	assert.Equal(t, 1, sink.clips)
}

func TestAllFailuresAreAbsorbed(t *testing.T) {
	sink := &recordingSink{failPCM: true, failClip: true}
	engine, _ := newEngine(t, sink)

	assert.NotPanics(t, func() { engine.Play(CategoryDefault) })
}

func TestSynthesizeSchedules(t *testing.T) {
	for category, schedule := range schedules {
		samples, err := synthesize(schedule, 0.7)
		require.NoError(t, err, "category %s", category)
		assert.NotEmpty(t, samples, "category %s", category)
	}
}

func TestFallbackClipIsValidWAV(t *testing.T) {
	clip := fallbackClip()
	require.Greater(t, len(clip), 44)
	assert.Equal(t, "RIFF", string(clip[0:4]))
	assert.Equal(t, "WAVE", string(clip[8:12]))
}
