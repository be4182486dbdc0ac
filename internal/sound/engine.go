package sound

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/settings"
)

// Category selects the tone schedule for a notification sound
type Category string

const (
	CategoryChat       Category = "chat"
	CategoryLesson     Category = "lesson"
	CategoryMissedCall Category = "missed_call"
	CategoryDefault    Category = "default"
)

const sampleRate = 44100

// minReplayInterval is the floor between two plays, both globally and per
// category; more frequent calls are dropped silently
const minReplayInterval = 500 * time.Millisecond

// tone is one segment of a schedule: a sine wave at freq held for duration,
// or silence when freq is zero
type tone struct {
	freq     float64 // Hz, 0 means silence
	duration time.Duration
}

// schedules defines the audible signature of each category
var schedules = map[Category][]tone{
	// Two ascending tones
	CategoryChat: {
		{freq: 660, duration: 120 * time.Millisecond},
		{freq: 0, duration: 40 * time.Millisecond},
		{freq: 880, duration: 150 * time.Millisecond},
	},
	// Single mid tone
	CategoryLesson: {
		{freq: 740, duration: 200 * time.Millisecond},
	},
	// Descending three-tone pattern, repeated for urgency
	CategoryMissedCall: {
		{freq: 880, duration: 110 * time.Millisecond},
		{freq: 740, duration: 110 * time.Millisecond},
		{freq: 587, duration: 140 * time.Millisecond},
		{freq: 0, duration: 120 * time.Millisecond},
		{freq: 880, duration: 110 * time.Millisecond},
		{freq: 740, duration: 110 * time.Millisecond},
		{freq: 587, duration: 140 * time.Millisecond},
	},
	CategoryDefault: {
		{freq: 784, duration: 180 * time.Millisecond},
	},
}

// Sink is the audio output device. PlayPCM renders raw synthesized samples;
// PlayClip decodes and plays a pre-encoded WAV when synthesis is not usable.
type Sink interface {
	PlayPCM(samples []int16, rate int) error
	PlayClip(wav []byte) error
}

// Engine synthesizes short notification cues. It never returns errors to
// callers: refusal to play (settings, replay floor) is silent, playback
// failure is logged and absorbed.
type Engine struct {
	sink     Sink
	settings *settings.Store
	logger   *zap.Logger

	mu           sync.Mutex
	lastPlay     time.Time
	lastCategory map[Category]time.Time

	now func() time.Time
}

func NewEngine(sink Sink, settingsStore *settings.Store, logger *zap.Logger) *Engine {
	return &Engine{
		sink:         sink,
		settings:     settingsStore,
		logger:       logger,
		lastCategory: make(map[Category]time.Time),
		now:          time.Now,
	}
}

// Play synthesizes and plays the cue for the category. Settings are read at
// call time, never cached at construction.
func (e *Engine) Play(category Category) {
	if e.sink == nil {
		return
	}

	cfg := e.settings.Get()
	if !cfg.SoundEnabled || cfg.SoundVolume <= 0 {
		return
	}

	if !e.acquireReplaySlot(category) {
		return
	}

	schedule, ok := schedules[category]
	if !ok {
		schedule = schedules[CategoryDefault]
	}

	samples, err := synthesize(schedule, cfg.SoundVolume)
	if err == nil {
		err = e.sink.PlayPCM(samples, sampleRate)
	}
	if err != nil {
		e.logger.Debug("Tone synthesis failed, playing fallback clip",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		if clipErr := e.sink.PlayClip(fallbackClip()); clipErr != nil {
			e.logger.Debug("Fallback clip playback failed",
				zap.String("category", string(category)),
				zap.Error(clipErr),
			)
		}
	}
}

// acquireReplaySlot enforces the global and per-category replay floors
func (e *Engine) acquireReplaySlot(category Category) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !e.lastPlay.IsZero() && now.Sub(e.lastPlay) < minReplayInterval {
		return false
	}
	if last, ok := e.lastCategory[category]; ok && now.Sub(last) < minReplayInterval {
		return false
	}

	e.lastPlay = now
	e.lastCategory[category] = now
	return true
}

// synthesize renders a tone schedule to 16-bit mono PCM with a short gain
// envelope on each segment to avoid clicks
func synthesize(schedule []tone, volume float64) ([]int16, error) {
	if volume < 0 || volume > 1 {
		return nil, fmt.Errorf("volume %f out of range", volume)
	}

	var samples []int16
	for _, seg := range schedule {
		n := int(float64(sampleRate) * seg.duration.Seconds())
		if seg.freq == 0 {
			samples = append(samples, make([]int16, n)...)
			continue
		}

		attack := n / 10
		release := n / 5
		for i := 0; i < n; i++ {
			envelope := 1.0
			if i < attack {
				envelope = float64(i) / float64(attack)
			} else if i > n-release {
				envelope = float64(n-i) / float64(release)
			}
			v := math.Sin(2*math.Pi*seg.freq*float64(i)/sampleRate) * volume * envelope
			samples = append(samples, int16(v*math.MaxInt16))
		}
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("empty tone schedule")
	}
	return samples, nil
}
