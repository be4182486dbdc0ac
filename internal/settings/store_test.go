package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/okeyenglish/presence-agent/internal/logger"
	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/storage"
)

func TestGetReturnsDefaultsWhenEmpty(t *testing.T) {
	store := NewStore(storage.NewMemoryStore(), logger.NewNop().Logger)

	got := store.Get()
	assert.Equal(t, models.DefaultNotificationSettings(), got)
}

func TestUpdateRoundTrip(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := NewStore(mem, logger.NewNop().Logger)

	want := models.NotificationSettings{
		SoundEnabled:                   false,
		SoundVolume:                    0.3,
		VibrationEnabled:               false,
		MissedCallNotificationsEnabled: true,
		ActivityWarningEnabled:         true,
		ActivityWarningThreshold:       45,
	}
	store.Update(want)
	assert.Equal(t, want, store.Get())

	// A second store over the same backing storage sees the persisted value
	other := NewStore(mem, logger.NewNop().Logger)
	assert.Equal(t, want, other.Get())
}

func TestCorruptBlobFallsBackToDefaults(t *testing.T) {
	mem := storage.NewMemoryStore()
	mem.Set("notification_settings", "{not json")

	store := NewStore(mem, logger.NewNop().Logger)
	assert.Equal(t, models.DefaultNotificationSettings(), store.Get())

	// The corrupt blob is removed
	_, ok := mem.Get("notification_settings")
	assert.False(t, ok)
}

func TestInvalidateReloadsFromStorage(t *testing.T) {
	mem := storage.NewMemoryStore()
	store := NewStore(mem, logger.NewNop().Logger)

	first := store.Get()
	assert.True(t, first.SoundEnabled)

	// Another writer changes storage behind the cache
	mem.Set("notification_settings", `{"soundEnabled":false,"soundVolume":0.5,"activityWarningEnabled":true,"activityWarningThreshold":70}`)
	assert.True(t, store.Get().SoundEnabled, "cache still serves the old value")

	store.Invalidate()
	got := store.Get()
	assert.False(t, got.SoundEnabled)
	assert.Equal(t, 70, got.ActivityWarningThreshold)
}

func TestOutOfRangeValuesAreClamped(t *testing.T) {
	mem := storage.NewMemoryStore()
	mem.Set("notification_settings", `{"soundEnabled":true,"soundVolume":3.5,"activityWarningThreshold":250}`)

	store := NewStore(mem, logger.NewNop().Logger)
	got := store.Get()
	assert.Equal(t, models.DefaultNotificationSettings().SoundVolume, got.SoundVolume)
	assert.Equal(t, models.DefaultNotificationSettings().ActivityWarningThreshold, got.ActivityWarningThreshold)
}
