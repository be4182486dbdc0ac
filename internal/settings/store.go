package settings

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
	"github.com/okeyenglish/presence-agent/internal/storage"
)

const storageKey = "notification_settings"

// Store is the process-wide cached notification settings. Reads serve the
// cache; Invalidate forces the next read to hit storage again.
type Store struct {
	storage storage.Store
	logger  *zap.Logger

	mu     sync.RWMutex
	cached *models.NotificationSettings
}

func NewStore(st storage.Store, logger *zap.Logger) *Store {
	return &Store{
		storage: st,
		logger:  logger,
	}
}

// Get returns the current settings, loading them from storage on the first
// call after construction or invalidation. A missing or corrupt blob yields
// the defaults.
func (s *Store) Get() models.NotificationSettings {
	s.mu.RLock()
	if s.cached != nil {
		cached := *s.cached
		s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached
	}

	loaded := s.load()
	s.cached = &loaded
	return loaded
}

func (s *Store) load() models.NotificationSettings {
	raw, ok := s.storage.Get(storageKey)
	if !ok {
		return models.DefaultNotificationSettings()
	}

	var settings models.NotificationSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		s.logger.Warn("Discarding corrupt notification settings", zap.Error(err))
		s.storage.Delete(storageKey)
		return models.DefaultNotificationSettings()
	}

	if settings.SoundVolume < 0 || settings.SoundVolume > 1 {
		settings.SoundVolume = models.DefaultNotificationSettings().SoundVolume
	}
	if settings.ActivityWarningThreshold <= 0 || settings.ActivityWarningThreshold > 100 {
		settings.ActivityWarningThreshold = models.DefaultNotificationSettings().ActivityWarningThreshold
	}

	return settings
}

// Update persists new settings and refreshes the cache
func (s *Store) Update(settings models.NotificationSettings) {
	data, err := json.Marshal(settings)
	if err != nil {
		s.logger.Error("Failed to marshal notification settings", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage.Set(storageKey, string(data))
	s.cached = &settings
}

// Invalidate drops the cache so the next Get re-reads storage
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}
