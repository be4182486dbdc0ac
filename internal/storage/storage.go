package storage

import (
	"database/sql"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Store is the local key-value storage consumed by the tracker and the
// settings store. Implementations never fail loudly: a broken backing
// store degrades to in-memory behavior for the life of the process.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// SQLiteStore persists values in the kv_store table. Any read or write
// failure flips the affected key to the in-memory overlay so tracking
// continues without persistence.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	overlay map[string]string
	broken  bool
}

func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:      db,
		logger:  logger,
		overlay: make(map[string]string),
	}
}

func (s *SQLiteStore) Get(key string) (string, bool) {
	s.mu.Lock()
	if s.broken {
		v, ok := s.overlay[key]
		s.mu.Unlock()
		return v, ok
	}
	s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.degrade("get", key, err)
		s.mu.Lock()
		v, ok := s.overlay[key]
		s.mu.Unlock()
		return v, ok
	}
	return value, true
}

func (s *SQLiteStore) Set(key, value string) {
	s.mu.Lock()
	s.overlay[key] = value
	broken := s.broken
	s.mu.Unlock()

	if broken {
		return
	}

	_, err := s.db.Exec(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		s.degrade("set", key, err)
	}
}

func (s *SQLiteStore) Delete(key string) {
	s.mu.Lock()
	delete(s.overlay, key)
	broken := s.broken
	s.mu.Unlock()

	if broken {
		return
	}

	if _, err := s.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		s.degrade("delete", key, err)
	}
}

func (s *SQLiteStore) degrade(op, key string, err error) {
	s.mu.Lock()
	alreadyBroken := s.broken
	s.broken = true
	s.mu.Unlock()

	if !alreadyBroken {
		s.logger.Warn("Local storage unavailable, continuing in memory only",
			zap.String("op", op),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// MemoryStore is a plain in-memory store. It backs the ephemeral session
// marker (cleared when the process exits) and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}
