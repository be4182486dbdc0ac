package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okeyenglish/presence-agent/internal/database"
	"github.com/okeyenglish/presence-agent/internal/logger"
)

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(dbPath, logger.NewNop().Logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db.DB, logger.NewNop().Logger)
}

func TestSetGetDelete(t *testing.T) {
	store := setupStore(t)

	_, ok := store.Get("missing")
	assert.False(t, ok)

	store.Set("activity_state", `{"status":"online"}`)
	v, ok := store.Get("activity_state")
	require.True(t, ok)
	assert.Equal(t, `{"status":"online"}`, v)

	store.Set("activity_state", `{"status":"idle"}`)
	v, ok = store.Get("activity_state")
	require.True(t, ok)
	assert.Equal(t, `{"status":"idle"}`, v)

	store.Delete("activity_state")
	_, ok = store.Get("activity_state")
	assert.False(t, ok)
}

func TestDegradesToMemoryAfterBackingFailure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(dbPath, logger.NewNop().Logger)
	require.NoError(t, err)

	store := NewSQLiteStore(db.DB, logger.NewNop().Logger)
	store.Set("k", "persisted")

	// Closing the database makes every subsequent call fail; the store must
	// keep serving the in-memory overlay instead of erroring.
	require.NoError(t, db.Close())

	store.Set("k", "in-memory")
	v, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, "in-memory", v)

	store.Delete("k")
	_, ok = store.Get("k")
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	_, ok := m.Get("session_marker")
	assert.False(t, ok)

	m.Set("session_marker", "1")
	v, ok := m.Get("session_marker")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	m.Delete("session_marker")
	_, ok = m.Get("session_marker")
	assert.False(t, ok)
}
