package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
)

// SnapshotQueue is the durable retry queue for snapshots that could not be
// uploaded. Rows live in the local SQLite database until the backend
// accepts them or they age out.
type SnapshotQueue struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSnapshotQueue(db *sql.DB, logger *zap.Logger) *SnapshotQueue {
	return &SnapshotQueue{
		db:     db,
		logger: logger,
	}
}

// Enqueue stores snapshots for a later upload attempt
func (sq *SnapshotQueue) Enqueue(deviceID string, snapshots []models.PresenceSnapshot) error {
	tx, err := sq.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO pending_snapshots (snapshot_data, device_id, created_at, retry_count)
		VALUES (?, ?, ?, 0)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			sq.logger.Error("Failed to marshal snapshot", zap.Error(err))
			continue
		}

		_, err = stmt.Exec(string(data), deviceID, time.Now())
		if err != nil {
			sq.logger.Error("Failed to enqueue snapshot", zap.Error(err))
			continue
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	sq.logger.Debug("Snapshots enqueued",
		zap.Int("count", len(snapshots)),
		zap.String("device_id", deviceID),
	)

	return nil
}

// Dequeue retrieves a batch of queued snapshots oldest-first. The returned
// ids identify the rows for Remove or IncrementRetry.
func (sq *SnapshotQueue) Dequeue(deviceID string, limit int) ([]models.PresenceSnapshot, []int64, error) {
	rows, err := sq.db.Query(`
		SELECT id, snapshot_data, retry_count
		FROM pending_snapshots
		WHERE device_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query pending snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.PresenceSnapshot
	var ids []int64

	for rows.Next() {
		var id int64
		var data string
		var retryCount int

		if err := rows.Scan(&id, &data, &retryCount); err != nil {
			sq.logger.Error("Failed to scan row", zap.Error(err))
			continue
		}

		var snapshot models.PresenceSnapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			sq.logger.Error("Failed to unmarshal snapshot", zap.Error(err), zap.Int64("id", id))
			// Remove corrupted row
			sq.db.Exec("DELETE FROM pending_snapshots WHERE id = ?", id)
			continue
		}

		snapshots = append(snapshots, snapshot)
		ids = append(ids, id)
	}

	return snapshots, ids, nil
}

// Remove deletes queue rows by id after a successful upload
func (sq *SnapshotQueue) Remove(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := "DELETE FROM pending_snapshots WHERE id IN ("
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += ")"

	result, err := sq.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to remove snapshots: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	sq.logger.Debug("Snapshots removed from queue",
		zap.Int64("count", rowsAffected),
	)

	return nil
}

// IncrementRetry bumps the retry count for rows whose upload failed
func (sq *SnapshotQueue) IncrementRetry(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := "UPDATE pending_snapshots SET retry_count = retry_count + 1, last_attempt = ? WHERE id IN ("
	args := make([]interface{}, len(ids)+1)
	args[0] = time.Now()
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i+1] = id
	}
	query += ")"

	_, err := sq.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}

	return nil
}

// PendingCount returns the number of queued snapshots for a device
func (sq *SnapshotQueue) PendingCount(deviceID string) (int, error) {
	var count int
	err := sq.db.QueryRow(`
		SELECT COUNT(*) FROM pending_snapshots WHERE device_id = ?
	`, deviceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

// CleanupOld drops rows past the age cutoff that have already exhausted
// their retries
func (sq *SnapshotQueue) CleanupOld(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	result, err := sq.db.Exec(`
		DELETE FROM pending_snapshots
		WHERE created_at < ? AND retry_count > 10
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old snapshots: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		sq.logger.Info("Cleaned up old snapshots",
			zap.Int64("count", rowsAffected),
		)
	}

	return nil
}
