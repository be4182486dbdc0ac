package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/models"
)

const (
	workSessionsTable = "work_sessions"
	snapshotsTable    = "presence_snapshots"
)

// Client wraps the hosted backend. The agent only needs three access
// patterns: one row by (user, day), rows newer than a watermark, and
// upserts/inserts for its own reports.
type Client struct {
	sb            *supabase.Client
	messagesTable string
	logger        *zap.Logger
}

func New(url, apiKey, schema, messagesTable string, logger *zap.Logger) (*Client, error) {
	if url == "" || apiKey == "" {
		return nil, fmt.Errorf("backend url and api key must be set")
	}

	opts := &supabase.ClientOptions{Schema: schema}
	sb, err := supabase.NewClient(url, apiKey, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend client: %w", err)
	}

	return &Client{
		sb:            sb,
		messagesTable: messagesTable,
		logger:        logger,
	}, nil
}

// WorkSessionForDay reads the daily aggregate row for one user. Returns
// (nil, nil) when no row exists for that day; callers must treat that as
// "no baseline yet", not zero activity.
func (c *Client) WorkSessionForDay(ctx context.Context, userID string, day time.Time) (*models.WorkSessionRow, error) {
	var rows []models.WorkSessionRow
	_, err := c.sb.From(workSessionsTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Eq("session_date", day.Format("2006-01-02")).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch work session: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MessagesSince fetches message rows created after the watermark, newest
// first, bounded by limit
func (c *Client) MessagesSince(ctx context.Context, since time.Time, limit int) ([]models.ChatMessageRow, error) {
	var rows []models.ChatMessageRow
	_, err := c.sb.From(c.messagesTable).
		Select("*", "", false).
		Gt("created_at", since.UTC().Format(time.RFC3339)).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return rows, nil
}

// UpsertWorkSession writes the local daily totals for this user, keyed by
// (user, day)
func (c *Client) UpsertWorkSession(ctx context.Context, row models.WorkSessionRow) error {
	var result []models.WorkSessionRow
	_, err := c.sb.From(workSessionsTable).
		Insert(row, true, "user_id,session_date", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("failed to upsert work session: %w", err)
	}

	c.logger.Debug("Work session upserted",
		zap.String("user_id", row.UserID),
		zap.String("session_date", row.SessionDate),
		zap.Int64("active_seconds", row.ActiveSeconds),
	)
	return nil
}

// UploadSnapshots sends a batch of presence snapshots
func (c *Client) UploadSnapshots(ctx context.Context, batch models.SnapshotBatch) error {
	if len(batch.Snapshots) == 0 {
		return fmt.Errorf("cannot upload empty batch")
	}

	var result []models.PresenceSnapshot
	_, err := c.sb.From(snapshotsTable).
		Insert(batch.Snapshots, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("failed to upload snapshots: %w", err)
	}

	c.logger.Debug("Snapshot batch uploaded",
		zap.Int("count", len(batch.Snapshots)),
		zap.String("device_id", batch.DeviceID),
	)
	return nil
}
