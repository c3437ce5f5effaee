package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// SQLiteWebhookEventRepository implements WebhookEventRepository for SQLite.
type SQLiteWebhookEventRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookEventRepository creates a new SQLite webhook event repository.
func NewSQLiteWebhookEventRepository(db *sql.DB) *SQLiteWebhookEventRepository {
	return &SQLiteWebhookEventRepository{db: db}
}

func (r *SQLiteWebhookEventRepository) Record(ctx context.Context, provider, eventID, eventType string) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	var lastError, processedAt sql.NullString
	var receivedAt string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, type, status, attempts, received_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(provider, event_id) DO UPDATE SET attempts = webhook_events.attempts + 1
		RETURNING provider, event_id, type, status, attempts, last_error, received_at, processed_at
	`, provider, eventID, eventType, models.WebhookEventReceived, formatTime(time.Now())).Scan(
		&e.Provider, &e.EventID, &e.Type, &e.Status, &e.Attempts, &lastError, &receivedAt, &processedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	e.LastError = lastError.String
	e.ReceivedAt = parseTime(receivedAt)
	e.ProcessedAt = timePtr(processedAt)
	return &e, nil
}

func (r *SQLiteWebhookEventRepository) MarkProcessed(ctx context.Context, provider, eventID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = ?, last_error = NULL, processed_at = ?
		WHERE provider = ? AND event_id = ?
	`, models.WebhookEventProcessed, formatTime(time.Now()), provider, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookEventRepository) MarkFailed(ctx context.Context, provider, eventID, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = ?, last_error = ?
		WHERE provider = ? AND event_id = ? AND status != ?
	`, models.WebhookEventFailed, errMsg, provider, eventID, models.WebhookEventProcessed)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}
