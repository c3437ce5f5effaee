package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// SQLitePaymentIntentRepository implements PaymentIntentRepository for SQLite.
type SQLitePaymentIntentRepository struct {
	db *sql.DB
}

// NewSQLitePaymentIntentRepository creates a new SQLite payment intent repository.
func NewSQLitePaymentIntentRepository(db *sql.DB) *SQLitePaymentIntentRepository {
	return &SQLitePaymentIntentRepository{db: db}
}

const intentColumns = `id, provider, user_id, amount_minor, currency, status, provider_status,
	license_id, generation_id, failure_reason, created_at, updated_at`

// advanceGuard is PaymentIntentStatus.CanAdvanceTo in SQL, evaluated against
// the stored row (status) and the incoming one (excluded.status).
const advanceGuard = `(
	excluded.status = status
	OR status = 'pending'
	OR (status = 'processing' AND excluded.status != 'pending')
	OR (status = 'failed' AND excluded.status IN ('succeeded', 'canceled'))
	OR (status = 'succeeded' AND excluded.status = 'refunded')
)`

// Upsert writes the mirror row for intent.ID. The write-through path and the
// webhook path both land here, in either order and concurrently. A missing
// row is created; an existing row only moves forward per
// PaymentIntentStatus.CanAdvanceTo, and target references already stored are
// never replaced. It is a single statement so racing writers never hold a
// read lock while waiting to write.
func (r *SQLitePaymentIntentRepository) Upsert(ctx context.Context, in *models.PaymentIntent) (*models.PaymentIntent, error) {
	now := time.Now().UTC()
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = CASE WHEN user_id = '' THEN excluded.user_id ELSE user_id END,
			license_id = COALESCE(license_id, excluded.license_id),
			generation_id = COALESCE(generation_id, excluded.generation_id),
			provider_status = CASE WHEN `+advanceGuard+` AND excluded.provider_status != ''
				THEN excluded.provider_status ELSE provider_status END,
			failure_reason = CASE WHEN `+advanceGuard+` AND excluded.failure_reason IS NOT NULL
				THEN excluded.failure_reason ELSE failure_reason END,
			status = CASE WHEN `+advanceGuard+` THEN excluded.status ELSE status END,
			updated_at = excluded.updated_at
		RETURNING `+intentColumns,
		in.ID, in.Provider, in.UserID, in.AmountMinor, in.Currency,
		in.Status, in.ProviderStatus, nullString(in.LicenseID),
		nullString(in.GenerationID), nullString(in.FailureReason),
		formatTime(createdAt), formatTime(now),
	)
	stored, err := scanIntent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert payment intent: %w", err)
	}
	return stored, nil
}

// GetByUserID returns the user's payment attempts, newest first.
func (r *SQLitePaymentIntentRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	defer rows.Close()

	var intents []*models.PaymentIntent
	for rows.Next() {
		pi, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		intents = append(intents, pi)
	}
	return intents, rows.Err()
}

func (r *SQLitePaymentIntentRepository) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	pi, err := scanIntent(r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return pi, err
}

func scanIntent(row rowScanner) (*models.PaymentIntent, error) {
	var pi models.PaymentIntent
	var licenseID, generationID, failureReason sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(
		&pi.ID, &pi.Provider, &pi.UserID, &pi.AmountMinor, &pi.Currency, &pi.Status,
		&pi.ProviderStatus, &licenseID, &generationID, &failureReason, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment intent: %w", err)
	}
	pi.LicenseID = licenseID.String
	pi.GenerationID = generationID.String
	pi.FailureReason = failureReason.String
	pi.CreatedAt = parseTime(createdAt)
	pi.UpdatedAt = parseTime(updatedAt)
	return &pi, nil
}

// SQLiteRefundRepository implements RefundRepository for SQLite.
type SQLiteRefundRepository struct {
	db *sql.DB
}

// NewSQLiteRefundRepository creates a new SQLite refund repository.
func NewSQLiteRefundRepository(db *sql.DB) *SQLiteRefundRepository {
	return &SQLiteRefundRepository{db: db}
}

// Create is a no-op for a refund id that is already stored, since a refund
// can be reported both by the API response and a later webhook.
func (r *SQLiteRefundRepository) Create(ctx context.Context, ref *models.Refund) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refunds (id, payment_intent_id, provider, amount_minor, currency, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status
	`,
		ref.ID, ref.PaymentIntentID, ref.Provider, ref.AmountMinor, ref.Currency,
		ref.Status, nullString(ref.Reason), formatTime(ref.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (r *SQLiteRefundRepository) GetByPaymentIntentID(ctx context.Context, intentID string) ([]*models.Refund, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_intent_id, provider, amount_minor, currency, status, reason, created_at
		FROM refunds WHERE payment_intent_id = ? ORDER BY created_at ASC
	`, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*models.Refund
	for rows.Next() {
		var ref models.Refund
		var reason sql.NullString
		var createdAt string
		if err := rows.Scan(&ref.ID, &ref.PaymentIntentID, &ref.Provider, &ref.AmountMinor,
			&ref.Currency, &ref.Status, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		ref.Reason = reason.String
		ref.CreatedAt = parseTime(createdAt)
		refunds = append(refunds, &ref)
	}
	return refunds, rows.Err()
}

// SQLiteDisputeRepository implements DisputeRepository for SQLite.
type SQLiteDisputeRepository struct {
	db *sql.DB
}

// NewSQLiteDisputeRepository creates a new SQLite dispute repository.
func NewSQLiteDisputeRepository(db *sql.DB) *SQLiteDisputeRepository {
	return &SQLiteDisputeRepository{db: db}
}

func (r *SQLiteDisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO disputes (id, provider, payment_intent_id, amount_minor, currency, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		d.ID, d.Provider, nullString(d.PaymentIntentID), d.AmountMinor, d.Currency,
		nullString(d.Reason), d.Status, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (r *SQLiteDisputeRepository) List(ctx context.Context, limit, offset int) ([]*models.Dispute, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, payment_intent_id, amount_minor, currency, reason, status, created_at
		FROM disputes ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query disputes: %w", err)
	}
	defer rows.Close()

	var disputes []*models.Dispute
	for rows.Next() {
		var d models.Dispute
		var intentID, reason sql.NullString
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Provider, &intentID, &d.AmountMinor, &d.Currency,
			&reason, &d.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		d.PaymentIntentID = intentID.String
		d.Reason = reason.String
		d.CreatedAt = parseTime(createdAt)
		disputes = append(disputes, &d)
	}
	return disputes, rows.Err()
}
