package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// SQLiteLicenseRepository implements LicenseRepository for SQLite.
type SQLiteLicenseRepository struct {
	db *sql.DB
}

// NewSQLiteLicenseRepository creates a new SQLite license repository.
func NewSQLiteLicenseRepository(db *sql.DB) *SQLiteLicenseRepository {
	return &SQLiteLicenseRepository{db: db}
}

const licenseColumns = `id, user_id, sample_id, generation_id, tier, price_minor, currency,
	payment_status, payment_intent_id, active, download_limit, downloads_used,
	expires_at, created_at, updated_at`

// Create inserts the license and, when given, its first audit event atomically.
func (r *SQLiteLicenseRepository) Create(ctx context.Context, l *models.License, event *models.LicenseEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var limit sql.NullInt64
	if l.DownloadLimit != nil {
		limit = sql.NullInt64{Int64: int64(*l.DownloadLimit), Valid: true}
	}
	query := `
		INSERT INTO licenses (` + licenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		l.ID,
		l.UserID,
		nullString(l.SampleID),
		nullString(l.GenerationID),
		l.Tier,
		l.PriceMinor,
		l.Currency,
		l.PaymentStatus,
		nullString(l.PaymentIntentID),
		boolInt(l.Active),
		limit,
		l.DownloadsUsed,
		formatTime(l.ExpiresAt),
		formatTime(l.CreatedAt),
		formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create license: %w", err)
	}
	if event != nil {
		if err := insertLicenseEvent(ctx, tx, event); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteLicenseRepository) GetByID(ctx context.Context, id string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = ?`
	l, err := scanLicense(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (r *SQLiteLicenseRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

func (r *SQLiteLicenseRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE payment_intent_id = ? LIMIT 1`
	l, err := scanLicense(r.db.QueryRowContext(ctx, query, intentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (r *SQLiteLicenseRepository) CountByGenerationID(ctx context.Context, generationID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM licenses WHERE generation_id = ?", generationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count licenses: %w", err)
	}
	return count, nil
}

// FindUsableForGeneration returns the user's license on generationID that
// can serve a download at now, preferring unmetered licenses. Nil when none.
func (r *SQLiteLicenseRepository) FindUsableForGeneration(ctx context.Context, userID, generationID string, now time.Time) (*models.License, error) {
	query := `
		SELECT ` + licenseColumns + ` FROM licenses
		WHERE user_id = ? AND generation_id = ? AND active = 1 AND expires_at > ?
			AND (download_limit IS NULL OR downloads_used < download_limit)
		ORDER BY download_limit IS NOT NULL, created_at DESC
		LIMIT 1
	`
	l, err := scanLicense(r.db.QueryRowContext(ctx, query, userID, generationID, formatTime(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find usable license: %w", err)
	}
	return l, nil
}

// SwapPaymentIntent points the license at next only while it still points
// at expected ("" for none). It reports whether the row changed.
func (r *SQLiteLicenseRepository) SwapPaymentIntent(ctx context.Context, id, expected, next string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE licenses SET payment_intent_id = ?, updated_at = ?
		WHERE id = ? AND COALESCE(payment_intent_id, '') = ?
	`, next, formatTime(time.Now()), id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to set license payment intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteLicenseRepository) TransitionPayment(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus, active bool, event *models.LicenseEvent) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no prior payment status given")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := []any{to, boolInt(active), formatTime(time.Now()), id}
	for _, s := range from {
		args = append(args, s)
	}
	query := `
		UPDATE licenses SET payment_status = ?, active = ?, updated_at = ?
		WHERE id = ? AND payment_status IN (` + placeholders(len(from)) + `)
	`
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update license payment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if event != nil {
		if err := insertLicenseEvent(ctx, tx, event); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func (r *SQLiteLicenseRepository) RecordDownload(ctx context.Context, id, userID string, now time.Time, event *models.LicenseEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE licenses SET downloads_used = downloads_used + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND active = 1 AND expires_at > ?
			AND (download_limit IS NULL OR downloads_used < download_limit)
	`
	result, err := tx.ExecContext(ctx, query, formatTime(now), id, userID, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to record download: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if event != nil {
		if err := insertLicenseEvent(ctx, tx, event); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func scanLicense(row rowScanner) (*models.License, error) {
	var l models.License
	var sampleID, generationID, intentID sql.NullString
	var limit sql.NullInt64
	var expiresAt, createdAt, updatedAt string

	err := row.Scan(
		&l.ID, &l.UserID, &sampleID, &generationID, &l.Tier, &l.PriceMinor, &l.Currency,
		&l.PaymentStatus, &intentID, &l.Active, &limit, &l.DownloadsUsed,
		&expiresAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan license: %w", err)
	}
	l.SampleID = sampleID.String
	l.GenerationID = generationID.String
	l.PaymentIntentID = intentID.String
	if limit.Valid {
		n := int(limit.Int64)
		l.DownloadLimit = &n
	}
	l.ExpiresAt = parseTime(expiresAt)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

func insertLicenseEvent(ctx context.Context, tx *sql.Tx, e *models.LicenseEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO license_events (id, license_id, type, source, reference, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.LicenseID, e.Type, e.Source,
		nullString(e.Reference), nullString(e.Details), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record license event: %w", err)
	}
	return nil
}

// SQLiteLicenseEventRepository implements LicenseEventRepository for SQLite.
type SQLiteLicenseEventRepository struct {
	db *sql.DB
}

// NewSQLiteLicenseEventRepository creates a new SQLite license event repository.
func NewSQLiteLicenseEventRepository(db *sql.DB) *SQLiteLicenseEventRepository {
	return &SQLiteLicenseEventRepository{db: db}
}

func (r *SQLiteLicenseEventRepository) GetByLicenseID(ctx context.Context, licenseID string) ([]*models.LicenseEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, license_id, type, source, reference, details, created_at
		FROM license_events WHERE license_id = ? ORDER BY created_at ASC, id ASC
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query license events: %w", err)
	}
	defer rows.Close()

	var events []*models.LicenseEvent
	for rows.Next() {
		var e models.LicenseEvent
		var reference, details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.LicenseID, &e.Type, &e.Source, &reference, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan license event: %w", err)
		}
		e.Reference = reference.String
		e.Details = details.String
		e.CreatedAt = parseTime(createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *SQLiteLicenseEventRepository) CountByType(ctx context.Context, licenseID string, eventType models.LicenseEventType) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM license_events WHERE license_id = ? AND type = ?",
		licenseID, eventType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count license events: %w", err)
	}
	return count, nil
}
