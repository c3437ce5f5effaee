package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// SQLiteSampleRepository implements SampleRepository for SQLite.
type SQLiteSampleRepository struct {
	db *sql.DB
}

// NewSQLiteSampleRepository creates a new SQLite sample repository.
func NewSQLiteSampleRepository(db *sql.DB) *SQLiteSampleRepository {
	return &SQLiteSampleRepository{db: db}
}

func (r *SQLiteSampleRepository) Create(ctx context.Context, s *models.AudioSample) error {
	query := `
		INSERT INTO audio_samples (id, title, approved, file_location, price_personal_minor,
			price_commercial_minor, price_enterprise_minor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.Title,
		boolInt(s.Approved),
		nullString(s.FileLocation),
		s.PricePersonalMinor,
		nullInt64(s.PriceCommercialMinor),
		nullInt64(s.PriceEnterpriseMinor),
		formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create audio sample: %w", err)
	}
	return nil
}

func (r *SQLiteSampleRepository) GetByID(ctx context.Context, id string) (*models.AudioSample, error) {
	query := `
		SELECT id, title, approved, file_location, price_personal_minor,
			price_commercial_minor, price_enterprise_minor, created_at
		FROM audio_samples WHERE id = ?
	`
	var s models.AudioSample
	var fileLocation sql.NullString
	var commercial, enterprise sql.NullInt64
	var createdAt string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.Title, &s.Approved, &fileLocation, &s.PricePersonalMinor,
		&commercial, &enterprise, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio sample: %w", err)
	}
	s.FileLocation = fileLocation.String
	if commercial.Valid {
		s.PriceCommercialMinor = &commercial.Int64
	}
	if enterprise.Valid {
		s.PriceEnterpriseMinor = &enterprise.Int64
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

// FindApproved checks a batch of ids in one query.
func (r *SQLiteSampleRepository) FindApproved(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id FROM audio_samples WHERE approved = 1 AND id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approved samples: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sample id: %w", err)
		}
		found = append(found, id)
	}
	return found, rows.Err()
}
