package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// SQLiteGenerationRepository implements GenerationRepository for SQLite.
type SQLiteGenerationRepository struct {
	db *sql.DB
}

// NewSQLiteGenerationRepository creates a new SQLite generation repository.
func NewSQLiteGenerationRepository(db *sql.DB) *SQLiteGenerationRepository {
	return &SQLiteGenerationRepository{db: db}
}

const generationColumns = `id, user_id, type, status, parameters_json, source_sample_ids_json,
	backend, job_id, result_location, error_message, download_unlocked, created_at, updated_at`

func (r *SQLiteGenerationRepository) Create(ctx context.Context, gen *models.Generation) error {
	params := gen.Parameters
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	sampleIDs := gen.SourceSampleIDs
	if sampleIDs == nil {
		sampleIDs = []string{}
	}
	idsJSON, err := json.Marshal(sampleIDs)
	if err != nil {
		return fmt.Errorf("failed to encode source sample ids: %w", err)
	}

	query := `
		INSERT INTO generations (` + generationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		gen.ID,
		gen.UserID,
		gen.Type,
		gen.Status,
		string(params),
		string(idsJSON),
		gen.Backend,
		nullString(gen.JobID),
		nullString(gen.ResultLocation),
		nullString(gen.ErrorMessage),
		boolInt(gen.DownloadUnlocked),
		formatTime(gen.CreatedAt),
		formatTime(gen.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}
	return nil
}

func (r *SQLiteGenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	gen, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return gen, err
}

func (r *SQLiteGenerationRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Generation, error) {
	query := `
		SELECT ` + generationColumns + `
		FROM generations WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`
	return r.query(ctx, query, userID, limit, offset)
}

func (r *SQLiteGenerationRepository) Transition(ctx context.Context, id string, from models.GenerationStatus, update GenerationUpdate) error {
	query := `
		UPDATE generations
		SET status = ?, job_id = COALESCE(?, job_id), result_location = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		update.Status,
		nullString(update.JobID),
		nullString(update.ResultLocation),
		nullString(update.ErrorMessage),
		formatTime(time.Now()),
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update generation status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *SQLiteGenerationRepository) ListInFlight(ctx context.Context, limit int) ([]*models.Generation, error) {
	query := `
		SELECT ` + generationColumns + `
		FROM generations
		WHERE status = ? AND job_id IS NOT NULL
		ORDER BY updated_at ASC LIMIT ?
	`
	return r.query(ctx, query, models.GenerationStatusProcessing, limit)
}

// FailStalePending marks pending generations that never received a job id
// as failed. These are rows whose submitter died between insert and the
// compute call.
func (r *SQLiteGenerationRepository) FailStalePending(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	query := `
		UPDATE generations
		SET status = ?, error_message = ?, updated_at = ?
		WHERE status = ? AND job_id IS NULL AND created_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.GenerationStatusFailed,
		message,
		formatTime(time.Now()),
		models.GenerationStatusPending,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale generations: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func (r *SQLiteGenerationRepository) UnlockDownload(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE generations SET download_unlocked = 1, updated_at = ? WHERE id = ? AND download_unlocked = 0",
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to unlock generation download: %w", err)
	}
	return nil
}

// Delete removes a generation unless it is processing or licensed. Both
// conditions are part of the DELETE so a concurrent submit or license
// cannot slip in between a check and the delete.
func (r *SQLiteGenerationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM generations
		WHERE id = ? AND status != ?
		  AND NOT EXISTS (SELECT 1 FROM licenses WHERE licenses.generation_id = generations.id)
	`, id, models.GenerationStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *SQLiteGenerationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Generation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var gens []*models.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

func scanGeneration(row rowScanner) (*models.Generation, error) {
	var gen models.Generation
	var params, idsJSON, createdAt, updatedAt string
	var jobID, resultLocation, errorMessage sql.NullString

	err := row.Scan(
		&gen.ID, &gen.UserID, &gen.Type, &gen.Status, &params, &idsJSON,
		&gen.Backend, &jobID, &resultLocation, &errorMessage, &gen.DownloadUnlocked,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan generation: %w", err)
	}

	gen.Parameters = json.RawMessage(params)
	if err := json.Unmarshal([]byte(idsJSON), &gen.SourceSampleIDs); err != nil {
		return nil, fmt.Errorf("failed to decode source sample ids: %w", err)
	}
	gen.JobID = jobID.String
	gen.ResultLocation = resultLocation.String
	gen.ErrorMessage = errorMessage.String
	gen.CreatedAt = parseTime(createdAt)
	gen.UpdatedAt = parseTime(updatedAt)
	return &gen, nil
}
