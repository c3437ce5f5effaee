package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/database/migrations"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/oklog/ulid/v2"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if _, err := migrations.Run(context.Background(), db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) (*Repositories, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db), db
}

// InsertTestSample is a helper to insert an audio sample directly.
func InsertTestSample(t *testing.T, db *sql.DB, id string, approved bool) {
	t.Helper()
	query := `
		INSERT INTO audio_samples (id, title, approved, price_personal_minor, created_at)
		VALUES (?, 'Test Sample', ?, 0, ?)
	`
	if _, err := db.Exec(query, id, boolInt(approved), formatTime(time.Now())); err != nil {
		t.Fatalf("failed to insert test sample: %v", err)
	}
}

// newTestGeneration returns a pending generation owned by userID.
func newTestGeneration(userID string) *models.Generation {
	now := time.Now()
	return &models.Generation{
		ID:              ulid.Make().String(),
		UserID:          userID,
		Type:            models.GenerationTypeSoundLogo,
		Status:          models.GenerationStatusPending,
		Parameters:      []byte(`{"duration":5,"mood":"calm"}`),
		SourceSampleIDs: []string{"s1", "s2"},
		Backend:         "mock",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// newTestLicense returns a pending paid license on a generation.
func newTestLicense(userID, generationID string) *models.License {
	now := time.Now()
	limit := 5
	return &models.License{
		ID:            ulid.Make().String(),
		UserID:        userID,
		GenerationID:  generationID,
		Tier:          models.LicenseTierCommercial,
		PriceMinor:    1500,
		Currency:      "usd",
		PaymentStatus: models.PaymentStatusPending,
		DownloadLimit: &limit,
		ExpiresAt:     now.AddDate(1, 0, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newTestEvent(licenseID string, eventType models.LicenseEventType) *models.LicenseEvent {
	return &models.LicenseEvent{
		ID:        ulid.Make().String(),
		LicenseID: licenseID,
		Type:      eventType,
		Source:    "test",
		CreatedAt: time.Now(),
	}
}
