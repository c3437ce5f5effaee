package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// ========================================
// Generation Repository Tests
// ========================================

func TestGenerationRepository_CreateAndGet(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	gen := newTestGeneration("user_1")
	if err := repos.Generation.Create(ctx, gen); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Generation.GetByID(ctx, gen.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.Status != models.GenerationStatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if got.Backend != "mock" {
		t.Errorf("Backend = %s, want mock", got.Backend)
	}
	if len(got.SourceSampleIDs) != 2 || got.SourceSampleIDs[1] != "s2" {
		t.Errorf("SourceSampleIDs = %v, want [s1 s2]", got.SourceSampleIDs)
	}
	if string(got.Parameters) != `{"duration":5,"mood":"calm"}` {
		t.Errorf("Parameters = %s", got.Parameters)
	}
	if got.JobID != "" {
		t.Errorf("JobID = %q, want empty", got.JobID)
	}
}

func TestGenerationRepository_GetByID_NotFound(t *testing.T) {
	repos, _ := setupTestRepos(t)

	got, err := repos.Generation.GetByID(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent generation")
	}
}

func TestGenerationRepository_Transition(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	gen := newTestGeneration("user_1")
	if err := repos.Generation.Create(ctx, gen); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repos.Generation.Transition(ctx, gen.ID, models.GenerationStatusPending, GenerationUpdate{
		Status: models.GenerationStatusProcessing,
		JobID:  "job_1",
	})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	// A second writer that still believes the row is pending loses.
	err = repos.Generation.Transition(ctx, gen.ID, models.GenerationStatusPending, GenerationUpdate{
		Status:       models.GenerationStatusFailed,
		ErrorMessage: "late failure",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Transition() error = %v, want ErrConflict", err)
	}

	err = repos.Generation.Transition(ctx, gen.ID, models.GenerationStatusProcessing, GenerationUpdate{
		Status:         models.GenerationStatusCompleted,
		ResultLocation: "s3://bucket/result.mp3",
	})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	got, _ := repos.Generation.GetByID(ctx, gen.ID)
	if got.Status != models.GenerationStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.JobID != "job_1" {
		t.Errorf("JobID = %q, want job_1 (kept across transitions)", got.JobID)
	}
	if got.ResultLocation != "s3://bucket/result.mp3" {
		t.Errorf("ResultLocation = %q", got.ResultLocation)
	}
}

func TestGenerationRepository_TransitionMissingRow(t *testing.T) {
	repos, _ := setupTestRepos(t)

	err := repos.Generation.Transition(context.Background(), "missing", models.GenerationStatusPending, GenerationUpdate{
		Status: models.GenerationStatusProcessing,
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Transition() error = %v, want ErrConflict", err)
	}
}

func TestGenerationRepository_FailStalePending(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	stale := newTestGeneration("user_1")
	stale.CreatedAt = time.Now().Add(-20 * time.Minute)
	fresh := newTestGeneration("user_1")
	submitted := newTestGeneration("user_1")
	submitted.CreatedAt = time.Now().Add(-20 * time.Minute)
	submitted.JobID = "job_ok"

	for _, g := range []*models.Generation{stale, fresh, submitted} {
		if err := repos.Generation.Create(ctx, g); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	count, err := repos.Generation.FailStalePending(ctx, time.Now().Add(-10*time.Minute), "not submitted")
	if err != nil {
		t.Fatalf("FailStalePending() error = %v", err)
	}
	if count != 1 {
		t.Errorf("FailStalePending() = %d, want 1", count)
	}

	got, _ := repos.Generation.GetByID(ctx, stale.ID)
	if got.Status != models.GenerationStatusFailed || got.ErrorMessage != "not submitted" {
		t.Errorf("stale generation = %s/%q, want failed/not submitted", got.Status, got.ErrorMessage)
	}
	got, _ = repos.Generation.GetByID(ctx, fresh.ID)
	if got.Status != models.GenerationStatusPending {
		t.Errorf("fresh generation Status = %s, want pending", got.Status)
	}
	got, _ = repos.Generation.GetByID(ctx, submitted.ID)
	if got.Status != models.GenerationStatusPending {
		t.Errorf("submitted generation Status = %s, want pending", got.Status)
	}
}

func TestGenerationRepository_ListInFlight(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	inFlight := newTestGeneration("user_1")
	pending := newTestGeneration("user_1")
	for _, g := range []*models.Generation{inFlight, pending} {
		if err := repos.Generation.Create(ctx, g); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := repos.Generation.Transition(ctx, inFlight.ID, models.GenerationStatusPending, GenerationUpdate{
		Status: models.GenerationStatusProcessing,
		JobID:  "job_2",
	}); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	gens, err := repos.Generation.ListInFlight(ctx, 10)
	if err != nil {
		t.Fatalf("ListInFlight() error = %v", err)
	}
	if len(gens) != 1 || gens[0].ID != inFlight.ID {
		t.Fatalf("ListInFlight() = %d rows, want only the processing generation", len(gens))
	}
}

func TestGenerationRepository_GetByUserIDAndDelete(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repos.Generation.Create(ctx, newTestGeneration("user_1")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	other := newTestGeneration("user_2")
	if err := repos.Generation.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	gens, err := repos.Generation.GetByUserID(ctx, "user_1", 10, 0)
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(gens) != 3 {
		t.Errorf("GetByUserID() = %d, want 3", len(gens))
	}

	if err := repos.Generation.Delete(ctx, other.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := repos.Generation.GetByID(ctx, other.ID); got != nil {
		t.Error("generation still present after Delete()")
	}
}

func TestGenerationRepository_DeleteRefusesBusyRows(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	running := newTestGeneration("user_1")
	running.Status = models.GenerationStatusProcessing
	if err := repos.Generation.Create(ctx, running); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repos.Generation.Delete(ctx, running.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("Delete() processing error = %v, want ErrConflict", err)
	}

	licensed := newTestGeneration("user_1")
	licensed.Status = models.GenerationStatusCompleted
	if err := repos.Generation.Create(ctx, licensed); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	l := newTestLicense("user_1", licensed.ID)
	if err := repos.License.Create(ctx, l, newTestEvent(l.ID, models.LicenseEventCreated)); err != nil {
		t.Fatalf("License.Create() error = %v", err)
	}
	if err := repos.Generation.Delete(ctx, licensed.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("Delete() licensed error = %v, want ErrConflict", err)
	}

	if err := repos.Generation.Delete(ctx, "missing"); !errors.Is(err, ErrConflict) {
		t.Errorf("Delete() missing error = %v, want ErrConflict", err)
	}
	for _, id := range []string{running.ID, licensed.ID} {
		if got, _ := repos.Generation.GetByID(ctx, id); got == nil {
			t.Errorf("generation %s removed despite refusal", id)
		}
	}
}

// ========================================
// Sample Repository Tests
// ========================================

func TestSampleRepository_FindApproved(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	InsertTestSample(t, db, "s1", true)
	InsertTestSample(t, db, "s2", true)
	InsertTestSample(t, db, "s3", false)

	found, err := repos.Sample.FindApproved(ctx, []string{"s1", "s2", "s3", "s4"})
	if err != nil {
		t.Fatalf("FindApproved() error = %v", err)
	}
	set := map[string]bool{}
	for _, id := range found {
		set[id] = true
	}
	if len(found) != 2 || !set["s1"] || !set["s2"] {
		t.Errorf("FindApproved() = %v, want [s1 s2]", found)
	}

	found, err = repos.Sample.FindApproved(ctx, nil)
	if err != nil || len(found) != 0 {
		t.Errorf("FindApproved(nil) = %v, %v", found, err)
	}
}

func TestSampleRepository_CreateAndGet(t *testing.T) {
	repos, _ := setupTestRepos(t)
	ctx := context.Background()

	commercial := int64(2500)
	sample := &models.AudioSample{
		ID:                   "sample_1",
		Title:                "Bamboo flute",
		Approved:             true,
		PricePersonalMinor:   500,
		PriceCommercialMinor: &commercial,
		CreatedAt:            time.Now(),
	}
	if err := repos.Sample.Create(ctx, sample); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Sample.GetByID(ctx, "sample_1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil || !got.Approved || got.PricePersonalMinor != 500 {
		t.Fatalf("GetByID() = %+v", got)
	}
	if got.PriceCommercialMinor == nil || *got.PriceCommercialMinor != 2500 {
		t.Errorf("PriceCommercialMinor = %v, want 2500", got.PriceCommercialMinor)
	}
	if got.PriceEnterpriseMinor != nil {
		t.Errorf("PriceEnterpriseMinor = %v, want nil", *got.PriceEnterpriseMinor)
	}
}
