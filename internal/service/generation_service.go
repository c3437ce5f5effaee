package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/compute"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
)

// GenerationService submits generation jobs to the compute dependency and
// serves generation reads.
type GenerationService struct {
	repos    *repository.Repositories
	breakers *breaker.Registry
	backend  compute.Dependency
	storage  *StorageService
	now      func() time.Time
	logger   *slog.Logger
}

// NewGenerationService creates a generation service that submits new jobs to backend.
func NewGenerationService(repos *repository.Repositories, breakers *breaker.Registry, backend compute.Dependency, storage *StorageService, logger *slog.Logger) *GenerationService {
	return &GenerationService{
		repos:    repos,
		breakers: breakers,
		backend:  backend,
		storage:  storage,
		now:      time.Now,
		logger:   logger.With("component", "generation"),
	}
}

// SubmitInput represents a generation request.
type SubmitInput struct {
	UserID          string                `json:"-"`
	Type            models.GenerationType `json:"type"`
	Parameters      json.RawMessage       `json:"parameters"`
	SourceSampleIDs []string              `json:"source_sample_ids"`
}

// SubmitOutput represents the accepted generation.
type SubmitOutput struct {
	GenerationID  string                  `json:"generation_id"`
	JobID         string                  `json:"job_id"`
	EstimatedTime int                     `json:"estimated_time"` // seconds
	Status        models.GenerationStatus `json:"status"`
}

// Submit validates the request, records a pending generation and hands the
// job to the compute dependency through its breaker. When the compute call
// fails the row is marked failed and the classified error is returned.
func (s *GenerationService) Submit(ctx context.Context, in SubmitInput) (*SubmitOutput, error) {
	if !in.Type.Valid() {
		return nil, invalid("type", "unknown generation type %q", in.Type)
	}
	params, err := normalizeParameters(in.Type, in.Parameters)
	if err != nil {
		return nil, err
	}
	if err := validateSourceSampleIDs(in.SourceSampleIDs); err != nil {
		return nil, err
	}
	if err := s.checkSamples(ctx, in.SourceSampleIDs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	gen := &models.Generation{
		ID:              ulid.Make().String(),
		UserID:          in.UserID,
		Type:            in.Type,
		Status:          models.GenerationStatusPending,
		Parameters:      params,
		SourceSampleIDs: in.SourceSampleIDs,
		Backend:         s.backend.Name(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repos.Generation.Create(ctx, gen); err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}

	ctx = logging.WithJobID(ctx, gen.ID)
	job := compute.Job{
		GenerationID:  gen.ID,
		Type:          gen.Type,
		Parameters:    gen.Parameters,
		SourceSamples: gen.SourceSampleIDs,
	}
	sub, err := breaker.Call(ctx, s.breakers, s.backend.Name(), func(ctx context.Context) (*compute.Submission, error) {
		return s.backend.Submit(ctx, job)
	})
	if err != nil {
		s.failSubmission(ctx, gen.ID, err)
		return nil, err
	}

	err = s.repos.Generation.Transition(ctx, gen.ID, models.GenerationStatusPending, repository.GenerationUpdate{
		Status: models.GenerationStatusProcessing,
		JobID:  sub.JobID,
	})
	status := models.GenerationStatusProcessing
	switch {
	case errors.Is(err, repository.ErrConflict):
		// A status report for the job already advanced the row.
		s.logger.InfoContext(ctx, "generation advanced before submit recorded", "compute_job_id", sub.JobID)
		if current, getErr := s.repos.Generation.GetByID(ctx, gen.ID); getErr == nil && current != nil {
			status = current.Status
		}
	case err != nil:
		return nil, fmt.Errorf("failed to record compute job: %w", err)
	}

	s.logger.InfoContext(ctx, "generation submitted",
		"type", gen.Type,
		"backend", gen.Backend,
		"compute_job_id", sub.JobID,
		"estimated_seconds", sub.EstimatedSeconds,
	)

	return &SubmitOutput{
		GenerationID:  gen.ID,
		JobID:         sub.JobID,
		EstimatedTime: sub.EstimatedSeconds,
		Status:        status,
	}, nil
}

func (s *GenerationService) checkSamples(ctx context.Context, ids []string) error {
	found, err := s.repos.Sample.FindApproved(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to look up source samples: %w", err)
	}
	if len(found) == len(ids) {
		return nil
	}
	have := make(map[string]bool, len(found))
	for _, id := range found {
		have[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return invalid("source_sample_ids", "samples not found or not approved: %s", joinIDs(missing))
}

// failSubmission records the compute failure. It runs on a context that
// survives caller cancellation so the row does not stay pending.
func (s *GenerationService) failSubmission(ctx context.Context, id string, cause error) {
	msg := submissionFailureMessage(cause)
	err := s.repos.Generation.Transition(context.WithoutCancel(ctx), id, models.GenerationStatusPending, repository.GenerationUpdate{
		Status:       models.GenerationStatusFailed,
		ErrorMessage: msg,
	})
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		s.logger.ErrorContext(ctx, "failed to mark generation failed", "error", err)
	}
	s.logger.WarnContext(ctx, "generation submit failed", "backend", s.backend.Name(), "error", cause)
}

func submissionFailureMessage(err error) string {
	var te *breaker.TimeoutError
	switch {
	case breaker.IsCircuitOpen(err):
		return "generation service temporarily unavailable, request was not started"
	case errors.As(err, &te):
		return fmt.Sprintf("compute service timeout after %s", te.Timeout)
	case errors.Is(err, context.Canceled):
		return "request canceled before the compute service accepted the job"
	case errors.Is(err, context.DeadlineExceeded):
		return "request deadline exceeded (timeout) before the compute service accepted the job"
	}
	return "compute service error: " + err.Error()
}

// Get returns a generation owned by userID.
func (s *GenerationService) Get(ctx context.Context, userID, id string) (*models.Generation, error) {
	gen, err := s.repos.Generation.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	if gen == nil {
		return nil, ErrNotFound
	}
	if gen.UserID != userID {
		return nil, ErrForbidden
	}
	return gen, nil
}

// List returns the user's generations, newest first.
func (s *GenerationService) List(ctx context.Context, userID string, limit, offset int) ([]*models.Generation, error) {
	limit, offset = clampPage(limit, offset)
	gens, err := s.repos.Generation.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	if gens == nil {
		gens = []*models.Generation{}
	}
	return gens, nil
}

// GenerationDownload is a download link for a completed generation.
type GenerationDownload struct {
	GenerationID string    `json:"generation_id"`
	URL          string    `json:"download_url"`
	ExpiresAt    time.Time `json:"expires_at"`
	// LicenseID is set when the download was metered against a license.
	LicenseID          string `json:"license_id,omitempty"`
	DownloadsRemaining *int   `json:"downloads_remaining,omitempty"`
}

// Download returns a time-limited link to a completed generation's result.
// A generation unlocked by a direct payment downloads freely; otherwise the
// user needs a usable license on it, and a metered license is charged one
// download.
func (s *GenerationService) Download(ctx context.Context, userID, id string) (*GenerationDownload, error) {
	ctx = logging.WithUserID(ctx, userID)
	gen, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if gen.Status != models.GenerationStatusCompleted {
		return nil, &ConflictError{Resource: "generation", ID: id, Reason: "generation is " + string(gen.Status)}
	}

	out := &GenerationDownload{GenerationID: id}
	if !gen.DownloadUnlocked {
		if err := s.meterLicense(ctx, userID, id, out); err != nil {
			return nil, err
		}
	}

	url, expires, err := s.storage.DownloadURL(ctx, gen.ResultLocation)
	if err != nil {
		return nil, err
	}
	out.URL = url
	out.ExpiresAt = expires
	s.logger.InfoContext(ctx, "generation download issued",
		"generation_id", id,
		"license_id", out.LicenseID,
	)
	return out, nil
}

// meterLicense finds a usable license for the generation and records one
// download on it. A license used up by a concurrent download is retried
// against the next usable one.
func (s *GenerationService) meterLicense(ctx context.Context, userID, generationID string, out *GenerationDownload) error {
	for attempt := 0; attempt < 3; attempt++ {
		now := s.now().UTC()
		license, err := s.repos.License.FindUsableForGeneration(ctx, userID, generationID, now)
		if err != nil {
			return err
		}
		if license == nil {
			return ErrDownloadLocked
		}
		ok, err := s.repos.License.RecordDownload(ctx, license.ID, userID, now, &models.LicenseEvent{
			ID:        newEventID(),
			LicenseID: license.ID,
			Type:      models.LicenseEventDownloaded,
			Source:    "api:generation",
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		out.LicenseID = license.ID
		if license.DownloadLimit != nil {
			out.DownloadsRemaining = intPtr(max(*license.DownloadLimit-license.DownloadsUsed-1, 0))
		}
		return nil
	}
	return &ConflictError{Resource: "generation", ID: generationID, Reason: "license downloads changed concurrently, retry"}
}

// Delete removes a generation that is not running and has no licenses.
func (s *GenerationService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	err := s.repos.Generation.Delete(ctx, id)
	if errors.Is(err, repository.ErrConflict) {
		return s.deleteConflict(ctx, id)
	}
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "generation deleted", "generation_id", id)
	return nil
}

// deleteConflict explains a refused delete from the row's current state.
func (s *GenerationService) deleteConflict(ctx context.Context, id string) error {
	gen, err := s.repos.Generation.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get generation: %w", err)
	}
	if gen == nil {
		return ErrNotFound
	}
	if gen.Status == models.GenerationStatusProcessing {
		return &ConflictError{Resource: "generation", ID: id, Reason: "generation is still processing"}
	}
	return &ConflictError{Resource: "generation", ID: id, Reason: "generation has licenses"}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
