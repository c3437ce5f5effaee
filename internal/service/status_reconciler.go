package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

const maxReconcileAttempts = 3

const defaultGenerationFailure = "generation failed"

// StatusReport is a status observation for a generation, from a poll or a callback.
type StatusReport struct {
	GenerationID   string                  `json:"generation_id"`
	JobID          string                  `json:"job_id,omitempty"`
	Status         models.GenerationStatus `json:"status"`
	ResultLocation string                  `json:"result_url,omitempty"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
}

// StatusReconciler applies status reports to generation rows. Reports may
// arrive late, twice or out of order; rows only ever move forward.
type StatusReconciler struct {
	repo   repository.GenerationRepository
	logger *slog.Logger
}

// NewStatusReconciler creates a status reconciler.
func NewStatusReconciler(repo repository.GenerationRepository, logger *slog.Logger) *StatusReconciler {
	return &StatusReconciler{
		repo:   repo,
		logger: logger.With("component", "status_reconciler"),
	}
}

// ReportStatus applies report. Reports for terminal rows and reports that
// would move a row backwards are accepted and discarded.
func (r *StatusReconciler) ReportStatus(ctx context.Context, report StatusReport) error {
	switch report.Status {
	case models.GenerationStatusPending, models.GenerationStatusProcessing, models.GenerationStatusFailed:
	case models.GenerationStatusCompleted:
		if report.ResultLocation == "" {
			return invalid("result_url", "completed reports need a result location")
		}
	default:
		return invalid("status", "unknown status %q", report.Status)
	}
	if report.Status == models.GenerationStatusFailed && report.ErrorMessage == "" {
		report.ErrorMessage = defaultGenerationFailure
	}

	ctx = logging.WithJobID(ctx, report.GenerationID)
	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		gen, err := r.repo.GetByID(ctx, report.GenerationID)
		if err != nil {
			return fmt.Errorf("failed to load generation: %w", err)
		}
		if gen == nil {
			return ErrNotFound
		}
		if report.JobID != "" && gen.JobID != "" && report.JobID != gen.JobID {
			r.logger.WarnContext(ctx, "ignoring report for a different compute job",
				"reported_job_id", report.JobID, "compute_job_id", gen.JobID)
			return nil
		}
		if gen.Status.Terminal() || report.Status.Rank() <= gen.Status.Rank() {
			r.logger.DebugContext(ctx, "discarding stale status report",
				"stored", gen.Status, "reported", report.Status)
			return nil
		}

		update := repository.GenerationUpdate{Status: report.Status, JobID: report.JobID}
		switch report.Status {
		case models.GenerationStatusCompleted:
			update.ResultLocation = report.ResultLocation
		case models.GenerationStatusFailed:
			update.ErrorMessage = report.ErrorMessage
		}

		err = r.repo.Transition(ctx, gen.ID, gen.Status, update)
		if err == nil {
			r.logger.InfoContext(ctx, "generation status updated",
				"from", gen.Status, "to", report.Status, "attempt", attempt)
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("failed to update generation: %w", err)
		}
	}
	return &ConflictError{Resource: "generation", ID: report.GenerationID}
}
