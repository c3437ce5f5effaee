package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

// StaleSubmissionMessage is recorded on generations the sweep fails.
const StaleSubmissionMessage = "generation was not submitted to the compute service"

// CleanupService fails generations left pending without a compute job,
// which happens when the process dies between the insert and the compute
// call.
type CleanupService struct {
	genRepo repository.GenerationRepository
	now     func() time.Time
	logger  *slog.Logger
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(genRepo repository.GenerationRepository, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		genRepo: genRepo,
		now:     time.Now,
		logger:  logger.With("component", "cleanup"),
	}
}

// FailStalePending fails pending generations without a job id older than maxAge.
func (s *CleanupService) FailStalePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)
	count, err := s.genRepo.FailStalePending(ctx, cutoff, StaleSubmissionMessage)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Warn("failed stale pending generations",
			"count", count,
			"cutoff", cutoff.UTC().Format(time.RFC3339),
		)
	}
	return count, nil
}

// RunScheduledCleanup runs the sweep immediately and then at interval until ctx is done.
func (s *CleanupService) RunScheduledCleanup(ctx context.Context, maxAge, interval time.Duration) {
	s.logger.Info("starting stale generation sweep",
		"max_age", maxAge.String(),
		"interval", interval.String(),
	)

	if _, err := s.FailStalePending(ctx, maxAge); err != nil {
		s.logger.Error("initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale generation sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.FailStalePending(ctx, maxAge); err != nil {
				s.logger.Error("scheduled sweep failed", "error", err)
			}
		}
	}
}
