// Package worker runs background polling of compute jobs.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/compute"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

const jobLostMessage = "compute service lost the job"

// Reporter receives status observations.
type Reporter interface {
	ReportStatus(ctx context.Context, report service.StatusReport) error
}

// StatusPoller asks compute backends for the status of in-flight
// generations and hands each answer to the status reconciler.
type StatusPoller struct {
	genRepo      repository.GenerationRepository
	backends     compute.Backends
	breakers     *breaker.Registry
	reporter     Reporter
	pollInterval time.Duration
	concurrency  int
	batchSize    int
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// Config holds poller configuration.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	// BatchSize caps how many generations one tick polls.
	BatchSize int
}

// New creates a status poller.
func New(
	genRepo repository.GenerationRepository,
	backends compute.Backends,
	breakers *breaker.Registry,
	reporter Reporter,
	cfg Config,
	logger *slog.Logger,
) *StatusPoller {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusPoller{
		genRepo:      genRepo,
		backends:     backends,
		breakers:     breakers,
		reporter:     reporter,
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
		batchSize:    cfg.BatchSize,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "status_poller"),
	}
}

// Start begins polling in the background.
func (p *StatusPoller) Start(ctx context.Context) {
	p.logger.Info("starting", "concurrency", p.concurrency, "interval", p.pollInterval)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop waits for the current tick to finish. Safe to call more than once.
func (p *StatusPoller) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping")
		close(p.stop)
	})
	p.wg.Wait()
	p.logger.Info("stopped")
}

func (p *StatusPoller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce polls one batch of in-flight generations and returns how many
// reports were delivered.
func (p *StatusPoller) PollOnce(ctx context.Context) int {
	gens, err := p.genRepo.ListInFlight(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to list in-flight generations", "error", err)
		return 0
	}
	if len(gens) == 0 {
		return 0
	}

	var (
		mu        sync.Mutex
		delivered int
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, p.concurrency)
	for _, gen := range gens {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return delivered
		}
		wg.Add(1)
		go func(gen *models.Generation) {
			defer wg.Done()
			defer func() { <-sem }()
			if p.pollGeneration(ctx, gen) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}(gen)
	}
	wg.Wait()
	return delivered
}

func (p *StatusPoller) pollGeneration(ctx context.Context, gen *models.Generation) bool {
	ctx = logging.WithJobID(ctx, gen.ID)
	backend, ok := p.backends.Get(gen.Backend)
	if !ok {
		p.logger.WarnContext(ctx, "no compute backend for generation", "backend", gen.Backend)
		return false
	}

	st, err := breaker.Call(ctx, p.breakers, backend.Name(), func(ctx context.Context) (*compute.JobStatus, error) {
		st, err := backend.Status(ctx, gen.JobID)
		if errors.Is(err, compute.ErrJobNotFound) {
			// The backend answered; a lost job is not an outage.
			return &compute.JobStatus{JobID: gen.JobID, Status: models.GenerationStatusFailed, ErrorMessage: jobLostMessage}, nil
		}
		return st, err
	})
	if err != nil {
		if breaker.IsCircuitOpen(err) {
			p.logger.DebugContext(ctx, "skipping poll, breaker open", "backend", backend.Name())
		} else {
			p.logger.WarnContext(ctx, "status poll failed", "backend", backend.Name(), "error", err)
		}
		return false
	}

	err = p.reporter.ReportStatus(ctx, service.StatusReport{
		GenerationID:   gen.ID,
		JobID:          gen.JobID,
		Status:         st.Status,
		ResultLocation: st.ResultLocation,
		ErrorMessage:   st.ErrorMessage,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to apply polled status", "status", st.Status, "error", err)
		return false
	}
	return true
}
