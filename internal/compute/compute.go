// Package compute talks to the services that render generation jobs.
//
// A Dependency accepts a job and later reports its status. The HTTP client
// reaches the external AI service; the mock backend renders nothing and
// completes jobs on a timer so the rest of the pipeline can run without it.
package compute

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// Backend names. They double as breaker names.
const (
	BackendAIService = "ai-service"
	BackendMock      = "mock"
)

// ErrJobNotFound is returned by Status for a job id the backend does not know.
var ErrJobNotFound = errors.New("compute job not found")

// Job is one generation handed to a backend.
type Job struct {
	GenerationID  string                `json:"generation_id"`
	Type          models.GenerationType `json:"type"`
	Parameters    json.RawMessage       `json:"parameters"`
	SourceSamples []string              `json:"source_samples"`
}

// Submission is a backend's acceptance of a job.
type Submission struct {
	JobID string
	// EstimatedSeconds is the backend's guess at completion time; 0 if unknown.
	EstimatedSeconds int
}

// JobStatus is a backend's view of a job, already mapped onto generation statuses.
type JobStatus struct {
	JobID          string
	Status         models.GenerationStatus
	Progress       int
	ResultLocation string
	ErrorMessage   string
}

// Dependency is a compute backend.
type Dependency interface {
	Name() string
	Submit(ctx context.Context, job Job) (*Submission, error)
	Status(ctx context.Context, jobID string) (*JobStatus, error)
}

// HealthChecker is implemented by backends that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Backends resolves the backend recorded on a generation row.
type Backends map[string]Dependency

// Get returns the backend registered under name.
func (b Backends) Get(name string) (Dependency, bool) {
	d, ok := b[name]
	return d, ok
}

// mapStatus converts an external status word. "queued" means accepted but
// not started, which is still pending locally.
func mapStatus(s string) (models.GenerationStatus, bool) {
	switch s {
	case "queued", "pending":
		return models.GenerationStatusPending, true
	case "processing", "running":
		return models.GenerationStatusProcessing, true
	case "completed", "succeeded":
		return models.GenerationStatusCompleted, true
	case "failed", "error", "cancelled", "canceled":
		return models.GenerationStatusFailed, true
	}
	return "", false
}
