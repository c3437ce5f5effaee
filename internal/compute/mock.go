package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

const (
	mockBaseTime       = 5 * time.Second
	mockDefaultSeconds = 30
	mockRetention      = time.Hour
)

// mockMultipliers is the simulated render cost per second of requested audio.
var mockMultipliers = map[models.GenerationType]time.Duration{
	models.GenerationTypeSoundLogo:  200 * time.Millisecond,
	models.GenerationTypeSocialClip: 400 * time.Millisecond,
	models.GenerationTypePlaylist:   800 * time.Millisecond,
	models.GenerationTypeLongForm:   600 * time.Millisecond,
}

// mockProgressSteps are the progress values reported as a job advances.
var mockProgressSteps = []int{10, 25, 40, 60, 75, 90, 100}

type mockJob struct {
	generationID string
	started      time.Time
	duration     time.Duration
	canceled     string
}

// MockBackend completes jobs on a timer without rendering anything.
// Status is derived from elapsed time, so no goroutine runs per job.
type MockBackend struct {
	resultBaseURL string
	now           func() time.Time

	mu   sync.Mutex
	jobs map[string]*mockJob
}

// NewMockBackend creates a mock backend whose results point at
// resultBaseURL/<generation_id>.mp3.
func NewMockBackend(resultBaseURL string) *MockBackend {
	return &MockBackend{
		resultBaseURL: strings.TrimSuffix(resultBaseURL, "/"),
		now:           time.Now,
		jobs:          make(map[string]*mockJob),
	}
}

// WithClock replaces the time source. Tests only.
func (m *MockBackend) WithClock(now func() time.Time) *MockBackend {
	m.now = now
	return m
}

func (m *MockBackend) Name() string { return BackendMock }

// ProcessingTime returns how long a job of this type and parameters takes.
func ProcessingTime(t models.GenerationType, params json.RawMessage) time.Duration {
	seconds := mockDefaultSeconds
	var p struct {
		Duration *models.FlexInt `json:"duration"`
	}
	if len(params) > 0 && json.Unmarshal(params, &p) == nil && p.Duration != nil && p.Duration.Int() > 0 {
		seconds = p.Duration.Int()
	}
	mult, ok := mockMultipliers[t]
	if !ok {
		mult = 400 * time.Millisecond
	}
	return mockBaseTime + time.Duration(seconds)*mult
}

func (m *MockBackend) Submit(ctx context.Context, job Job) (*Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := ProcessingTime(job.Type, job.Parameters)
	id := "mock_" + ulid.Make().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.jobs[id] = &mockJob{
		generationID: job.GenerationID,
		started:      m.now(),
		duration:     d,
	}
	return &Submission{JobID: id, EstimatedSeconds: int(d.Round(time.Second) / time.Second)}, nil
}

func (m *MockBackend) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	st := &JobStatus{JobID: jobID}
	if job.canceled != "" {
		st.Status = models.GenerationStatusFailed
		st.ErrorMessage = job.canceled
		return st, nil
	}

	elapsed := m.now().Sub(job.started)
	if elapsed >= job.duration {
		st.Status = models.GenerationStatusCompleted
		st.Progress = 100
		st.ResultLocation = fmt.Sprintf("%s/%s.mp3", m.resultBaseURL, job.generationID)
		return st, nil
	}

	st.Status = models.GenerationStatusProcessing
	step := int(elapsed * time.Duration(len(mockProgressSteps)) / job.duration)
	if step > 0 {
		st.Progress = mockProgressSteps[step-1]
	}
	return st, nil
}

// Cancel fails a job that has not completed yet.
func (m *MockBackend) Cancel(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.now().Sub(job.started) >= job.duration || job.canceled != "" {
		return false
	}
	job.canceled = "Job cancelled by user"
	return true
}

// Health always succeeds.
func (m *MockBackend) Health(context.Context) error { return nil }

// pruneLocked drops jobs that finished more than an hour ago.
func (m *MockBackend) pruneLocked() {
	now := m.now()
	for id, job := range m.jobs {
		if now.Sub(job.started.Add(job.duration)) > mockRetention {
			delete(m.jobs, id)
		}
	}
}
