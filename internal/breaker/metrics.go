package breaker

import (
	"sync"
	"time"
)

// DependencyMetrics are the cumulative counters for one dependency.
type DependencyMetrics struct {
	Name             string     `json:"name"`
	Requests         int64      `json:"requests"`
	Successes        int64      `json:"successes"`
	Failures         int64      `json:"failures"`
	Timeouts         int64      `json:"timeouts"`
	Rejections       int64      `json:"rejections"`
	Canceled         int64      `json:"canceled"`
	StateChanges     int64      `json:"state_changes"`
	AverageLatencyMs float64    `json:"average_latency_ms"`
	LastError        string     `json:"last_error,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	State            State      `json:"state"`
}

// Metrics is the in-process metrics store keyed by dependency name.
// Unlike breaker window counters, these never roll over.
type Metrics struct {
	mu   sync.Mutex
	deps map[string]*DependencyMetrics
}

// NewMetrics creates an empty store.
func NewMetrics() *Metrics {
	return &Metrics{deps: make(map[string]*DependencyMetrics)}
}

// entry returns the metrics for name, creating them. Caller holds mu.
func (m *Metrics) entry(name string) *DependencyMetrics {
	d, ok := m.deps[name]
	if !ok {
		d = &DependencyMetrics{Name: name, State: StateClosed}
		m.deps[name] = d
	}
	return d
}

func (m *Metrics) ensure(name string) {
	m.mu.Lock()
	m.entry(name)
	m.mu.Unlock()
}

// observe folds one completed call into the rolling average.
func (d *DependencyMetrics) observe(latency time.Duration) {
	d.Requests++
	n := float64(d.Successes + d.Failures + d.Timeouts)
	sample := float64(latency) / float64(time.Millisecond)
	d.AverageLatencyMs = (d.AverageLatencyMs*(n-1) + sample) / n
}

// RecordSuccess records a successful call.
func (m *Metrics) RecordSuccess(name string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.entry(name)
	d.Successes++
	d.observe(latency)
}

// RecordFailure records a definitive upstream failure.
func (m *Metrics) RecordFailure(name string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.entry(name)
	d.Failures++
	d.observe(latency)
	d.setLastError(err)
}

// RecordTimeout records a call that exceeded its timeout.
func (m *Metrics) RecordTimeout(name string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.entry(name)
	d.Timeouts++
	d.observe(latency)
	d.setLastError(err)
}

// RecordCanceled records a call abandoned by its caller. It counts as a
// request but not toward latency or the error figures.
func (m *Metrics) RecordCanceled(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.entry(name)
	d.Requests++
	d.Canceled++
}

// RecordRejection records a call refused by an open breaker.
func (m *Metrics) RecordRejection(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(name).Rejections++
}

func (d *DependencyMetrics) setLastError(err error) {
	if err == nil {
		return
	}
	now := time.Now().UTC()
	d.LastError = err.Error()
	d.LastErrorAt = &now
}

// OnStateChange implements Observer.
func (m *Metrics) OnStateChange(name string, _, to State, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.entry(name)
	d.State = to
	d.StateChanges++
}

// Snapshot returns a copy of the metrics for name.
func (m *Metrics) Snapshot(name string) (DependencyMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[name]
	if !ok {
		return DependencyMetrics{}, false
	}
	return d.clone(), true
}

// All returns a copy of every dependency's metrics.
func (m *Metrics) All() map[string]DependencyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]DependencyMetrics, len(m.deps))
	for name, d := range m.deps {
		out[name] = d.clone()
	}
	return out
}

// Reset clears the counters for name, keeping its current state.
func (m *Metrics) Reset(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deps[name]; ok {
		m.deps[name] = &DependencyMetrics{Name: name, State: d.State}
	}
}

func (d *DependencyMetrics) clone() DependencyMetrics {
	c := *d
	if d.LastErrorAt != nil {
		t := *d.LastErrorAt
		c.LastErrorAt = &t
	}
	return c
}
