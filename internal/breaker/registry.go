package breaker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry owns one independently configured breaker per dependency.
// It is constructed once at startup and passed to every component that
// issues outbound calls.
type Registry struct {
	metrics  *Metrics
	observer Observer
	now      func() time.Time

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithObserver adds an observer that is told about every state change.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o == nil {
			return
		}
		if r.observer == nil {
			r.observer = o
			return
		}
		r.observer = MultiObserver{r.observer, o}
	}
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *Metrics, opts ...Option) *Registry {
	r := &Registry{
		metrics:  metrics,
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	if metrics != nil {
		r.observer = metrics
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates the breaker for name, or updates the policy of an existing one.
func (r *Registry) Register(name string, policy Policy) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		b.setPolicy(policy)
		return b
	}
	b := newBreaker(name, policy, r.metrics, r.observer, r.now)
	r.breakers[name] = b
	if r.metrics != nil {
		r.metrics.ensure(name)
	}
	return b
}

// Get returns the breaker for name.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

func (r *Registry) lookup(name string) (*Breaker, error) {
	b, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
	}
	return b, nil
}

// Invoke runs fn through the named breaker.
func (r *Registry) Invoke(ctx context.Context, name string, fn func(context.Context) error) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	return b.Invoke(ctx, fn)
}

// Call runs fn through the named breaker and returns its result.
func Call[T any](ctx context.Context, r *Registry, name string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Invoke(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Status returns the state and counters of one breaker.
func (r *Registry) Status(name string) (Status, error) {
	b, err := r.lookup(name)
	if err != nil {
		return Status{}, err
	}
	return b.Status(), nil
}

// Statuses returns every breaker's status sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(list))
	for _, b := range list {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForceOpen opens the named breaker for manual incident response.
func (r *Registry) ForceOpen(name string) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	b.ForceOpen()
	return nil
}

// ForceClose closes the named breaker and clears its counters.
func (r *Registry) ForceClose(name string) error {
	b, err := r.lookup(name)
	if err != nil {
		return err
	}
	b.ForceClose()
	return nil
}

// Metrics returns the metrics store shared by the registry's breakers.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}
