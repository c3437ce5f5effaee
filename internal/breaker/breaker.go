// Package breaker guards outbound calls with per-dependency circuit breakers
// and keeps in-process call metrics for each dependency.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Status is a point-in-time view of one breaker.
type Status struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	Forced          bool       `json:"forced"`
	Counts          Counts     `json:"counts"`
	ErrorPercentage float64    `json:"error_percentage"`
	LastStateChange time.Time  `json:"last_state_change"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	Policy          Policy     `json:"-"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	outcomeCanceled
)

type transition struct {
	from, to State
	at       time.Time
}

// Breaker guards calls to a single dependency. Counter and state updates are
// serialized by mu; the wrapped call itself always runs without holding it.
type Breaker struct {
	name     string
	metrics  *Metrics
	observer Observer
	now      func() time.Time

	mu            sync.Mutex
	policy        Policy
	state         State
	forced        bool
	openedAt      time.Time
	changedAt     time.Time
	trialInFlight bool
	window        *window
}

func newBreaker(name string, policy Policy, metrics *Metrics, observer Observer, now func() time.Time) *Breaker {
	policy = policy.withDefaults()
	return &Breaker{
		name:      name,
		metrics:   metrics,
		observer:  observer,
		now:       now,
		policy:    policy,
		state:     StateClosed,
		changedAt: now(),
		window:    newWindow(policy.RollingWindow, policy.Buckets),
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// Invoke runs fn under the breaker policy. It never retries.
func (b *Breaker) Invoke(ctx context.Context, fn func(context.Context) error) error {
	trial, rejected, transitions := b.admit()
	b.notify(transitions)
	if rejected != nil {
		if b.metrics != nil {
			b.metrics.RecordRejection(b.name)
		}
		return rejected
	}

	b.mu.Lock()
	timeout := b.policy.Timeout
	b.mu.Unlock()

	start := b.now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(callCtx)
	}()

	var callErr error
	var out outcome
	select {
	case callErr = <-done:
		switch {
		case callErr == nil:
			out = outcomeSuccess
		case ctx.Err() != nil:
			out = outcomeCanceled
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			out = outcomeTimeout
		default:
			out = outcomeFailure
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			out = outcomeCanceled
		} else {
			out = outcomeTimeout
		}
	}
	latency := b.now().Sub(start)

	var result error
	switch out {
	case outcomeSuccess:
	case outcomeCanceled:
		result = ctx.Err()
	case outcomeTimeout:
		result = &TimeoutError{Dependency: b.name, Timeout: timeout}
	case outcomeFailure:
		result = wrapUpstream(b.name, callErr)
	}

	b.notify(b.record(out, trial))

	if b.metrics != nil {
		switch out {
		case outcomeSuccess:
			b.metrics.RecordSuccess(b.name, latency)
		case outcomeFailure:
			b.metrics.RecordFailure(b.name, latency, result)
		case outcomeTimeout:
			b.metrics.RecordTimeout(b.name, latency, result)
		case outcomeCanceled:
			b.metrics.RecordCanceled(b.name)
		}
	}
	return result
}

func wrapUpstream(name string, err error) error {
	var ue *UpstreamError
	var te *TimeoutError
	var ce *CircuitOpenError
	if errors.As(err, &ue) || errors.As(err, &te) || errors.As(err, &ce) {
		return err
	}
	return &UpstreamError{Dependency: name, Err: err}
}

// admit decides whether a call may proceed.
func (b *Breaker) admit() (trial bool, rejected error, transitions []transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if t, ok := b.maybeHalfOpen(now); ok {
		transitions = append(transitions, t)
	}

	switch b.state {
	case StateOpen:
		b.window.current(now).Rejections++
		return false, &CircuitOpenError{Dependency: b.name, State: StateOpen}, transitions
	case StateHalfOpen:
		if b.trialInFlight {
			b.window.current(now).Rejections++
			return false, &CircuitOpenError{Dependency: b.name, State: StateHalfOpen}, transitions
		}
		b.trialInFlight = true
		return true, nil, transitions
	default:
		return false, nil, transitions
	}
}

// maybeHalfOpen moves an expired open breaker to half-open. Caller holds mu.
func (b *Breaker) maybeHalfOpen(now time.Time) (transition, bool) {
	if b.state != StateOpen || b.forced {
		return transition{}, false
	}
	if now.Sub(b.openedAt) < b.policy.ResetTimeout {
		return transition{}, false
	}
	return b.setState(StateHalfOpen, now), true
}

// setState changes state and returns the transition. Caller holds mu.
func (b *Breaker) setState(to State, now time.Time) transition {
	t := transition{from: b.state, to: to, at: now}
	b.state = to
	b.changedAt = now
	if to == StateOpen {
		b.openedAt = now
	}
	return t
}

func (b *Breaker) record(out outcome, trial bool) []transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var transitions []transition

	if trial {
		b.trialInFlight = false
	}

	switch out {
	case outcomeCanceled:
		return nil
	case outcomeSuccess:
		if trial && b.state == StateHalfOpen {
			b.window.reset()
			return append(transitions, b.setState(StateClosed, now))
		}
		cur := b.window.current(now)
		cur.Requests++
		cur.Successes++
		return nil
	}

	cur := b.window.current(now)
	cur.Requests++
	if out == outcomeTimeout {
		cur.Timeouts++
	} else {
		cur.Failures++
	}

	switch b.state {
	case StateHalfOpen:
		if trial {
			transitions = append(transitions, b.setState(StateOpen, now))
		}
	case StateClosed:
		totals := b.window.totals(now)
		if totals.Requests >= int64(b.policy.VolumeThreshold) &&
			totals.ErrorPercentage() >= b.policy.ErrorThresholdPercentage {
			transitions = append(transitions, b.setState(StateOpen, now))
		}
	}
	return transitions
}

func (b *Breaker) notify(transitions []transition) {
	if b.observer == nil {
		return
	}
	for _, t := range transitions {
		b.observer.OnStateChange(b.name, t.from, t.to, t.at)
	}
}

// Status returns the breaker's current state and window counters.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	now := b.now()
	var transitions []transition
	if t, ok := b.maybeHalfOpen(now); ok {
		transitions = append(transitions, t)
	}
	counts := b.window.totals(now)
	st := Status{
		Name:            b.name,
		State:           b.state,
		Forced:          b.forced,
		Counts:          counts,
		ErrorPercentage: counts.ErrorPercentage(),
		LastStateChange: b.changedAt,
		Policy:          b.policy,
	}
	if b.state != StateClosed {
		opened := b.openedAt
		st.OpenedAt = &opened
	}
	b.mu.Unlock()

	b.notify(transitions)
	return st
}

// ForceOpen pins the breaker open until ForceClose is called.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	var transitions []transition
	b.forced = true
	if b.state != StateOpen {
		transitions = append(transitions, b.setState(StateOpen, b.now()))
	} else {
		b.openedAt = b.now()
	}
	b.trialInFlight = false
	b.mu.Unlock()
	b.notify(transitions)
}

// ForceClose closes the breaker and clears its window.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	var transitions []transition
	b.forced = false
	b.trialInFlight = false
	b.window.reset()
	if b.state != StateClosed {
		transitions = append(transitions, b.setState(StateClosed, b.now()))
	}
	b.mu.Unlock()
	b.notify(transitions)
}

func (b *Breaker) setPolicy(p Policy) {
	p = p.withDefaults()
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.RollingWindow != b.policy.RollingWindow || p.Buckets != b.policy.Buckets {
		b.window = newWindow(p.RollingWindow, p.Buckets)
	}
	b.policy = p
}
