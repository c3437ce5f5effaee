package breaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is matched by every CircuitOpenError.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrUnknownBreaker is returned when a name was never registered.
	ErrUnknownBreaker = errors.New("unknown breaker")
)

// CircuitOpenError is returned when a call is rejected without reaching the dependency.
type CircuitOpenError struct {
	Dependency string
	State      State
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit %s, call rejected", e.Dependency, e.State)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// UpstreamError wraps a definitive failure returned by the dependency.
type UpstreamError struct {
	Dependency string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when the call exceeded the policy timeout.
type TimeoutError struct {
	Dependency string
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout after %s", e.Dependency, e.Timeout)
}

// IsCircuitOpen reports whether err is a rejection by an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout reports whether err is a breaker timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsUpstream reports whether err is a definitive dependency failure.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
