package breaker

import "time"

// Dependency names used across the service.
const (
	DependencyAIService = "ai-service"
	DependencyMock      = "mock"
	DependencyStripe    = "stripe"
	DependencyRazorpay  = "razorpay"
)

// Policy configures one breaker.
type Policy struct {
	// Timeout bounds a single wrapped call.
	Timeout time.Duration

	// ErrorThresholdPercentage is the failure rate (0-100) over the rolling
	// window at which the breaker opens.
	ErrorThresholdPercentage float64

	// ResetTimeout is how long the breaker stays open before admitting a trial call.
	ResetTimeout time.Duration

	// RollingWindow and Buckets define the sliding error-rate window.
	RollingWindow time.Duration
	Buckets       int

	// VolumeThreshold is the minimum number of calls in the window before
	// the error rate is evaluated.
	VolumeThreshold int
}

// DefaultPolicy returns the policy used for generic external calls.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:                  30 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             60 * time.Second,
		RollingWindow:            60 * time.Second,
		Buckets:                  10,
		VolumeThreshold:          5,
	}
}

// DefaultPolicies returns the per-dependency policies.
// The AI service gets a long timeout so slow but healthy generation jobs
// do not count against the payment providers.
func DefaultPolicies() map[string]Policy {
	ai := DefaultPolicy()
	ai.Timeout = 300 * time.Second
	ai.ErrorThresholdPercentage = 60
	ai.ResetTimeout = 120 * time.Second

	mock := DefaultPolicy()
	mock.Timeout = 10 * time.Second

	stripe := DefaultPolicy()
	stripe.Timeout = 15 * time.Second
	stripe.ErrorThresholdPercentage = 30

	razorpay := stripe

	return map[string]Policy{
		DependencyAIService: ai,
		DependencyMock:      mock,
		DependencyStripe:    stripe,
		DependencyRazorpay:  razorpay,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.ErrorThresholdPercentage <= 0 {
		p.ErrorThresholdPercentage = d.ErrorThresholdPercentage
	}
	if p.ResetTimeout <= 0 {
		p.ResetTimeout = d.ResetTimeout
	}
	if p.RollingWindow <= 0 {
		p.RollingWindow = d.RollingWindow
	}
	if p.Buckets <= 0 {
		p.Buckets = d.Buckets
	}
	if p.VolumeThreshold < 0 {
		p.VolumeThreshold = 0
	}
	return p
}
