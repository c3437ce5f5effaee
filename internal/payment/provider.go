// Package payment adapts external payment providers to one interface.
// Amounts cross this package in minor units only.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Provider names. They double as breaker names.
const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
)

// ErrUnsupported is returned for operations a provider has no equivalent for.
var ErrUnsupported = errors.New("operation not supported by payment provider")

// Metadata keys attached to provider objects so webhooks can be routed back.
const (
	MetaUserID       = "user_id"
	MetaLicenseID    = "license_id"
	MetaGenerationID = "generation_id"
)

// CustomerParams identifies the local user a provider customer is created for.
type CustomerParams struct {
	UserID string
	Email  string
}

// IntentParams describes a payment to create.
type IntentParams struct {
	AmountMinor    int64
	Currency       string
	CustomerID     string
	UserID         string
	LicenseID      string
	GenerationID   string
	IdempotencyKey string
}

// Intent is the provider's view of a payment attempt.
type Intent struct {
	ID             string
	Provider       string
	AmountMinor    int64
	Currency       string
	ProviderStatus string
	ClientSecret   string
	FailureReason  string
	Metadata       map[string]string
}

// RefundParams describes a refund. AmountMinor 0 refunds the full amount.
type RefundParams struct {
	IntentID    string
	AmountMinor int64
	Reason      string
}

// Refund is the provider's view of a refund.
type Refund struct {
	ID          string
	IntentID    string
	AmountMinor int64
	Currency    string
	Status      string
}

// SubscriptionParams describes a recurring plan to start for a user.
// PlanID is a Stripe price id or a Razorpay plan id.
type SubscriptionParams struct {
	PlanID         string
	CustomerID     string
	UserID         string
	IdempotencyKey string
}

// Subscription is the provider's view of a recurring plan.
type Subscription struct {
	ID                 string
	Provider           string
	PlanID             string
	ProviderStatus     string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	// ClientSecret completes the first payment (Stripe); for Razorpay it is
	// the hosted checkout link.
	ClientSecret string
}

// Provider is the set of calls the orchestrator makes against a payment
// provider. Every call is expected to run under a breaker.
type Provider interface {
	Name() string
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreateIntent(ctx context.Context, params IntentParams) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, methodRef string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID, reason string) (*Intent, error)
	Refund(ctx context.Context, params RefundParams) (*Refund, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error)
	// CancelSubscription ends a subscription now, or at the end of the
	// current period when atPeriodEnd is set.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*Subscription, error)
}

// ProviderError is a definitive error response from a provider API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s, status %d)", e.Provider, e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

// Rejected reports whether the provider refused the request itself, such as
// a card decline or an unknown intent. Such responses say nothing about the
// provider's health.
func (e *ProviderError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusNotFound, http.StatusConflict:
		return true
	}
	return false
}

// IsRejected reports whether err wraps a ProviderError that is a request rejection.
func IsRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Rejected()
}
