package payment

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrSignatureInvalid is returned when a webhook body does not match its
	// signature. It deliberately carries no detail about which check failed.
	ErrSignatureInvalid = errors.New("invalid signature")

	// ErrMalformedPayload is returned when a correctly signed body cannot be
	// parsed into the event its type promises.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// EventKind is the closed set of webhook events the reconciler acts on.
type EventKind string

const (
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventPaymentCanceled     EventKind = "payment_canceled"
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventDisputeCreated      EventKind = "dispute_created"
	EventUnknown             EventKind = "unknown"
)

// Event is a verified webhook. Exactly one of Payment, Subscription or
// Dispute is set, matching Kind; all three are nil for EventUnknown.
type Event struct {
	ID           string
	Provider     string
	Kind         EventKind
	RawType      string
	Payment      *PaymentEvent
	Subscription *SubscriptionEvent
	Dispute      *DisputeEvent
}

// PaymentEvent carries a payment outcome.
type PaymentEvent struct {
	IntentID       string
	AmountMinor    int64
	Currency       string
	ProviderStatus string
	FailureReason  string
	UserID         string
	LicenseID      string
	GenerationID   string
}

// SubscriptionEvent carries the provider's view of a subscription.
type SubscriptionEvent struct {
	SubscriptionID     string
	UserID             string
	ProviderStatus     string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

// DisputeEvent carries a newly opened dispute.
type DisputeEvent struct {
	DisputeID   string
	IntentID    string
	AmountMinor int64
	Currency    string
	Reason      string
	Status      string
}

// WebhookVerifier authenticates a raw webhook body and parses it.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, header http.Header) (*Event, error)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
