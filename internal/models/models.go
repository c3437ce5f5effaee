// Package models defines the domain models for the application.
// UserID fields reference the auth provider's subject ("sub") claim.
package models

import (
	"encoding/json"
	"time"
)

// User is the local projection of an authenticated account.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email,omitempty"`
	SubscriptionActive bool      `json:"subscription_active"`
	StripeCustomerID   string    `json:"-"`
	RazorpayCustomerID string    `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AudioSample is a catalogue recording that generations and licenses refer to.
type AudioSample struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Approved             bool      `json:"approved"`
	FileLocation         string    `json:"-"`
	PricePersonalMinor   int64     `json:"price_personal_minor"`
	PriceCommercialMinor *int64    `json:"price_commercial_minor,omitempty"`
	PriceEnterpriseMinor *int64    `json:"price_enterprise_minor,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Generation is one user-requested AI compute job.
type Generation struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Type             GenerationType   `json:"type"`
	Status           GenerationStatus `json:"status"`
	Parameters       json.RawMessage  `json:"parameters"`
	SourceSampleIDs  []string         `json:"source_sample_ids"`
	Backend          string           `json:"backend"`                   // compute dependency that owns JobID
	JobID            string           `json:"job_id,omitempty"`          // set once the backend accepted the job
	ResultLocation   string           `json:"result_location,omitempty"` // present iff completed
	ErrorMessage     string           `json:"error_message,omitempty"`   // present iff failed
	DownloadUnlocked bool             `json:"download_unlocked"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// License is a grant of usage rights over a generation or an audio sample.
type License struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	SampleID        string        `json:"sample_id,omitempty"`
	GenerationID    string        `json:"generation_id,omitempty"`
	Tier            LicenseTier   `json:"tier"`
	PriceMinor      int64         `json:"price_minor"`
	Currency        string        `json:"currency"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	Active          bool          `json:"active"`
	DownloadLimit   *int          `json:"download_limit"` // nil = unlimited
	DownloadsUsed   int           `json:"downloads_used"`
	ExpiresAt       time.Time     `json:"expires_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// LicenseEvent is an append-only audit row.
type LicenseEvent struct {
	ID        string           `json:"id"`
	LicenseID string           `json:"license_id"`
	Type      LicenseEventType `json:"type"`
	Source    string           `json:"source"`             // api, webhook:<provider>, confirm
	Reference string           `json:"reference,omitempty"` // provider event or intent id
	Details   string           `json:"details,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// PaymentIntent mirrors one provider-side payment attempt (a Stripe
// PaymentIntent or a Razorpay order).
type PaymentIntent struct {
	ID             string              `json:"id"` // provider-assigned
	Provider       string              `json:"provider"`
	UserID         string              `json:"user_id"`
	AmountMinor    int64               `json:"amount_minor"`
	Currency       string              `json:"currency"`
	Status         PaymentIntentStatus `json:"status"`
	ProviderStatus string              `json:"provider_status"`
	LicenseID      string              `json:"license_id,omitempty"`
	GenerationID   string              `json:"generation_id,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Refund records a provider refund against a payment intent.
type Refund struct {
	ID              string    `json:"id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Provider        string    `json:"provider"`
	AmountMinor     int64     `json:"amount_minor"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Subscription mirrors a provider subscription.
type Subscription struct {
	ID                 string             `json:"id"`
	Provider           string             `json:"provider"`
	UserID             string             `json:"user_id"`
	PlanID             string             `json:"plan_id,omitempty"`
	Status             SubscriptionStatus `json:"status"`
	ProviderStatus     string             `json:"provider_status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Dispute is stored for manual review; it never changes a license by itself.
type Dispute struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	AmountMinor     int64     `json:"amount_minor"`
	Currency        string    `json:"currency"`
	Reason          string    `json:"reason,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// WebhookEvent records delivery of one provider event for deduplication.
type WebhookEvent struct {
	Provider    string             `json:"provider"`
	EventID     string             `json:"event_id"`
	Type        string             `json:"type"`
	Status      WebhookEventStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error,omitempty"`
	ReceivedAt  time.Time          `json:"received_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
}
