package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GenerationType is the kind of audio a generation produces.
type GenerationType string

const (
	GenerationTypeSoundLogo  GenerationType = "sound-logo"
	GenerationTypePlaylist   GenerationType = "playlist"
	GenerationTypeSocialClip GenerationType = "social-clip"
	GenerationTypeLongForm   GenerationType = "long-form"
)

// Valid reports whether t is a known generation type.
func (t GenerationType) Valid() bool {
	switch t {
	case GenerationTypeSoundLogo, GenerationTypePlaylist, GenerationTypeSocialClip, GenerationTypeLongForm:
		return true
	}
	return false
}

// GenerationStatus moves pending -> processing -> completed|failed and never back.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// Rank orders statuses along the lifecycle; terminal statuses share the top rank.
func (s GenerationStatus) Rank() int {
	switch s {
	case GenerationStatusPending:
		return 0
	case GenerationStatusProcessing:
		return 1
	case GenerationStatusCompleted, GenerationStatusFailed:
		return 2
	}
	return -1
}

// LicenseTier is the usage-rights tier of a license.
type LicenseTier string

const (
	LicenseTierPersonal   LicenseTier = "personal"
	LicenseTierCommercial LicenseTier = "commercial"
	LicenseTierEnterprise LicenseTier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t LicenseTier) Valid() bool {
	return t == LicenseTierPersonal || t == LicenseTierCommercial || t == LicenseTierEnterprise
}

// PaymentStatus is the payment state of a license.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// PaymentIntentStatus is the normalized status of a mirrored payment intent.
// The provider's own value is kept alongside in ProviderStatus.
type PaymentIntentStatus string

const (
	IntentStatusPending    PaymentIntentStatus = "pending"
	IntentStatusProcessing PaymentIntentStatus = "processing"
	IntentStatusSucceeded  PaymentIntentStatus = "succeeded"
	IntentStatusFailed     PaymentIntentStatus = "failed"
	IntentStatusCanceled   PaymentIntentStatus = "canceled"
	IntentStatusRefunded   PaymentIntentStatus = "refunded"
)

// Terminal reports whether the intent has reached a final outcome.
func (s PaymentIntentStatus) Terminal() bool {
	switch s {
	case IntentStatusSucceeded, IntentStatusFailed, IntentStatusCanceled, IntentStatusRefunded:
		return true
	}
	return false
}

// CanAdvanceTo reports whether a mirror currently at s may be overwritten by
// next. Repeating the current status is allowed so provider details refresh.
// A failed attempt may still succeed or be canceled; a success may only be
// refunded; canceled and refunded are final.
func (s PaymentIntentStatus) CanAdvanceTo(next PaymentIntentStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case IntentStatusPending:
		return true
	case IntentStatusProcessing:
		return next != IntentStatusPending
	case IntentStatusFailed:
		return next == IntentStatusSucceeded || next == IntentStatusCanceled
	case IntentStatusSucceeded:
		return next == IntentStatusRefunded
	}
	return false
}

// SubscriptionStatus is the normalized subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPending  SubscriptionStatus = "pending"
)

// GrantsAccess reports whether the subscription should enable gated features.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// LicenseEventType names audit rows.
type LicenseEventType string

const (
	LicenseEventCreated         LicenseEventType = "created"
	LicenseEventActivated       LicenseEventType = "activated"
	LicenseEventPaymentFailed   LicenseEventType = "payment_failed"
	LicenseEventPaymentCanceled LicenseEventType = "payment_canceled"
	LicenseEventRefunded        LicenseEventType = "refunded"
	LicenseEventDownloaded      LicenseEventType = "downloaded"
)

// WebhookEventStatus tracks processing of a provider event id.
type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

// FlexInt is an int that accepts either a JSON number or a numeric string,
// since form-driven clients often send "10" for a duration.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler. Non-numeric strings are an error.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return f.parse(n.String())
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected number, got %s", string(data))
	}
	return f.parse(strings.TrimSpace(s))
}

func (f *FlexInt) parse(s string) error {
	if i, err := strconv.Atoi(s); err == nil {
		*f = FlexInt(i)
		return nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected number, got %q", s)
	}
	if fl != float64(int(fl)) {
		return fmt.Errorf("expected integer, got %q", s)
	}
	*f = FlexInt(int(fl))
	return nil
}

// MarshalJSON always emits a JSON number.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}

// Int returns the value as an int.
func (f FlexInt) Int() int {
	return int(f)
}
