// Package repository defines repository interfaces for data access.
// Reads return nil, nil when the row does not exist. Status changes are
// conditional on the prior status and report ErrConflict when the row moved.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// ErrConflict is returned when a conditional update finds the row in a
// different state than the caller expected.
var ErrConflict = errors.New("row was modified concurrently")

// GenerationUpdate carries the fields written by a status transition.
type GenerationUpdate struct {
	Status         models.GenerationStatus
	JobID          string // kept when empty
	ResultLocation string
	ErrorMessage   string
}

// GenerationRepository defines methods for generation data access.
type GenerationRepository interface {
	Create(ctx context.Context, gen *models.Generation) error
	GetByID(ctx context.Context, id string) (*models.Generation, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Generation, error)
	// Transition applies update only if the stored status equals from.
	Transition(ctx context.Context, id string, from models.GenerationStatus, update GenerationUpdate) error
	// ListInFlight returns processing generations that carry a job id, oldest first.
	ListInFlight(ctx context.Context, limit int) ([]*models.Generation, error)
	// FailStalePending fails pending generations without a job id created before cutoff.
	FailStalePending(ctx context.Context, cutoff time.Time, message string) (int64, error)
	UnlockDownload(ctx context.Context, id string) error
	// Delete returns ErrConflict when the row is missing, processing or licensed.
	Delete(ctx context.Context, id string) error
}

// SampleRepository defines methods for audio sample data access.
type SampleRepository interface {
	Create(ctx context.Context, sample *models.AudioSample) error
	GetByID(ctx context.Context, id string) (*models.AudioSample, error)
	// FindApproved returns the subset of ids that exist and are approved.
	FindApproved(ctx context.Context, ids []string) ([]string, error)
}

// LicenseRepository defines methods for license data access. Every method
// that changes payment state writes its audit event in the same transaction.
type LicenseRepository interface {
	Create(ctx context.Context, license *models.License, event *models.LicenseEvent) error
	GetByID(ctx context.Context, id string) (*models.License, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.License, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*models.License, error)
	CountByGenerationID(ctx context.Context, generationID string) (int, error)
	// FindUsableForGeneration returns an active, unexpired license with downloads left.
	FindUsableForGeneration(ctx context.Context, userID, generationID string, now time.Time) (*models.License, error)
	// SwapPaymentIntent replaces payment_intent_id only while it equals expected.
	SwapPaymentIntent(ctx context.Context, id, expected, next string) (bool, error)
	// TransitionPayment moves payment_status to `to` when it is one of from.
	// It reports whether a row changed; event is only written when it did.
	TransitionPayment(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus, active bool, event *models.LicenseEvent) (bool, error)
	// RecordDownload increments downloads_used when the license is usable at now.
	RecordDownload(ctx context.Context, id, userID string, now time.Time, event *models.LicenseEvent) (bool, error)
}

// LicenseEventRepository defines read access to the license audit trail.
type LicenseEventRepository interface {
	GetByLicenseID(ctx context.Context, licenseID string) ([]*models.LicenseEvent, error)
	CountByType(ctx context.Context, licenseID string, eventType models.LicenseEventType) (int, error)
}

// PaymentIntentRepository defines methods for the local payment intent mirror.
type PaymentIntentRepository interface {
	// Upsert creates the row or advances it. Stale statuses never overwrite a
	// later one; the stored row is returned.
	Upsert(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error)
	GetByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.PaymentIntent, error)
}

// RefundRepository defines methods for refund data access.
type RefundRepository interface {
	Create(ctx context.Context, refund *models.Refund) error
	GetByPaymentIntentID(ctx context.Context, intentID string) ([]*models.Refund, error)
}

// SubscriptionRepository defines methods for subscription data access.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id string) (*models.Subscription, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Subscription, error)
	// HasAccess reports whether any of the user's subscriptions is in statuses.
	HasAccess(ctx context.Context, userID string, statuses ...models.SubscriptionStatus) (bool, error)
}

// DisputeRepository defines methods for dispute data access.
type DisputeRepository interface {
	// Create ignores a dispute id that was already stored.
	Create(ctx context.Context, dispute *models.Dispute) error
	List(ctx context.Context, limit, offset int) ([]*models.Dispute, error)
}

// UserRepository defines methods for the local user projection.
type UserRepository interface {
	Ensure(ctx context.Context, id, email string) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetCustomerID(ctx context.Context, id, provider, customerID string) error
	SetSubscriptionActive(ctx context.Context, id string, active bool) error
}

// WebhookEventRepository defines methods for webhook deduplication.
type WebhookEventRepository interface {
	// Record stores a delivery of (provider, eventID) and returns the row as
	// it stands after counting this attempt.
	Record(ctx context.Context, provider, eventID, eventType string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, provider, eventID string) error
	MarkFailed(ctx context.Context, provider, eventID, errMsg string) error
}

// Repositories holds all repository instances.
type Repositories struct {
	Generation    GenerationRepository
	Sample        SampleRepository
	License       LicenseRepository
	LicenseEvent  LicenseEventRepository
	PaymentIntent PaymentIntentRepository
	Refund        RefundRepository
	Subscription  SubscriptionRepository
	Dispute       DisputeRepository
	User          UserRepository
	WebhookEvent  WebhookEventRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Generation:    NewSQLiteGenerationRepository(db),
		Sample:        NewSQLiteSampleRepository(db),
		License:       NewSQLiteLicenseRepository(db),
		LicenseEvent:  NewSQLiteLicenseEventRepository(db),
		PaymentIntent: NewSQLitePaymentIntentRepository(db),
		Refund:        NewSQLiteRefundRepository(db),
		Subscription:  NewSQLiteSubscriptionRepository(db),
		Dispute:       NewSQLiteDisputeRepository(db),
		User:          NewSQLiteUserRepository(db),
		WebhookEvent:  NewSQLiteWebhookEventRepository(db),
	}
}
