package routes

import (
	"context"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/handlers"
)

// GenerationHandlers defines the interface for generation operations.
type GenerationHandlers interface {
	CreateGeneration(ctx context.Context, input *handlers.CreateGenerationInput) (*handlers.CreateGenerationOutput, error)
	ListGenerations(ctx context.Context, input *handlers.PageInput) (*handlers.ListGenerationsOutput, error)
	GetGeneration(ctx context.Context, input *handlers.GenerationIDInput) (*handlers.GetGenerationOutput, error)
	DeleteGeneration(ctx context.Context, input *handlers.GenerationIDInput) (*handlers.DeleteGenerationOutput, error)
	DownloadGeneration(ctx context.Context, input *handlers.GenerationIDInput) (*handlers.DownloadGenerationOutput, error)
}

// LicenseHandlers defines the interface for license operations.
type LicenseHandlers interface {
	CreateLicense(ctx context.Context, input *handlers.CreateLicenseInput) (*handlers.CreateLicenseOutput, error)
	ListLicenses(ctx context.Context, input *handlers.PageInput) (*handlers.ListLicensesOutput, error)
	GetLicense(ctx context.Context, input *handlers.LicenseIDInput) (*handlers.GetLicenseOutput, error)
	ListLicenseEvents(ctx context.Context, input *handlers.LicenseIDInput) (*handlers.ListLicenseEventsOutput, error)
	DownloadLicense(ctx context.Context, input *handlers.LicenseIDInput) (*handlers.DownloadLicenseOutput, error)
	VerifyLicense(ctx context.Context, input *handlers.LicenseIDInput) (*handlers.VerifyLicenseOutput, error)
}

// PaymentHandlers defines the interface for payment intent and subscription operations.
type PaymentHandlers interface {
	CreateIntent(ctx context.Context, input *handlers.CreateIntentInput) (*handlers.IntentOutput, error)
	ConfirmIntent(ctx context.Context, input *handlers.ConfirmIntentInput) (*handlers.IntentOutput, error)
	CancelIntent(ctx context.Context, input *handlers.CancelIntentInput) (*handlers.IntentOutput, error)
	RefundIntent(ctx context.Context, input *handlers.RefundIntentInput) (*handlers.RefundOutput, error)
	ListIntents(ctx context.Context, input *handlers.PageInput) (*handlers.ListIntentsOutput, error)
	CreateSubscription(ctx context.Context, input *handlers.CreateSubscriptionInput) (*handlers.SubscriptionOutput, error)
	CancelSubscription(ctx context.Context, input *handlers.CancelSubscriptionInput) (*handlers.SubscriptionOutput, error)
	ListSubscriptions(ctx context.Context, input *handlers.PageInput) (*handlers.ListSubscriptionsOutput, error)
}

// AdminHandlers defines the interface for admin operations.
type AdminHandlers interface {
	ListBreakers(ctx context.Context, input *struct{}) (*handlers.ListBreakersOutput, error)
	GetBreaker(ctx context.Context, input *handlers.BreakerNameInput) (*handlers.BreakerOutput, error)
	OpenBreaker(ctx context.Context, input *handlers.BreakerNameInput) (*handlers.BreakerOutput, error)
	CloseBreaker(ctx context.Context, input *handlers.BreakerNameInput) (*handlers.BreakerOutput, error)
	GetMetrics(ctx context.Context, input *struct{}) (*handlers.MetricsOutput, error)
	ListDisputes(ctx context.Context, input *handlers.PageInput) (*handlers.ListDisputesOutput, error)
}

// Handlers holds all handler implementations needed for route registration.
type Handlers struct {
	// Public handlers (standalone functions)
	HealthCheck func(ctx context.Context, input *struct{}) (*handlers.HealthCheckOutput, error)
	Livez       func(ctx context.Context, input *struct{}) (*handlers.LivezOutput, error)
	Readyz      func(ctx context.Context, input *struct{}) (*handlers.ReadyzOutput, error)

	Generation GenerationHandlers
	License    LicenseHandlers
	Payment    PaymentHandlers
	Admin      AdminHandlers
}
