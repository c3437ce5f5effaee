package routes

import (
	"context"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/handlers"
)

// StubHandlers returns a Handlers instance with stub implementations.
// All handlers return nil responses - these are only used for OpenAPI generation
// where Huma extracts type information from function signatures.
func StubHandlers() *Handlers {
	return &Handlers{
		HealthCheck: stubHealthCheck,
		Livez:       stubLivez,
		Readyz:      stubReadyz,

		Generation: &stubGenerationHandlers{},
		License:    &stubLicenseHandlers{},
		Payment:    &stubPaymentHandlers{},
		Admin:      &stubAdminHandlers{},
	}
}

// --- Public endpoint stubs ---

func stubHealthCheck(_ context.Context, _ *struct{}) (*handlers.HealthCheckOutput, error) {
	return nil, nil
}

func stubLivez(_ context.Context, _ *struct{}) (*handlers.LivezOutput, error) {
	return nil, nil
}

func stubReadyz(_ context.Context, _ *struct{}) (*handlers.ReadyzOutput, error) {
	return nil, nil
}

// --- Generation stubs ---

type stubGenerationHandlers struct{}

func (s *stubGenerationHandlers) CreateGeneration(_ context.Context, _ *handlers.CreateGenerationInput) (*handlers.CreateGenerationOutput, error) {
	return nil, nil
}

func (s *stubGenerationHandlers) ListGenerations(_ context.Context, _ *handlers.PageInput) (*handlers.ListGenerationsOutput, error) {
	return nil, nil
}

func (s *stubGenerationHandlers) GetGeneration(_ context.Context, _ *handlers.GenerationIDInput) (*handlers.GetGenerationOutput, error) {
	return nil, nil
}

func (s *stubGenerationHandlers) DeleteGeneration(_ context.Context, _ *handlers.GenerationIDInput) (*handlers.DeleteGenerationOutput, error) {
	return nil, nil
}

func (s *stubGenerationHandlers) DownloadGeneration(_ context.Context, _ *handlers.GenerationIDInput) (*handlers.DownloadGenerationOutput, error) {
	return nil, nil
}

// --- License stubs ---

type stubLicenseHandlers struct{}

func (s *stubLicenseHandlers) CreateLicense(_ context.Context, _ *handlers.CreateLicenseInput) (*handlers.CreateLicenseOutput, error) {
	return nil, nil
}

func (s *stubLicenseHandlers) ListLicenses(_ context.Context, _ *handlers.PageInput) (*handlers.ListLicensesOutput, error) {
	return nil, nil
}

func (s *stubLicenseHandlers) GetLicense(_ context.Context, _ *handlers.LicenseIDInput) (*handlers.GetLicenseOutput, error) {
	return nil, nil
}

func (s *stubLicenseHandlers) ListLicenseEvents(_ context.Context, _ *handlers.LicenseIDInput) (*handlers.ListLicenseEventsOutput, error) {
	return nil, nil
}

func (s *stubLicenseHandlers) DownloadLicense(_ context.Context, _ *handlers.LicenseIDInput) (*handlers.DownloadLicenseOutput, error) {
	return nil, nil
}

func (s *stubLicenseHandlers) VerifyLicense(_ context.Context, _ *handlers.LicenseIDInput) (*handlers.VerifyLicenseOutput, error) {
	return nil, nil
}

// --- Payment stubs ---

type stubPaymentHandlers struct{}

func (s *stubPaymentHandlers) CreateIntent(_ context.Context, _ *handlers.CreateIntentInput) (*handlers.IntentOutput, error) {
	return nil, nil
}

func (s *stubPaymentHandlers) ConfirmIntent(_ context.Context, _ *handlers.ConfirmIntentInput) (*handlers.IntentOutput, error) {
	return nil, nil
}

func (s *stubPaymentHandlers) CancelIntent(_ context.Context, _ *handlers.CancelIntentInput) (*handlers.IntentOutput, error) {
	return nil, nil
}

func (s *stubPaymentHandlers) RefundIntent(_ context.Context, _ *handlers.RefundIntentInput) (*handlers.RefundOutput, error) {
	return nil, nil
}

func (s *stubPaymentHandlers) ListIntents(_ context.Context, _ *handlers.PageInput) (*handlers.ListIntentsOutput, error) {
	return nil, nil
}

func (s *stubPaymentHandlers) CreateSubscription(_ context.Context, _ *handlers.CreateSubscriptionInput) (*handlers.SubscriptionOutput, error) {
	return nil, nil
}

func (s *stubPaymentHandlers) CancelSubscription(_ context.Context, _ *handlers.CancelSubscriptionInput) (*handlers.SubscriptionOutput, error) {
	return nil, nil
}

func (s *stubPaymentHandlers) ListSubscriptions(_ context.Context, _ *handlers.PageInput) (*handlers.ListSubscriptionsOutput, error) {
	return nil, nil
}

// --- Admin stubs ---

type stubAdminHandlers struct{}

func (s *stubAdminHandlers) ListBreakers(_ context.Context, _ *struct{}) (*handlers.ListBreakersOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) GetBreaker(_ context.Context, _ *handlers.BreakerNameInput) (*handlers.BreakerOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) OpenBreaker(_ context.Context, _ *handlers.BreakerNameInput) (*handlers.BreakerOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) CloseBreaker(_ context.Context, _ *handlers.BreakerNameInput) (*handlers.BreakerOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) GetMetrics(_ context.Context, _ *struct{}) (*handlers.MetricsOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) ListDisputes(_ context.Context, _ *handlers.PageInput) (*handlers.ListDisputesOutput, error) {
	return nil, nil
}
