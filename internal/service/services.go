// Package service contains the business logic layer.
// UserID values are the subject claims of the bearer tokens issued by the
// identity provider; users rows are created lazily on first payment.
package service

import (
	"fmt"
	"log/slog"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/compute"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/config"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Generation *GenerationService
	Status     *StatusReconciler
	License    *LicenseService
	Payments   *PaymentOrchestrator
	Webhooks   *WebhookReconciler
	Settlement *Settlement
	Storage    *StorageService
	Cleanup    *CleanupService

	// Backends resolves the compute backend recorded on a generation.
	Backends compute.Backends
	Breakers *breaker.Registry
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, breakers *breaker.Registry, logger *slog.Logger) (*Services, error) {
	for name, policy := range cfg.BreakerPolicies {
		breakers.Register(name, policy)
	}

	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	// The mock stays registered even with a real AI service so rows it
	// accepted before a configuration change can still be polled.
	mock := compute.NewMockBackend(cfg.MockResultBaseURL)
	backends := compute.Backends{compute.BackendMock: mock}
	var backend compute.Dependency = mock
	if !cfg.UseMockCompute() {
		ai := compute.NewHTTPClient(compute.HTTPClientConfig{
			BaseURL: cfg.AIServiceURL,
			APIKey:  cfg.AIServiceAPIKey,
			Logger:  logger,
		})
		backends[compute.BackendAIService] = ai
		backend = ai
		logger.Info("compute backend configured", "backend", ai.Name(), "url", cfg.AIServiceURL)
	} else {
		logger.Warn("AI_SERVICE_URL not set - generations use the mock backend")
	}

	var providers []payment.Provider
	verifiers := make(map[string]payment.WebhookVerifier)
	if cfg.StripeEnabled() {
		stripeProvider := payment.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil)
		providers = append(providers, stripeProvider)
		verifiers[payment.ProviderStripe] = stripeProvider
	} else {
		logger.Warn("stripe NOT configured - card payments unavailable")
	}
	if cfg.RazorpayEnabled() {
		razorpayProvider := payment.NewRazorpayProvider(payment.RazorpayConfig{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
		})
		providers = append(providers, razorpayProvider)
		verifiers[payment.ProviderRazorpay] = razorpayProvider
	}

	settlement := NewSettlement(repos, logger)
	payments := NewPaymentOrchestrator(repos, breakers, settlement, logger, providers...)

	return &Services{
		Generation: NewGenerationService(repos, breakers, backend, storageSvc, logger),
		Status:     NewStatusReconciler(repos.Generation, logger),
		License:    NewLicenseService(repos, payments, storageSvc, logger),
		Payments:   payments,
		Webhooks:   NewWebhookReconciler(repos, settlement, verifiers, logger),
		Settlement: settlement,
		Storage:    storageSvc,
		Cleanup:    NewCleanupService(repos.Generation, logger),
		Backends:   backends,
		Breakers:   breakers,
	}, nil
}
