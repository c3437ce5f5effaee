package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

// licenseValidity is how long a license lasts from creation.
const licenseValidity = 365 * 24 * time.Hour

// Generation license prices in minor units (USD) and download limits.
// A nil limit is unlimited.
var generationPricing = map[models.LicenseTier]tierPrice{
	models.LicenseTierPersonal:   {priceMinor: 0, limit: intPtr(3)},
	models.LicenseTierCommercial: {priceMinor: 1500, limit: intPtr(5)},
	models.LicenseTierEnterprise: {priceMinor: 7500},
}

// Fallback sample prices when the catalogue row has none for the tier.
const (
	defaultSampleCommercialMinor int64 = 1000
	defaultSampleEnterpriseMinor int64 = 5000
)

type tierPrice struct {
	priceMinor int64
	limit      *int
}

func intPtr(n int) *int { return &n }

// LicenseService creates licenses, meters downloads and answers public verification.
type LicenseService struct {
	repos    *repository.Repositories
	payments *PaymentOrchestrator
	storage  *StorageService
	now      func() time.Time
	logger   *slog.Logger
}

// NewLicenseService creates a license service.
func NewLicenseService(repos *repository.Repositories, payments *PaymentOrchestrator, storage *StorageService, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		repos:    repos,
		payments: payments,
		storage:  storage,
		now:      time.Now,
		logger:   logger.With("component", "license"),
	}
}

// CreateLicenseInput represents a license purchase request.
type CreateLicenseInput struct {
	UserID       string             `json:"-"`
	Email        string             `json:"-"`
	SampleID     string             `json:"sample_id,omitempty"`
	GenerationID string             `json:"generation_id,omitempty"`
	Tier         models.LicenseTier `json:"tier"`
	Provider     string             `json:"provider,omitempty"`
	Currency     string             `json:"currency,omitempty"`
}

// CreateLicenseOutput is the created license and, for paid tiers, the payment to complete.
type CreateLicenseOutput struct {
	License *models.License `json:"license"`
	Payment *IntentOutput   `json:"payment,omitempty"`
}

// DownloadGrant is a metered download.
type DownloadGrant struct {
	URL                string    `json:"download_url"`
	ExpiresAt          time.Time `json:"expires_at"`
	DownloadsRemaining *int      `json:"downloads_remaining"`
}

// LicenseVerification is the public view of a license.
type LicenseVerification struct {
	LicenseID          string               `json:"license_id"`
	Valid              bool                 `json:"valid"`
	Tier               models.LicenseTier   `json:"tier"`
	PaymentStatus      models.PaymentStatus `json:"payment_status"`
	DownloadsRemaining *int                 `json:"downloads_remaining"`
	ExpiresAt          time.Time            `json:"expires_at"`
}

// Create creates a license. Free tiers are active immediately; paid tiers
// start pending and a payment intent is created for them. If the payment
// cannot be started the license is marked failed.
func (s *LicenseService) Create(ctx context.Context, in CreateLicenseInput) (*CreateLicenseOutput, error) {
	ctx = logging.WithUserID(ctx, in.UserID)
	if (in.SampleID == "") == (in.GenerationID == "") {
		return nil, invalid("target", "exactly one of sample_id and generation_id is required")
	}
	if !in.Tier.Valid() {
		return nil, invalid("tier", "unknown tier %q", in.Tier)
	}
	if in.Currency != "" && normalizeCurrency(in.Currency) != defaultCurrency {
		return nil, invalid("currency", "licenses are priced in %s", defaultCurrency)
	}

	price, err := s.priceFor(ctx, in)
	if err != nil {
		return nil, err
	}
	if price.priceMinor > 0 {
		if _, err := s.payments.provider(in.Provider); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	license := &models.License{
		ID:            ulid.Make().String(),
		UserID:        in.UserID,
		SampleID:      in.SampleID,
		GenerationID:  in.GenerationID,
		Tier:          in.Tier,
		PriceMinor:    price.priceMinor,
		Currency:      defaultCurrency,
		PaymentStatus: models.PaymentStatusPending,
		DownloadLimit: price.limit,
		ExpiresAt:     now.Add(licenseValidity),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	eventType := models.LicenseEventCreated
	if price.priceMinor == 0 {
		license.PaymentStatus = models.PaymentStatusCompleted
		license.Active = true
		eventType = models.LicenseEventActivated
	}
	event := &models.LicenseEvent{
		ID:        newEventID(),
		LicenseID: license.ID,
		Type:      eventType,
		Source:    "api",
		CreatedAt: now,
	}
	if err := s.repos.License.Create(ctx, license, event); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "license created",
		"license_id", license.ID,
		"tier", license.Tier,
		"price_minor", license.PriceMinor,
	)

	if price.priceMinor == 0 {
		return &CreateLicenseOutput{License: license}, nil
	}

	intent, err := s.payments.CreateIntent(ctx, CreateIntentInput{
		UserID:    in.UserID,
		Email:     in.Email,
		Provider:  in.Provider,
		LicenseID: license.ID,
	})
	if err != nil {
		s.compensate(ctx, license.ID, err)
		return nil, err
	}
	license.PaymentIntentID = intent.ID
	return &CreateLicenseOutput{License: license, Payment: intent}, nil
}

// compensate fails a pending license whose payment could not be started.
func (s *LicenseService) compensate(ctx context.Context, licenseID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	_, err := s.repos.License.TransitionPayment(ctx, licenseID,
		[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusFailed, false,
		&models.LicenseEvent{
			ID:        newEventID(),
			LicenseID: licenseID,
			Type:      models.LicenseEventPaymentFailed,
			Source:    "api",
			Details:   cause.Error(),
			CreatedAt: s.now().UTC(),
		})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark license failed", "license_id", licenseID, "error", err)
	}
}

func (s *LicenseService) priceFor(ctx context.Context, in CreateLicenseInput) (tierPrice, error) {
	if in.GenerationID != "" {
		gen, err := s.repos.Generation.GetByID(ctx, in.GenerationID)
		if err != nil {
			return tierPrice{}, fmt.Errorf("failed to load generation: %w", err)
		}
		if gen == nil {
			return tierPrice{}, ErrNotFound
		}
		if gen.UserID != in.UserID {
			return tierPrice{}, ErrForbidden
		}
		if gen.Status != models.GenerationStatusCompleted {
			return tierPrice{}, &ConflictError{Resource: "generation", ID: gen.ID, Reason: "generation is not completed"}
		}
		return generationPricing[in.Tier], nil
	}

	sample, err := s.repos.Sample.GetByID(ctx, in.SampleID)
	if err != nil {
		return tierPrice{}, fmt.Errorf("failed to load sample: %w", err)
	}
	if sample == nil || !sample.Approved {
		return tierPrice{}, ErrNotFound
	}
	switch in.Tier {
	case models.LicenseTierCommercial:
		p := defaultSampleCommercialMinor
		if sample.PriceCommercialMinor != nil {
			p = *sample.PriceCommercialMinor
		}
		return tierPrice{priceMinor: p, limit: intPtr(10)}, nil
	case models.LicenseTierEnterprise:
		p := defaultSampleEnterpriseMinor
		if sample.PriceEnterpriseMinor != nil {
			p = *sample.PriceEnterpriseMinor
		}
		return tierPrice{priceMinor: p}, nil
	}
	return tierPrice{priceMinor: sample.PricePersonalMinor, limit: intPtr(5)}, nil
}

// RecordDownload meters one download and returns a time-limited URL.
func (s *LicenseService) RecordDownload(ctx context.Context, userID, licenseID string) (*DownloadGrant, error) {
	ctx = logging.WithUserID(ctx, userID)
	license, err := s.repos.License.GetByID(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if license == nil {
		return nil, ErrNotFound
	}
	if license.UserID != userID {
		return nil, ErrForbidden
	}
	location, err := s.fileLocation(ctx, license)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ok, err := s.repos.License.RecordDownload(ctx, licenseID, userID, now, &models.LicenseEvent{
		ID:        newEventID(),
		LicenseID: licenseID,
		Type:      models.LicenseEventDownloaded,
		Source:    "api",
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.classifyRefusal(ctx, licenseID, now)
	}

	url, expires, err := s.storage.DownloadURL(ctx, location)
	if err != nil {
		return nil, err
	}

	var remaining *int
	if license.DownloadLimit != nil {
		// license was read before the increment.
		remaining = intPtr(max(*license.DownloadLimit-license.DownloadsUsed-1, 0))
	}
	s.logger.InfoContext(ctx, "license download recorded", "license_id", licenseID)
	return &DownloadGrant{URL: url, ExpiresAt: expires, DownloadsRemaining: remaining}, nil
}

// classifyRefusal re-reads a license the conditional download update did not match.
func (s *LicenseService) classifyRefusal(ctx context.Context, licenseID string, now time.Time) error {
	license, err := s.repos.License.GetByID(ctx, licenseID)
	if err != nil {
		return fmt.Errorf("failed to load license: %w", err)
	}
	switch {
	case license == nil:
		return ErrNotFound
	case !license.Active:
		return ErrLicenseInactive
	case !now.Before(license.ExpiresAt):
		return ErrLicenseExpired
	case license.DownloadLimit != nil && license.DownloadsUsed >= *license.DownloadLimit:
		return ErrDownloadLimitReached
	}
	return &ConflictError{Resource: "license", ID: licenseID}
}

func (s *LicenseService) fileLocation(ctx context.Context, license *models.License) (string, error) {
	if license.GenerationID != "" {
		gen, err := s.repos.Generation.GetByID(ctx, license.GenerationID)
		if err != nil {
			return "", fmt.Errorf("failed to load generation: %w", err)
		}
		if gen == nil || gen.ResultLocation == "" {
			return "", ErrNotFound
		}
		return gen.ResultLocation, nil
	}
	sample, err := s.repos.Sample.GetByID(ctx, license.SampleID)
	if err != nil {
		return "", fmt.Errorf("failed to load sample: %w", err)
	}
	if sample == nil || sample.FileLocation == "" {
		return "", ErrNotFound
	}
	return sample.FileLocation, nil
}

// Verify answers whether a license is currently usable. It needs no
// authentication and reveals no owner information.
func (s *LicenseService) Verify(ctx context.Context, licenseID string) (*LicenseVerification, error) {
	license, err := s.repos.License.GetByID(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if license == nil {
		return nil, ErrNotFound
	}
	now := s.now()
	var remaining *int
	if license.DownloadLimit != nil {
		remaining = intPtr(max(*license.DownloadLimit-license.DownloadsUsed, 0))
	}
	return &LicenseVerification{
		LicenseID:          license.ID,
		Valid:              license.Active && now.Before(license.ExpiresAt),
		Tier:               license.Tier,
		PaymentStatus:      license.PaymentStatus,
		DownloadsRemaining: remaining,
		ExpiresAt:          license.ExpiresAt,
	}, nil
}

// Get returns a license owned by userID.
func (s *LicenseService) Get(ctx context.Context, userID, licenseID string) (*models.License, error) {
	license, err := s.repos.License.GetByID(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if license == nil {
		return nil, ErrNotFound
	}
	if license.UserID != userID {
		return nil, ErrForbidden
	}
	return license, nil
}

// List returns the user's licenses, newest first.
func (s *LicenseService) List(ctx context.Context, userID string, limit, offset int) ([]*models.License, error) {
	limit, offset = clampPage(limit, offset)
	licenses, err := s.repos.License.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if licenses == nil {
		licenses = []*models.License{}
	}
	return licenses, nil
}

// Events returns the audit trail of a license owned by userID.
func (s *LicenseService) Events(ctx context.Context, userID, licenseID string) ([]*models.LicenseEvent, error) {
	if _, err := s.Get(ctx, userID, licenseID); err != nil {
		return nil, err
	}
	return s.repos.LicenseEvent.GetByLicenseID(ctx, licenseID)
}
