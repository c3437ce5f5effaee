package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

// Settlement applies a payment intent's outcome to the license and
// generation it pays for. The orchestrator's write-through path and the
// webhook path both call it, in any order and any number of times; every
// change is a conditional update so only the first arrival has an effect.
type Settlement struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewSettlement creates a settlement helper.
func NewSettlement(repos *repository.Repositories, logger *slog.Logger) *Settlement {
	return &Settlement{
		repos:  repos,
		logger: logger.With("component", "settlement"),
	}
}

// Apply settles intent, whose Status is the stored mirror status. source and
// reference are recorded on any audit event written.
func (s *Settlement) Apply(ctx context.Context, intent *models.PaymentIntent, source, reference string) error {
	if !intent.Status.Terminal() {
		return nil
	}

	if intent.Status == models.IntentStatusSucceeded && intent.GenerationID != "" {
		if err := s.repos.Generation.UnlockDownload(ctx, intent.GenerationID); err != nil {
			return err
		}
	}

	license, err := s.licenseFor(ctx, intent)
	if err != nil || license == nil {
		return err
	}

	// A license retried with a newer intent ignores the older intent's failures.
	superseded := license.PaymentIntentID != "" && license.PaymentIntentID != intent.ID

	var (
		from      []models.PaymentStatus
		to        models.PaymentStatus
		active    bool
		eventType models.LicenseEventType
		details   string
	)
	switch intent.Status {
	case models.IntentStatusSucceeded:
		if intent.AmountMinor < license.PriceMinor || !sameCurrency(intent.Currency, license.Currency) {
			s.logger.ErrorContext(ctx, "payment does not cover license price",
				"license_id", license.ID, "intent_id", intent.ID,
				"amount_minor", intent.AmountMinor, "price_minor", license.PriceMinor,
				"currency", intent.Currency)
			return nil
		}
		from = []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusFailed}
		to, active, eventType = models.PaymentStatusCompleted, true, models.LicenseEventActivated
	case models.IntentStatusFailed:
		if superseded {
			return nil
		}
		from = []models.PaymentStatus{models.PaymentStatusPending}
		to, eventType, details = models.PaymentStatusFailed, models.LicenseEventPaymentFailed, intent.FailureReason
	case models.IntentStatusCanceled:
		if superseded {
			return nil
		}
		from = []models.PaymentStatus{models.PaymentStatusPending}
		to, eventType = models.PaymentStatusFailed, models.LicenseEventPaymentCanceled
	case models.IntentStatusRefunded:
		if superseded {
			return nil
		}
		from = []models.PaymentStatus{models.PaymentStatusCompleted}
		to, eventType = models.PaymentStatusRefunded, models.LicenseEventRefunded
	default:
		return nil
	}

	event := &models.LicenseEvent{
		ID:        newEventID(),
		LicenseID: license.ID,
		Type:      eventType,
		Source:    source,
		Reference: reference,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	changed, err := s.repos.License.TransitionPayment(ctx, license.ID, from, to, active, event)
	if err != nil {
		return fmt.Errorf("failed to settle license: %w", err)
	}
	if changed {
		s.logger.InfoContext(ctx, "license payment settled",
			"license_id", license.ID,
			"intent_id", intent.ID,
			"payment_status", to,
			"source", source,
		)
	}
	return nil
}

func (s *Settlement) licenseFor(ctx context.Context, intent *models.PaymentIntent) (*models.License, error) {
	if intent.LicenseID != "" {
		l, err := s.repos.License.GetByID(ctx, intent.LicenseID)
		if err != nil {
			return nil, fmt.Errorf("failed to load license: %w", err)
		}
		if l != nil {
			return l, nil
		}
	}
	l, err := s.repos.License.GetByPaymentIntentID(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	return l, nil
}

func sameCurrency(a, b string) bool {
	return normalizeCurrency(a) == normalizeCurrency(b)
}
