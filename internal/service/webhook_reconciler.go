package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

// WebhookReconciler verifies provider webhooks and applies them exactly
// once per (provider, event id). Redeliveries of processed events are
// acknowledged without effect; failed events are re-dispatched, which is
// safe because every effect is a guarded upsert or conditional update.
type WebhookReconciler struct {
	repos      *repository.Repositories
	verifiers  map[string]payment.WebhookVerifier
	settlement *Settlement
	logger     *slog.Logger
}

// NewWebhookReconciler creates a webhook reconciler. verifiers is keyed by provider name.
func NewWebhookReconciler(repos *repository.Repositories, settlement *Settlement, verifiers map[string]payment.WebhookVerifier, logger *slog.Logger) *WebhookReconciler {
	return &WebhookReconciler{
		repos:      repos,
		verifiers:  verifiers,
		settlement: settlement,
		logger:     logger.With("component", "webhooks"),
	}
}

// HandleEvent verifies payload against header and dispatches it.
func (w *WebhookReconciler) HandleEvent(ctx context.Context, provider string, payload []byte, header http.Header) error {
	verifier, ok := w.verifiers[provider]
	if !ok {
		return fmt.Errorf("%s: %w", provider, ErrProviderDisabled)
	}

	ev, err := verifier.ParseWebhook(payload, header)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			w.logger.ErrorContext(ctx, "malformed webhook payload", "provider", provider, "error", err)
		}
		return err
	}

	rec, err := w.repos.WebhookEvent.Record(ctx, provider, ev.ID, ev.RawType)
	if err != nil {
		return err
	}
	if rec.Status == models.WebhookEventProcessed {
		w.logger.DebugContext(ctx, "duplicate webhook acknowledged",
			"provider", provider, "event_id", ev.ID, "attempts", rec.Attempts)
		return nil
	}

	if err := w.dispatch(ctx, ev); err != nil {
		if markErr := w.repos.WebhookEvent.MarkFailed(context.WithoutCancel(ctx), provider, ev.ID, err.Error()); markErr != nil {
			w.logger.ErrorContext(ctx, "failed to mark webhook failed", "event_id", ev.ID, "error", markErr)
		}
		if errors.Is(err, ErrMalformedPayload) {
			w.logger.ErrorContext(ctx, "malformed webhook payload",
				"provider", provider, "event_id", ev.ID, "event_type", ev.RawType, "error", err)
		}
		return fmt.Errorf("failed to process %s event %s: %w", provider, ev.ID, err)
	}
	if err := w.repos.WebhookEvent.MarkProcessed(ctx, provider, ev.ID); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "webhook processed",
		"provider", provider, "event_id", ev.ID, "event_type", ev.RawType, "kind", ev.Kind)
	return nil
}

func (w *WebhookReconciler) dispatch(ctx context.Context, ev *payment.Event) error {
	switch ev.Kind {
	case payment.EventPaymentSucceeded, payment.EventPaymentFailed, payment.EventPaymentCanceled:
		if ev.Payment == nil || ev.Payment.IntentID == "" {
			return ErrMalformedPayload
		}
		return w.handlePayment(ctx, ev)
	case payment.EventSubscriptionCreated, payment.EventSubscriptionUpdated, payment.EventSubscriptionDeleted:
		if ev.Subscription == nil || ev.Subscription.SubscriptionID == "" {
			return ErrMalformedPayload
		}
		return w.handleSubscription(ctx, ev)
	case payment.EventDisputeCreated:
		if ev.Dispute == nil || ev.Dispute.DisputeID == "" {
			return ErrMalformedPayload
		}
		return w.handleDispute(ctx, ev)
	}
	w.logger.InfoContext(ctx, "ignoring unhandled webhook event", "provider", ev.Provider, "event_type", ev.RawType)
	return nil
}

func (w *WebhookReconciler) handlePayment(ctx context.Context, ev *payment.Event) error {
	pe := ev.Payment
	status := models.IntentStatusSucceeded
	switch ev.Kind {
	case payment.EventPaymentFailed:
		status = models.IntentStatusFailed
	case payment.EventPaymentCanceled:
		status = models.IntentStatusCanceled
	}

	// Creates the mirror when the webhook beats the write-through.
	stored, err := w.repos.PaymentIntent.Upsert(ctx, &models.PaymentIntent{
		ID:             pe.IntentID,
		Provider:       ev.Provider,
		UserID:         pe.UserID,
		AmountMinor:    pe.AmountMinor,
		Currency:       normalizeCurrency(pe.Currency),
		Status:         status,
		ProviderStatus: pe.ProviderStatus,
		LicenseID:      pe.LicenseID,
		GenerationID:   pe.GenerationID,
		FailureReason:  pe.FailureReason,
	})
	if err != nil {
		return err
	}
	if stored.Status != status {
		w.logger.InfoContext(ctx, "payment event older than stored state",
			"intent_id", pe.IntentID, "stored", stored.Status, "event", status)
	}
	return w.settlement.Apply(ctx, stored, "webhook:"+ev.Provider, ev.ID)
}

func (w *WebhookReconciler) handleSubscription(ctx context.Context, ev *payment.Event) error {
	se := ev.Subscription
	status := payment.NormalizeSubscription(ev.Provider, se.ProviderStatus)
	if ev.Kind == payment.EventSubscriptionDeleted {
		status = models.SubscriptionStatusCanceled
	}

	userID := se.UserID
	if userID == "" {
		existing, err := w.repos.Subscription.GetByID(ctx, se.SubscriptionID)
		if err != nil {
			return err
		}
		if existing != nil {
			userID = existing.UserID
		}
	}

	if err := w.repos.Subscription.Upsert(ctx, &models.Subscription{
		ID:                 se.SubscriptionID,
		Provider:           ev.Provider,
		UserID:             userID,
		Status:             status,
		ProviderStatus:     se.ProviderStatus,
		CurrentPeriodStart: se.CurrentPeriodStart,
		CurrentPeriodEnd:   se.CurrentPeriodEnd,
		CancelAtPeriodEnd:  se.CancelAtPeriodEnd,
	}); err != nil {
		return err
	}

	if userID == "" {
		w.logger.WarnContext(ctx, "subscription has no user reference", "subscription_id", se.SubscriptionID)
		return nil
	}
	return refreshSubscriptionAccess(ctx, w.repos, userID)
}

func (w *WebhookReconciler) handleDispute(ctx context.Context, ev *payment.Event) error {
	de := ev.Dispute
	err := w.repos.Dispute.Create(ctx, &models.Dispute{
		ID:              de.DisputeID,
		Provider:        ev.Provider,
		PaymentIntentID: de.IntentID,
		AmountMinor:     de.AmountMinor,
		Currency:        normalizeCurrency(de.Currency),
		Reason:          de.Reason,
		Status:          de.Status,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	w.logger.WarnContext(ctx, "payment dispute opened, manual review required",
		"provider", ev.Provider, "dispute_id", de.DisputeID, "intent_id", de.IntentID, "amount_minor", de.AmountMinor)
	return nil
}

// Disputes lists stored disputes for operators.
func (w *WebhookReconciler) Disputes(ctx context.Context, limit, offset int) ([]*models.Dispute, error) {
	limit, offset = clampPage(limit, offset)
	disputes, err := w.repos.Dispute.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if disputes == nil {
		disputes = []*models.Dispute{}
	}
	return disputes, nil
}
