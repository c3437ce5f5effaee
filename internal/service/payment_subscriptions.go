package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

// accessStatuses are the subscription states that set users.subscription_active.
var accessStatuses = []models.SubscriptionStatus{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusTrialing,
}

// CreateSubscriptionInput starts a recurring plan.
type CreateSubscriptionInput struct {
	UserID         string `json:"-"`
	Email          string `json:"-"`
	PlanID         string `json:"plan_id"`
	Provider       string `json:"provider,omitempty"`
	IdempotencyKey string `json:"-"`
}

// SubscriptionOutput is a stored subscription plus, right after creation,
// what the client needs to complete the first payment.
type SubscriptionOutput struct {
	Subscription *models.Subscription `json:"subscription"`
	ClientSecret string               `json:"client_secret,omitempty"`
}

// CreateSubscription starts a subscription through the provider's breaker
// and mirrors it locally. A user with a subscription that is active,
// trialing or past due cannot start another.
func (o *PaymentOrchestrator) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*SubscriptionOutput, error) {
	ctx = logging.WithUserID(ctx, in.UserID)
	in.PlanID = strings.TrimSpace(in.PlanID)
	if in.PlanID == "" {
		return nil, invalid("plan_id", "is required")
	}
	prov, err := o.provider(in.Provider)
	if err != nil {
		return nil, err
	}

	busy, err := o.repos.Subscription.HasAccess(ctx, in.UserID,
		models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, &ConflictError{Resource: "subscription", ID: in.UserID, Reason: "user already has a subscription"}
	}

	customerID, err := o.ensureCustomer(ctx, prov, in.UserID, in.Email)
	if err != nil {
		return nil, err
	}
	sub, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Subscription, error) {
		return prov.CreateSubscription(ctx, payment.SubscriptionParams{
			PlanID:         in.PlanID,
			CustomerID:     customerID,
			UserID:         in.UserID,
			IdempotencyKey: in.IdempotencyKey,
		})
	})
	if err != nil {
		return nil, err
	}
	if sub.PlanID == "" {
		sub.PlanID = in.PlanID
	}

	stored, err := o.writeSubscription(ctx, sub, in.UserID)
	if err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "subscription created",
		"provider", prov.Name(),
		"subscription_id", stored.ID,
		"plan_id", stored.PlanID,
		"status", stored.Status,
	)
	return &SubscriptionOutput{Subscription: stored, ClientSecret: sub.ClientSecret}, nil
}

// CancelSubscription cancels one of the user's subscriptions, now or at the
// end of the current period. Canceling an already canceled subscription
// returns it unchanged without calling the provider.
func (o *PaymentOrchestrator) CancelSubscription(ctx context.Context, userID, subscriptionID string, atPeriodEnd bool) (*SubscriptionOutput, error) {
	ctx = logging.WithUserID(ctx, userID)
	existing, err := o.repos.Subscription.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if existing.UserID != userID {
		return nil, ErrForbidden
	}
	if existing.Status == models.SubscriptionStatusCanceled {
		return &SubscriptionOutput{Subscription: existing}, nil
	}
	prov, err := o.provider(existing.Provider)
	if err != nil {
		return nil, err
	}

	sub, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Subscription, error) {
		return prov.CancelSubscription(ctx, subscriptionID, atPeriodEnd)
	})
	if err != nil {
		return nil, err
	}
	stored, err := o.writeSubscription(ctx, sub, userID)
	if err != nil {
		return nil, err
	}
	o.logger.InfoContext(ctx, "subscription canceled",
		"provider", prov.Name(),
		"subscription_id", subscriptionID,
		"at_period_end", atPeriodEnd,
		"status", stored.Status,
	)
	return &SubscriptionOutput{Subscription: stored}, nil
}

// ListSubscriptions returns the user's subscriptions, newest first.
func (o *PaymentOrchestrator) ListSubscriptions(ctx context.Context, userID string, limit, offset int) ([]*models.Subscription, error) {
	limit, offset = clampPage(limit, offset)
	subs, err := o.repos.Subscription.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []*models.Subscription{}
	}
	return subs, nil
}

// ListIntents returns the user's payment history from the local mirror,
// newest first.
func (o *PaymentOrchestrator) ListIntents(ctx context.Context, userID string, limit, offset int) ([]*IntentOutput, error) {
	limit, offset = clampPage(limit, offset)
	intents, err := o.repos.PaymentIntent.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*IntentOutput, 0, len(intents))
	for _, pi := range intents {
		out = append(out, intentOutput(pi))
	}
	return out, nil
}

// writeSubscription mirrors the provider's answer and refreshes the user's
// access flag.
func (o *PaymentOrchestrator) writeSubscription(ctx context.Context, sub *payment.Subscription, userID string) (*models.Subscription, error) {
	provider := sub.Provider
	if provider == "" {
		provider = payment.ProviderStripe
	}
	if err := o.repos.Subscription.Upsert(ctx, &models.Subscription{
		ID:                 sub.ID,
		Provider:           provider,
		UserID:             userID,
		PlanID:             sub.PlanID,
		Status:             payment.NormalizeSubscription(provider, sub.ProviderStatus),
		ProviderStatus:     sub.ProviderStatus,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}); err != nil {
		return nil, err
	}
	if err := refreshSubscriptionAccess(ctx, o.repos, userID); err != nil {
		return nil, err
	}
	stored, err := o.repos.Subscription.GetByID(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("subscription %s missing after write", sub.ID)
	}
	return stored, nil
}

// refreshSubscriptionAccess sets users.subscription_active from all of the
// user's subscriptions, so canceling one leaves access from another intact.
func refreshSubscriptionAccess(ctx context.Context, repos *repository.Repositories, userID string) error {
	active, err := repos.Subscription.HasAccess(ctx, userID, accessStatuses...)
	if err != nil {
		return err
	}
	return repos.User.SetSubscriptionActive(ctx, userID, active)
}
