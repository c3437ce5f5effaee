package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/idempotency"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

// PaymentService is the part of service.PaymentOrchestrator the handler uses.
type PaymentService interface {
	CreateIntent(ctx context.Context, in service.CreateIntentInput) (*service.IntentOutput, error)
	Confirm(ctx context.Context, userID, intentID, methodRef string) (*service.IntentOutput, error)
	Cancel(ctx context.Context, userID, intentID, reason string) (*service.IntentOutput, error)
	Refund(ctx context.Context, userID, intentID, amount, reason string) (*service.RefundOutput, error)
	ListIntents(ctx context.Context, userID string, limit, offset int) ([]*service.IntentOutput, error)
	CreateSubscription(ctx context.Context, in service.CreateSubscriptionInput) (*service.SubscriptionOutput, error)
	CancelSubscription(ctx context.Context, userID, subscriptionID string, atPeriodEnd bool) (*service.SubscriptionOutput, error)
	ListSubscriptions(ctx context.Context, userID string, limit, offset int) ([]*models.Subscription, error)
}

// IdempotencyStore remembers responses by client-supplied key.
type IdempotencyStore interface {
	Get(scope, key string) ([]byte, bool, error)
	Put(scope, key string, value []byte, ttl time.Duration) ([]byte, error)
}

// PaymentHandler handles payment intent endpoints.
type PaymentHandler struct {
	svc    PaymentService
	keys   IdempotencyStore // optional
	keyTTL time.Duration
	logger *slog.Logger
}

// NewPaymentHandler creates a new payment handler. keys may be nil, in which
// case Idempotency-Key is only forwarded to the provider.
func NewPaymentHandler(svc PaymentService, keys IdempotencyStore, keyTTL time.Duration, logger *slog.Logger) *PaymentHandler {
	if keyTTL <= 0 {
		keyTTL = 24 * time.Hour
	}
	return &PaymentHandler{
		svc:    svc,
		keys:   keys,
		keyTTL: keyTTL,
		logger: logger.With("component", "payment_handler"),
	}
}

// CreateIntentInput is the create-intent request.
type CreateIntentInput struct {
	IdempotencyKey string `header:"Idempotency-Key" maxLength:"255" doc:"Repeat a request safely; the first response is returned again"`
	Body           struct {
		Provider     string `json:"provider,omitempty" doc:"stripe or razorpay; defaults to the first configured provider"`
		Amount       string `json:"amount,omitempty" doc:"Decimal amount in major units, e.g. 19.99. Defaults to the license price"`
		Currency     string `json:"currency,omitempty" doc:"ISO 4217 currency"`
		LicenseID    string `json:"license_id,omitempty" doc:"License to pay for (exactly one of license_id, generation_id)"`
		GenerationID string `json:"generation_id,omitempty" doc:"Generation to pay for"`
	}
}

// IntentOutput wraps a payment intent response.
type IntentOutput struct {
	Body service.IntentOutput
}

// CreateIntent creates a provider payment intent.
func (h *PaymentHandler) CreateIntent(ctx context.Context, input *CreateIntentInput) (*IntentOutput, error) {
	claims := getUserClaims(ctx)
	if claims == nil || claims.UserID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	scope := "intent:" + claims.UserID
	key := input.IdempotencyKey
	if key != "" && h.keys != nil {
		raw, ok, err := h.keys.Get(scope, key)
		if err != nil {
			return nil, toHumaError(ctx, h.logger, "idempotency lookup", err)
		}
		if ok {
			return h.replay(ctx, key, raw)
		}
	}

	in := service.CreateIntentInput{
		UserID:       claims.UserID,
		Email:        claims.Email,
		Amount:       input.Body.Amount,
		Currency:     input.Body.Currency,
		Provider:     input.Body.Provider,
		LicenseID:    input.Body.LicenseID,
		GenerationID: input.Body.GenerationID,
	}
	if key != "" {
		in.IdempotencyKey = providerKey(claims.UserID, key)
	}

	out, err := h.svc.CreateIntent(ctx, in)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "create intent", err)
	}

	if key != "" && h.keys != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, toHumaError(ctx, h.logger, "encode intent", err)
		}
		stored, err := h.keys.Put(scope, key, raw, h.keyTTL)
		if err != nil {
			// The intent exists at the provider; a retry reaches it through
			// the provider's own idempotency key.
			h.logger.WarnContext(ctx, "failed to store idempotency key", "error", err)
		} else if string(stored) != string(raw) {
			return h.replay(ctx, key, stored)
		}
	}
	return &IntentOutput{Body: *out}, nil
}

func (h *PaymentHandler) replay(ctx context.Context, key string, raw []byte) (*IntentOutput, error) {
	var out IntentOutput
	if err := json.Unmarshal(raw, &out.Body); err != nil {
		return nil, toHumaError(ctx, h.logger, "decode stored intent", err)
	}
	h.logger.InfoContext(ctx, "idempotent replay", "intent_id", out.Body.ID, "key_len", len(key))
	return &out, nil
}

// providerKey scopes a client key to the user before it is sent to the
// provider, so two users choosing the same key never share an intent.
func providerKey(userID, key string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// ConfirmIntentInput confirms or captures an intent.
type ConfirmIntentInput struct {
	ID   string `path:"id" doc:"Payment intent ID"`
	Body *struct {
		PaymentMethod string `json:"payment_method,omitempty" doc:"Stripe payment method or Razorpay payment id"`
	} `required:"false"`
}

// ConfirmIntent confirms (Stripe) or captures (Razorpay) a payment.
func (h *PaymentHandler) ConfirmIntent(ctx context.Context, input *ConfirmIntentInput) (*IntentOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	var method string
	if input.Body != nil {
		method = input.Body.PaymentMethod
	}
	out, err := h.svc.Confirm(ctx, userID, input.ID, method)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "confirm intent", err)
	}
	return &IntentOutput{Body: *out}, nil
}

// CancelIntentInput cancels an unpaid intent.
type CancelIntentInput struct {
	ID   string `path:"id" doc:"Payment intent ID"`
	Body *struct {
		Reason string `json:"reason,omitempty" doc:"Cancellation reason"`
	} `required:"false"`
}

// CancelIntent cancels an unpaid payment.
func (h *PaymentHandler) CancelIntent(ctx context.Context, input *CancelIntentInput) (*IntentOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	var reason string
	if input.Body != nil {
		reason = input.Body.Reason
	}
	out, err := h.svc.Cancel(ctx, userID, input.ID, reason)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "cancel intent", err)
	}
	return &IntentOutput{Body: *out}, nil
}

// RefundIntentBody is the optional refund request body.
type RefundIntentBody struct {
	Amount string `json:"amount,omitempty" doc:"Partial amount in major units; omit for a full refund"`
	Reason string `json:"reason,omitempty" doc:"Refund reason"`
}

// RefundIntentInput refunds a succeeded intent.
type RefundIntentInput struct {
	ID   string            `path:"id" doc:"Payment intent ID"`
	Body *RefundIntentBody `required:"false"`
}

// RefundOutput wraps a refund response.
type RefundOutput struct {
	Body service.RefundOutput
}

// RefundIntent refunds all or part of a payment.
func (h *PaymentHandler) RefundIntent(ctx context.Context, input *RefundIntentInput) (*RefundOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	var amount, reason string
	if input.Body != nil {
		amount, reason = input.Body.Amount, input.Body.Reason
	}
	out, err := h.svc.Refund(ctx, userID, input.ID, amount, reason)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "refund intent", err)
	}
	return &RefundOutput{Body: *out}, nil
}

// ListIntentsOutput is the caller's payment history, newest first.
type ListIntentsOutput struct {
	Body struct {
		Intents []*service.IntentOutput `json:"intents"`
	}
}

// ListIntents returns the caller's payment intents.
func (h *PaymentHandler) ListIntents(ctx context.Context, input *PageInput) (*ListIntentsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	intents, err := h.svc.ListIntents(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "list intents", err)
	}
	out := &ListIntentsOutput{}
	out.Body.Intents = intents
	if out.Body.Intents == nil {
		out.Body.Intents = []*service.IntentOutput{}
	}
	return out, nil
}

// CreateSubscriptionInput is the create-subscription request.
type CreateSubscriptionInput struct {
	IdempotencyKey string `header:"Idempotency-Key" maxLength:"255" doc:"Repeat a request safely; the first response is returned again"`
	Body           struct {
		PlanID   string `json:"plan_id" minLength:"1" doc:"Stripe price ID or Razorpay plan ID"`
		Provider string `json:"provider,omitempty" doc:"stripe or razorpay; defaults to the first configured provider"`
	}
}

// SubscriptionOutput wraps a subscription response.
type SubscriptionOutput struct {
	Body service.SubscriptionOutput
}

// CreateSubscription starts a recurring plan for the caller.
func (h *PaymentHandler) CreateSubscription(ctx context.Context, input *CreateSubscriptionInput) (*SubscriptionOutput, error) {
	claims := getUserClaims(ctx)
	if claims == nil || claims.UserID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	scope := "subscription:" + claims.UserID
	key := input.IdempotencyKey
	if key != "" && h.keys != nil {
		raw, ok, err := h.keys.Get(scope, key)
		if err != nil {
			return nil, toHumaError(ctx, h.logger, "idempotency lookup", err)
		}
		if ok {
			return h.replaySubscription(ctx, raw)
		}
	}

	in := service.CreateSubscriptionInput{
		UserID:   claims.UserID,
		Email:    claims.Email,
		PlanID:   input.Body.PlanID,
		Provider: input.Body.Provider,
	}
	if key != "" {
		in.IdempotencyKey = providerKey(claims.UserID, key)
	}

	out, err := h.svc.CreateSubscription(ctx, in)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "create subscription", err)
	}

	if key != "" && h.keys != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, toHumaError(ctx, h.logger, "encode subscription", err)
		}
		stored, err := h.keys.Put(scope, key, raw, h.keyTTL)
		if err != nil {
			h.logger.WarnContext(ctx, "failed to store idempotency key", "error", err)
		} else if string(stored) != string(raw) {
			return h.replaySubscription(ctx, stored)
		}
	}
	return &SubscriptionOutput{Body: *out}, nil
}

func (h *PaymentHandler) replaySubscription(ctx context.Context, raw []byte) (*SubscriptionOutput, error) {
	var out SubscriptionOutput
	if err := json.Unmarshal(raw, &out.Body); err != nil {
		return nil, toHumaError(ctx, h.logger, "decode stored subscription", err)
	}
	if out.Body.Subscription != nil {
		h.logger.InfoContext(ctx, "idempotent replay", "subscription_id", out.Body.Subscription.ID)
	}
	return &out, nil
}

// CancelSubscriptionBody is the optional cancel request body.
type CancelSubscriptionBody struct {
	AtPeriodEnd bool `json:"at_period_end,omitempty" doc:"Keep access until the current period ends"`
}

// CancelSubscriptionInput cancels a subscription now or at period end.
type CancelSubscriptionInput struct {
	ID   string                  `path:"id" doc:"Subscription ID"`
	Body *CancelSubscriptionBody `required:"false"`
}

// CancelSubscription cancels one of the caller's subscriptions.
func (h *PaymentHandler) CancelSubscription(ctx context.Context, input *CancelSubscriptionInput) (*SubscriptionOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	var atPeriodEnd bool
	if input.Body != nil {
		atPeriodEnd = input.Body.AtPeriodEnd
	}
	out, err := h.svc.CancelSubscription(ctx, userID, input.ID, atPeriodEnd)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "cancel subscription", err)
	}
	return &SubscriptionOutput{Body: *out}, nil
}

// ListSubscriptionsOutput lists the caller's subscriptions, newest first.
type ListSubscriptionsOutput struct {
	Body struct {
		Subscriptions []*models.Subscription `json:"subscriptions"`
	}
}

// ListSubscriptions returns the caller's subscriptions.
func (h *PaymentHandler) ListSubscriptions(ctx context.Context, input *PageInput) (*ListSubscriptionsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	subs, err := h.svc.ListSubscriptions(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "list subscriptions", err)
	}
	out := &ListSubscriptionsOutput{}
	out.Body.Subscriptions = subs
	if out.Body.Subscriptions == nil {
		out.Body.Subscriptions = []*models.Subscription{}
	}
	return out, nil
}

var _ IdempotencyStore = (*idempotency.Store)(nil)
