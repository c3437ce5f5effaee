package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeProvider implements Provider and WebhookVerifier on Stripe
// PaymentIntents.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a Stripe adapter. A nil backends uses Stripe's
// default HTTP backends.
func NewStripeProvider(secretKey, webhookSecret string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) CreateCustomer(ctx context.Context, in CustomerParams) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if in.Email != "" {
		params.Email = stripe.String(in.Email)
	}
	params.AddMetadata(MetaUserID, in.UserID)
	params.SetIdempotencyKey("customer-" + in.UserID)

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) CreateIntent(ctx context.Context, in IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountMinor),
		Currency: stripe.String(strings.ToLower(in.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	params.AddMetadata(MetaUserID, in.UserID)
	if in.LicenseID != "" {
		params.AddMetadata(MetaLicenseID, in.LicenseID)
	}
	if in.GenerationID != "" {
		params.AddMetadata(MetaGenerationID, in.GenerationID)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeIntent(pi), nil
}

func (p *StripeProvider) ConfirmIntent(ctx context.Context, intentID, methodRef string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	if methodRef != "" {
		params.PaymentMethod = stripe.String(methodRef)
	}
	pi, err := p.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeIntent(pi), nil
}

// stripeCancelReasons are the cancellation reasons Stripe accepts; anything
// else is sent without a reason.
var stripeCancelReasons = map[string]bool{
	"duplicate":             true,
	"fraudulent":            true,
	"requested_by_customer": true,
	"abandoned":             true,
}

func (p *StripeProvider) CancelIntent(ctx context.Context, intentID, reason string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if stripeCancelReasons[reason] {
		params.CancellationReason = stripe.String(reason)
	}
	pi, err := p.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeIntent(pi), nil
}

func (p *StripeProvider) Refund(ctx context.Context, in RefundParams) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.IntentID),
	}
	params.Context = ctx
	if in.AmountMinor > 0 {
		params.Amount = stripe.Int64(in.AmountMinor)
	}
	if in.Reason == "duplicate" || in.Reason == "fraudulent" || in.Reason == "requested_by_customer" {
		params.Reason = stripe.String(in.Reason)
	}
	ref, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return &Refund{
		ID:          ref.ID,
		IntentID:    in.IntentID,
		AmountMinor: ref.Amount,
		Currency:    string(ref.Currency),
		Status:      string(ref.Status),
	}, nil
}

// CreateSubscription starts a subscription in default_incomplete mode, so the
// first invoice's payment intent is returned for the client to confirm.
func (p *StripeProvider) CreateSubscription(ctx context.Context, in SubscriptionParams) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PlanID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	params.AddMetadata(MetaUserID, in.UserID)
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeSubscription(sub), nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*Subscription, error) {
	var sub *stripe.Subscription
	var err error
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err = p.api.Subscriptions.Update(subscriptionID, params)
	} else {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err = p.api.Subscriptions.Cancel(subscriptionID, params)
	}
	if err != nil {
		return nil, stripeError(err)
	}
	return stripeSubscription(sub), nil
}

// ParseWebhook verifies the Stripe-Signature header over the raw body and
// maps the event onto the closed Event set.
func (p *StripeProvider) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	if event.ID == "" || event.Data == nil {
		return nil, fmt.Errorf("%w: missing id or data", ErrMalformedPayload)
	}

	out := &Event{ID: event.ID, Provider: ProviderStripe, RawType: string(event.Type)}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
			return nil, fmt.Errorf("%w: payment intent: %v", ErrMalformedPayload, err)
		}
		intent := stripeIntent(&pi)
		out.Payment = &PaymentEvent{
			IntentID:       pi.ID,
			AmountMinor:    pi.Amount,
			Currency:       string(pi.Currency),
			ProviderStatus: string(pi.Status),
			FailureReason:  intent.FailureReason,
			UserID:         pi.Metadata[MetaUserID],
			LicenseID:      pi.Metadata[MetaLicenseID],
			GenerationID:   pi.Metadata[MetaGenerationID],
		}
		switch event.Type {
		case "payment_intent.succeeded":
			out.Kind = EventPaymentSucceeded
		case "payment_intent.payment_failed":
			out.Kind = EventPaymentFailed
			// A failed attempt leaves the intent in requires_payment_method.
			out.Payment.ProviderStatus = "failed"
		default:
			out.Kind = EventPaymentCanceled
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil || sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedPayload, err)
		}
		out.Subscription = &SubscriptionEvent{
			SubscriptionID:     sub.ID,
			UserID:             sub.Metadata[MetaUserID],
			ProviderStatus:     string(sub.Status),
			CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
			CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		}
		switch event.Type {
		case "customer.subscription.created":
			out.Kind = EventSubscriptionCreated
		case "customer.subscription.updated":
			out.Kind = EventSubscriptionUpdated
		default:
			out.Kind = EventSubscriptionDeleted
		}

	case "charge.dispute.created":
		var d stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &d); err != nil || d.ID == "" {
			return nil, fmt.Errorf("%w: dispute: %v", ErrMalformedPayload, err)
		}
		out.Kind = EventDisputeCreated
		out.Dispute = &DisputeEvent{
			DisputeID:   d.ID,
			AmountMinor: d.Amount,
			Currency:    string(d.Currency),
			Reason:      string(d.Reason),
			Status:      string(d.Status),
		}
		if d.PaymentIntent != nil {
			out.Dispute.IntentID = d.PaymentIntent.ID
		}

	default:
		out.Kind = EventUnknown
	}
	return out, nil
}

func stripeIntent(pi *stripe.PaymentIntent) *Intent {
	in := &Intent{
		ID:             pi.ID,
		Provider:       ProviderStripe,
		AmountMinor:    pi.Amount,
		Currency:       string(pi.Currency),
		ProviderStatus: string(pi.Status),
		ClientSecret:   pi.ClientSecret,
		Metadata:       pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		in.FailureReason = pi.LastPaymentError.Msg
	}
	return in
}

func stripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                 sub.ID,
		Provider:           ProviderStripe,
		ProviderStatus:     string(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanID = sub.Items.Data[0].Price.ID
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		out.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out
}

// stripeError converts a Stripe API error into a ProviderError. Transport
// errors are returned unchanged.
func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProviderError{
			Provider:   ProviderStripe,
			StatusCode: se.HTTPStatusCode,
			Code:       string(se.Code),
			Message:    se.Msg,
		}
	}
	return err
}
