package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
)

const defaultCurrency = "usd"

// PaymentOrchestrator runs payment operations against the configured
// providers. Every provider call goes through the breaker named after the
// provider, and every definitive answer is written through to the local
// payment intent mirror.
type PaymentOrchestrator struct {
	repos      *repository.Repositories
	breakers   *breaker.Registry
	providers  map[string]payment.Provider
	settlement *Settlement
	logger     *slog.Logger
}

// NewPaymentOrchestrator creates an orchestrator over providers.
func NewPaymentOrchestrator(repos *repository.Repositories, breakers *breaker.Registry, settlement *Settlement, logger *slog.Logger, providers ...payment.Provider) *PaymentOrchestrator {
	byName := make(map[string]payment.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &PaymentOrchestrator{
		repos:      repos,
		breakers:   breakers,
		providers:  byName,
		settlement: settlement,
		logger:     logger.With("component", "payments"),
	}
}

// CreateIntentInput represents a request to start a payment.
// Exactly one of LicenseID and GenerationID is set. For a license the
// amount defaults to the license price and must match it when given.
type CreateIntentInput struct {
	UserID         string `json:"-"`
	Email          string `json:"-"`
	Amount         string `json:"amount,omitempty"` // decimal major units, e.g. "19.99"
	Currency       string `json:"currency,omitempty"`
	Provider       string `json:"provider,omitempty"`
	LicenseID      string `json:"license_id,omitempty"`
	GenerationID   string `json:"generation_id,omitempty"`
	IdempotencyKey string `json:"-"`
}

// IntentOutput is the client-facing view of a payment intent.
type IntentOutput struct {
	ID             string                     `json:"id"`
	Provider       string                     `json:"provider"`
	Status         models.PaymentIntentStatus `json:"status"`
	ProviderStatus string                     `json:"provider_status"`
	AmountMinor    int64                      `json:"amount_minor"`
	Amount         string                     `json:"amount"`
	Currency       string                     `json:"currency"`
	ClientSecret   string                     `json:"client_secret,omitempty"`
	LicenseID      string                     `json:"license_id,omitempty"`
	GenerationID   string                     `json:"generation_id,omitempty"`
	FailureReason  string                     `json:"failure_reason,omitempty"`
}

// RefundOutput is the client-facing view of a refund.
type RefundOutput struct {
	ID          string `json:"id"`
	IntentID    string `json:"payment_intent_id"`
	AmountMinor int64  `json:"amount_minor"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	FullRefund  bool   `json:"full_refund"`
}

// Providers returns the names of the configured providers.
func (o *PaymentOrchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	return names
}

func (o *PaymentOrchestrator) provider(name string) (payment.Provider, error) {
	if name == "" {
		name = payment.ProviderStripe
	}
	p, ok := o.providers[name]
	if !ok {
		return nil, &ValidationError{Field: "provider", Message: fmt.Sprintf("%s: %v", name, ErrProviderDisabled)}
	}
	return p, nil
}

// CreateIntent creates a provider payment for a license or a generation.
func (o *PaymentOrchestrator) CreateIntent(ctx context.Context, in CreateIntentInput) (*IntentOutput, error) {
	ctx = logging.WithUserID(ctx, in.UserID)
	if (in.LicenseID == "") == (in.GenerationID == "") {
		return nil, invalid("target", "exactly one of license_id and generation_id is required")
	}
	prov, err := o.provider(in.Provider)
	if err != nil {
		return nil, err
	}

	var amountMinor int64
	if in.Amount != "" {
		amountMinor, err = payment.ToMinor(in.Amount)
		if err != nil {
			return nil, invalid("amount", "%v", err)
		}
	}
	currency := normalizeCurrency(in.Currency)
	if len(currency) != 3 {
		return nil, invalid("currency", "must be a 3-letter ISO code")
	}

	var license *models.License
	if in.LicenseID != "" {
		license, err = o.payableLicense(ctx, in.UserID, in.LicenseID)
		if err != nil {
			return nil, err
		}
		var live *IntentOutput
		license, live, err = o.retireLiveIntent(ctx, license)
		if err != nil || live != nil {
			return live, err
		}
		if amountMinor != 0 && amountMinor != license.PriceMinor {
			return nil, invalid("amount", "must equal the license price %s", payment.FormatMajor(license.PriceMinor))
		}
		if in.Currency != "" && !sameCurrency(in.Currency, license.Currency) {
			return nil, invalid("currency", "license is priced in %s", license.Currency)
		}
		amountMinor, currency = license.PriceMinor, license.Currency
	} else {
		gen, err := o.repos.Generation.GetByID(ctx, in.GenerationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load generation: %w", err)
		}
		if gen == nil {
			return nil, ErrNotFound
		}
		if gen.UserID != in.UserID {
			return nil, ErrForbidden
		}
		if gen.DownloadUnlocked {
			return nil, &ConflictError{Resource: "generation", ID: gen.ID, Reason: "generation download is already paid"}
		}
		if amountMinor == 0 {
			return nil, invalid("amount", "is required")
		}
	}

	customerID, err := o.ensureCustomer(ctx, prov, in.UserID, in.Email)
	if err != nil {
		return nil, err
	}

	intent, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Intent, error) {
		return prov.CreateIntent(ctx, payment.IntentParams{
			AmountMinor:    amountMinor,
			Currency:       currency,
			CustomerID:     customerID,
			UserID:         in.UserID,
			LicenseID:      in.LicenseID,
			GenerationID:   in.GenerationID,
			IdempotencyKey: in.IdempotencyKey,
		})
	})
	if err != nil {
		o.logger.WarnContext(ctx, "create intent failed", "provider", prov.Name(), "error", err)
		return nil, err
	}

	// The mirror row exists before the license points at it, so a concurrent
	// attempt always finds the intent it has to retire.
	stored, err := o.writeThrough(ctx, intent, &models.PaymentIntent{
		Provider:     prov.Name(),
		UserID:       in.UserID,
		LicenseID:    in.LicenseID,
		GenerationID: in.GenerationID,
	}, "api")
	if err != nil {
		return nil, err
	}

	if license != nil {
		claimed, err := o.repos.License.SwapPaymentIntent(ctx, license.ID, license.PaymentIntentID, intent.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			o.discardIntent(ctx, prov, intent, in)
			return nil, &ConflictError{Resource: "license", ID: license.ID, Reason: "another payment attempt is in progress"}
		}
		if license.PaymentStatus == models.PaymentStatusFailed {
			// Retry after a failed attempt puts the license back to pending.
			if _, err := o.repos.License.TransitionPayment(ctx, license.ID,
				[]models.PaymentStatus{models.PaymentStatusFailed}, models.PaymentStatusPending, false, nil); err != nil {
				return nil, err
			}
		}
	}

	o.logger.InfoContext(ctx, "payment intent created",
		"provider", prov.Name(),
		"intent_id", intent.ID,
		"amount_minor", amountMinor,
		"currency", currency,
		"license_id", in.LicenseID,
		"generation_id", in.GenerationID,
	)

	out := intentOutput(stored)
	out.ClientSecret = intent.ClientSecret
	return out, nil
}

// payableLicense loads a license the user may pay for.
func (o *PaymentOrchestrator) payableLicense(ctx context.Context, userID, licenseID string) (*models.License, error) {
	license, err := o.repos.License.GetByID(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	if license == nil {
		return nil, ErrNotFound
	}
	if license.UserID != userID {
		return nil, ErrForbidden
	}
	if license.PriceMinor == 0 {
		return nil, &ConflictError{Resource: "license", ID: licenseID, Reason: "license is free"}
	}
	if license.PaymentStatus != models.PaymentStatusPending && license.PaymentStatus != models.PaymentStatusFailed {
		return nil, &ConflictError{Resource: "license", ID: licenseID, Reason: "license payment is " + string(license.PaymentStatus)}
	}
	return license, nil
}

// retireLiveIntent makes sure a license never has two payable intents. A
// previous intent that is still open is canceled through the breaker and the
// reloaded license returned. When the provider cannot cancel it, or it turns
// out to have moved on, that intent is returned for reuse instead.
func (o *PaymentOrchestrator) retireLiveIntent(ctx context.Context, license *models.License) (*models.License, *IntentOutput, error) {
	for attempt := 0; attempt < 3; attempt++ {
		if license.PaymentIntentID == "" {
			return license, nil, nil
		}
		prev, err := o.repos.PaymentIntent.GetByID(ctx, license.PaymentIntentID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load payment intent: %w", err)
		}
		if prev == nil {
			return license, nil, nil
		}
		switch prev.Status {
		case models.IntentStatusFailed, models.IntentStatusCanceled:
			return license, nil, nil
		case models.IntentStatusSucceeded, models.IntentStatusRefunded:
			return nil, nil, &ConflictError{Resource: "license", ID: license.ID, Reason: "license already has a completed payment"}
		}

		prov, err := o.provider(prev.Provider)
		if err != nil {
			return nil, intentOutput(prev), nil
		}
		canceled, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Intent, error) {
			return prov.CancelIntent(ctx, prev.ID, "superseded")
		})
		if err != nil {
			if payment.IsRejected(err) || errors.Is(err, payment.ErrUnsupported) {
				o.logger.InfoContext(ctx, "reusing open payment intent", "license_id", license.ID, "intent_id", prev.ID, "reason", err)
				return nil, intentOutput(prev), nil
			}
			return nil, nil, err
		}
		stored, err := o.writeThrough(ctx, canceled, prev, "superseded")
		if err != nil {
			return nil, nil, err
		}
		if stored.Status != models.IntentStatusCanceled {
			return nil, intentOutput(stored), nil
		}
		o.logger.InfoContext(ctx, "open payment intent canceled for a new attempt", "license_id", license.ID, "intent_id", prev.ID)

		reloaded, err := o.payableLicense(ctx, license.UserID, license.ID)
		if err != nil {
			return nil, nil, err
		}
		if reloaded.PaymentIntentID == prev.ID {
			return reloaded, nil, nil
		}
		// Another attempt attached a newer intent meanwhile; retire that one too.
		license = reloaded
	}
	return nil, nil, &ConflictError{Resource: "license", ID: license.ID, Reason: "another payment attempt is in progress"}
}

// discardIntent cancels an intent that lost the race to a license and
// records it. Failures are logged; the intent was never handed to a client.
func (o *PaymentOrchestrator) discardIntent(ctx context.Context, prov payment.Provider, intent *payment.Intent, in CreateIntentInput) {
	canceled, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Intent, error) {
		return prov.CancelIntent(ctx, intent.ID, "duplicate")
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to cancel duplicate payment intent", "intent_id", intent.ID, "error", err)
		canceled = intent
	}
	if _, err := o.writeThrough(ctx, canceled, &models.PaymentIntent{
		Provider:  prov.Name(),
		UserID:    in.UserID,
		LicenseID: in.LicenseID,
	}, "duplicate"); err != nil {
		o.logger.ErrorContext(ctx, "failed to record duplicate payment intent", "intent_id", intent.ID, "error", err)
	}
}

// ensureCustomer returns the provider customer id for the user, creating
// and storing it on first use.
func (o *PaymentOrchestrator) ensureCustomer(ctx context.Context, prov payment.Provider, userID, email string) (string, error) {
	if err := o.repos.User.Ensure(ctx, userID, email); err != nil {
		return "", err
	}
	user, err := o.repos.User.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user != nil {
		switch prov.Name() {
		case payment.ProviderStripe:
			if user.StripeCustomerID != "" {
				return user.StripeCustomerID, nil
			}
		case payment.ProviderRazorpay:
			if user.RazorpayCustomerID != "" {
				return user.RazorpayCustomerID, nil
			}
		}
		if email == "" {
			email = user.Email
		}
	}

	customerID, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (string, error) {
		return prov.CreateCustomer(ctx, payment.CustomerParams{UserID: userID, Email: email})
	})
	if err != nil {
		return "", err
	}
	if err := o.repos.User.SetCustomerID(ctx, userID, prov.Name(), customerID); err != nil {
		return "", err
	}
	o.logger.InfoContext(ctx, "provider customer created", "provider", prov.Name(), "customer_id", customerID)
	return customerID, nil
}

// Confirm confirms (Stripe) or captures (Razorpay) an intent.
func (o *PaymentOrchestrator) Confirm(ctx context.Context, userID, intentID, methodRef string) (*IntentOutput, error) {
	mirror, prov, err := o.ownedIntent(ctx, userID, intentID)
	if err != nil {
		return nil, err
	}
	if mirror.Status == models.IntentStatusSucceeded || mirror.Status == models.IntentStatusRefunded {
		return intentOutput(mirror), nil
	}
	if err := o.confirmable(ctx, mirror); err != nil {
		return nil, err
	}
	intent, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Intent, error) {
		return prov.ConfirmIntent(ctx, intentID, methodRef)
	})
	if err != nil {
		return nil, err
	}
	stored, err := o.writeThrough(ctx, intent, mirror, "confirm")
	if err != nil {
		return nil, err
	}
	return intentOutput(stored), nil
}

// confirmable refuses an intent whose target no longer needs it: a license
// that moved to another intent or is already paid, or a generation whose
// download is already unlocked.
func (o *PaymentOrchestrator) confirmable(ctx context.Context, mirror *models.PaymentIntent) error {
	if mirror.LicenseID != "" {
		license, err := o.repos.License.GetByID(ctx, mirror.LicenseID)
		if err != nil {
			return fmt.Errorf("failed to load license: %w", err)
		}
		if license == nil {
			return nil
		}
		if license.PaymentIntentID != mirror.ID {
			return &ConflictError{Resource: "payment intent", ID: mirror.ID, Reason: "superseded by a newer payment attempt"}
		}
		if license.PaymentStatus == models.PaymentStatusCompleted || license.PaymentStatus == models.PaymentStatusRefunded {
			return &ConflictError{Resource: "license", ID: license.ID, Reason: "license payment is " + string(license.PaymentStatus)}
		}
		return nil
	}
	if mirror.GenerationID != "" {
		gen, err := o.repos.Generation.GetByID(ctx, mirror.GenerationID)
		if err != nil {
			return fmt.Errorf("failed to load generation: %w", err)
		}
		if gen != nil && gen.DownloadUnlocked {
			return &ConflictError{Resource: "generation", ID: gen.ID, Reason: "generation download is already paid"}
		}
	}
	return nil
}

// Cancel cancels an unpaid intent.
func (o *PaymentOrchestrator) Cancel(ctx context.Context, userID, intentID, reason string) (*IntentOutput, error) {
	mirror, prov, err := o.ownedIntent(ctx, userID, intentID)
	if err != nil {
		return nil, err
	}
	intent, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Intent, error) {
		return prov.CancelIntent(ctx, intentID, reason)
	})
	if err != nil {
		return nil, err
	}
	stored, err := o.writeThrough(ctx, intent, mirror, "cancel")
	if err != nil {
		return nil, err
	}
	return intentOutput(stored), nil
}

// Refund refunds all of a succeeded intent, or part of it when amount is set.
func (o *PaymentOrchestrator) Refund(ctx context.Context, userID, intentID, amount, reason string) (*RefundOutput, error) {
	mirror, prov, err := o.ownedIntent(ctx, userID, intentID)
	if err != nil {
		return nil, err
	}
	if mirror.Status != models.IntentStatusSucceeded {
		return nil, &ConflictError{Resource: "payment intent", ID: intentID, Reason: "only succeeded payments can be refunded"}
	}

	previous, err := o.repos.Refund.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	var refunded int64
	for _, r := range previous {
		refunded += r.AmountMinor
	}
	remaining := mirror.AmountMinor - refunded

	amountMinor := remaining
	if amount != "" {
		amountMinor, err = payment.ToMinor(amount)
		if err != nil {
			return nil, invalid("amount", "%v", err)
		}
	}
	if amountMinor <= 0 || amountMinor > remaining {
		return nil, invalid("amount", "must be at most the unrefunded %s", payment.FormatMajor(remaining))
	}

	result, err := providerCall(ctx, o, prov.Name(), func(ctx context.Context) (*payment.Refund, error) {
		return prov.Refund(ctx, payment.RefundParams{IntentID: intentID, AmountMinor: amountMinor, Reason: reason})
	})
	if err != nil {
		return nil, err
	}
	if result.AmountMinor == 0 {
		result.AmountMinor = amountMinor
	}
	if result.Currency == "" {
		result.Currency = mirror.Currency
	}

	if err := o.repos.Refund.Create(ctx, &models.Refund{
		ID:              result.ID,
		PaymentIntentID: intentID,
		Provider:        prov.Name(),
		AmountMinor:     result.AmountMinor,
		Currency:        normalizeCurrency(result.Currency),
		Status:          result.Status,
		Reason:          reason,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	full := refunded+result.AmountMinor >= mirror.AmountMinor
	if full {
		refundedMirror := *mirror
		refundedMirror.Status = models.IntentStatusRefunded
		refundedMirror.ProviderStatus = "refunded"
		stored, err := o.repos.PaymentIntent.Upsert(ctx, &refundedMirror)
		if err != nil {
			return nil, err
		}
		if err := o.settlement.Apply(ctx, stored, "refund", result.ID); err != nil {
			return nil, err
		}
	}

	o.logger.InfoContext(ctx, "payment refunded",
		"provider", prov.Name(),
		"intent_id", intentID,
		"refund_id", result.ID,
		"amount_minor", result.AmountMinor,
		"full", full,
	)

	return &RefundOutput{
		ID:          result.ID,
		IntentID:    intentID,
		AmountMinor: result.AmountMinor,
		Amount:      payment.FormatMajor(result.AmountMinor),
		Currency:    normalizeCurrency(result.Currency),
		Status:      result.Status,
		FullRefund:  full,
	}, nil
}

func (o *PaymentOrchestrator) ownedIntent(ctx context.Context, userID, intentID string) (*models.PaymentIntent, payment.Provider, error) {
	mirror, err := o.repos.PaymentIntent.GetByID(ctx, intentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	if mirror == nil {
		return nil, nil, ErrNotFound
	}
	if mirror.UserID != userID {
		return nil, nil, ErrForbidden
	}
	prov, err := o.provider(mirror.Provider)
	if err != nil {
		return nil, nil, err
	}
	return mirror, prov, nil
}

// writeThrough upserts the provider's answer into the mirror and settles
// any terminal outcome. refs supplies the user and target for a new row.
func (o *PaymentOrchestrator) writeThrough(ctx context.Context, intent *payment.Intent, refs *models.PaymentIntent, source string) (*models.PaymentIntent, error) {
	row := &models.PaymentIntent{
		ID:             intent.ID,
		Provider:       intent.Provider,
		UserID:         refs.UserID,
		AmountMinor:    intent.AmountMinor,
		Currency:       normalizeCurrency(intent.Currency),
		Status:         payment.Normalize(intent.Provider, intent.ProviderStatus),
		ProviderStatus: intent.ProviderStatus,
		LicenseID:      refs.LicenseID,
		GenerationID:   refs.GenerationID,
		FailureReason:  intent.FailureReason,
	}
	if row.Provider == "" {
		row.Provider = refs.Provider
	}
	stored, err := o.repos.PaymentIntent.Upsert(ctx, row)
	if err != nil {
		return nil, err
	}
	if err := o.settlement.Apply(ctx, stored, source, intent.ID); err != nil {
		return nil, err
	}
	return stored, nil
}

// providerCall runs fn under the provider's breaker. Provider rejections
// (declined cards, unknown ids, unsupported operations) are returned to the
// caller without counting against the breaker.
func providerCall[T any](ctx context.Context, o *PaymentOrchestrator, name string, fn func(context.Context) (T, error)) (T, error) {
	var rejection error
	out, err := breaker.Call(ctx, o.breakers, name, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil && (payment.IsRejected(err) || errors.Is(err, payment.ErrUnsupported)) {
			rejection = err
			var zero T
			return zero, nil
		}
		return v, err
	})
	if err != nil {
		return out, err
	}
	if rejection != nil {
		var zero T
		return zero, rejection
	}
	return out, nil
}

func intentOutput(pi *models.PaymentIntent) *IntentOutput {
	return &IntentOutput{
		ID:             pi.ID,
		Provider:       pi.Provider,
		Status:         pi.Status,
		ProviderStatus: pi.ProviderStatus,
		AmountMinor:    pi.AmountMinor,
		Amount:         payment.FormatMajor(pi.AmountMinor),
		Currency:       pi.Currency,
		LicenseID:      pi.LicenseID,
		GenerationID:   pi.GenerationID,
		FailureReason:  pi.FailureReason,
	}
}

func normalizeCurrency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return defaultCurrency
	}
	return c
}

// newEventID returns an id for audit rows.
func newEventID() string {
	return ulid.Make().String()
}
