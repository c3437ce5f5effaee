package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/version"
)

// DefaultRazorpayBaseURL is the Razorpay REST API root.
const DefaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayConfig configures the Razorpay adapter.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string       // defaults to DefaultRazorpayBaseURL
	HTTPClient    *http.Client // defaults to a client without timeout; the breaker bounds calls
}

// RazorpayProvider implements Provider and WebhookVerifier on Razorpay
// orders. An order plays the role of an intent: confirm captures the
// authorized payment on it and refunds go against that payment.
type RazorpayProvider struct {
	cfg    RazorpayConfig
	client *http.Client
}

// NewRazorpayProvider creates a Razorpay adapter.
func NewRazorpayProvider(cfg RazorpayConfig) *RazorpayProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRazorpayBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &RazorpayProvider{cfg: cfg, client: client}
}

func (p *RazorpayProvider) Name() string { return ProviderRazorpay }

type razorpayOrder struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

type razorpayPayment struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
}

type razorpayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

func (p *RazorpayProvider) CreateCustomer(ctx context.Context, in CustomerParams) (string, error) {
	body := map[string]any{
		"email":         in.Email,
		"fail_existing": "0",
		"notes":         map[string]string{MetaUserID: in.UserID},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/customers", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (p *RazorpayProvider) CreateIntent(ctx context.Context, in IntentParams) (*Intent, error) {
	notes := map[string]string{MetaUserID: in.UserID}
	if in.LicenseID != "" {
		notes[MetaLicenseID] = in.LicenseID
	}
	if in.GenerationID != "" {
		notes[MetaGenerationID] = in.GenerationID
	}
	body := map[string]any{
		"amount":   in.AmountMinor,
		"currency": strings.ToUpper(in.Currency),
		"notes":    notes,
	}
	if in.IdempotencyKey != "" {
		// Razorpay has no idempotency header; receipt is at least searchable.
		body["receipt"] = truncate(in.IdempotencyKey, 40)
	}
	var order razorpayOrder
	if err := p.do(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, err
	}
	return order.intent(), nil
}

// ConfirmIntent captures the payment methodRef made against order intentID.
func (p *RazorpayProvider) ConfirmIntent(ctx context.Context, intentID, methodRef string) (*Intent, error) {
	if methodRef == "" {
		return nil, &ProviderError{Provider: ProviderRazorpay, StatusCode: http.StatusBadRequest,
			Message: "a payment id is required to capture a Razorpay order"}
	}
	var order razorpayOrder
	if err := p.do(ctx, http.MethodGet, "/orders/"+intentID, nil, &order); err != nil {
		return nil, err
	}
	var pay razorpayPayment
	body := map[string]any{"amount": order.Amount, "currency": order.Currency}
	if err := p.do(ctx, http.MethodPost, "/payments/"+methodRef+"/capture", body, &pay); err != nil {
		return nil, err
	}
	if pay.OrderID != "" && pay.OrderID != intentID {
		return nil, &ProviderError{Provider: ProviderRazorpay, StatusCode: http.StatusBadRequest,
			Message: "payment does not belong to order"}
	}
	in := order.intent()
	in.ProviderStatus = pay.Status
	in.FailureReason = pay.ErrorDescription
	return in, nil
}

// CancelIntent is unsupported: Razorpay orders cannot be canceled and simply
// expire unpaid.
func (p *RazorpayProvider) CancelIntent(ctx context.Context, intentID, reason string) (*Intent, error) {
	return nil, ErrUnsupported
}

func (p *RazorpayProvider) Refund(ctx context.Context, in RefundParams) (*Refund, error) {
	var payments struct {
		Items []razorpayPayment `json:"items"`
	}
	if err := p.do(ctx, http.MethodGet, "/orders/"+in.IntentID+"/payments", nil, &payments); err != nil {
		return nil, err
	}
	var captured *razorpayPayment
	for i := range payments.Items {
		if payments.Items[i].Status == "captured" {
			captured = &payments.Items[i]
			break
		}
	}
	if captured == nil {
		return nil, &ProviderError{Provider: ProviderRazorpay, StatusCode: http.StatusBadRequest,
			Message: "order has no captured payment to refund"}
	}

	body := map[string]any{}
	if in.AmountMinor > 0 {
		body["amount"] = in.AmountMinor
	}
	if in.Reason != "" {
		body["notes"] = map[string]string{"reason": in.Reason}
	}
	var ref razorpayRefund
	if err := p.do(ctx, http.MethodPost, "/payments/"+captured.ID+"/refund", body, &ref); err != nil {
		return nil, err
	}
	return &Refund{
		ID:          ref.ID,
		IntentID:    in.IntentID,
		AmountMinor: ref.Amount,
		Currency:    strings.ToLower(ref.Currency),
		Status:      ref.Status,
	}, nil
}

// razorpaySubscriptionCycles is the billing cycle count sent on create;
// Razorpay requires a finite total and the subscription is canceled
// explicitly rather than left to run out.
const razorpaySubscriptionCycles = 120

type razorpaySubscription struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	Status       string            `json:"status"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
	ShortURL     string            `json:"short_url"`
	Notes        map[string]string `json:"notes"`
}

func (s *razorpaySubscription) subscription() *Subscription {
	return &Subscription{
		ID:                 s.ID,
		Provider:           ProviderRazorpay,
		PlanID:             s.PlanID,
		ProviderStatus:     s.Status,
		CurrentPeriodStart: unixTime(s.CurrentStart),
		CurrentPeriodEnd:   unixTime(s.CurrentEnd),
		ClientSecret:       s.ShortURL,
	}
}

func (p *RazorpayProvider) CreateSubscription(ctx context.Context, in SubscriptionParams) (*Subscription, error) {
	body := map[string]any{
		"plan_id":         in.PlanID,
		"total_count":     razorpaySubscriptionCycles,
		"customer_notify": 1,
		"notes":           map[string]string{MetaUserID: in.UserID},
	}
	var sub razorpaySubscription
	if err := p.do(ctx, http.MethodPost, "/subscriptions", body, &sub); err != nil {
		return nil, err
	}
	return sub.subscription(), nil
}

func (p *RazorpayProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*Subscription, error) {
	body := map[string]any{"cancel_at_cycle_end": boolFlag(atPeriodEnd)}
	var sub razorpaySubscription
	if err := p.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/cancel", body, &sub); err != nil {
		return nil, err
	}
	out := sub.subscription()
	// Razorpay keeps the subscription active until the cycle ends.
	out.CancelAtPeriodEnd = atPeriodEnd
	return out, nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity razorpayOrder `json:"entity"`
		} `json:"order"`
		Subscription *struct {
			Entity struct {
				ID           string            `json:"id"`
				Status       string            `json:"status"`
				CurrentStart int64             `json:"current_start"`
				CurrentEnd   int64             `json:"current_end"`
				Notes        map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"subscription"`
		Dispute *struct {
			Entity struct {
				ID         string `json:"id"`
				PaymentID  string `json:"payment_id"`
				Amount     int64  `json:"amount"`
				Currency   string `json:"currency"`
				ReasonCode string `json:"reason_code"`
				Status     string `json:"status"`
			} `json:"entity"`
		} `json:"dispute"`
	} `json:"payload"`
}

// ParseWebhook checks X-Razorpay-Signature, the hex HMAC-SHA256 of the raw
// body, and maps the event onto the closed Event set. The dedupe id comes
// from X-Razorpay-Event-Id.
func (p *RazorpayProvider) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	if !VerifyHMACHex(payload, header.Get("X-Razorpay-Signature"), p.cfg.WebhookSecret) {
		return nil, ErrSignatureInvalid
	}
	eventID := header.Get("X-Razorpay-Event-Id")
	if eventID == "" {
		return nil, fmt.Errorf("%w: missing X-Razorpay-Event-Id", ErrMalformedPayload)
	}

	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil || wh.Event == "" {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	out := &Event{ID: eventID, Provider: ProviderRazorpay, RawType: wh.Event}

	switch wh.Event {
	case "payment.captured", "order.paid", "payment.failed":
		pe, err := razorpayPaymentEvent(&wh)
		if err != nil {
			return nil, err
		}
		out.Payment = pe
		if wh.Event == "payment.failed" {
			out.Kind = EventPaymentFailed
			pe.ProviderStatus = "failed"
		} else {
			out.Kind = EventPaymentSucceeded
			pe.ProviderStatus = "paid"
		}

	case "subscription.activated", "subscription.authenticated",
		"subscription.charged", "subscription.updated", "subscription.pending", "subscription.halted",
		"subscription.cancelled", "subscription.completed":
		if wh.Payload.Subscription == nil || wh.Payload.Subscription.Entity.ID == "" {
			return nil, fmt.Errorf("%w: missing subscription entity", ErrMalformedPayload)
		}
		s := wh.Payload.Subscription.Entity
		out.Subscription = &SubscriptionEvent{
			SubscriptionID:     s.ID,
			UserID:             s.Notes[MetaUserID],
			ProviderStatus:     s.Status,
			CurrentPeriodStart: unixTime(s.CurrentStart),
			CurrentPeriodEnd:   unixTime(s.CurrentEnd),
		}
		switch wh.Event {
		case "subscription.activated", "subscription.authenticated":
			out.Kind = EventSubscriptionCreated
		case "subscription.cancelled", "subscription.completed":
			out.Kind = EventSubscriptionDeleted
		default:
			out.Kind = EventSubscriptionUpdated
		}

	case "payment.dispute.created":
		if wh.Payload.Dispute == nil || wh.Payload.Dispute.Entity.ID == "" {
			return nil, fmt.Errorf("%w: missing dispute entity", ErrMalformedPayload)
		}
		d := wh.Payload.Dispute.Entity
		out.Kind = EventDisputeCreated
		out.Dispute = &DisputeEvent{
			DisputeID:   d.ID,
			AmountMinor: d.Amount,
			Currency:    strings.ToLower(d.Currency),
			Reason:      d.ReasonCode,
			Status:      d.Status,
		}
		if wh.Payload.Payment != nil {
			out.Dispute.IntentID = wh.Payload.Payment.Entity.OrderID
		}

	default:
		out.Kind = EventUnknown
	}
	return out, nil
}

// razorpayPaymentEvent keys the event by order id, which is the intent id
// the orchestrator stored.
func razorpayPaymentEvent(wh *razorpayWebhook) (*PaymentEvent, error) {
	pe := &PaymentEvent{}
	var notes map[string]string
	if wh.Payload.Payment != nil {
		pay := wh.Payload.Payment.Entity
		pe.IntentID = pay.OrderID
		pe.AmountMinor = pay.Amount
		pe.Currency = strings.ToLower(pay.Currency)
		pe.FailureReason = pay.ErrorDescription
		notes = pay.Notes
	}
	if wh.Payload.Order != nil {
		order := wh.Payload.Order.Entity
		pe.IntentID = order.ID
		if pe.AmountMinor == 0 {
			pe.AmountMinor = order.Amount
			pe.Currency = strings.ToLower(order.Currency)
		}
		if len(order.Notes) > 0 {
			notes = order.Notes
		}
	}
	if pe.IntentID == "" {
		return nil, fmt.Errorf("%w: payment event without order id", ErrMalformedPayload)
	}
	pe.UserID = notes[MetaUserID]
	pe.LicenseID = notes[MetaLicenseID]
	pe.GenerationID = notes[MetaGenerationID]
	return pe, nil
}

func (o *razorpayOrder) intent() *Intent {
	return &Intent{
		ID:             o.ID,
		Provider:       ProviderRazorpay,
		AmountMinor:    o.Amount,
		Currency:       strings.ToLower(o.Currency),
		ProviderStatus: o.Status,
		Metadata:       o.Notes,
	}
}

// do performs one authenticated JSON call. Non-2xx responses become
// ProviderError with Razorpay's error description.
func (p *RazorpayProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(p.cfg.KeyID, p.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read razorpay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error.Description
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ProviderError{
			Provider:   ProviderRazorpay,
			StatusCode: resp.StatusCode,
			Code:       apiErr.Error.Code,
			Message:    msg,
		}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode razorpay response: %w", err)
		}
	}
	return nil
}

// VerifyHMACHex reports whether signature is the hex HMAC-SHA256 of payload
// under secret. The comparison is constant time.
func VerifyHMACHex(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignHMACHex returns the hex HMAC-SHA256 of payload under secret.
func SignHMACHex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
