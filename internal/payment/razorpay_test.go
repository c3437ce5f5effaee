package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testRazorpaySecret = "rzp_webhook_secret"

// fakeRazorpay serves the subset of the Razorpay API the adapter calls.
type fakeRazorpay struct {
	t        *testing.T
	captured map[string]any
	refunded map[string]any
	created  map[string]any
	canceled map[string]any
}

func (f *fakeRazorpay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "rzp_key" || pass != "rzp_secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/orders":
		if body["currency"] != "INR" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"currency is invalid"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"order_1","amount":150000,"currency":"INR","status":"created","notes":{"license_id":"lic_1"}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/orders/order_1":
		_, _ = w.Write([]byte(`{"id":"order_1","amount":150000,"currency":"INR","status":"attempted"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/payments/pay_1/capture":
		f.captured = body
		_, _ = w.Write([]byte(`{"id":"pay_1","order_id":"order_1","amount":150000,"currency":"INR","status":"captured"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/payments/pay_other/capture":
		_, _ = w.Write([]byte(`{"id":"pay_other","order_id":"order_9","amount":150000,"currency":"INR","status":"captured"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/orders/order_1/payments":
		_, _ = w.Write([]byte(`{"items":[
			{"id":"pay_0","order_id":"order_1","status":"failed"},
			{"id":"pay_1","order_id":"order_1","status":"captured"}]}`))
	case r.Method == http.MethodGet && r.URL.Path == "/orders/order_unpaid/payments":
		_, _ = w.Write([]byte(`{"items":[]}`))
	case r.Method == http.MethodPost && r.URL.Path == "/subscriptions":
		f.created = body
		_, _ = w.Write([]byte(`{"id":"sub_1","plan_id":"plan_pro","status":"created","short_url":"https://rzp.io/i/abc","notes":{"user_id":"user_1"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/subscriptions/sub_1/cancel":
		f.canceled = body
		_, _ = w.Write([]byte(`{"id":"sub_1","plan_id":"plan_pro","status":"active","current_start":1760000000,"current_end":1762600000}`))
	case r.Method == http.MethodPost && r.URL.Path == "/payments/pay_1/refund":
		f.refunded = body
		_, _ = w.Write([]byte(`{"id":"rfnd_1","payment_id":"pay_1","amount":50000,"currency":"INR","status":"processed"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The requested URL was not found on the server."}}`))
	}
}

func newTestRazorpay(t *testing.T) (*RazorpayProvider, *fakeRazorpay) {
	t.Helper()
	fake := &fakeRazorpay{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	p := NewRazorpayProvider(RazorpayConfig{
		KeyID:         "rzp_key",
		KeySecret:     "rzp_secret",
		WebhookSecret: testRazorpaySecret,
		BaseURL:       srv.URL + "/",
	})
	return p, fake
}

// ========================================
// Razorpay API Tests
// ========================================

func TestRazorpayProvider_CreateIntent(t *testing.T) {
	p, _ := newTestRazorpay(t)

	in, err := p.CreateIntent(context.Background(), IntentParams{
		AmountMinor: 150000, Currency: "inr", UserID: "user_1", LicenseID: "lic_1",
	})
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	if in.ID != "order_1" || in.Provider != ProviderRazorpay || in.Currency != "inr" {
		t.Errorf("Intent = %+v", in)
	}
	if Normalize(ProviderRazorpay, in.ProviderStatus) != "pending" {
		t.Errorf("created order should normalize to pending, got %s", in.ProviderStatus)
	}
	if in.Metadata[MetaLicenseID] != "lic_1" {
		t.Errorf("Metadata = %v", in.Metadata)
	}
}

func TestRazorpayProvider_ConfirmCapturesPayment(t *testing.T) {
	p, fake := newTestRazorpay(t)

	in, err := p.ConfirmIntent(context.Background(), "order_1", "pay_1")
	if err != nil {
		t.Fatalf("ConfirmIntent() error = %v", err)
	}
	if Normalize(ProviderRazorpay, in.ProviderStatus) != "succeeded" {
		t.Errorf("ProviderStatus = %q, want captured", in.ProviderStatus)
	}
	if fake.captured["amount"] != float64(150000) || fake.captured["currency"] != "INR" {
		t.Errorf("capture body = %v", fake.captured)
	}
}

func TestRazorpayProvider_ConfirmRejectsForeignPayment(t *testing.T) {
	p, _ := newTestRazorpay(t)

	_, err := p.ConfirmIntent(context.Background(), "order_1", "pay_other")
	if !IsRejected(err) {
		t.Errorf("ConfirmIntent() error = %v, want rejection", err)
	}

	_, err = p.ConfirmIntent(context.Background(), "order_1", "")
	if !IsRejected(err) {
		t.Errorf("ConfirmIntent(no payment) error = %v, want rejection", err)
	}
}

func TestRazorpayProvider_CancelUnsupported(t *testing.T) {
	p, _ := newTestRazorpay(t)
	if _, err := p.CancelIntent(context.Background(), "order_1", "abandoned"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("CancelIntent() error = %v, want ErrUnsupported", err)
	}
}

func TestRazorpayProvider_Refund(t *testing.T) {
	p, fake := newTestRazorpay(t)

	ref, err := p.Refund(context.Background(), RefundParams{IntentID: "order_1", AmountMinor: 50000, Reason: "requested_by_customer"})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if ref.ID != "rfnd_1" || ref.IntentID != "order_1" || ref.AmountMinor != 50000 {
		t.Errorf("Refund = %+v", ref)
	}
	if fake.refunded["amount"] != float64(50000) {
		t.Errorf("refund body = %v", fake.refunded)
	}

	_, err = p.Refund(context.Background(), RefundParams{IntentID: "order_unpaid"})
	if !IsRejected(err) {
		t.Errorf("Refund(unpaid) error = %v, want rejection", err)
	}
}

func TestRazorpayProvider_Subscriptions(t *testing.T) {
	p, fake := newTestRazorpay(t)
	ctx := context.Background()

	sub, err := p.CreateSubscription(ctx, SubscriptionParams{PlanID: "plan_pro", UserID: "user_1"})
	if err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	if sub.ID != "sub_1" || sub.PlanID != "plan_pro" || sub.ClientSecret != "https://rzp.io/i/abc" {
		t.Errorf("Subscription = %+v", sub)
	}
	if NormalizeSubscription(ProviderRazorpay, sub.ProviderStatus) != "pending" {
		t.Errorf("created subscription should normalize to pending, got %s", sub.ProviderStatus)
	}
	if fake.created["plan_id"] != "plan_pro" || fake.created["total_count"] != float64(razorpaySubscriptionCycles) {
		t.Errorf("create body = %v", fake.created)
	}

	canceled, err := p.CancelSubscription(ctx, "sub_1", true)
	if err != nil {
		t.Fatalf("CancelSubscription() error = %v", err)
	}
	if !canceled.CancelAtPeriodEnd || canceled.CurrentPeriodEnd == nil {
		t.Errorf("Subscription = %+v, want cancel at period end with period bounds", canceled)
	}
	if fake.canceled["cancel_at_cycle_end"] != float64(1) {
		t.Errorf("cancel body = %v", fake.canceled)
	}

	if _, err := p.CancelSubscription(ctx, "sub_missing", false); !IsRejected(err) {
		t.Errorf("CancelSubscription(missing) error = %v, want rejection", err)
	}
}

func TestRazorpayProvider_ErrorMapping(t *testing.T) {
	p, _ := newTestRazorpay(t)

	_, err := p.CreateIntent(context.Background(), IntentParams{AmountMinor: 100, Currency: "XYZ", UserID: "u"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("CreateIntent() error = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusBadRequest || pe.Message != "currency is invalid" || pe.Code != "BAD_REQUEST_ERROR" {
		t.Errorf("ProviderError = %+v", pe)
	}

	bad := NewRazorpayProvider(RazorpayConfig{KeyID: "wrong", KeySecret: "wrong", BaseURL: p.cfg.BaseURL})
	_, err = bad.CreateIntent(context.Background(), IntentParams{AmountMinor: 100, Currency: "INR", UserID: "u"})
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusUnauthorized {
		t.Errorf("CreateIntent(bad auth) error = %v, want 401", err)
	}
	if IsRejected(err) {
		t.Error("auth failure is a configuration problem, not a rejection")
	}
}

// ========================================
// Razorpay Webhook Tests
// ========================================

func razorpayHeader(payload []byte, eventID string) http.Header {
	h := http.Header{}
	h.Set("X-Razorpay-Signature", SignHMACHex(payload, testRazorpaySecret))
	h.Set("X-Razorpay-Event-Id", eventID)
	return h
}

func TestRazorpayParseWebhook_PaymentCaptured(t *testing.T) {
	p, _ := newTestRazorpay(t)
	payload := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{
		"id":"pay_1","order_id":"order_1","amount":150000,"currency":"INR","status":"captured",
		"notes":{"user_id":"user_1","license_id":"lic_1"}}}}}`)

	ev, err := p.ParseWebhook(payload, razorpayHeader(payload, "evt_rzp_1"))
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if ev.ID != "evt_rzp_1" || ev.Kind != EventPaymentSucceeded {
		t.Fatalf("event = %s/%s", ev.ID, ev.Kind)
	}
	if ev.Payment.IntentID != "order_1" || ev.Payment.LicenseID != "lic_1" || ev.Payment.Currency != "inr" {
		t.Errorf("Payment = %+v", ev.Payment)
	}
	if Normalize(ProviderRazorpay, ev.Payment.ProviderStatus) != "succeeded" {
		t.Errorf("ProviderStatus = %q", ev.Payment.ProviderStatus)
	}
}

func TestRazorpayParseWebhook_OrderPaidUsesOrderNotes(t *testing.T) {
	p, _ := newTestRazorpay(t)
	payload := []byte(`{"event":"order.paid","payload":{
		"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":150000,"currency":"INR","status":"captured"}},
		"order":{"entity":{"id":"order_1","amount":150000,"currency":"INR","status":"paid","notes":{"license_id":"lic_7"}}}}}`)

	ev, err := p.ParseWebhook(payload, razorpayHeader(payload, "evt_rzp_2"))
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if ev.Kind != EventPaymentSucceeded || ev.Payment.LicenseID != "lic_7" {
		t.Errorf("event = %s, Payment = %+v", ev.Kind, ev.Payment)
	}
}

func TestRazorpayParseWebhook_PaymentFailed(t *testing.T) {
	p, _ := newTestRazorpay(t)
	payload := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{
		"id":"pay_2","order_id":"order_2","amount":150000,"currency":"INR","status":"failed",
		"error_description":"Payment was declined by the bank"}}}}`)

	ev, err := p.ParseWebhook(payload, razorpayHeader(payload, "evt_rzp_3"))
	if err != nil {
		t.Fatalf("ParseWebhook() error = %v", err)
	}
	if ev.Kind != EventPaymentFailed || ev.Payment.FailureReason != "Payment was declined by the bank" {
		t.Errorf("event = %s, Payment = %+v", ev.Kind, ev.Payment)
	}
}

func TestRazorpayParseWebhook_SubscriptionAndDispute(t *testing.T) {
	p, _ := newTestRazorpay(t)

	sub := []byte(`{"event":"subscription.cancelled","payload":{"subscription":{"entity":{
		"id":"sub_1","status":"cancelled","current_start":1700000000,"current_end":1702592000,
		"notes":{"user_id":"user_3"}}}}}`)
	ev, err := p.ParseWebhook(sub, razorpayHeader(sub, "evt_rzp_4"))
	if err != nil {
		t.Fatalf("ParseWebhook(subscription) error = %v", err)
	}
	if ev.Kind != EventSubscriptionDeleted || ev.Subscription.UserID != "user_3" {
		t.Errorf("event = %s, Subscription = %+v", ev.Kind, ev.Subscription)
	}

	dispute := []byte(`{"event":"payment.dispute.created","payload":{
		"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":150000,"currency":"INR","status":"captured"}},
		"dispute":{"entity":{"id":"disp_1","payment_id":"pay_1","amount":150000,"currency":"INR",
		"reason_code":"chargeback","status":"open"}}}}`)
	ev, err = p.ParseWebhook(dispute, razorpayHeader(dispute, "evt_rzp_5"))
	if err != nil {
		t.Fatalf("ParseWebhook(dispute) error = %v", err)
	}
	if ev.Kind != EventDisputeCreated || ev.Dispute.IntentID != "order_1" || ev.Dispute.Reason != "chargeback" {
		t.Errorf("event = %s, Dispute = %+v", ev.Kind, ev.Dispute)
	}
}

func TestRazorpayParseWebhook_Rejections(t *testing.T) {
	p, _ := newTestRazorpay(t)
	payload := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1"}}}}`)

	h := razorpayHeader(payload, "evt_rzp_6")
	h.Set("X-Razorpay-Signature", SignHMACHex(payload, "some-other-secret"))
	if _, err := p.ParseWebhook(payload, h); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("wrong secret: error = %v, want ErrSignatureInvalid", err)
	}

	h.Set("X-Razorpay-Signature", "not-hex")
	if _, err := p.ParseWebhook(payload, h); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("non-hex signature: error = %v, want ErrSignatureInvalid", err)
	}

	h = razorpayHeader(payload, "")
	if _, err := p.ParseWebhook(payload, h); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("missing event id: error = %v, want ErrMalformedPayload", err)
	}

	noOrder := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)
	if _, err := p.ParseWebhook(noOrder, razorpayHeader(noOrder, "evt_rzp_7")); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("missing order id: error = %v, want ErrMalformedPayload", err)
	}

	unknown := []byte(`{"event":"invoice.paid","payload":{}}`)
	ev, err := p.ParseWebhook(unknown, razorpayHeader(unknown, "evt_rzp_8"))
	if err != nil || ev.Kind != EventUnknown {
		t.Errorf("unknown event: ev = %+v, err = %v", ev, err)
	}
}

func TestVerifyHMACHex(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := SignHMACHex(body, "secret")
	if !VerifyHMACHex(body, sig, "secret") {
		t.Error("signature should verify")
	}
	if VerifyHMACHex(body, sig, "") {
		t.Error("empty secret must never verify")
	}
	if VerifyHMACHex([]byte(`{"a":2}`), sig, "secret") {
		t.Error("changed body must not verify")
	}
}
