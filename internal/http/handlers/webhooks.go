package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

const maxWebhookBodySize = 65536 // 64KB

// WebhookEventHandler verifies and applies one provider event.
type WebhookEventHandler interface {
	HandleEvent(ctx context.Context, provider string, payload []byte, header http.Header) error
}

// PaymentWebhookHandler receives Stripe and Razorpay webhooks. These are raw
// chi handlers because the signature covers the exact request bytes.
type PaymentWebhookHandler struct {
	events WebhookEventHandler
	logger *slog.Logger
}

// NewPaymentWebhookHandler creates a new payment webhook handler.
func NewPaymentWebhookHandler(events WebhookEventHandler, logger *slog.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{events: events, logger: logger.With("component", "payment_webhook")}
}

// HandleStripe handles POST /api/v1/webhooks/stripe.
func (h *PaymentWebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, payment.ProviderStripe)
}

// HandleRazorpay handles POST /api/v1/webhooks/razorpay.
func (h *PaymentWebhookHandler) HandleRazorpay(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, payment.ProviderRazorpay)
}

// handle answers 200 once the event is applied or was already applied. Any
// 5xx makes the provider redeliver, which the event log deduplicates.
func (h *PaymentWebhookHandler) handle(w http.ResponseWriter, r *http.Request, provider string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read webhook body", "provider", provider, "error", err)
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	err = h.events.HandleEvent(r.Context(), provider, payload, r.Header)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrSignatureInvalid):
		h.logger.Warn("webhook signature rejected", "provider", provider, "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, service.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "invalid payload")
	case errors.Is(err, service.ErrProviderDisabled):
		writeError(w, http.StatusNotFound, "provider not configured")
	default:
		h.logger.Error("failed to handle webhook", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process event")
	}
}
