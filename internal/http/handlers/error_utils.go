package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/idempotency"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

const (
	msgGenerationUnavailable = "generation service temporarily unavailable, your request was not started"
	msgPaymentUnavailable    = "payment provider temporarily unavailable, no charge was made"
	msgUpstreamFailed        = "upstream service failed"
	msgUpstreamTimeout       = "upstream service timed out"
	msgInternal              = "internal error"
)

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	var huErr huma.StatusError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &huErr):
		return huErr.GetStatus()
	case service.IsValidation(err),
		errors.Is(err, service.ErrProviderDisabled),
		errors.Is(err, service.ErrSignatureInvalid),
		errors.Is(err, service.ErrMalformedPayload),
		errors.Is(err, payment.ErrUnsupported),
		errors.Is(err, idempotency.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrDownloadLocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound), errors.Is(err, breaker.ErrUnknownBreaker):
		return http.StatusNotFound
	case service.IsConflict(err),
		errors.Is(err, service.ErrDownloadLimitReached),
		errors.Is(err, service.ErrLicenseInactive),
		errors.Is(err, service.ErrLicenseExpired):
		return http.StatusConflict
	case breaker.IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	// A provider rejection (card declined, unknown intent) is wrapped as an
	// upstream error too, so it is matched first.
	case payment.IsRejected(err):
		return http.StatusPaymentRequired
	case breaker.IsUpstream(err):
		return http.StatusBadGateway
	case breaker.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-visible message for err. Upstream and
// internal failures are not echoed back.
func messageFor(err error, status int) string {
	switch status {
	case http.StatusServiceUnavailable:
		var open *breaker.CircuitOpenError
		if errors.As(err, &open) && isPaymentDependency(open.Dependency) {
			return msgPaymentUnavailable
		}
		return msgGenerationUnavailable
	case http.StatusBadGateway:
		return msgUpstreamFailed
	case http.StatusGatewayTimeout:
		return msgUpstreamTimeout
	case http.StatusInternalServerError:
		return msgInternal
	case http.StatusPaymentRequired:
		var pe *payment.ProviderError
		if errors.As(err, &pe) && pe.Message != "" {
			return pe.Message
		}
		return "payment was declined"
	}
	return err.Error()
}

func isPaymentDependency(name string) bool {
	return name == payment.ProviderStripe || name == payment.ProviderRazorpay
}

// toHumaError converts a service error into a huma status error. Anything
// that maps to 5xx is logged with the request context.
func toHumaError(ctx context.Context, logger *slog.Logger, op string, err error) error {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, op+" failed", "status", status, "error", err)
	}
	var huErr huma.StatusError
	if errors.As(err, &huErr) {
		return huErr
	}
	return huma.NewError(status, messageFor(err, status))
}

// writeError writes {"error": msg} for raw (non-huma) handlers.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
