package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

// StatusReporter applies a compute status report.
type StatusReporter interface {
	ReportStatus(ctx context.Context, report service.StatusReport) error
}

// ComputeCallbackHandler receives push status updates from the compute
// service. Deliveries are signed with svix.
type ComputeCallbackHandler struct {
	reporter StatusReporter
	wh       *svix.Webhook
	logger   *slog.Logger
}

// NewComputeCallbackHandler creates a callback handler. An empty secret
// disables the endpoint; status then arrives only through polling.
func NewComputeCallbackHandler(reporter StatusReporter, secret string, logger *slog.Logger) (*ComputeCallbackHandler, error) {
	h := &ComputeCallbackHandler{reporter: reporter, logger: logger.With("component", "compute_callback")}
	if secret == "" {
		return h, nil
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, err
	}
	h.wh = wh
	return h, nil
}

// HandleCallback handles POST /api/v1/callbacks/compute.
func (h *ComputeCallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.wh == nil {
		writeError(w, http.StatusNotFound, "callbacks not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	headers := http.Header{}
	headers.Set("svix-id", r.Header.Get("svix-id"))
	headers.Set("svix-timestamp", r.Header.Get("svix-timestamp"))
	headers.Set("svix-signature", r.Header.Get("svix-signature"))
	if err := h.wh.Verify(payload, headers); err != nil {
		h.logger.Warn("compute callback signature rejected", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var report service.StatusReport
	if err := json.Unmarshal(payload, &report); err != nil || report.GenerationID == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := h.reporter.ReportStatus(r.Context(), report); err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to apply compute callback", "generation_id", report.GenerationID, "error", err)
		}
		writeError(w, status, messageFor(err, status))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
