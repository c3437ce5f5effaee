// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/mw"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/version"
)

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the health status of the API.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// LivezOutput is the liveness probe response.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Livez reports that the process is serving requests.
func Livez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ReadyzOutput is the readiness probe response.
type ReadyzOutput struct {
	Body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}
}

// ReadyzHandler runs readiness checks against the database, object storage
// and the compute service.
type ReadyzHandler struct {
	checks []ReadinessCheck
	logger *slog.Logger
}

// NewReadyzHandler creates a readiness handler. Checks with a nil func are skipped.
func NewReadyzHandler(logger *slog.Logger, checks ...ReadinessCheck) *ReadyzHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadyzHandler{checks: checks, logger: logger}
}

// Readyz fails with 503 when any check fails.
func (h *ReadyzHandler) Readyz(ctx context.Context, input *struct{}) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Status = "ok"
	out.Body.Checks = make(map[string]string, len(h.checks))

	failed := false
	for _, c := range h.checks {
		if c.Check == nil {
			continue
		}
		if err := c.Check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", c.Name, "error", err)
			out.Body.Checks[c.Name] = "unavailable"
			failed = true
			continue
		}
		out.Body.Checks[c.Name] = "ok"
	}
	if failed {
		return nil, huma.Error503ServiceUnavailable("not ready")
	}
	return out, nil
}

// getUserID extracts user ID from context.
func getUserID(ctx context.Context) string {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return ""
	}
	return claims.UserID
}

// getUserClaims extracts user claims from context.
func getUserClaims(ctx context.Context) *mw.UserClaims {
	return mw.GetUserClaims(ctx)
}
