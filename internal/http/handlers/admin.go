package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/mw"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

// BreakerRegistry is the part of breaker.Registry the admin API needs.
type BreakerRegistry interface {
	Statuses() []breaker.Status
	Status(name string) (breaker.Status, error)
	ForceOpen(name string) error
	ForceClose(name string) error
	Metrics() *breaker.Metrics
}

// SharedStateReader reads breaker states published by other instances.
type SharedStateReader interface {
	SharedStates(ctx context.Context) (map[string]breaker.State, error)
}

// DisputeLister lists provider disputes.
type DisputeLister interface {
	Disputes(ctx context.Context, limit, offset int) ([]*models.Dispute, error)
}

// AdminHandler handles admin endpoints.
type AdminHandler struct {
	breakers BreakerRegistry
	shared   SharedStateReader // optional
	disputes DisputeLister
	logger   *slog.Logger
}

// NewAdminHandler creates a new admin handler. shared may be nil.
func NewAdminHandler(breakers BreakerRegistry, shared SharedStateReader, disputes DisputeLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		breakers: breakers,
		shared:   shared,
		disputes: disputes,
		logger:   logger.With("component", "admin_handler"),
	}
}

// PolicyResponse is a breaker policy with durations in milliseconds.
type PolicyResponse struct {
	TimeoutMs                int64   `json:"timeout_ms"`
	ErrorThresholdPercentage float64 `json:"error_threshold_percentage"`
	ResetTimeoutMs           int64   `json:"reset_timeout_ms"`
	RollingWindowMs          int64   `json:"rolling_window_ms"`
	Buckets                  int     `json:"buckets"`
	VolumeThreshold          int     `json:"volume_threshold"`
}

// BreakerResponse is one breaker in API responses.
type BreakerResponse struct {
	breaker.Status
	Policy      PolicyResponse `json:"policy"`
	SharedState breaker.State  `json:"shared_state,omitempty" doc:"Last state published by any instance"`
}

func breakerResponse(s breaker.Status, shared map[string]breaker.State) BreakerResponse {
	return BreakerResponse{
		Status: s,
		Policy: PolicyResponse{
			TimeoutMs:                s.Policy.Timeout.Milliseconds(),
			ErrorThresholdPercentage: s.Policy.ErrorThresholdPercentage,
			ResetTimeoutMs:           s.Policy.ResetTimeout.Milliseconds(),
			RollingWindowMs:          s.Policy.RollingWindow.Milliseconds(),
			Buckets:                  s.Policy.Buckets,
			VolumeThreshold:          s.Policy.VolumeThreshold,
		},
		SharedState: shared[s.Name],
	}
}

// sharedStates is best effort; an unreachable Redis only hides the column.
func (h *AdminHandler) sharedStates(ctx context.Context) map[string]breaker.State {
	if h.shared == nil {
		return nil
	}
	states, err := h.shared.SharedStates(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read shared breaker states", "error", err)
		return nil
	}
	return states
}

// ListBreakersOutput lists all breakers.
type ListBreakersOutput struct {
	Body struct {
		Breakers []BreakerResponse `json:"breakers"`
	}
}

// ListBreakers returns the state of every registered breaker.
func (h *AdminHandler) ListBreakers(ctx context.Context, input *struct{}) (*ListBreakersOutput, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	shared := h.sharedStates(ctx)
	out := &ListBreakersOutput{}
	out.Body.Breakers = []BreakerResponse{}
	for _, s := range h.breakers.Statuses() {
		out.Body.Breakers = append(out.Body.Breakers, breakerResponse(s, shared))
	}
	return out, nil
}

// BreakerNameInput identifies one breaker.
type BreakerNameInput struct {
	Name string `path:"name" doc:"Dependency name (ai-service, mock, stripe, razorpay)"`
}

// BreakerOutput is a single breaker.
type BreakerOutput struct {
	Body BreakerResponse
}

// GetBreaker returns one breaker.
func (h *AdminHandler) GetBreaker(ctx context.Context, input *BreakerNameInput) (*BreakerOutput, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return h.breakerOutput(ctx, input.Name)
}

// OpenBreaker forces a breaker open until it is closed again.
func (h *AdminHandler) OpenBreaker(ctx context.Context, input *BreakerNameInput) (*BreakerOutput, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := h.breakers.ForceOpen(input.Name); err != nil {
		return nil, toHumaError(ctx, h.logger, "force open", err)
	}
	h.logger.WarnContext(ctx, "breaker forced open", "breaker", input.Name, "by", getUserID(ctx))
	return h.breakerOutput(ctx, input.Name)
}

// CloseBreaker closes a breaker and clears its window.
func (h *AdminHandler) CloseBreaker(ctx context.Context, input *BreakerNameInput) (*BreakerOutput, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := h.breakers.ForceClose(input.Name); err != nil {
		return nil, toHumaError(ctx, h.logger, "force close", err)
	}
	h.logger.InfoContext(ctx, "breaker forced closed", "breaker", input.Name, "by", getUserID(ctx))
	return h.breakerOutput(ctx, input.Name)
}

func (h *AdminHandler) breakerOutput(ctx context.Context, name string) (*BreakerOutput, error) {
	s, err := h.breakers.Status(name)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "breaker status", err)
	}
	return &BreakerOutput{Body: breakerResponse(s, h.sharedStates(ctx))}, nil
}

// MetricsOutput is the cumulative per-dependency metrics.
type MetricsOutput struct {
	Body struct {
		Dependencies map[string]breaker.DependencyMetrics `json:"dependencies"`
	}
}

// GetMetrics returns the metrics store contents.
func (h *AdminHandler) GetMetrics(ctx context.Context, input *struct{}) (*MetricsOutput, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	out := &MetricsOutput{}
	out.Body.Dependencies = h.breakers.Metrics().All()
	return out, nil
}

// ListDisputesOutput lists disputes awaiting manual review.
type ListDisputesOutput struct {
	Body struct {
		Disputes []*models.Dispute `json:"disputes"`
	}
}

// ListDisputes returns provider disputes, newest first.
func (h *AdminHandler) ListDisputes(ctx context.Context, input *PageInput) (*ListDisputesOutput, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	disputes, err := h.disputes.Disputes(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "list disputes", err)
	}
	out := &ListDisputesOutput{}
	out.Body.Disputes = disputes
	if out.Body.Disputes == nil {
		out.Body.Disputes = []*models.Dispute{}
	}
	return out, nil
}

// requireAdmin repeats the router-level check so the handlers are safe to
// mount on any group.
func requireAdmin(ctx context.Context) error {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return huma.Error401Unauthorized("unauthorized")
	}
	if !claims.Admin {
		return huma.Error403Forbidden("admin access required")
	}
	return nil
}
