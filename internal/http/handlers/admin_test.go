package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
)

type staticShared struct {
	states map[string]breaker.State
	err    error
}

func (s staticShared) SharedStates(context.Context) (map[string]breaker.State, error) {
	return s.states, s.err
}

type fakeDisputes struct{ disputes []*models.Dispute }

func (f fakeDisputes) Disputes(context.Context, int, int) ([]*models.Dispute, error) {
	return f.disputes, nil
}

func newAdminHandler(shared SharedStateReader) (*AdminHandler, *breaker.Registry) {
	reg := breaker.NewRegistry(breaker.NewMetrics())
	for name, p := range breaker.DefaultPolicies() {
		reg.Register(name, p)
	}
	disputes := fakeDisputes{disputes: []*models.Dispute{{ID: "dp_1", Provider: "stripe", Status: "needs_response"}}}
	return NewAdminHandler(reg, shared, disputes, discardLogger), reg
}

// ========================================
// Breaker admin Tests
// ========================================

func TestAdmin_RequiresAdmin(t *testing.T) {
	h, _ := newAdminHandler(nil)

	_, err := h.ListBreakers(withUser("user-1"), nil)
	if got := statusOf(t, err); got != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", got)
	}
	_, err = h.ListBreakers(context.Background(), nil)
	if got := statusOf(t, err); got != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", got)
	}
}

func TestAdmin_ListBreakers(t *testing.T) {
	h, _ := newAdminHandler(staticShared{states: map[string]breaker.State{"stripe": breaker.StateOpen}})

	out, err := h.ListBreakers(withAdmin("admin-1"), nil)
	if err != nil {
		t.Fatalf("ListBreakers() error = %v", err)
	}
	if len(out.Body.Breakers) != len(breaker.DefaultPolicies()) {
		t.Fatalf("len = %d, want %d", len(out.Body.Breakers), len(breaker.DefaultPolicies()))
	}
	for _, b := range out.Body.Breakers {
		if b.State != breaker.StateClosed {
			t.Errorf("%s State = %q, want closed", b.Name, b.State)
		}
		if b.Policy.TimeoutMs <= 0 {
			t.Errorf("%s TimeoutMs = %d", b.Name, b.Policy.TimeoutMs)
		}
		if b.Name == "stripe" && b.SharedState != breaker.StateOpen {
			t.Errorf("stripe SharedState = %q, want open", b.SharedState)
		}
	}
}

func TestAdmin_SharedStateErrorIsIgnored(t *testing.T) {
	h, _ := newAdminHandler(staticShared{err: errors.New("redis down")})
	if _, err := h.ListBreakers(withAdmin("admin-1"), nil); err != nil {
		t.Fatalf("ListBreakers() error = %v", err)
	}
}

func TestAdmin_ForceOpenClose(t *testing.T) {
	h, reg := newAdminHandler(nil)
	ctx := withAdmin("admin-1")

	out, err := h.OpenBreaker(ctx, &BreakerNameInput{Name: "ai-service"})
	if err != nil {
		t.Fatalf("OpenBreaker() error = %v", err)
	}
	if out.Body.State != breaker.StateOpen || !out.Body.Forced {
		t.Errorf("after open: State = %q, Forced = %v", out.Body.State, out.Body.Forced)
	}
	if _, err := breaker.Call(context.Background(), reg, "ai-service", func(context.Context) (int, error) { return 1, nil }); !breaker.IsCircuitOpen(err) {
		t.Errorf("call through forced-open breaker error = %v, want circuit open", err)
	}

	out, err = h.CloseBreaker(ctx, &BreakerNameInput{Name: "ai-service"})
	if err != nil {
		t.Fatalf("CloseBreaker() error = %v", err)
	}
	if out.Body.State != breaker.StateClosed || out.Body.Forced {
		t.Errorf("after close: State = %q, Forced = %v", out.Body.State, out.Body.Forced)
	}
}

func TestAdmin_UnknownBreaker(t *testing.T) {
	h, _ := newAdminHandler(nil)
	ctx := withAdmin("admin-1")

	_, err := h.GetBreaker(ctx, &BreakerNameInput{Name: "paypal"})
	if got := statusOf(t, err); got != http.StatusNotFound {
		t.Errorf("GetBreaker status = %d, want 404", got)
	}
	_, err = h.OpenBreaker(ctx, &BreakerNameInput{Name: "paypal"})
	if got := statusOf(t, err); got != http.StatusNotFound {
		t.Errorf("OpenBreaker status = %d, want 404", got)
	}
}

// ========================================
// Metrics / Disputes Tests
// ========================================

func TestAdmin_GetMetrics(t *testing.T) {
	h, reg := newAdminHandler(nil)
	_ = reg.Invoke(context.Background(), "stripe", func(context.Context) error { return nil })
	_ = reg.Invoke(context.Background(), "stripe", func(context.Context) error { return errors.New("502") })

	out, err := h.GetMetrics(withAdmin("admin-1"), nil)
	if err != nil {
		t.Fatalf("GetMetrics() error = %v", err)
	}
	m, ok := out.Body.Dependencies["stripe"]
	if !ok {
		t.Fatal("no metrics for stripe")
	}
	if m.Requests != 2 || m.Successes != 1 || m.Failures != 1 {
		t.Errorf("stripe metrics = %+v", m)
	}
}

func TestAdmin_ListDisputes(t *testing.T) {
	h, _ := newAdminHandler(nil)

	out, err := h.ListDisputes(withAdmin("admin-1"), &PageInput{Limit: 20})
	if err != nil {
		t.Fatalf("ListDisputes() error = %v", err)
	}
	if len(out.Body.Disputes) != 1 || out.Body.Disputes[0].ID != "dp_1" {
		t.Errorf("Disputes = %+v", out.Body.Disputes)
	}
}
