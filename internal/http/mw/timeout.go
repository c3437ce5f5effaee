package mw

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// TimeoutRule gives requests matching Method and PathPrefix their own deadline.
// An empty Method matches every method.
type TimeoutRule struct {
	Method     string
	PathPrefix string
	Timeout    time.Duration
}

// TimeoutConfig defines request deadlines.
type TimeoutConfig struct {
	Default time.Duration
	// Rules are matched in order; the first match wins.
	Rules []TimeoutRule
}

// Timeout attaches a deadline to the request context. Handlers observe it
// through the context, so a breaker-wrapped call that runs out of time
// surfaces as a timeout error instead of a dropped connection.
func Timeout(cfg TimeoutConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := cfg.timeoutFor(r)
			if d <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (c TimeoutConfig) timeoutFor(r *http.Request) time.Duration {
	for _, rule := range c.Rules {
		if rule.Method != "" && rule.Method != r.Method {
			continue
		}
		if strings.HasPrefix(r.URL.Path, rule.PathPrefix) {
			return rule.Timeout
		}
	}
	return c.Default
}
