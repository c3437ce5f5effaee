package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByUser limits authenticated callers per user id, falling back to
// the client IP. Apply after Auth. A limit of 0 disables limiting.
func RateLimitByUser(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(userKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

func userKey(r *http.Request) (string, error) {
	claims := GetUserClaims(r.Context())
	if claims == nil || claims.UserID == "" {
		return httprate.KeyByIP(r)
	}
	return "user:" + claims.UserID, nil
}

// RateLimitByIP limits by client address. Used for public endpoints.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
