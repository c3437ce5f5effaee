package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), UserClaimsKey, &UserClaims{UserID: userID}))
	}
	return req
}

// ========================================
// RateLimitByUser Tests
// ========================================

func TestRateLimitByUser_PerUserBuckets(t *testing.T) {
	h := RateLimitByUser(2)(okHandler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestAs("user-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestAs("user-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", rec.Code)
	}

	// Same IP, different user: separate bucket.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestAs("user-2"))
	if rec.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", rec.Code)
	}
}

func TestRateLimitByUser_Disabled(t *testing.T) {
	h := RateLimitByUser(0)(okHandler)
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestAs("user-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestUserKey_FallsBackToIP(t *testing.T) {
	key, err := userKey(requestAs(""))
	if err != nil {
		t.Fatalf("userKey() error = %v", err)
	}
	if key == "" || key == "user:" {
		t.Errorf("key = %q, want an IP-derived key", key)
	}

	key, _ = userKey(requestAs("user-7"))
	if key != "user:user-7" {
		t.Errorf("key = %q, want user:user-7", key)
	}
}
