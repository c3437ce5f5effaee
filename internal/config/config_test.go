package config

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
)

// ========================================
// Helper Functions Tests
// ========================================

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_GET_ENV", "test_value")
	t.Setenv("TEST_EMPTY_VAR", "")

	if got := getEnv("TEST_GET_ENV", "default"); got != "test_value" {
		t.Errorf("getEnv() = %q, want %q", got, "test_value")
	}
	if got := getEnv("TEST_MISSING_VAR", "default_value"); got != "default_value" {
		t.Errorf("getEnv() = %q, want %q", got, "default_value")
	}
	if got := getEnv("TEST_EMPTY_VAR", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want %q (empty should use default)", got, "default")
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"valid integer", "42", 42},
		{"negative integer", "-5", -5},
		{"invalid integer", "not-a-number", 99},
		{"unset", "", 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.value)
			if got := getEnvInt("TEST_INT", 99); got != tt.want {
				t.Errorf("getEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := getEnvBool("TEST_BOOL", !tt.want); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	if !getEnvBool("TEST_BOOL_MISSING", true) {
		t.Error("missing var should return default true")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "1h30m")
	t.Setenv("TEST_DUR_INVALID", "not-a-duration")

	if got := getEnvDuration("TEST_DUR", time.Hour); got != 90*time.Minute {
		t.Errorf("getEnvDuration() = %v, want 1h30m", got)
	}
	if got := getEnvDuration("TEST_DUR_INVALID", 2*time.Hour); got != 2*time.Hour {
		t.Errorf("getEnvDuration() = %v, want 2h (default)", got)
	}
	if got := getEnvDuration("TEST_DUR_MISSING", 30*time.Second); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want 30s (default)", got)
	}
}

func TestGetEnvSlice(t *testing.T) {
	t.Setenv("TEST_SLICE", "https://a.example, https://b.example")

	got := getEnvSlice("TEST_SLICE", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("getEnvSlice() = %v, want trimmed [a b]", got)
	}
	if got := getEnvSlice("TEST_SLICE_MISSING", []string{"d"}); len(got) != 1 || got[0] != "d" {
		t.Errorf("getEnvSlice() = %v, want default", got)
	}
}

func TestGetEnvWithFallback(t *testing.T) {
	t.Setenv("FALLBACK_KEY", "fallback_value")

	if got := getEnvWithFallback("MISSING_PRIMARY", "FALLBACK_KEY", "default"); got != "fallback_value" {
		t.Errorf("getEnvWithFallback() = %q, want fallback_value", got)
	}
	t.Setenv("PRIMARY_KEY", "primary_value")
	if got := getEnvWithFallback("PRIMARY_KEY", "FALLBACK_KEY", "default"); got != "primary_value" {
		t.Errorf("getEnvWithFallback() = %q, want primary_value", got)
	}
	if got := getEnvWithFallback("MISSING1", "MISSING2", "the_default"); got != "the_default" {
		t.Errorf("getEnvWithFallback() = %q, want the_default", got)
	}
}

// ========================================
// Key Derivation Tests
// ========================================

func TestDeriveSigningKey(t *testing.T) {
	key := deriveSigningKey("test-secret")
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}
	if !bytes.Equal(key, deriveSigningKey("test-secret")) {
		t.Error("same input should produce same key")
	}
	if bytes.Equal(key, deriveSigningKey("different-secret")) {
		t.Error("different input should produce different key")
	}
	if len(deriveSigningKey("")) != 32 {
		t.Error("empty secret should still produce a 32-byte key")
	}
}

// ========================================
// Breaker Override Tests
// ========================================

func TestApplyBreakerOverrides(t *testing.T) {
	t.Setenv("BREAKER_AI_SERVICE_TIMEOUT", "90s")
	t.Setenv("BREAKER_AI_SERVICE_THRESHOLD", "75")
	t.Setenv("BREAKER_AI_SERVICE_RESET", "2m")
	t.Setenv("BREAKER_STRIPE_THRESHOLD", "250")

	ai := applyBreakerOverrides(breaker.DependencyAIService, breaker.DefaultPolicy())
	if ai.Timeout != 90*time.Second || ai.ErrorThresholdPercentage != 75 || ai.ResetTimeout != 2*time.Minute {
		t.Errorf("ai-service policy = %+v", ai)
	}

	stripe := applyBreakerOverrides(breaker.DependencyStripe, breaker.DefaultPolicy())
	if stripe.ErrorThresholdPercentage != 50 {
		t.Errorf("out-of-range threshold should be ignored, got %v", stripe.ErrorThresholdPercentage)
	}
}

// ========================================
// Load Tests
// ========================================

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Error("Load() without JWT_SECRET should fail")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("AI_SERVICE_URL", "")
	t.Setenv("AI_SERVICE_TIMEOUT", "120s")
	t.Setenv("BASE_URL", "https://api.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.UseMockCompute() {
		t.Error("empty AI_SERVICE_URL should select the mock backend")
	}
	if cfg.MockResultBaseURL != "https://api.example.com/api/v1/files/mock" {
		t.Errorf("MockResultBaseURL = %q", cfg.MockResultBaseURL)
	}
	if !bytes.Equal(cfg.DownloadSigningKey, deriveSigningKey("jwt-secret")) {
		t.Error("signing key should be derived from JWT_SECRET")
	}
	if got := cfg.BreakerPolicies[breaker.DependencyAIService].Timeout; got != 120*time.Second {
		t.Errorf("ai-service timeout = %v, want 120s", got)
	}
	if got := cfg.BreakerPolicies[breaker.DependencyStripe].Timeout; got != 15*time.Second {
		t.Errorf("stripe timeout = %v, want 15s", got)
	}
	if cfg.StaleGenerationAge != 10*time.Minute {
		t.Errorf("StaleGenerationAge = %v, want 10m", cfg.StaleGenerationAge)
	}
}

func TestLoad_ExplicitSigningKey(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, 32)
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("DOWNLOAD_SIGNING_KEY", base64.StdEncoding.EncodeToString(raw))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(cfg.DownloadSigningKey, raw) {
		t.Error("explicit DOWNLOAD_SIGNING_KEY should be used as-is")
	}

	t.Setenv("DOWNLOAD_SIGNING_KEY", "dG9vLXNob3J0")
	if _, err := Load(); err == nil {
		t.Error("short DOWNLOAD_SIGNING_KEY should fail")
	}
}

func TestConfig_ProviderToggles(t *testing.T) {
	cfg := &Config{StripeSecretKey: "sk_test", RazorpayKeyID: "rzp_key"}
	if !cfg.StripeEnabled() {
		t.Error("StripeEnabled() should be true with a secret key")
	}
	if cfg.RazorpayEnabled() {
		t.Error("RazorpayEnabled() needs both key id and secret")
	}
}
