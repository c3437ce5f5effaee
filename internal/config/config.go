// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/hkdf"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port        int
	BaseURL     string
	CORSOrigins []string

	// Database. TursoURL wins over DatabaseURL when set.
	DatabaseURL    string
	TursoURL       string
	TursoAuthToken string

	// Authentication
	JWTSecret string
	JWTIssuer string // optional; checked when set

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Razorpay
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	// Compute service. An empty AIServiceURL selects the mock backend.
	AIServiceURL          string
	AIServiceAPIKey       string
	AIServiceTimeout      time.Duration
	ComputeCallbackSecret string // svix signing secret for push status callbacks
	MockResultBaseURL     string

	// Object Storage (Tigris/S3-compatible)
	StorageEnabled     bool
	StorageEndpoint    string // AWS_ENDPOINT_URL_S3
	StorageAccessKey   string // AWS_ACCESS_KEY_ID
	StorageSecretKey   string // AWS_SECRET_ACCESS_KEY
	StorageBucket      string
	StorageRegion      string
	DownloadURLTTL     time.Duration
	DownloadSigningKey []byte // 32-byte HMAC key for local download links

	// Breaker state fan-out. Empty disables the Redis publisher.
	RedisURL string

	// Idempotency key store
	IdempotencyDBPath string
	IdempotencyTTL    time.Duration

	// Worker
	WorkerPollInterval        time.Duration // How often in-flight generations are polled (default 5s)
	WorkerConcurrency         int           // Concurrent status polls (default 3)
	WorkerShutdownGracePeriod time.Duration
	StaleGenerationAge        time.Duration // Pending rows without a job id older than this are failed
	SweepInterval             time.Duration

	// Breaker policies after environment overrides.
	BreakerPolicies map[string]breaker.Policy
	// Object key of the hot-reloaded policy overrides in the storage bucket.
	BreakerPoliciesKey string

	// Rate limiting
	RateLimitPerMinute int

	AdminEnabled bool
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		DatabaseURL:    getEnv("DATABASE_URL", "file:soundlab.db?_journal=WAL&_timeout=5000"),
		TursoURL:       getEnv("TURSO_URL", ""),
		TursoAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),

		AIServiceURL:          getEnv("AI_SERVICE_URL", ""),
		AIServiceAPIKey:       getEnv("AI_SERVICE_API_KEY", ""),
		AIServiceTimeout:      getEnvDuration("AI_SERVICE_TIMEOUT", 300*time.Second),
		ComputeCallbackSecret: getEnv("COMPUTE_CALLBACK_SECRET", ""),

		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
		DownloadURLTTL:   getEnvDuration("DOWNLOAD_URL_TTL", time.Hour),

		RedisURL: getEnv("REDIS_URL", ""),

		IdempotencyDBPath: getEnv("IDEMPOTENCY_DB_PATH", "idempotency.db"),
		IdempotencyTTL:    getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		WorkerPollInterval:        getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerConcurrency:         getEnvInt("WORKER_CONCURRENCY", 3),
		WorkerShutdownGracePeriod: getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		StaleGenerationAge:        getEnvDuration("STALE_GENERATION_AGE", 10*time.Minute),
		SweepInterval:             getEnvDuration("SWEEP_INTERVAL", time.Minute),

		BreakerPoliciesKey: getEnv("BREAKER_POLICIES_KEY", "config/breaker_policies.json"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AdminEnabled:       getEnvBool("ADMIN_ENABLED", true),
	}

	cfg.MockResultBaseURL = getEnv("MOCK_RESULT_BASE_URL", strings.TrimSuffix(cfg.BaseURL, "/")+"/api/v1/files/mock")
	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if keyStr := getEnv("DOWNLOAD_SIGNING_KEY", ""); keyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(keyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("DOWNLOAD_SIGNING_KEY must be a base64-encoded 32-byte key")
		}
		cfg.DownloadSigningKey = decoded
	} else {
		cfg.DownloadSigningKey = deriveSigningKey(cfg.JWTSecret)
	}

	cfg.BreakerPolicies = breaker.DefaultPolicies()
	// AI_SERVICE_TIMEOUT predates the generic override and still applies.
	if ai, ok := cfg.BreakerPolicies[breaker.DependencyAIService]; ok {
		ai.Timeout = cfg.AIServiceTimeout
		cfg.BreakerPolicies[breaker.DependencyAIService] = ai
	}
	for name, p := range cfg.BreakerPolicies {
		cfg.BreakerPolicies[name] = applyBreakerOverrides(name, p)
	}

	return cfg, nil
}

// StripeEnabled returns true if Stripe payments are configured.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// RazorpayEnabled returns true if Razorpay payments are configured.
func (c *Config) RazorpayEnabled() bool {
	return c.RazorpayKeyID != "" && c.RazorpayKeySecret != ""
}

// UseMockCompute returns true when no AI service is configured.
func (c *Config) UseMockCompute() bool {
	return c.AIServiceURL == ""
}

// applyBreakerOverrides reads BREAKER_<NAME>_TIMEOUT, _THRESHOLD and _RESET.
// NAME is the breaker name upper-cased with dashes as underscores.
func applyBreakerOverrides(name string, p breaker.Policy) breaker.Policy {
	prefix := "BREAKER_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
	p.Timeout = getEnvDuration(prefix+"TIMEOUT", p.Timeout)
	p.ResetTimeout = getEnvDuration(prefix+"RESET", p.ResetTimeout)
	if v := os.Getenv(prefix + "THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 100 {
			p.ErrorThresholdPercentage = f
		}
	}
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

// deriveSigningKey creates the 32-byte download link key from the JWT
// secret using HKDF-SHA256.
func deriveSigningKey(secret string) []byte {
	salt := []byte("soundlab-download-signing-v1")
	info := []byte("hmac-sha256-download-url")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}
	return key
}
