// Package routes provides shared route registration for the sound lab API.
// This allows both the main server and the OpenAPI generator to use
// the same route definitions, ensuring the spec is always in sync.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/mw"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
// This includes API metadata, security schemes, and tag definitions.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Cultural Sound Lab API", version.Get().Short())
	cfg.Info.Description = "AI audio generation jobs, licensing and payments for the Cultural Sound Lab catalogue."

	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Access token from the identity provider, sent as `Authorization: Bearer <token>`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Generations", Description: "Submit and track AI audio generation jobs", Extensions: map[string]any{"x-displayName": "Generations"}},
		{Name: "Licenses", Description: "Purchase, download and verify usage licenses", Extensions: map[string]any{"x-displayName": "Licenses"}},
		{Name: "Payments", Description: "Payment intents with Stripe and Razorpay", Extensions: map[string]any{"x-displayName": "Payments"}},
		{Name: "Subscriptions", Description: "Recurring plans and their cancellation", Extensions: map[string]any{"x-displayName": "Subscriptions"}},
		{Name: "Webhooks", Description: "Inbound provider and compute notifications", Extensions: map[string]any{"x-displayName": "Webhooks"}},
		{Name: "Admin", Description: "Circuit breakers, dependency metrics and disputes", Extensions: map[string]any{"x-displayName": "Admin"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
