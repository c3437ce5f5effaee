package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
// Pass real handler implementations for the main server, or stub implementations
// for OpenAPI generation.
func Register(api huma.API, h *Handlers) {
	RegisterPublic(api, h)
	RegisterProtected(api, h)
	RegisterAdmin(api, h)
	DocumentRawEndpoints(api)
}

// RegisterPublic registers routes that need no authentication.
func RegisterPublic(api huma.API, h *Handlers) {
	mw.PublicGet(api, "/api/v1/health", h.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	mw.PublicGet(api, "/api/v1/licenses/{id}/verify", h.License.VerifyLicense,
		mw.WithTags("Licenses"),
		mw.WithSummary("Verify a license"),
		mw.WithDescription("Public check that a license is active, paid and unexpired."),
		mw.WithOperationID("verifyLicense"))

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(api, "/healthz", h.Livez)
	mw.HiddenGet(api, "/readyz", h.Readyz)
}

// RegisterProtected registers routes that require a bearer token.
func RegisterProtected(api huma.API, h *Handlers) {
	// --- Generations ---
	mw.ProtectedPost(api, "/api/v1/generations", h.Generation.CreateGeneration,
		mw.WithTags("Generations"),
		mw.WithSummary("Submit a generation"),
		mw.WithDescription("Submits an audio generation job. A 503 means the compute service is unavailable and nothing was started."),
		mw.WithStatus(http.StatusAccepted),
		mw.WithOperationID("createGeneration"))
	mw.ProtectedGet(api, "/api/v1/generations", h.Generation.ListGenerations,
		mw.WithTags("Generations"),
		mw.WithSummary("List generations"),
		mw.WithOperationID("listGenerations"))
	mw.ProtectedGet(api, "/api/v1/generations/{id}", h.Generation.GetGeneration,
		mw.WithTags("Generations"),
		mw.WithSummary("Get generation"),
		mw.WithOperationID("getGeneration"))
	mw.ProtectedDelete(api, "/api/v1/generations/{id}", h.Generation.DeleteGeneration,
		mw.WithTags("Generations"),
		mw.WithSummary("Delete generation"),
		mw.WithStatus(http.StatusNoContent),
		mw.WithOperationID("deleteGeneration"))
	mw.ProtectedGet(api, "/api/v1/generations/{id}/download", h.Generation.DownloadGeneration,
		mw.WithTags("Generations"),
		mw.WithSummary("Download generation result"),
		mw.WithDescription("Returns a time-limited link once the generation is completed and either unlocked by payment or covered by a license. Metered licenses are charged one download."),
		mw.WithOperationID("downloadGeneration"))

	// --- Licenses ---
	mw.ProtectedPost(api, "/api/v1/licenses", h.License.CreateLicense,
		mw.WithTags("Licenses"),
		mw.WithSummary("Create license"),
		mw.WithDescription("Creates a pending license and the payment intent that activates it."),
		mw.WithStatus(http.StatusCreated),
		mw.WithOperationID("createLicense"))
	mw.ProtectedGet(api, "/api/v1/licenses", h.License.ListLicenses,
		mw.WithTags("Licenses"),
		mw.WithSummary("List licenses"),
		mw.WithOperationID("listLicenses"))
	mw.ProtectedGet(api, "/api/v1/licenses/{id}", h.License.GetLicense,
		mw.WithTags("Licenses"),
		mw.WithSummary("Get license"),
		mw.WithOperationID("getLicense"))
	mw.ProtectedGet(api, "/api/v1/licenses/{id}/events", h.License.ListLicenseEvents,
		mw.WithTags("Licenses"),
		mw.WithSummary("List license events"),
		mw.WithOperationID("listLicenseEvents"))
	mw.ProtectedPost(api, "/api/v1/licenses/{id}/download", h.License.DownloadLicense,
		mw.WithTags("Licenses"),
		mw.WithSummary("Download licensed file"),
		mw.WithDescription("Consumes one download and returns a time-limited link."),
		mw.WithOperationID("downloadLicense"))

	// --- Payments ---
	mw.ProtectedPost(api, "/api/v1/payments/intents", h.Payment.CreateIntent,
		mw.WithTags("Payments"),
		mw.WithSummary("Create payment intent"),
		mw.WithStatus(http.StatusCreated),
		mw.WithOperationID("createPaymentIntent"))
	mw.ProtectedPost(api, "/api/v1/payments/intents/{id}/confirm", h.Payment.ConfirmIntent,
		mw.WithTags("Payments"),
		mw.WithSummary("Confirm payment intent"),
		mw.WithOperationID("confirmPaymentIntent"))
	mw.ProtectedPost(api, "/api/v1/payments/intents/{id}/cancel", h.Payment.CancelIntent,
		mw.WithTags("Payments"),
		mw.WithSummary("Cancel payment intent"),
		mw.WithOperationID("cancelPaymentIntent"))
	mw.ProtectedPost(api, "/api/v1/payments/intents/{id}/refund", h.Payment.RefundIntent,
		mw.WithTags("Payments"),
		mw.WithSummary("Refund payment"),
		mw.WithOperationID("refundPaymentIntent"))
	mw.ProtectedGet(api, "/api/v1/payments/intents", h.Payment.ListIntents,
		mw.WithTags("Payments"),
		mw.WithSummary("List payment history"),
		mw.WithOperationID("listPaymentIntents"))

	// --- Subscriptions ---
	mw.ProtectedPost(api, "/api/v1/subscriptions", h.Payment.CreateSubscription,
		mw.WithTags("Subscriptions"),
		mw.WithSummary("Create subscription"),
		mw.WithDescription("Starts a recurring plan. Fails with 409 while the caller has an active, trialing or past-due subscription."),
		mw.WithStatus(http.StatusCreated),
		mw.WithOperationID("createSubscription"))
	mw.ProtectedGet(api, "/api/v1/subscriptions", h.Payment.ListSubscriptions,
		mw.WithTags("Subscriptions"),
		mw.WithSummary("List subscriptions"),
		mw.WithOperationID("listSubscriptions"))
	mw.ProtectedPost(api, "/api/v1/subscriptions/{id}/cancel", h.Payment.CancelSubscription,
		mw.WithTags("Subscriptions"),
		mw.WithSummary("Cancel subscription"),
		mw.WithDescription("Cancels immediately, or at the end of the current period when at_period_end is set."),
		mw.WithOperationID("cancelSubscription"))
}

// RegisterAdmin registers routes that require the admin role.
func RegisterAdmin(api huma.API, h *Handlers) {
	mw.ProtectedGet(api, "/api/v1/admin/breakers", h.Admin.ListBreakers,
		mw.WithTags("Admin"),
		mw.WithSummary("List circuit breakers"),
		mw.WithAdmin(),
		mw.WithOperationID("listBreakers"))
	mw.ProtectedGet(api, "/api/v1/admin/breakers/{name}", h.Admin.GetBreaker,
		mw.WithTags("Admin"),
		mw.WithSummary("Get circuit breaker"),
		mw.WithAdmin(),
		mw.WithOperationID("getBreaker"))
	mw.ProtectedPost(api, "/api/v1/admin/breakers/{name}/open", h.Admin.OpenBreaker,
		mw.WithTags("Admin"),
		mw.WithSummary("Force a breaker open"),
		mw.WithAdmin(),
		mw.WithOperationID("openBreaker"))
	mw.ProtectedPost(api, "/api/v1/admin/breakers/{name}/close", h.Admin.CloseBreaker,
		mw.WithTags("Admin"),
		mw.WithSummary("Close a breaker"),
		mw.WithAdmin(),
		mw.WithOperationID("closeBreaker"))
	mw.ProtectedGet(api, "/api/v1/admin/metrics", h.Admin.GetMetrics,
		mw.WithTags("Admin"),
		mw.WithSummary("Dependency metrics"),
		mw.WithAdmin(),
		mw.WithOperationID("getDependencyMetrics"))
	mw.ProtectedGet(api, "/api/v1/admin/disputes", h.Admin.ListDisputes,
		mw.WithTags("Admin"),
		mw.WithSummary("List disputes"),
		mw.WithAdmin(),
		mw.WithOperationID("listDisputes"))
}

// DocumentRawEndpoints adds the chi-mounted raw handlers to the OpenAPI
// document. They are served directly because their signatures cover the
// exact request bytes.
func DocumentRawEndpoints(api huma.API) {
	oapi := api.OpenAPI()
	raw := func(method, path, id, summary, desc string) {
		oapi.AddOperation(&huma.Operation{
			OperationID: id,
			Method:      method,
			Path:        path,
			Summary:     summary,
			Description: desc,
			Tags:        []string{"Webhooks"},
			Responses: map[string]*huma.Response{
				"200": {Description: "Accepted"},
				"400": {Description: "Invalid signature or payload"},
			},
		})
	}
	raw(http.MethodPost, "/api/v1/webhooks/stripe", "stripeWebhook",
		"Stripe webhook", "Verified with the Stripe-Signature header. Redeliveries are deduplicated by event id.")
	raw(http.MethodPost, "/api/v1/webhooks/razorpay", "razorpayWebhook",
		"Razorpay webhook", "Verified with the X-Razorpay-Signature header. Redeliveries are deduplicated by event id.")
	raw(http.MethodPost, "/api/v1/callbacks/compute", "computeCallback",
		"Compute status callback", "Push status report from the compute service, signed with svix headers.")
	raw(http.MethodGet, "/api/v1/files/{key}", "downloadFile",
		"Signed file download", "Redirects to the stored object when the expires/sig query parameters are valid.")
}
