package payment

import "github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"

// Normalize maps a provider's payment or order status onto the local set.
// Unknown values are treated as pending so they never look settled.
func Normalize(provider, status string) models.PaymentIntentStatus {
	switch provider {
	case ProviderStripe:
		switch status {
		case "succeeded":
			return models.IntentStatusSucceeded
		case "processing", "requires_capture":
			return models.IntentStatusProcessing
		case "canceled":
			return models.IntentStatusCanceled
		case "failed":
			return models.IntentStatusFailed
		}
	case ProviderRazorpay:
		switch status {
		case "paid", "captured":
			return models.IntentStatusSucceeded
		case "attempted", "authorized":
			return models.IntentStatusProcessing
		case "failed":
			return models.IntentStatusFailed
		case "refunded":
			return models.IntentStatusRefunded
		}
	}
	return models.IntentStatusPending
}

// NormalizeSubscription maps a provider subscription status onto the local set.
func NormalizeSubscription(provider, status string) models.SubscriptionStatus {
	switch provider {
	case ProviderStripe:
		switch status {
		case "active":
			return models.SubscriptionStatusActive
		case "trialing":
			return models.SubscriptionStatusTrialing
		case "past_due", "unpaid":
			return models.SubscriptionStatusPastDue
		case "paused":
			return models.SubscriptionStatusPaused
		case "canceled", "incomplete_expired":
			return models.SubscriptionStatusCanceled
		}
	case ProviderRazorpay:
		switch status {
		case "active":
			return models.SubscriptionStatusActive
		case "pending", "halted":
			return models.SubscriptionStatusPastDue
		case "paused":
			return models.SubscriptionStatusPaused
		case "cancelled", "completed", "expired":
			return models.SubscriptionStatusCanceled
		}
	}
	return models.SubscriptionStatusPending
}
