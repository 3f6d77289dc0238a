package domain

import "strings"

// StatusForFailedAttempt maps the provider's renewal attempt counter to the
// local status. The counter is taken verbatim from the event.
func StatusForFailedAttempt(attemptCount int64) SubscriptionStatus {
	if attemptCount >= UnpaidAttemptThreshold {
		return SubscriptionStatusUnpaid
	}
	return SubscriptionStatusPastDue
}

// MapProviderStatus folds the provider's status vocabulary onto the local
// states. Deleted subscriptions and unrecognised statuses become canceled.
func MapProviderStatus(status string, deleted bool) SubscriptionStatus {
	if deleted {
		return SubscriptionStatusCanceled
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return SubscriptionStatusActive
	case "past_due":
		return SubscriptionStatusPastDue
	case "unpaid":
		return SubscriptionStatusUnpaid
	default:
		return SubscriptionStatusCanceled
	}
}
