package stripe

import (
	"github.com/billsync/billsync/internal/store"
)

// MapSubscriptionStatus converts a processor subscription status string to the
// stored status enumeration. Unknown statuses fail closed (unpaid).
func MapSubscriptionStatus(status string) store.SubscriptionStatus {
	s := store.SubscriptionStatus(status)
	if store.IsKnownStatus(s) {
		return s
	}
	return store.StatusUnpaid
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_...) is safe for
// use as a lookup key before it is interpolated into an API path.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
