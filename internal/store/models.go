package store

import (
	"fmt"
	"strings"
	"time"
)

// SubscriptionStatus is the lifecycle status of a subscription as reported by
// the payment processor.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// KnownStatuses lists every status this system stores.
var KnownStatuses = []SubscriptionStatus{
	StatusActive,
	StatusTrialing,
	StatusPastDue,
	StatusCanceled,
	StatusIncomplete,
	StatusIncompleteExpired,
	StatusUnpaid,
}

// IsKnownStatus reports whether s is one of the fixed status enumeration.
func IsKnownStatus(s SubscriptionStatus) bool {
	for _, known := range KnownStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// GrantsAccess reports whether the status entitles the user to paid features.
// past_due keeps access while the processor retries the charge.
func (s SubscriptionStatus) GrantsAccess() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// SubscriptionRecord is the authoritative local view of one user's billing
// relationship with the payment processor.
type SubscriptionRecord struct {
	UserID               string             `json:"user_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	// UpdatedAt carries the creation timestamp of the last applied processor
	// event. Writes older than this are discarded as stale.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the record invariants before it is written.
func (r *SubscriptionRecord) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("subscription record missing user id")
	}
	if strings.TrimSpace(r.StripeSubscriptionID) == "" {
		return fmt.Errorf("subscription record missing subscription id")
	}
	if !IsKnownStatus(r.Status) {
		return fmt.Errorf("unknown subscription status %q", r.Status)
	}
	if !r.CurrentPeriodStart.IsZero() && !r.CurrentPeriodEnd.IsZero() && !r.CurrentPeriodStart.Before(r.CurrentPeriodEnd) {
		return fmt.Errorf("period start %s is not before period end %s", r.CurrentPeriodStart, r.CurrentPeriodEnd)
	}
	return nil
}

// SubscriptionUpdate is a partial update applied to an existing record.
// Nil fields are left untouched.
type SubscriptionUpdate struct {
	Status             *SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool

	// ObservedAt orders this update against the stored record's UpdatedAt.
	// Updates strictly older than the stored record are discarded.
	ObservedAt time.Time
}
