package stripe

import (
	"strings"
	"time"
)

// CheckoutSession is a minimal representation of a checkout.session.completed
// payload. Only the fields this system relies on are decoded.
type CheckoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// UserID returns the local account identifier attached by the checkout
// creation flow, or "" when absent.
func (s *CheckoutSession) UserID() string {
	return strings.TrimSpace(s.Metadata["userId"])
}

// Subscription is a minimal representation of a processor subscription, shared
// by inline event payloads and secondary API fetches.
//
// Newer Stripe API versions move current_period_start/end from the
// subscription onto its items; both shapes are decoded and PeriodBounds picks
// whichever is populated.
type Subscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// PeriodBounds returns the paid-for interval, preferring the subscription
// level fields and falling back to the first item. Zero times mean the
// payload carried no bounds.
func (s *Subscription) PeriodBounds() (start, end time.Time) {
	periodStart := s.CurrentPeriodStart
	periodEnd := s.CurrentPeriodEnd
	if periodStart == 0 && periodEnd == 0 && len(s.Items.Data) > 0 {
		periodStart = s.Items.Data[0].CurrentPeriodStart
		periodEnd = s.Items.Data[0].CurrentPeriodEnd
	}
	if periodStart > 0 {
		start = time.Unix(periodStart, 0).UTC()
	}
	if periodEnd > 0 {
		end = time.Unix(periodEnd, 0).UTC()
	}
	return start, end
}

// Invoice is a minimal representation of an invoice event payload.
//
// Newer Stripe API versions move the subscription reference under
// parent.subscription_details; both shapes are decoded.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID returns the subscription the invoice belongs to, or "" for
// one-off invoices.
func (i *Invoice) SubscriptionID() string {
	if id := strings.TrimSpace(i.Subscription); id != "" {
		return id
	}
	return strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription)
}
