package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/billsync/billsync/internal/store"
	"github.com/billsync/billsync/internal/syncmetrics"
)

// Reconciler converts verified processor events into durable subscription
// state. Every handler is idempotent and tolerates out-of-order delivery:
// writes carry the event's creation time and the store discards writes older
// than what it already holds.
type Reconciler struct {
	store     *store.SubscriptionStore
	processor ProcessorClient
}

// NewReconciler creates a Reconciler.
func NewReconciler(st *store.SubscriptionStore, processor ProcessorClient) *Reconciler {
	return &Reconciler{
		store:     st,
		processor: processor,
	}
}

func countOutcome(handler string, errp *error, appliedp *bool) func() {
	return func() {
		outcome := "applied"
		switch {
		case *errp != nil:
			outcome = "error"
			var integrity *DataIntegrityError
			if errors.As(*errp, &integrity) {
				outcome = "integrity_error"
			}
		case !*appliedp:
			outcome = "skipped"
		}
		syncmetrics.ReconcileTotal.WithLabelValues(handler, outcome).Inc()
	}
}

// HandleCheckoutCompleted creates (or refreshes) the subscription record for a
// completed purchase. This is the only handler permitted to create a record.
// The checkout payload does not carry period bounds, so the full subscription
// is fetched from the processor first.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession, observedAt time.Time) (err error) {
	applied := false
	defer countOutcome("checkout_completed", &err, &applied)()

	subscriptionID := strings.TrimSpace(session.Subscription)
	if session.Mode != "subscription" || subscriptionID == "" {
		// One-time payments are out of scope.
		log.Info().
			Str("session_id", session.ID).
			Str("mode", session.Mode).
			Msg("Checkout completed for non-subscription session, ignoring")
		return nil
	}

	userID := session.UserID()
	if userID == "" {
		// A record with an unknown owner is worse than a dropped event.
		return &DataIntegrityError{Reason: fmt.Sprintf("checkout session %s missing userId metadata", session.ID)}
	}

	detail, err := r.processor.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("checkout session %s: %w", session.ID, err)
	}

	customerID := strings.TrimSpace(detail.Customer)
	if customerID == "" {
		customerID = strings.TrimSpace(session.Customer)
	}
	periodStart, periodEnd := detail.PeriodBounds()

	record := &store.SubscriptionRecord{
		UserID:               userID,
		StripeSubscriptionID: strings.TrimSpace(detail.ID),
		StripeCustomerID:     customerID,
		Status:               MapSubscriptionStatus(detail.Status),
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
		CancelAtPeriodEnd:    detail.CancelAtPeriodEnd,
		UpdatedAt:            observedAt,
	}
	if record.StripeSubscriptionID == "" {
		record.StripeSubscriptionID = subscriptionID
	}

	applied, err = r.store.Upsert(record)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", subscriptionID, err)
	}

	log.Info().
		Str("user_id", userID).
		Str("subscription_id", record.StripeSubscriptionID).
		Str("status", string(record.Status)).
		Bool("applied", applied).
		Msg("Checkout completed")
	return nil
}

// HandleInvoicePaymentSucceeded refreshes the renewed period after a charge.
// The invoice payload does not carry the new period, so the subscription is
// re-fetched. A missing record is not an error: the invoice can race ahead of
// the checkout event, and a later subscription.updated delivery reconciles.
func (r *Reconciler) HandleInvoicePaymentSucceeded(ctx context.Context, invoice Invoice, observedAt time.Time) (err error) {
	applied := false
	defer countOutcome("invoice_payment_succeeded", &err, &applied)()

	subscriptionID := invoice.SubscriptionID()
	if subscriptionID == "" {
		log.Info().Str("invoice_id", invoice.ID).Msg("Invoice has no subscription, ignoring")
		return nil
	}

	detail, err := r.processor.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("invoice %s: %w", invoice.ID, err)
	}

	periodStart, periodEnd := detail.PeriodBounds()
	status := MapSubscriptionStatus(detail.Status)
	update := store.SubscriptionUpdate{
		Status:            &status,
		CancelAtPeriodEnd: &detail.CancelAtPeriodEnd,
		ObservedAt:        observedAt,
	}
	if !periodStart.IsZero() {
		update.CurrentPeriodStart = &periodStart
	}
	if !periodEnd.IsZero() {
		update.CurrentPeriodEnd = &periodEnd
	}

	applied, err = r.store.UpdateFields(subscriptionID, update)
	if errors.Is(err, store.ErrRecordNotFound) {
		log.Warn().
			Str("invoice_id", invoice.ID).
			Str("subscription_id", subscriptionID).
			Msg("Invoice paid for unknown subscription, waiting for checkout event")
		return nil
	}
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}

	log.Info().
		Str("subscription_id", subscriptionID).
		Str("status", string(status)).
		Bool("applied", applied).
		Msg("Invoice payment succeeded")
	return nil
}

// HandleSubscriptionUpdated syncs status, period bounds, and the cancellation
// flag from an inline subscription payload.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, sub Subscription, observedAt time.Time) (err error) {
	applied := false
	defer countOutcome("subscription_updated", &err, &applied)()

	subscriptionID := strings.TrimSpace(sub.ID)
	if subscriptionID == "" {
		return &DataIntegrityError{Reason: "subscription.updated payload missing id"}
	}

	status := MapSubscriptionStatus(sub.Status)
	periodStart, periodEnd := sub.PeriodBounds()
	update := store.SubscriptionUpdate{
		Status:            &status,
		CancelAtPeriodEnd: &sub.CancelAtPeriodEnd,
		ObservedAt:        observedAt,
	}
	if !periodStart.IsZero() {
		update.CurrentPeriodStart = &periodStart
	}
	if !periodEnd.IsZero() {
		update.CurrentPeriodEnd = &periodEnd
	}

	applied, err = r.store.UpdateFields(subscriptionID, update)
	if errors.Is(err, store.ErrRecordNotFound) {
		log.Warn().
			Str("subscription_id", subscriptionID).
			Msg("subscription.updated for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}

	log.Info().
		Str("subscription_id", subscriptionID).
		Str("status", string(status)).
		Bool("cancel_at_period_end", sub.CancelAtPeriodEnd).
		Bool("applied", applied).
		Msg("Subscription updated")
	return nil
}

// HandleSubscriptionDeleted marks the record canceled on final termination.
// Period bounds are left as the historical record of the last paid interval.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub Subscription, observedAt time.Time) (err error) {
	applied := false
	defer countOutcome("subscription_deleted", &err, &applied)()

	subscriptionID := strings.TrimSpace(sub.ID)
	if subscriptionID == "" {
		return &DataIntegrityError{Reason: "subscription.deleted payload missing id"}
	}

	status := store.StatusCanceled
	applied, err = r.store.UpdateFields(subscriptionID, store.SubscriptionUpdate{
		Status:     &status,
		ObservedAt: observedAt,
	})
	if errors.Is(err, store.ErrRecordNotFound) {
		log.Warn().
			Str("subscription_id", subscriptionID).
			Msg("subscription.deleted for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}

	log.Info().
		Str("subscription_id", subscriptionID).
		Bool("applied", applied).
		Msg("Subscription deleted, record canceled")
	return nil
}

// HandleInvoicePaymentFailed moves the record to past_due without touching
// period bounds. The processor keeps retrying the charge and follows up with
// subscription.updated events as the dunning state evolves.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, invoice Invoice, observedAt time.Time) (err error) {
	applied := false
	defer countOutcome("invoice_payment_failed", &err, &applied)()

	subscriptionID := invoice.SubscriptionID()
	if subscriptionID == "" {
		log.Info().Str("invoice_id", invoice.ID).Msg("Failed invoice has no subscription, ignoring")
		return nil
	}

	status := store.StatusPastDue
	applied, err = r.store.UpdateFields(subscriptionID, store.SubscriptionUpdate{
		Status:     &status,
		ObservedAt: observedAt,
	})
	if errors.Is(err, store.ErrRecordNotFound) {
		log.Warn().
			Str("invoice_id", invoice.ID).
			Str("subscription_id", subscriptionID).
			Msg("Failed invoice for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark subscription %s past_due: %w", subscriptionID, err)
	}

	log.Info().
		Str("subscription_id", subscriptionID).
		Bool("applied", applied).
		Msg("Invoice payment failed, record past_due")
	return nil
}
