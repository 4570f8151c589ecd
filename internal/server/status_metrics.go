package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/billsync/billsync/internal/store"
	"github.com/billsync/billsync/internal/syncmetrics"
)

const statusMetricsInterval = 30 * time.Second

// runStatusMetrics keeps the subscriptions-by-status gauge current.
func runStatusMetrics(ctx context.Context, st *store.SubscriptionStore) {
	ticker := time.NewTicker(statusMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateStatusGauges(st)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateStatusGauges(st)
		}
	}
}

func updateStatusGauges(st *store.SubscriptionStore) {
	counts, err := st.CountByStatus()
	if err != nil {
		log.Error().Err(err).Msg("Failed to update subscription status metrics")
		return
	}

	seen := make(map[store.SubscriptionStatus]struct{}, len(counts))

	// Ensure stable label set for known statuses.
	for _, status := range store.KnownStatuses {
		seen[status] = struct{}{}
		syncmetrics.SubscriptionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	// Record any unexpected statuses too (bounded by DB content).
	for status, c := range counts {
		if _, ok := seen[status]; ok {
			continue
		}
		syncmetrics.SubscriptionsByStatus.WithLabelValues(string(status)).Set(float64(c))
	}
}

const lapsedAuditInterval = 15 * time.Minute

// runLapsedAudit periodically counts records whose paid period has ended
// while the stored status still grants access. Local state only mutates from
// processor events, so the auditor observes and reports; it never writes.
func runLapsedAudit(ctx context.Context, st *store.SubscriptionStore) {
	ticker := time.NewTicker(lapsedAuditInterval)
	defer ticker.Stop()

	auditLapsed(st)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			auditLapsed(st)
		}
	}
}

func auditLapsed(st *store.SubscriptionStore) {
	count, err := st.CountLapsed(time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to audit lapsed subscriptions")
		return
	}
	syncmetrics.LapsedActiveRecords.Set(float64(count))
	if count > 0 {
		log.Warn().
			Int("count", count).
			Msg("Subscription records past period end still grant access; expecting processor events to reconcile")
	}
}
