package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billsync/billsync/internal/config"
	"github.com/billsync/billsync/internal/store"
	"github.com/billsync/billsync/internal/stripe"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config     *config.Config
	Store      *store.SubscriptionStore
	Reconciler *stripe.Reconciler
	Version    string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	keyAuth := func(next http.Handler) http.Handler {
		if deps.Config.AuthKey == "" {
			return next
		}
		return AuthKeyMiddleware(deps.Config.AuthKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))

	// Metrics are private by default.
	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", keyAuth(metricsHandler))
	}

	// Webhook (signature-authenticated)
	webhookHandler := stripe.NewWebhookHandler(deps.Config.StripeWebhookSecret, deps.Config.WebhookTolerance, deps.Reconciler)
	webhookLimiter := NewRateLimiter(deps.Config.WebhookRateLimit, time.Minute)
	mux.Handle("/webhooks/subscription-events", webhookLimiter.Middleware(webhookHandler))

	// Read path for the dashboard collaborator.
	mux.Handle("/api/subscription", keyAuth(HandleGetSubscription(deps.Store)))
}
