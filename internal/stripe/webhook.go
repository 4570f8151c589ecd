package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/billsync/billsync/internal/syncmetrics"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler handles incoming processor webhook events.
//
// SECURITY: signature verification over the raw body is the authentication
// mechanism for this endpoint; nothing is decoded before it passes.
type WebhookHandler struct {
	secret     string
	tolerance  time.Duration
	reconciler *Reconciler
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a webhook HTTP handler.
func NewWebhookHandler(secret string, tolerance time.Duration, reconciler *Reconciler) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		tolerance:  tolerance,
		reconciler: reconciler,
	}
}

// ServeHTTP verifies the event signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		syncmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		syncmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	event, err := VerifyEvent(payload, r.Header.Get("Stripe-Signature"), h.secret, h.tolerance)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, ErrMissingSignature) {
			writeJSON(w, status, webhookErrorResponse{Error: "missing signature header"})
			return
		}
		writeJSON(w, status, webhookErrorResponse{Error: "invalid signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r.Context(), &event); err != nil {
		var integrity *DataIntegrityError
		if errors.As(err, &integrity) {
			// Retrying cannot supply the missing data; acknowledge the event
			// so the processor stops redelivering it.
			log.Error().
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Str("reason", integrity.Reason).
				Msg("Webhook event dropped: payload incomplete")
			status = http.StatusOK
			writeJSON(w, status, webhookReceivedResponse{Received: true})
			return
		}

		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "handler failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

// handleEvent routes a verified event to its handler. Unrecognized types are
// acknowledged without action: the processor's event taxonomy evolves
// independently of this system.
func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	observedAt := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.reconciler.HandleCheckoutCompleted(ctx, session, observedAt)

	case "invoice.payment_succeeded":
		var invoice Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.reconciler.HandleInvoicePaymentSucceeded(ctx, invoice, observedAt)

	case "invoice.payment_failed":
		var invoice Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return h.reconciler.HandleInvoicePaymentFailed(ctx, invoice, observedAt)

	case "customer.subscription.updated":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.reconciler.HandleSubscriptionUpdated(ctx, sub, observedAt)

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.reconciler.HandleSubscriptionDeleted(ctx, sub, observedAt)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Webhook ignored (unhandled type)")
		return nil
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("stripe: encode webhook response")
	}
}
