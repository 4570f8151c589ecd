package stripe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
)

// ProcessorClient fetches authoritative subscription detail from the payment
// processor. Event payloads that do not carry period bounds (checkout
// sessions, invoices) are resolved through this secondary read.
type ProcessorClient interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// APIClient is the Stripe-backed ProcessorClient. It is explicitly
// constructed with its own key and backend rather than relying on the
// library's process-wide defaults.
type APIClient struct {
	key     string
	backend stripelib.Backend
	timeout time.Duration
}

// NewAPIClient creates an APIClient with a bounded per-call timeout. The
// backend is built from its own HTTP client rather than the library's
// process-wide default.
func NewAPIClient(key string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		key: key,
		backend: stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
			HTTPClient: &http.Client{Timeout: timeout},
		}),
		timeout: timeout,
	}
}

// subscriptionResource decodes the subscription API response into the same
// minimal shape the event payloads use.
type subscriptionResource struct {
	stripelib.APIResource
	Subscription
}

// FetchSubscription retrieves the full subscription by ID.
func (c *APIClient) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if !IsSafeStripeID(subscriptionID) {
		return nil, fmt.Errorf("invalid stripe subscription id: %q", subscriptionID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripelib.Params{Context: ctx}
	resource := &subscriptionResource{}
	if err := c.backend.Call(http.MethodGet, "/v1/subscriptions/"+subscriptionID, c.key, params, resource); err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}
	return &resource.Subscription, nil
}
