package stripe

import (
	"errors"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrMissingSignature is returned when the signature header is absent.
var ErrMissingSignature = errors.New("missing signature header")

// VerifyEvent authenticates a raw webhook payload against its signature
// header before any JSON decoding of the body. The signature scheme is a
// keyed HMAC over the timestamped payload, compared in constant time;
// timestamps older than tolerance are rejected as replays. The event's
// api_version is not checked: the webhook endpoint may be pinned to an older
// API release than the library, and a version skew is not a forgery.
func VerifyEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (stripelib.Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return stripelib.Event{}, ErrMissingSignature
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
		Tolerance:                tolerance,
	})
}
