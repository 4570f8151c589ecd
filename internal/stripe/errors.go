package stripe

import "fmt"

// DataIntegrityError marks a well-signed event whose payload is semantically
// incomplete (for example a checkout session without an owner). Retrying the
// delivery cannot supply the missing data, so the webhook boundary logs the
// failure and acknowledges the event instead of asking for a retry.
type DataIntegrityError struct {
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s", e.Reason)
}
