package relay

import "errors"

// Sentinel errors for the failure classes the service distinguishes. Callers
// wrap them with fmt.Errorf("...: %w", ...) and branch with errors.Is.
var (
	// ErrValidation marks malformed inbound requests or results. Dropped and
	// logged, never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable marks correlation-store unavailability. This is
	// the one error surfaced to the submitting caller, since losing the
	// store-before-publish ordering would orphan the eventual result.
	ErrStorageUnavailable = errors.New("correlation store unavailable")

	// ErrDelivery marks a failed send to a live connection. The connection is
	// treated as offline for that delivery; the correlation record is still
	// consumed.
	ErrDelivery = errors.New("delivery failed")

	// ErrBrokerOperation marks a failed subscribe/pause/resume/stop. Logged
	// with topic context; never aborts sibling operations in a batch.
	ErrBrokerOperation = errors.New("broker operation failed")
)
