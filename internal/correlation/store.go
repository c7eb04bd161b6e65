// Package correlation defines the durable store mapping request fingerprints
// to their delivery targets.
package correlation

import (
	"context"

	"github.com/crawlstream/crawl-relay/internal/relay"
)

// Store persists correlation records keyed by fingerprint. Backends are
// process-external so a restart of the submitting process does not lose
// in-flight correlations.
//
// Get returns (nil, nil) for an unknown fingerprint: absence signals
// "unknown or already-delivered request" and callers treat it as a no-op.
// Delete is idempotent; deleting a missing key is not an error.
type Store interface {
	Put(ctx context.Context, rec relay.CorrelationRecord) error
	Get(ctx context.Context, fingerprint string) (*relay.CorrelationRecord, error)
	Delete(ctx context.Context, fingerprint string) error
	Close() error
}
