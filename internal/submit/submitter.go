// Package submit turns validated crawl requests into correlated broker
// messages.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/broker"
	"github.com/crawlstream/crawl-relay/internal/correlation"
	"github.com/crawlstream/crawl-relay/internal/hash/sha256"
	"github.com/crawlstream/crawl-relay/internal/metrics"
	"github.com/crawlstream/crawl-relay/internal/relay"
)

// Submitter implements the submission path: fingerprint, persist the
// correlation record, then publish. The store write always happens before
// the publish so a result can never arrive with no record to resolve
// against. A crash between the two leaves an orphaned record, which the
// store's retention window eventually reclaims; the reverse ordering would
// lose results and is never allowed.
type Submitter struct {
	store    correlation.Store
	provider broker.Provider
	hasher   *sha256.Hasher
	clock    relay.Clock
	topic    string
	logger   *zap.Logger
}

// New constructs a Submitter publishing to the given request topic.
func New(
	store correlation.Store,
	provider broker.Provider,
	hasher *sha256.Hasher,
	clock relay.Clock,
	topic string,
	logger *zap.Logger,
) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		store:    store,
		provider: provider,
		hasher:   hasher,
		clock:    clock,
		topic:    topic,
		logger:   logger,
	}
}

// Submit accepts a crawl request for identity and returns a receipt carrying
// the request fingerprint. Identical identity/query/target triples map to
// the same fingerprint: a duplicate submission before the first result
// arrives overwrites the earlier record, and the single eventual result
// answers both.
func (s *Submitter) Submit(ctx context.Context, identity, query, target string) (relay.Receipt, error) {
	if identity == "" || query == "" || target == "" {
		metrics.RecordSubmission("validation_error")
		return relay.Receipt{}, fmt.Errorf("identity, query and target are required: %w", relay.ErrValidation)
	}

	fingerprint := s.hasher.Fingerprint(identity, query, target)
	now := s.clock.Now()

	rec := relay.CorrelationRecord{
		Fingerprint: fingerprint,
		Identity:    identity,
		Query:       query,
		Target:      target,
		CreatedAt:   now,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		metrics.RecordSubmission("storage_error")
		return relay.Receipt{}, fmt.Errorf("persist correlation record: %w: %w", relay.ErrStorageUnavailable, err)
	}

	body, err := json.Marshal(relay.RequestBody{Query: query, Target: target})
	if err != nil {
		metrics.RecordSubmission("validation_error")
		return relay.Receipt{}, fmt.Errorf("marshal request body: %w", err)
	}
	headers := map[string]string{
		relay.HeaderIdentity:    identity,
		relay.HeaderFingerprint: fingerprint,
		relay.HeaderTimestamp:   now.Format(time.RFC3339Nano),
	}
	if err := s.provider.Publish(ctx, s.topic, identity, headers, body); err != nil {
		// The record is now orphaned; retention reclaims it. Accepted as a
		// bounded failure mode rather than paying for two-phase commit.
		metrics.RecordSubmission("publish_error")
		s.logger.Error("publish failed after record persisted",
			zap.String("fingerprint", fingerprint),
			zap.String("topic", s.topic),
			zap.Error(err))
		return relay.Receipt{}, fmt.Errorf("publish crawl request: %w", err)
	}

	metrics.RecordSubmission("accepted")
	s.logger.Debug("crawl request accepted",
		zap.String("identity", identity),
		zap.String("fingerprint", fingerprint))
	return relay.Receipt{
		Fingerprint: fingerprint,
		Status:      "accepted",
		Message:     "crawl request queued",
	}, nil
}
