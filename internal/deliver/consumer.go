package deliver

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/broker"
	"github.com/crawlstream/crawl-relay/internal/correlation"
	"github.com/crawlstream/crawl-relay/internal/metrics"
	"github.com/crawlstream/crawl-relay/internal/relay"
)

// Consumer processes worker result messages. For each message it extracts
// the fingerprint from headers, resolves the correlation record, attempts
// delivery, and deletes the record. The record is deleted whether or not
// delivery succeeded: correlated state is consumed exactly once. The single
// exception is a malformed result body, where the record is kept so a
// corrected retry from the producer can still resolve.
type Consumer struct {
	store  correlation.Store
	sink   *Sink
	logger *zap.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(store correlation.Store, sink *Sink, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{store: store, sink: sink, logger: logger}
}

// Handle implements broker.Handler for the results topic. It never returns
// an error for per-message problems; those are logged and the message is
// acknowledged so the consumer loop keeps moving. Only store unavailability
// propagates, requesting redelivery.
func (c *Consumer) Handle(ctx context.Context, msg broker.Message) error {
	fingerprint := msg.Headers[relay.HeaderFingerprint]
	if fingerprint == "" {
		metrics.RecordDroppedResult("missing_header")
		c.logger.Warn("result message missing fingerprint header, dropping",
			zap.String("topic", msg.Topic))
		return nil
	}

	rec, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		// Store trouble is transient; nack so the broker redelivers once the
		// backend recovers.
		c.logger.Error("correlation lookup failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return err
	}
	if rec == nil {
		// Already answered, expired, or never ours. A no-op, not a fault.
		metrics.RecordDroppedResult("unknown_fingerprint")
		c.logger.Debug("no correlation record for result, dropping",
			zap.String("fingerprint", fingerprint))
		return nil
	}

	if identity := msg.Headers[relay.HeaderIdentity]; identity != "" && identity != rec.Identity {
		// The header disagrees with the stored record. Drop the message but
		// keep the record: a genuine result for it may still arrive.
		metrics.RecordDroppedResult("identity_mismatch")
		c.logger.Warn("result identity header does not match correlation record, dropping",
			zap.String("fingerprint", fingerprint),
			zap.String("header_identity", identity),
			zap.String("record_identity", rec.Identity))
		return nil
	}

	var body relay.ResultBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		// Malformed payload: log, keep the record, keep the loop alive.
		metrics.RecordDroppedResult("malformed_body")
		c.logger.Error("malformed result body, keeping correlation record",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil
	}

	status := msg.Headers[relay.HeaderStatus]
	if status == "" {
		status = relay.StatusSuccess
	}
	payload, err := json.Marshal(relay.DeliveryPayload{
		Fingerprint: fingerprint,
		Query:       rec.Query,
		Target:      rec.Target,
		Status:      status,
		ResultURI:   body.ResultURI,
		Excerpt:     body.Excerpt,
		Error:       body.Error,
	})
	if err != nil {
		c.logger.Error("marshal delivery payload", zap.Error(err))
		return nil
	}

	if err := c.sink.Deliver(ctx, rec.Identity, payload); err != nil {
		if errors.Is(err, relay.ErrDelivery) {
			c.logger.Warn("delivery failed, treating client as offline",
				zap.String("identity", rec.Identity),
				zap.String("fingerprint", fingerprint),
				zap.Error(err))
		} else {
			c.logger.Error("delivery error", zap.Error(err))
		}
	}

	// Success or not, the correlated state is consumed now.
	if err := c.store.Delete(ctx, fingerprint); err != nil {
		c.logger.Warn("delete correlation record failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	}
	return nil
}
