// Package deliver correlates inbound result messages with their requests and
// hands them to the live connection for the submitting identity.
package deliver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/metrics"
	"github.com/crawlstream/crawl-relay/internal/registry"
	"github.com/crawlstream/crawl-relay/internal/relay"
)

// Sink resolves the current connection for an identity and sends a payload.
// A client offline at delivery time receives nothing; the drop is logged and
// counted, never retried or queued.
type Sink struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewSink constructs a Sink over the connection registry.
func NewSink(reg *registry.Registry, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{registry: reg, logger: logger}
}

// Deliver sends payload to the connection currently bound to identity. An
// offline client is not an error. A failed send is reported as
// relay.ErrDelivery; the caller treats the connection as offline for this
// delivery and moves on.
func (s *Sink) Deliver(ctx context.Context, identity string, payload []byte) error {
	conn, ok := s.registry.Connection(identity)
	if !ok {
		metrics.RecordDelivery("offline")
		s.logger.Info("client offline, dropping result",
			zap.String("identity", identity))
		return nil
	}
	if err := conn.Send(ctx, payload); err != nil {
		metrics.RecordDelivery("send_error")
		return fmt.Errorf("send to %s: %w: %w", identity, relay.ErrDelivery, err)
	}
	metrics.RecordDelivery("delivered")
	return nil
}
