// Package ws adapts WebSocket connections to the delivery registry.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// defaultWriteTimeout bounds a Send when the caller's context has no deadline.
const defaultWriteTimeout = 10 * time.Second

// Conn wraps a WebSocket connection with the identity-registry contract:
// serialized writes, a stable connection ID, and a forced-close path for
// eviction.
type Conn struct {
	id     string
	ws     *websocket.Conn
	logger *zap.Logger

	// writeMu serializes writers; gorilla allows at most one concurrent
	// writer per connection.
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id string, ws *websocket.Conn, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		id:     id,
		ws:     ws,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ID returns the process-unique connection ID.
func (c *Conn) ID() string { return c.id }

// Send writes payload as a single text message, bounded by the context
// deadline when one is set.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write to connection %s: %w", c.id, err)
	}
	return nil
}

// Terminate sends a close frame carrying reason and tears the connection
// down. The read loop observes the closed socket and exits, which drives the
// registry unbind. Safe to call more than once.
func (c *Conn) Terminate(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		if err := c.ws.WriteMessage(websocket.CloseMessage, msg); err != nil {
			c.logger.Debug("close frame write failed", zap.String("conn", c.id), zap.Error(err))
		}
		c.writeMu.Unlock()

		if err := c.ws.Close(); err != nil {
			c.logger.Debug("connection close failed", zap.String("conn", c.id), zap.Error(err))
		}
	})
}

// Terminated reports whether Terminate has run.
func (c *Conn) Terminated() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
