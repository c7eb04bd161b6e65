// Package registry tracks which live connection currently belongs to each
// client identity. It is the single in-process authority for delivery
// targets: no other component holds connection references.
package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/metrics"
)

// Conn is the opaque handle the registry manages. Implementations wrap a
// transport connection (e.g., a WebSocket).
type Conn interface {
	// ID uniquely identifies this connection for the life of the process.
	ID() string
	// Send writes a payload to the client, honoring ctx for deadlines.
	Send(ctx context.Context, payload []byte) error
	// Terminate forcibly closes the connection. Used when a newer connection
	// for the same identity evicts this one.
	Terminate(reason string)
}

// Registry maintains the bidirectional identity <-> connection mapping. Both
// directions are functional: one connection per identity and one identity per
// connection. All mutations go through a single mutex so interleaved
// bind/unbind calls cannot leave a dangling reverse entry.
type Registry struct {
	mu         sync.Mutex
	byIdentity map[string]Conn
	byConn     map[string]string
	logger     *zap.Logger
}

// New constructs an empty Registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byIdentity: make(map[string]Conn),
		byConn:     make(map[string]string),
		logger:     logger,
	}
}

// Bind installs conn as the live connection for identity. If a different
// connection is already bound, it is evicted first: its reverse mapping is
// removed before the new binding is installed, then it is terminated. The
// eviction ordering guarantees that a late Unbind from the old connection's
// read loop finds nothing to remove.
func (r *Registry) Bind(identity string, conn Conn) {
	r.mu.Lock()
	var evicted Conn
	if old, ok := r.byIdentity[identity]; ok && old.ID() != conn.ID() {
		delete(r.byConn, old.ID())
		evicted = old
	}
	r.byIdentity[identity] = conn
	r.byConn[conn.ID()] = identity
	r.mu.Unlock()

	if evicted != nil {
		metrics.RecordEviction()
		r.logger.Info("evicting superseded connection",
			zap.String("identity", identity),
			zap.String("old_conn", evicted.ID()),
			zap.String("new_conn", conn.ID()))
		// Terminate outside the lock: the old connection's read loop will
		// call Unbind, which must not deadlock against us.
		evicted.Terminate("superseded by a newer connection")
	}
}

// Unbind removes the mapping for conn, but only if conn is still the current
// binding for its identity. An unbind for a connection already superseded by
// a later Bind is a no-op, so a late-arriving disconnect for a stale
// connection never evicts its replacement.
func (r *Registry) Unbind(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byConn[conn.ID()]
	if !ok {
		return
	}
	delete(r.byConn, conn.ID())
	if current, ok := r.byIdentity[identity]; ok && current.ID() == conn.ID() {
		delete(r.byIdentity, identity)
	}
}

// Connection returns the live connection for identity, if any.
func (r *Registry) Connection(identity string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byIdentity[identity]
	return conn, ok
}

// Identity returns the identity bound to conn, if any.
func (r *Registry) Identity(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byConn[conn.ID()]
	return identity, ok
}

// Len reports how many identities are currently connected.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byIdentity)
}
