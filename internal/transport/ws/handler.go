package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/metrics"
	"github.com/crawlstream/crawl-relay/internal/registry"
)

// IdentityHeader names the client identity on the upgrade request.
const IdentityHeader = "X-Relay-Identity"

// IDGenerator mints connection IDs.
type IDGenerator interface {
	MustNewID() string
}

// Handler upgrades HTTP requests to WebSockets and binds each connection to
// its identity in the registry for the connection's lifetime.
type Handler struct {
	registry *registry.Registry
	ids      IDGenerator
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a Handler bound to the given registry.
func NewHandler(reg *registry.Registry, ids IDGenerator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: reg,
		ids:      ids,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are out of scope; non-browser clients send no
			// Origin header so the check always passes for them.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /v1/ws. The identity comes from the upgrade request;
// a second connection for the same identity evicts the first.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(IdentityHeader)
	if identity == "" {
		identity = r.URL.Query().Get("identity")
	}
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(h.ids.MustNewID(), wsConn, h.logger)
	h.registry.Bind(identity, conn)
	metrics.SetActiveConnections(h.registry.Len())

	h.logger.Info("client connected",
		zap.String("identity", identity),
		zap.String("conn", conn.ID()))

	// The read loop only detects disconnect; clients do not send frames.
	for {
		if _, _, err := wsConn.ReadMessage(); err != nil {
			break
		}
	}

	h.registry.Unbind(conn)
	conn.Terminate("connection closed")
	metrics.SetActiveConnections(h.registry.Len())

	h.logger.Info("client disconnected",
		zap.String("identity", identity),
		zap.String("conn", conn.ID()))
}
