package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	brokermem "github.com/crawlstream/crawl-relay/internal/broker/memory"
	"github.com/crawlstream/crawl-relay/internal/config"
	correlationmem "github.com/crawlstream/crawl-relay/internal/correlation/memory"
	"github.com/crawlstream/crawl-relay/internal/hash/sha256"
	"github.com/crawlstream/crawl-relay/internal/id/uuid"
	"github.com/crawlstream/crawl-relay/internal/registry"
	"github.com/crawlstream/crawl-relay/internal/relay"
	clocksystem "github.com/crawlstream/crawl-relay/internal/clock/system"
	"github.com/crawlstream/crawl-relay/internal/submit"
	"github.com/crawlstream/crawl-relay/internal/transport/ws"
)

type serverFixture struct {
	server *Server
	store  *correlationmem.Store
	broker *brokermem.Broker
	reg    *registry.Registry
}

func newFixture(t *testing.T, cfg config.Config) *serverFixture {
	t.Helper()

	store := correlationmem.New(0, clocksystem.Clock{})
	b := brokermem.New()
	submitter := submit.New(store, b, sha256.New(), clocksystem.Clock{}, "crawl.requests", nil)
	reg := registry.New(nil)
	wsHandler := ws.NewHandler(reg, uuid.NewGenerator(), nil)

	return &serverFixture{
		server: NewServer(submitter, wsHandler, cfg, nil, nil),
		store:  store,
		broker: b,
		reg:    reg,
	}
}

func TestSubmitCrawlAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	body := []byte(`{"identity":"a@example.com","query":"prices","target":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/crawl", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var receipt relay.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.NotEmpty(t, receipt.Fingerprint)
	require.Equal(t, "accepted", receipt.Status)

	stored, err := f.store.Get(context.Background(), receipt.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 1, f.broker.Buffered("crawl.requests"))
}

func TestSubmitCrawlIdentityFromHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	body := []byte(`{"query":"prices","target":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/crawl", bytes.NewReader(body))
	req.Header.Set(ws.IdentityHeader, "b@example.com")
	rec := httptest.NewRecorder()

	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSubmitCrawlInvalidJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/crawl", strings.NewReader("{invalid"))
	rec := httptest.NewRecorder()

	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitCrawlMissingFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/crawl", strings.NewReader(`{"query":"only"}`))
	rec := httptest.NewRecorder()

	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddlewareRejectsMissingKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	f := newFixture(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestWebSocketRouteUpgrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	header := http.Header{ws.IdentityHeader: []string{"c@example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		_, ok := f.reg.Connection("c@example.com")
		return ok
	}, time.Second, 10*time.Millisecond)
}
