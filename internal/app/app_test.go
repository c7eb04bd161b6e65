package app

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

	"github.com/crawlstream/crawl-relay/internal/config"
	"github.com/crawlstream/crawl-relay/internal/relay"
	"github.com/crawlstream/crawl-relay/internal/transport/ws"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Server.Port = 0
	cfg.Broker.Provider = "memory"
	cfg.Broker.RequestsTopic = "crawl.requests"
	cfg.Broker.ResultsTopic = "crawl.results"
	cfg.Correlation.Provider = "memory"
	cfg.Correlation.RetentionHours = 24
	cfg.Storage.Provider = "memory"
	cfg.Storage.Prefix = "pages"
	cfg.Worker.Enabled = true
	cfg.Worker.TimeoutSeconds = 5
	cfg.Worker.ExcerptBytes = 64
	return cfg
}

// End-to-end over in-memory providers: a client connects, submits over HTTP,
// the embedded worker fetches the target, and the result lands on the
// client's WebSocket with the correlation record consumed.
func TestSubmitFetchDeliverRoundTrip(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>relay round trip</body></html>"))
	}))
	t.Cleanup(target.Close)

	a, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.manager.StartAll(context.Background())

	srv := httptest.NewServer(a.apiServer.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	header := http.Header{ws.IdentityHeader: []string{"client@example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	// The registry binding happens on the server side of the upgrade; wait
	// for it so the delivery has a live connection to hit.
	require.Eventually(t, func() bool {
		_, ok := a.reg.Connection("client@example.com")
		return ok
	}, time.Second, 10*time.Millisecond)

	submitBody, err := json.Marshal(map[string]string{
		"identity": "client@example.com",
		"query":    "round trip",
		"target":   target.URL,
	})
	require.NoError(t, err)

	httpResp, err := http.Post(srv.URL+"/v1/crawl", "application/json", bytes.NewReader(submitBody))
	require.NoError(t, err)
	defer func() { _ = httpResp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, httpResp.StatusCode)

	var receipt relay.Receipt
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&receipt))
	require.NotEmpty(t, receipt.Fingerprint)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload relay.DeliveryPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, receipt.Fingerprint, payload.Fingerprint)
	require.Equal(t, relay.StatusSuccess, payload.Status)
	require.Equal(t, "round trip", payload.Query)
	require.Equal(t, target.URL, payload.Target)
	require.Contains(t, payload.ResultURI, "memory://pages/")
	require.Contains(t, payload.Excerpt, "relay round trip")

	// Correlated state is consumed exactly once.
	rec, err := a.store.Get(context.Background(), receipt.Fingerprint)
	require.NoError(t, err)
	require.Nil(t, rec)
}

// A failed fetch still produces a delivery, carrying failure status and the
// worker's error text.
func TestFailedFetchDeliversFailure(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(target.Close)

	a, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.manager.StartAll(context.Background())

	srv := httptest.NewServer(a.apiServer.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	header := http.Header{ws.IdentityHeader: []string{"client@example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		_, ok := a.reg.Connection("client@example.com")
		return ok
	}, time.Second, 10*time.Millisecond)

	submitBody := []byte(`{"identity":"client@example.com","query":"q","target":"` + target.URL + `"}`)
	httpResp, err := http.Post(srv.URL+"/v1/crawl", "application/json", bytes.NewReader(submitBody))
	require.NoError(t, err)
	_ = httpResp.Body.Close()
	require.Equal(t, http.StatusAccepted, httpResp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload relay.DeliveryPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, relay.StatusFailure, payload.Status)
	require.NotEmpty(t, payload.Error)
	require.Empty(t, payload.ResultURI)
}

// A result for an identity with no live connection is dropped, and the
// correlation record is still deleted.
func TestOfflineClientResultIsDroppedAndRecordDeleted(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	t.Cleanup(target.Close)

	a, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.manager.StartAll(context.Background())

	srv := httptest.NewServer(a.apiServer.Handler())
	t.Cleanup(srv.Close)

	submitBody := []byte(`{"identity":"offline@example.com","query":"q","target":"` + target.URL + `"}`)
	httpResp, err := http.Post(srv.URL+"/v1/crawl", "application/json", bytes.NewReader(submitBody))
	require.NoError(t, err)
	var receipt relay.Receipt
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&receipt))
	_ = httpResp.Body.Close()

	// Memory broker delivery is synchronous, so by the time the submit call
	// returned the whole pipeline has run.
	rec, err := a.store.Get(context.Background(), receipt.Fingerprint)
	require.NoError(t, err)
	require.Nil(t, rec)
}
