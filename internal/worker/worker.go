// Package worker implements the reference crawl executor. It consumes the
// request topic, fetches the target page, archives the body, and publishes a
// correlated result message. Production deployments may replace it with an
// external worker fleet speaking the same message contract.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/broker"
	"github.com/crawlstream/crawl-relay/internal/relay"
	"github.com/crawlstream/crawl-relay/internal/storage"
)

// Config controls Worker behavior.
type Config struct {
	ResultsTopic string
	UserAgent    string
	Timeout      time.Duration
	BlobPrefix   string
	ContentType  string
	// ExcerptBytes caps how much of the page body rides along in the result
	// message itself; the full body lives in the blob store.
	ExcerptBytes int
}

// Worker fetches pages for inbound crawl requests.
type Worker struct {
	provider broker.Provider
	blobs    storage.BlobStore
	clock    relay.Clock
	cfg      Config
	logger   *zap.Logger

	fetch func(ctx context.Context, target string) ([]byte, error)
}

// New constructs a Worker.
func New(provider broker.Provider, blobs storage.BlobStore, clock relay.Clock, cfg Config, logger *zap.Logger) *Worker {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "crawl-relay-bot/0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "pages"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.ExcerptBytes <= 0 {
		cfg.ExcerptBytes = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		provider: provider,
		blobs:    blobs,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	w.fetch = w.fetchWithColly
	return w
}

// Handle implements broker.Handler for the requests topic. Fetch failures
// become failure results rather than handler errors: the submitting client
// should hear about them, and redelivering a request that just failed would
// only repeat the failure.
func (w *Worker) Handle(ctx context.Context, msg broker.Message) error {
	fingerprint := msg.Headers[relay.HeaderFingerprint]
	if fingerprint == "" {
		w.logger.Warn("request message missing fingerprint header, dropping",
			zap.String("topic", msg.Topic))
		return nil
	}
	identity := msg.Headers[relay.HeaderIdentity]

	var req relay.RequestBody
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		w.logger.Error("malformed request body, dropping",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil
	}
	if req.Target == "" {
		return w.publishResult(ctx, fingerprint, identity, relay.ResultBody{Error: "request has no target"}, relay.StatusFailure)
	}

	body, err := w.fetch(ctx, req.Target)
	if err != nil {
		w.logger.Warn("fetch failed",
			zap.String("fingerprint", fingerprint),
			zap.String("target", req.Target),
			zap.Error(err))
		return w.publishResult(ctx, fingerprint, identity, relay.ResultBody{Error: err.Error()}, relay.StatusFailure)
	}

	path := fmt.Sprintf("%s/%s", w.cfg.BlobPrefix, fingerprint)
	uri, err := w.blobs.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("archive page body failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return w.publishResult(ctx, fingerprint, identity, relay.ResultBody{Error: "archive failed: " + err.Error()}, relay.StatusFailure)
	}

	excerpt := body
	if len(excerpt) > w.cfg.ExcerptBytes {
		excerpt = excerpt[:w.cfg.ExcerptBytes]
	}
	return w.publishResult(ctx, fingerprint, identity, relay.ResultBody{
		ResultURI: uri,
		Excerpt:   string(excerpt),
	}, relay.StatusSuccess)
}

func (w *Worker) publishResult(ctx context.Context, fingerprint, identity string, body relay.ResultBody, status string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal result body: %w", err)
	}
	headers := map[string]string{
		relay.HeaderFingerprint: fingerprint,
		relay.HeaderStatus:      status,
		relay.HeaderTimestamp:   w.clock.Now().Format(time.RFC3339Nano),
	}
	if identity != "" {
		headers[relay.HeaderIdentity] = identity
	}
	if err := w.provider.Publish(ctx, w.cfg.ResultsTopic, identity, headers, data); err != nil {
		// Returning the error nacks the request so the fetch is retried and
		// the result gets another chance to reach the results topic.
		return fmt.Errorf("publish result for %s: %w", fingerprint, err)
	}
	return nil
}

func (w *Worker) fetchWithColly(ctx context.Context, target string) ([]byte, error) {
	c := colly.NewCollector()
	c.UserAgent = w.cfg.UserAgent
	c.SetRequestTimeout(w.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", target, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, fetchErr)
		}
		return body, nil
	}
}
