// Package pubsub implements the broker provider on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/crawlstream/crawl-relay/internal/broker"
)

// Config controls the Pub/Sub provider.
type Config struct {
	ProjectID string
	// SubscriptionFor maps a topic name to its subscription ID.
	SubscriptionFor func(topic string) string
	// ClientOptions are passed through to the Pub/Sub client (used by tests
	// to target a fake server).
	ClientOptions []option.ClientOption
}

// Provider implements broker.Provider using GCP Pub/Sub. Pause cancels the
// subscription's Receive loop while leaving the subscription itself intact,
// so undelivered messages stay queued server-side; Resume restarts the loop.
type Provider struct {
	client *pubsub.Client
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	topic   string
	handler broker.Handler
	baseCtx context.Context
	cancel  context.CancelFunc
	paused  bool
	done    chan struct{}
}

// New connects to Pub/Sub and returns a Provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	if cfg.SubscriptionFor == nil {
		cfg.SubscriptionFor = func(topic string) string { return topic + ".relay" }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Provider{
		client: client,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]*subscription),
	}, nil
}

// Publish sends the message and waits for the broker's acknowledgement, so
// callers get store-then-publish ordering they can rely on.
func (p *Provider) Publish(ctx context.Context, topic, key string, headers map[string]string, body []byte) error {
	t := p.client.Topic(topic)
	defer t.Stop()
	if key != "" {
		t.EnableMessageOrdering = true
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data:        body,
		Attributes:  headers,
		OrderingKey: key,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a Receive loop for the topic's subscription. The loop is
// restartable: PauseTopic cancels it, ResumeTopic starts a fresh one.
func (p *Provider) Subscribe(ctx context.Context, topic string, handler broker.Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for topic %s", topic)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.subs[topic]; exists {
		return fmt.Errorf("topic %s already subscribed", topic)
	}
	sub := &subscription{topic: topic, handler: handler, baseCtx: ctx}
	p.subs[topic] = sub
	p.startReceiveLocked(sub)
	return nil
}

// startReceiveLocked launches the Receive goroutine. Caller holds p.mu.
func (p *Provider) startReceiveLocked(s *subscription) {
	recvCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel
	s.paused = false
	s.done = make(chan struct{})

	subID := p.cfg.SubscriptionFor(s.topic)
	gsub := p.client.Subscription(subID)
	// One message at a time preserves per-topic handler serialization.
	gsub.ReceiveSettings.NumGoroutines = 1
	gsub.ReceiveSettings.MaxOutstandingMessages = 1

	topic := s.topic
	handler := s.handler
	done := s.done
	go func() {
		defer close(done)
		err := gsub.Receive(recvCtx, func(ctx context.Context, m *pubsub.Message) {
			msg := broker.Message{
				Topic:   topic,
				Key:     m.OrderingKey,
				Headers: m.Attributes,
				Body:    m.Data,
			}
			if err := handler(ctx, msg); err != nil {
				p.logger.Warn("message handler failed, nacking",
					zap.String("topic", topic), zap.Error(err))
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil && recvCtx.Err() == nil {
			p.logger.Error("receive loop exited",
				zap.String("topic", topic), zap.String("subscription", subID), zap.Error(err))
		}
	}()
}

// PauseTopic cancels the topic's Receive loop. Unknown topics are a no-op so
// config-driven pause-all can cover topics without a consumer yet.
func (p *Provider) PauseTopic(topic string) error {
	p.mu.Lock()
	sub, ok := p.subs[topic]
	if !ok || sub.paused {
		p.mu.Unlock()
		return nil
	}
	sub.paused = true
	cancel := sub.cancel
	done := sub.done
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// ResumeTopic restarts a paused Receive loop.
func (p *Provider) ResumeTopic(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[topic]
	if !ok || !sub.paused {
		return nil
	}
	if sub.baseCtx.Err() != nil {
		return fmt.Errorf("resume %s: %w", topic, sub.baseCtx.Err())
	}
	p.startReceiveLocked(sub)
	return nil
}

// Close cancels every Receive loop and closes the client.
func (p *Provider) Close() error {
	p.mu.Lock()
	subs := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()

	for _, s := range subs {
		if s.cancel != nil && !s.paused {
			s.cancel()
			<-s.done
		}
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
