// Package memory provides an in-process broker for tests and local
// development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/crawlstream/crawl-relay/internal/broker"
)

// Broker routes messages between in-process publishers and subscribers.
// Delivery is synchronous: Publish invokes the topic's handler before
// returning, which keeps per-topic ordering and makes tests deterministic.
// A paused topic buffers messages and flushes them on resume.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topicState
	closed bool
}

type topicState struct {
	handler broker.Handler
	paused  bool
	buffer  []broker.Message
}

// New constructs an empty Broker.
func New() *Broker {
	return &Broker{topics: make(map[string]*topicState)}
}

func (b *Broker) topic(name string) *topicState {
	ts, ok := b.topics[name]
	if !ok {
		ts = &topicState{}
		b.topics[name] = ts
	}
	return ts
}

// Publish delivers the message to the topic's handler, or buffers it while
// the topic is paused or has no subscriber yet.
func (b *Broker) Publish(ctx context.Context, topic, key string, headers map[string]string, body []byte) error {
	msg := broker.Message{Topic: topic, Key: key, Headers: headers, Body: body}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker closed")
	}
	ts := b.topic(topic)
	if ts.paused || ts.handler == nil {
		ts.buffer = append(ts.buffer, msg)
		b.mu.Unlock()
		return nil
	}
	handler := ts.handler
	b.mu.Unlock()

	// Handler runs outside the lock so it can publish follow-up messages.
	if err := handler(ctx, msg); err != nil {
		return fmt.Errorf("handle %s: %w", topic, err)
	}
	return nil
}

// Subscribe installs the handler and drains anything buffered before the
// subscriber arrived.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler broker.Handler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("broker closed")
	}
	ts := b.topic(topic)
	if ts.handler != nil {
		b.mu.Unlock()
		return fmt.Errorf("topic %s already subscribed", topic)
	}
	ts.handler = handler
	b.mu.Unlock()

	return b.drain(ctx, topic)
}

// PauseTopic marks the topic paused. Unknown topics are created in the
// paused state so pausing ahead of a future subscriber works.
func (b *Broker) PauseTopic(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic(topic).paused = true
	return nil
}

// ResumeTopic unpauses the topic and flushes buffered messages in order.
func (b *Broker) ResumeTopic(topic string) error {
	b.mu.Lock()
	ts := b.topic(topic)
	ts.paused = false
	b.mu.Unlock()
	return b.drain(context.Background(), topic)
}

func (b *Broker) drain(ctx context.Context, topic string) error {
	for {
		b.mu.Lock()
		ts := b.topic(topic)
		if ts.paused || ts.handler == nil || len(ts.buffer) == 0 {
			b.mu.Unlock()
			return nil
		}
		msg := ts.buffer[0]
		ts.buffer = ts.buffer[1:]
		handler := ts.handler
		b.mu.Unlock()

		if err := handler(ctx, msg); err != nil {
			return fmt.Errorf("handle buffered %s: %w", topic, err)
		}
	}
}

// Unsubscribe removes the topic's handler, keeping buffered messages.
func (b *Broker) Unsubscribe(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic(topic).handler = nil
}

// Buffered reports how many messages are waiting on a topic.
func (b *Broker) Buffered(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topic(topic).buffer)
}

// Close marks the broker closed; subsequent publishes fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
