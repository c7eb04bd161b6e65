// Package broker defines the interface for the message broker carrying crawl
// requests and results. The abstraction keeps the relay independent of a
// specific broker implementation (e.g., GCP Pub/Sub, Kafka, NATS).
package broker

import "context"

// Message is one broker record. Correlation metadata travels in Headers so
// consumers can route without parsing Body.
type Message struct {
	Topic   string
	Key     string
	Headers map[string]string
	Body    []byte
}

// Handler processes one inbound message. Returning an error requests
// redelivery where the broker supports it; returning nil acknowledges the
// message. Handler bodies for a single topic run one at a time.
type Handler func(ctx context.Context, msg Message) error

// Provider is the common broker client surface.
type Provider interface {
	// Publish sends a message to topic. It returns once the broker has
	// accepted the message.
	Publish(ctx context.Context, topic, key string, headers map[string]string, body []byte) error

	// Subscribe registers handler for topic and starts delivery. At most one
	// handler per topic; re-subscribing an active topic is an error.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// PauseTopic stops delivering records for topic while keeping the
	// subscription (and thus its position) alive. Pausing a topic with no
	// subscriber is valid and takes effect when one subscribes.
	PauseTopic(topic string) error

	// ResumeTopic reverses PauseTopic.
	ResumeTopic(topic string) error

	// Close tears down all subscriptions and the underlying client.
	Close() error
}
