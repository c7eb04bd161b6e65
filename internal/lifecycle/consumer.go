// Package lifecycle manages the broker consumers feeding the relay, giving
// operators uniform start/pause/resume/stop control per topic.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/crawlstream/crawl-relay/internal/broker"
	"github.com/crawlstream/crawl-relay/internal/metrics"
	"github.com/crawlstream/crawl-relay/internal/relay"
)

// State is a consumer's position in its lifecycle.
type State string

// Consumer states. Transitions follow
// Idle -> Subscribed -> Consuming <-> Paused -> Stopped; Stopped is terminal.
const (
	StateIdle       State = "idle"
	StateSubscribed State = "subscribed"
	StateConsuming  State = "consuming"
	StatePaused     State = "paused"
	StateStopped    State = "stopped"
)

// Consumer binds exactly one topic to a handler and tracks its lifecycle
// state. All methods are safe for concurrent use.
type Consumer struct {
	name    string
	topic   string
	handler broker.Handler

	mu    sync.Mutex
	state State
}

// NewConsumer creates an Idle consumer for topic.
func NewConsumer(name, topic string, handler broker.Handler) *Consumer {
	return &Consumer{name: name, topic: topic, handler: handler, state: StateIdle}
}

// Name returns the consumer's registration name.
func (c *Consumer) Name() string { return c.name }

// Topic returns the single topic this consumer owns.
func (c *Consumer) Topic() string { return c.topic }

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) transition(to State) {
	c.state = to
	metrics.RecordConsumerState(c.topic, string(to))
}

// Start subscribes the consumer's handler on the provider and marks it
// Consuming. Valid only from Idle.
func (c *Consumer) Start(ctx context.Context, provider broker.Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
	case StateStopped:
		return fmt.Errorf("consumer %s is stopped: %w", c.name, relay.ErrBrokerOperation)
	default:
		return fmt.Errorf("consumer %s already started: %w", c.name, relay.ErrBrokerOperation)
	}
	if err := provider.Subscribe(ctx, c.topic, c.handler); err != nil {
		return fmt.Errorf("subscribe %s: %w: %w", c.topic, relay.ErrBrokerOperation, err)
	}
	c.transition(StateSubscribed)
	c.transition(StateConsuming)
	return nil
}

// Pause halts delivery for the consumer's topic while keeping the
// subscription (and its position) alive. Valid from Consuming; pausing an
// already Paused consumer is a no-op.
func (c *Consumer) Pause(provider broker.Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StatePaused:
		return nil
	case StateConsuming:
	default:
		return fmt.Errorf("consumer %s cannot pause from %s: %w", c.name, c.state, relay.ErrBrokerOperation)
	}
	if err := provider.PauseTopic(c.topic); err != nil {
		return fmt.Errorf("pause %s: %w: %w", c.topic, relay.ErrBrokerOperation, err)
	}
	c.transition(StatePaused)
	return nil
}

// Resume reverses Pause. Resuming a Consuming consumer is a no-op.
func (c *Consumer) Resume(provider broker.Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConsuming:
		return nil
	case StatePaused:
	default:
		return fmt.Errorf("consumer %s cannot resume from %s: %w", c.name, c.state, relay.ErrBrokerOperation)
	}
	if err := provider.ResumeTopic(c.topic); err != nil {
		return fmt.Errorf("resume %s: %w: %w", c.topic, relay.ErrBrokerOperation, err)
	}
	c.transition(StateConsuming)
	return nil
}

// Stop marks the consumer Stopped from any state and pauses its topic as
// best-effort cleanup. Repeated stops are no-ops; there is no restart after
// Stop.
func (c *Consumer) Stop(provider broker.Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return nil
	}
	wasActive := c.state == StateConsuming
	c.transition(StateStopped)
	if wasActive {
		if err := provider.PauseTopic(c.topic); err != nil {
			return fmt.Errorf("stop %s: %w: %w", c.topic, relay.ErrBrokerOperation, err)
		}
	}
	return nil
}

// markPaused mirrors a broker-level pause into the descriptor without
// touching the broker again. Used by Manager.PauseAll.
func (c *Consumer) markPaused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConsuming {
		c.transition(StatePaused)
	}
}

// markConsuming mirrors a broker-level resume into the descriptor.
func (c *Consumer) markConsuming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused {
		c.transition(StateConsuming)
	}
}
