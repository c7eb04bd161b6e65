package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/broker"
)

// Manager owns the registered consumers and exposes batch lifecycle
// operations. PauseAll and ResumeAll iterate the configured topic set rather
// than the registered consumers: the deployment may care about topics no
// consumer is wired to yet, and operators still need the pause lever for
// those during an incident.
type Manager struct {
	provider broker.Provider
	topics   []string
	logger   *zap.Logger

	mu        sync.Mutex
	consumers map[string]*Consumer
}

// NewManager constructs a Manager over the broker provider and the full
// configured topic set.
func NewManager(provider broker.Provider, topics []string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		provider:  provider,
		topics:    append([]string(nil), topics...),
		logger:    logger,
		consumers: make(map[string]*Consumer),
	}
}

// RegisterConsumer adds a consumer to the managed set. No broker side effect
// occurs until StartAll. Registering the same name twice is an error.
func (m *Manager) RegisterConsumer(c *Consumer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.consumers[c.Name()]; exists {
		return fmt.Errorf("consumer %s already registered", c.Name())
	}
	m.consumers[c.Name()] = c
	return nil
}

// Consumer returns a registered consumer by name.
func (m *Manager) Consumer(name string) (*Consumer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consumers[name]
	return c, ok
}

func (m *Manager) snapshot() []*Consumer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		out = append(out, c)
	}
	return out
}

// StartAll starts every registered consumer. A failure starting one is
// logged with its topic and does not block the others; partial start is an
// accepted outcome surfaced via logs.
func (m *Manager) StartAll(ctx context.Context) {
	for _, c := range m.snapshot() {
		if err := c.Start(ctx, m.provider); err != nil {
			m.logger.Error("failed to start consumer",
				zap.String("consumer", c.Name()),
				zap.String("topic", c.Topic()),
				zap.Error(err))
			continue
		}
		m.logger.Info("consumer started",
			zap.String("consumer", c.Name()),
			zap.String("topic", c.Topic()))
	}
}

// PauseAll issues a broker-level pause for every configured topic, then
// mirrors the state into matching registered consumers so descriptor and
// broker state stay consistent.
func (m *Manager) PauseAll() {
	paused := make(map[string]bool, len(m.topics))
	for _, topic := range m.topics {
		if err := m.provider.PauseTopic(topic); err != nil {
			m.logger.Error("failed to pause topic",
				zap.String("topic", topic), zap.Error(err))
			continue
		}
		paused[topic] = true
		m.logger.Info("topic paused", zap.String("topic", topic))
	}
	for _, c := range m.snapshot() {
		if paused[c.Topic()] {
			c.markPaused()
		}
	}
}

// ResumeAll reverses PauseAll across the configured topic set.
func (m *Manager) ResumeAll() {
	resumed := make(map[string]bool, len(m.topics))
	for _, topic := range m.topics {
		if err := m.provider.ResumeTopic(topic); err != nil {
			m.logger.Error("failed to resume topic",
				zap.String("topic", topic), zap.Error(err))
			continue
		}
		resumed[topic] = true
		m.logger.Info("topic resumed", zap.String("topic", topic))
	}
	for _, c := range m.snapshot() {
		if resumed[c.Topic()] {
			c.markConsuming()
		}
	}
}

// StopAll stops every registered consumer. Topics without a registered
// consumer are untouched.
func (m *Manager) StopAll() {
	for _, c := range m.snapshot() {
		if err := c.Stop(m.provider); err != nil {
			m.logger.Error("failed to stop consumer",
				zap.String("consumer", c.Name()),
				zap.String("topic", c.Topic()),
				zap.Error(err))
		}
	}
}
