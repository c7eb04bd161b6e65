// Package memory provides an in-memory correlation store for tests and local
// development. It is process-local and loses records on restart; production
// deployments use the redis or postgres backends.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/crawlstream/crawl-relay/internal/relay"
)

// Store keeps correlation records in a map guarded by a RWMutex.
type Store struct {
	mu        sync.RWMutex
	records   map[string]relay.CorrelationRecord
	retention time.Duration
	clock     relay.Clock
}

// New constructs a Store. A retention of zero disables expiry. clock may be
// nil, in which case records never expire regardless of retention.
func New(retention time.Duration, clock relay.Clock) *Store {
	return &Store{
		records:   make(map[string]relay.CorrelationRecord),
		retention: retention,
		clock:     clock,
	}
}

// Put stores the record, replacing any record with the same fingerprint.
func (s *Store) Put(_ context.Context, rec relay.CorrelationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Fingerprint] = rec
	return nil
}

// Get returns the record, or nil when absent or past retention.
func (s *Store) Get(_ context.Context, fingerprint string) (*relay.CorrelationRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[fingerprint]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.expired(rec) {
		s.mu.Lock()
		delete(s.records, fingerprint)
		s.mu.Unlock()
		return nil, nil
	}
	out := rec
	return &out, nil
}

// Delete removes the record if present.
func (s *Store) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fingerprint)
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

// Len reports the live record count, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) expired(rec relay.CorrelationRecord) bool {
	if s.retention <= 0 || s.clock == nil {
		return false
	}
	return s.clock.Now().Sub(rec.CreatedAt) > s.retention
}
