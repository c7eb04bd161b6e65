// Package redis provides the Redis-backed correlation store used in
// production. Records are stored as JSON values keyed by fingerprint, with
// the retention window applied as a native TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crawlstream/crawl-relay/internal/relay"
)

const keyPrefix = "correlation:"

// Config controls the Redis connection and record retention.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Retention bounds how long an unanswered request's record survives.
	// Zero disables expiry.
	Retention time.Duration
}

// Store implements correlation.Store on Redis.
type Store struct {
	client    *redis.Client
	retention time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, retention: cfg.Retention}, nil
}

// Put stores the record as JSON under its fingerprint key.
func (s *Store) Put(ctx context.Context, rec relay.CorrelationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal correlation record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+rec.Fingerprint, data, s.retention).Err(); err != nil {
		return fmt.Errorf("set %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// Get fetches the record, returning (nil, nil) when the key is absent.
func (s *Store) Get(ctx context.Context, fingerprint string) (*relay.CorrelationRecord, error) {
	data, err := s.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", fingerprint, err)
	}
	var rec relay.CorrelationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal correlation record %s: %w", fingerprint, err)
	}
	return &rec, nil
}

// Delete removes the key; Redis DEL on a missing key is already a no-op.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("del %s: %w", fingerprint, err)
	}
	return nil
}

// Close releases the client's connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
