// Package postgres provides a Postgres-backed correlation store for
// deployments that already run a relational database and do not want a
// separate Redis.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/relay"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and retention sweep.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Retention bounds how long an unanswered request's record survives.
	// Zero disables expiry and the sweep goroutine.
	Retention time.Duration
	// SweepInterval sets how often expired rows are purged (default 5m).
	SweepInterval time.Duration
}

type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements correlation.Store on Postgres. Expiry is enforced on read
// and swept periodically in the background.
type Store struct {
	pool      pgPool
	table     string
	retention time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Postgres-backed Store, ensures its schema, and starts the
// retention sweeper when a retention window is configured.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("correlation.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := newWithPool(ctx, pool, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// newWithPool is the injectable constructor used by tests with pgxmock.
func newWithPool(ctx context.Context, pool pgPool, cfg Config, logger *zap.Logger) (*Store, error) {
	table := cfg.Table
	if table == "" {
		table = "correlations"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		pool:      pool,
		table:     table,
		retention: cfg.Retention,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if s.retention > 0 {
		go s.sweep(interval)
	} else {
		close(s.doneCh)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		fingerprint TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		query TEXT NOT NULL,
		target TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ
	)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Put upserts the record; a second submission with the same fingerprint
// replaces the earlier one.
func (s *Store) Put(ctx context.Context, rec relay.CorrelationRecord) error {
	var expires *time.Time
	if s.retention > 0 {
		e := rec.CreatedAt.Add(s.retention)
		expires = &e
	}
	query := fmt.Sprintf(`INSERT INTO %s (fingerprint, identity, query, target, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fingerprint) DO UPDATE
		SET identity = EXCLUDED.identity, query = EXCLUDED.query, target = EXCLUDED.target,
		    created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		rec.Fingerprint, rec.Identity, rec.Query, rec.Target, rec.CreatedAt, expires); err != nil {
		return fmt.Errorf("put %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// Get fetches a live record, treating expired rows as absent.
func (s *Store) Get(ctx context.Context, fingerprint string) (*relay.CorrelationRecord, error) {
	query := fmt.Sprintf(`SELECT identity, query, target, created_at FROM %s
		WHERE fingerprint = $1 AND (expires_at IS NULL OR expires_at > now())`, s.table)
	rec := relay.CorrelationRecord{Fingerprint: fingerprint}
	err := s.pool.QueryRow(ctx, query, fingerprint).
		Scan(&rec.Identity, &rec.Query, &rec.Target, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", fingerprint, err)
	}
	return &rec, nil
}

// Delete removes the row; deleting a missing fingerprint is a no-op.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE fingerprint = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, fingerprint); err != nil {
		return fmt.Errorf("delete %s: %w", fingerprint, err)
	}
	return nil
}

func (s *Store) sweep(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now()`, s.table)
			if tag, err := s.pool.Exec(ctx, query); err != nil {
				s.logger.Warn("correlation sweep failed", zap.Error(err))
			} else if tag.RowsAffected() > 0 {
				s.logger.Info("swept expired correlation records",
					zap.Int64("rows", tag.RowsAffected()))
			}
			cancel()
		}
	}
}

// Close stops the sweeper and releases the pool.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.pool.Close()
	return nil
}
