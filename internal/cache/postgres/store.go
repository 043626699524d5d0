// Package postgres provides a Postgres-backed cache store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apigrove/media-gateway/internal/cache"
	"github.com/apigrove/media-gateway/internal/gateway"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for cache rows.
type Config struct {
	DSN             string
	Table           string
	TTL             time.Duration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists cache entries in a Postgres table.
type Store struct {
	pool  querier
	table string
	ttl   time.Duration
	clock gateway.Clock
}

// New connects to Postgres using the provided config and ensures the
// cache table exists.
func New(ctx context.Context, cfg Config, clock gateway.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "provider_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	s := newWithPool(pool, table, cfg.TTL, clock)
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newWithPool(pool querier, table string, ttl time.Duration, clock gateway.Clock) *Store {
	return &Store{pool: pool, table: table, ttl: ttl, clock: clock}
}

func (s *Store) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			stored_at TIMESTAMPTZ NOT NULL
		)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure cache table %s: %w", s.table, err)
	}
	return nil
}

// Get returns the live value for key or cache.ErrNotFound. Expired
// rows are deleted lazily on read.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	query := fmt.Sprintf(`SELECT value, stored_at FROM %s WHERE key = $1`, s.table)
	var (
		value    []byte
		storedAt time.Time
	)
	if err := s.pool.QueryRow(ctx, query, key).Scan(&value, &storedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	entry := cache.Entry{Value: value, StoredAt: storedAt}
	if entry.Expired(s.ttl, s.clock.Now()) {
		del := fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND stored_at = $2`, s.table)
		if _, err := s.pool.Exec(ctx, del, key, storedAt); err != nil {
			return nil, fmt.Errorf("postgres delete expired: %w", err)
		}
		return nil, cache.ErrNotFound
	}
	return entry.Value, nil
}

// Put upserts value under key; the newest write wins.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (key, value, stored_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, stored_at = EXCLUDED.stored_at`,
		s.table)
	if _, err := s.pool.Exec(ctx, query, key, []byte(value), s.clock.Now()); err != nil {
		return fmt.Errorf("postgres put: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
