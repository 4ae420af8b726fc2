// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxLinkHops bounds how many reassignments Resolve follows.
const MaxLinkHops = 8

const defaultTable = "item_links"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LinkStoreConfig controls the Postgres connection pool used for item links.
type LinkStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// LinkStore persists item ID reassignments and resolves them to the newest ID.
type LinkStore struct {
	pool  pool
	table string
}

// NewLinkStore creates a Postgres-backed LinkStore using the provided config.
func NewLinkStore(ctx context.Context, cfg LinkStoreConfig) (*LinkStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("resolver.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LinkStore{pool: p, table: table}, nil
}

// NewLinkStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLinkStoreWithPool(p pool, table string) (*LinkStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LinkStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *LinkStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the link table when it does not exist.
func (s *LinkStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	item_id      TEXT PRIMARY KEY,
	canonical_id TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create link table: %w", err)
	}
	return nil
}

// RecordLink upserts the mapping itemID -> canonicalID. Self links are ignored.
func (s *LinkStore) RecordLink(ctx context.Context, itemID, canonicalID string) error {
	if itemID == "" || canonicalID == "" {
		return fmt.Errorf("link requires both item id and canonical id")
	}
	if itemID == canonicalID {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (item_id, canonical_id, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (item_id) DO UPDATE
SET canonical_id = EXCLUDED.canonical_id, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, itemID, canonicalID); err != nil {
		return fmt.Errorf("record link %s: %w", itemID, err)
	}
	return nil
}

// Resolve walks the link chain from itemID and returns the deepest ID reached within MaxLinkHops.
func (s *LinkStore) Resolve(ctx context.Context, itemID string) (string, bool, error) {
	query := fmt.Sprintf(`
WITH RECURSIVE chain (id, depth) AS (
	SELECT canonical_id, 1 FROM %[1]s WHERE item_id = $1
	UNION ALL
	SELECT l.canonical_id, c.depth + 1
	FROM %[1]s l
	JOIN chain c ON l.item_id = c.id
	WHERE c.depth < $2 AND l.canonical_id <> $1
)
SELECT id FROM chain ORDER BY depth DESC LIMIT 1`, s.table)

	var canonical string
	err := s.pool.QueryRow(ctx, query, itemID, MaxLinkHops).Scan(&canonical)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve %s: %w", itemID, err)
	}
	if canonical == "" || canonical == itemID {
		return "", false, nil
	}
	return canonical, true, nil
}
