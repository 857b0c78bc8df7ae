// Package ledger persists one audit row per processed item in Postgres.
// The ledger is advisory: stages log and continue when a write fails, so a
// database outage never blocks the pipeline.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragline/ingest/internal/pipeline"
)

// Config controls the Postgres connection pool behind the ledger.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Ledger writes crawl and transform rows into Postgres. It implements
// pipeline.Ledger.
type Ledger struct {
	pool execCloser
}

// New connects a pool and returns a Ledger.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &Ledger{pool: pool}, nil
}

// NewWithPool constructs a Ledger from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Ledger{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

const insertCrawl = `
INSERT INTO crawl_ledger (
	id,
	url,
	storage_key,
	outcome,
	error_text,
	ack_anomaly,
	fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`

// RecordCrawl inserts one crawl-stage row.
func (l *Ledger) RecordCrawl(ctx context.Context, rec pipeline.CrawlRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if rec.URL == "" {
		return fmt.Errorf("record url is required")
	}
	args := []any{
		uuid.NewString(),
		rec.URL,
		rec.StorageKey,
		string(rec.Outcome),
		rec.ErrorText,
		rec.AckAnomaly,
		rec.FetchedAt,
	}
	if _, err := l.pool.Exec(ctx, insertCrawl, args...); err != nil {
		return fmt.Errorf("insert crawl row: %w", err)
	}
	return nil
}

const insertTransform = `
INSERT INTO transform_ledger (
	id,
	source_key,
	outcome,
	chunk_count,
	error_text,
	processed_at
) VALUES ($1,$2,$3,$4,$5,$6)`

// RecordTransform inserts one transform-stage row.
func (l *Ledger) RecordTransform(ctx context.Context, rec pipeline.TransformRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if rec.SourceKey == "" {
		return fmt.Errorf("record source key is required")
	}
	args := []any{
		uuid.NewString(),
		rec.SourceKey,
		string(rec.Outcome),
		rec.ChunkCount,
		rec.ErrorText,
		rec.ProcessedAt,
	}
	if _, err := l.pool.Exec(ctx, insertTransform, args...); err != nil {
		return fmt.Errorf("insert transform row: %w", err)
	}
	return nil
}
