// Package postgres provides the Postgres-backed crawl.Frontier.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapai/scrapai/internal/crawl"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_queue (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	domain       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	attempts     INT  NOT NULL DEFAULT 0,
	scheduled_at TIMESTAMPTZ NOT NULL,
	last_error   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS crawl_queue_claim_idx
	ON crawl_queue (scheduled_at, id) WHERE status = 'queued';
`

// Config controls the Postgres connection pool and retry policy.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	// MaxAttempts is the total attempt ceiling for retryable failures.
	MaxAttempts int
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Frontier stores queue items in a crawl_queue table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never share an item.
type Frontier struct {
	pool        dbPool
	ids         crawl.IDGenerator
	clk         crawl.Clock
	maxAttempts int
}

// New connects a pool and builds a Frontier.
func New(ctx context.Context, cfg Config, ids crawl.IDGenerator, clk crawl.Clock) (*Frontier, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.MaxAttempts, ids, clk)
}

// NewWithPool constructs a Frontier from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, maxAttempts int, ids crawl.IDGenerator, clk crawl.Clock) (*Frontier, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Frontier{pool: pool, ids: ids, clk: clk, maxAttempts: maxAttempts}, nil
}

// EnsureSchema creates the crawl_queue table when missing.
func (f *Frontier) EnsureSchema(ctx context.Context) error {
	if _, err := f.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure crawl_queue schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (f *Frontier) Close() {
	if f == nil || f.pool == nil {
		return
	}
	f.pool.Close()
}

// Enqueue inserts the URL if its normalized form is not already tracked.
func (f *Frontier) Enqueue(ctx context.Context, rawURL string) (bool, error) {
	normalized, err := crawl.NormalizeURL(rawURL)
	if err != nil {
		return false, fmt.Errorf("normalize url: %w", err)
	}
	domain, err := crawl.Domain(normalized)
	if err != nil {
		return false, fmt.Errorf("derive domain: %w", err)
	}
	id, err := f.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate id: %w", err)
	}

	tag, err := f.pool.Exec(ctx, `
INSERT INTO crawl_queue (id, url, domain, status, attempts, scheduled_at)
VALUES ($1, $2, $3, 'queued', 0, $4)
ON CONFLICT (url) DO NOTHING`,
		id, normalized, domain, f.clk.Now())
	if err != nil {
		return false, fmt.Errorf("enqueue url: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimNext flips the oldest queued item to processing and returns it.
// Returns nil when the queue is drained.
func (f *Frontier) ClaimNext(ctx context.Context) (*crawl.QueueItem, error) {
	row := f.pool.QueryRow(ctx, `
UPDATE crawl_queue
SET status = 'processing', attempts = attempts + 1
WHERE id = (
	SELECT id FROM crawl_queue
	WHERE status = 'queued'
	ORDER BY scheduled_at, id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, url, domain, status, attempts, scheduled_at, last_error`)

	var item crawl.QueueItem
	err := row.Scan(&item.ID, &item.URL, &item.Domain, &item.Status,
		&item.Attempts, &item.ScheduledAt, &item.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next item: %w", err)
	}
	return &item, nil
}

// MarkResult records the outcome for a claimed item. A retryable failure
// below the attempt ceiling returns the item to queued.
func (f *Frontier) MarkResult(ctx context.Context, id string, status crawl.QueueStatus, errText string, retryable bool) error {
	tag, err := f.pool.Exec(ctx, `
UPDATE crawl_queue
SET status = CASE
		WHEN $2 = 'failed' AND $4 AND attempts < $5 THEN 'queued'
		ELSE $2
	END,
	last_error = $3
WHERE id = $1 AND status = 'processing'`,
		id, string(status), errText, retryable, f.maxAttempts)
	if err != nil {
		return fmt.Errorf("mark item %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("queue item %s is not processing", id)
	}
	return nil
}

// Stats returns per-status counters.
func (f *Frontier) Stats(ctx context.Context) (crawl.QueueStats, error) {
	rows, err := f.pool.Query(ctx, `SELECT status, COUNT(*) FROM crawl_queue GROUP BY status`)
	if err != nil {
		return crawl.QueueStats{}, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	var stats crawl.QueueStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return crawl.QueueStats{}, fmt.Errorf("scan queue stats: %w", err)
		}
		switch crawl.QueueStatus(status) {
		case crawl.StatusQueued:
			stats.Queued = count
		case crawl.StatusProcessing:
			stats.Processing = count
		case crawl.StatusSuccess:
			stats.Success = count
		case crawl.StatusDuplicate:
			stats.Duplicate = count
		case crawl.StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return crawl.QueueStats{}, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}
