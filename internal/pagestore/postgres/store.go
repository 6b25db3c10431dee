// Package postgres provides the Postgres-backed page and embedding stores.
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
CREATE TABLE IF NOT EXISTS pages (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	title         TEXT NOT NULL,
	content       TEXT NOT NULL,
	content_hash  TEXT NOT NULL UNIQUE,
	word_count    INT  NOT NULL DEFAULT 0,
	raw_html_path TEXT NOT NULL DEFAULT '',
	crawl_time    TIMESTAMPTZ NOT NULL,
	embedded      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS embeddings (
	page_id     TEXT PRIMARY KEY REFERENCES pages (id),
	vector      REAL[] NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pages_pending_embed_idx
	ON pages (crawl_time) WHERE embedded = FALSE;
`

const pageColumns = `id, url, title, content, content_hash, word_count, raw_html_path, crawl_time, embedded`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store persists pages and embeddings in Postgres. Implements both
// crawl.PageStore and crawl.EmbeddingStore.
type Store struct {
	pool dbPool
	ids  crawl.IDGenerator
	clk  crawl.Clock
}

// New connects a pool and builds a Store.
func New(ctx context.Context, cfg Config, ids crawl.IDGenerator, clk crawl.Clock) (*Store, error) {
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
	return NewWithPool(pool, ids, clk)
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, ids crawl.IDGenerator, clk crawl.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, ids: ids, clk: clk}, nil
}

// EnsureSchema creates the pages and embeddings tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure pages schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// IsDuplicate reports whether a page with this content hash exists.
func (s *Store) IsDuplicate(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pages WHERE content_hash = $1)`, contentHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate hash: %w", err)
	}
	return exists, nil
}

// SavePage inserts the page unless its content hash is already present, in
// which case the existing page's id is returned. The conflict clause makes
// the check-and-insert atomic against concurrent savers.
func (s *Store) SavePage(ctx context.Context, page crawl.Page) (string, error) {
	if page.ContentHash == "" {
		return "", fmt.Errorf("page content hash is required")
	}
	if page.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		page.ID = id
	}
	if page.CrawlTime.IsZero() {
		page.CrawlTime = s.clk.Now()
	}

	var insertedID string
	err := s.pool.QueryRow(ctx, `
INSERT INTO pages (id, url, title, content, content_hash, word_count, raw_html_path, crawl_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (content_hash) DO NOTHING
RETURNING id`,
		page.ID, page.URL, page.Title, page.Content, page.ContentHash,
		page.WordCount, page.RawHTMLPath, page.CrawlTime).Scan(&insertedID)
	if err == nil {
		return insertedID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("insert page: %w", err)
	}

	// Conflict: another page already owns this hash.
	var existingID string
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM pages WHERE content_hash = $1`, page.ContentHash).Scan(&existingID)
	if err != nil {
		return "", fmt.Errorf("look up existing page: %w", err)
	}
	return existingID, nil
}

// GetPages lists stored pages ordered by crawl time.
func (s *Store) GetPages(ctx context.Context, offset, limit int) ([]crawl.Page, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+pageColumns+`
FROM pages
ORDER BY crawl_time, id
OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

// Search returns pages whose title or content matches the query,
// case-insensitively, up to limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]crawl.Page, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+pageColumns+`
FROM pages
WHERE title ILIKE '%' || $1 || '%' OR content ILIKE '%' || $1 || '%'
ORDER BY crawl_time, id
LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

// PagesWithoutEmbeddings returns up to limit pages not yet embedded,
// oldest first.
func (s *Store) PagesWithoutEmbeddings(ctx context.Context, limit int) ([]crawl.Page, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+pageColumns+`
FROM pages
WHERE embedded = FALSE
ORDER BY crawl_time, id
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pages without embeddings: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

// StoreEmbeddings persists one vector per page and flips the embedded flag
// in a single transaction, so a failed batch marks nothing.
func (s *Store) StoreEmbeddings(ctx context.Context, pages []crawl.Page, vectors [][]float32) error {
	if len(pages) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d pages", len(vectors), len(pages))
	}
	if len(pages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin embeddings tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.clk.Now()
	for i, page := range pages {
		if _, err := tx.Exec(ctx, `
INSERT INTO embeddings (page_id, vector, inserted_at)
VALUES ($1, $2, $3)`, page.ID, vectors[i], now); err != nil {
			return fmt.Errorf("insert embedding for page %s: %w", page.ID, err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE pages SET embedded = TRUE WHERE id = $1`, page.ID)
		if err != nil {
			return fmt.Errorf("mark page %s embedded: %w", page.ID, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("page %s not found", page.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit embeddings tx: %w", err)
	}
	return nil
}

func scanPages(rows pgx.Rows) ([]crawl.Page, error) {
	var out []crawl.Page
	for rows.Next() {
		var page crawl.Page
		if err := rows.Scan(&page.ID, &page.URL, &page.Title, &page.Content,
			&page.ContentHash, &page.WordCount, &page.RawHTMLPath,
			&page.CrawlTime, &page.Embedded); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page rows: %w", err)
	}
	return out, nil
}
