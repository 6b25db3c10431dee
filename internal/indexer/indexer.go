// Package indexer runs the embedding loop: poll for pages without
// vectors, embed them in batches and commit each batch atomically.
package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrapai/scrapai/internal/crawl"
	"github.com/scrapai/scrapai/internal/metrics"
)

// Config tunes the indexer loop.
type Config struct {
	BatchSize int
	// IdlePoll is the pause when no pages are pending or a batch failed.
	IdlePoll time.Duration
}

// Indexer embeds stored pages until its context is canceled.
type Indexer struct {
	cfg      Config
	store    crawl.EmbeddingStore
	embedder crawl.Embedder
	logger   *zap.Logger
}

// New builds an Indexer.
func New(cfg Config, store crawl.EmbeddingStore, embedder crawl.Embedder, logger *zap.Logger) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		logger:   logger,
	}
}

// Run polls and embeds until ctx is canceled.
func (i *Indexer) Run(ctx context.Context) {
	i.logger.Info("embedding indexer started")
	for {
		if ctx.Err() != nil {
			i.logger.Info("embedding indexer stopped")
			return
		}

		n, err := i.ProcessBatch(ctx)
		if err != nil {
			i.logger.Error("embedding batch failed", zap.Error(err))
			metrics.ObserveEmbedBatchFailure()
			i.pause(ctx, i.cfg.IdlePoll)
			continue
		}
		if n == 0 {
			i.pause(ctx, i.cfg.IdlePoll)
			continue
		}

		metrics.ObservePagesEmbedded(n)
		i.logger.Info("embedding batch committed", zap.Int("pages", n))
	}
}

// ProcessBatch embeds one batch of pending pages and returns how many
// were committed. A failure anywhere leaves every page un-embedded, so
// the next poll retries the same batch.
func (i *Indexer) ProcessBatch(ctx context.Context) (int, error) {
	pages, err := i.store.PagesWithoutEmbeddings(ctx, i.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("poll pages without embeddings: %w", err)
	}
	if len(pages) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pages))
	for j, page := range pages {
		texts[j] = page.Content
	}

	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch of %d: %w", len(pages), err)
	}
	if len(vectors) != len(pages) {
		return 0, fmt.Errorf("got %d vectors for %d pages", len(vectors), len(pages))
	}

	if err := i.store.StoreEmbeddings(ctx, pages, vectors); err != nil {
		return 0, fmt.Errorf("store embeddings: %w", err)
	}
	return len(pages), nil
}

func (i *Indexer) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
