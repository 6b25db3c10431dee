// Package worker runs the crawl loop: claim a queue item, pass the
// politeness gate, fetch, extract, dedup and store. One bad page never
// takes the loop down.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrapai/scrapai/internal/crawl"
	"github.com/scrapai/scrapai/internal/metrics"
)

// Config tunes the crawl loop.
type Config struct {
	// MinWordCount is the floor below which an extraction counts as empty.
	MinWordCount int
	// IdlePoll is the pause between claims when the queue is drained.
	IdlePoll time.Duration
	// ItemDelay is a coarse pause after each processed item, on top of the
	// per-domain throttle.
	ItemDelay time.Duration
	// RawContentType is the stored content type for raw HTML blobs.
	RawContentType string
}

// Worker processes queue items until its context is canceled.
type Worker struct {
	cfg       Config
	frontier  crawl.Frontier
	gate      crawl.PolitenessGate
	fetcher   crawl.Fetcher
	extractor crawl.Extractor
	pages     crawl.PageStore
	blobs     crawl.BlobStore
	ids       crawl.IDGenerator
	clk       crawl.Clock
	logger    *zap.Logger
}

// Options carries the worker's collaborators. Blobs may be nil to skip
// raw HTML archiving.
type Options struct {
	Frontier  crawl.Frontier
	Gate      crawl.PolitenessGate
	Fetcher   crawl.Fetcher
	Extractor crawl.Extractor
	Pages     crawl.PageStore
	Blobs     crawl.BlobStore
	IDs       crawl.IDGenerator
	Clock     crawl.Clock
	Logger    *zap.Logger
}

// outcome is the terminal result of one item.
type outcome struct {
	status    crawl.QueueStatus
	errText   string
	retryable bool
}

// New builds a Worker.
func New(cfg Config, opts Options) *Worker {
	if cfg.MinWordCount <= 0 {
		cfg.MinWordCount = 10
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 10 * time.Second
	}
	if cfg.RawContentType == "" {
		cfg.RawContentType = "text/html; charset=utf-8"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:       cfg,
		frontier:  opts.Frontier,
		gate:      opts.Gate,
		fetcher:   opts.Fetcher,
		extractor: opts.Extractor,
		pages:     opts.Pages,
		blobs:     opts.Blobs,
		ids:       opts.IDs,
		clk:       opts.Clock,
		logger:    logger,
	}
}

// Run claims and processes items until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("crawl worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("crawl worker stopped")
			return
		}

		item, err := w.frontier.ClaimNext(ctx)
		if err != nil {
			w.logger.Error("claim next item", zap.Error(err))
			w.pause(ctx, w.cfg.IdlePoll)
			continue
		}
		if item == nil {
			w.pause(ctx, w.cfg.IdlePoll)
			continue
		}

		result := w.safeProcess(ctx, item)

		// The mark must land even when ctx was canceled mid-item,
		// otherwise the item is stuck in processing.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := w.frontier.MarkResult(markCtx, item.ID, result.status, result.errText, result.retryable); err != nil {
			w.logger.Error("mark item result",
				zap.String("item_id", item.ID),
				zap.Error(err))
		}
		cancel()

		metrics.ObservePageOutcome(string(result.status))
		w.logger.Info("item processed",
			zap.String("item_id", item.ID),
			zap.String("url", item.URL),
			zap.String("status", string(result.status)),
			zap.String("error", result.errText))

		if w.cfg.ItemDelay > 0 {
			w.pause(ctx, w.cfg.ItemDelay)
		}
	}
}

// safeProcess contains panics from any collaborator so one poisoned page
// cannot kill the loop.
func (w *Worker) safeProcess(ctx context.Context, item *crawl.QueueItem) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing item",
				zap.String("item_id", item.ID),
				zap.String("url", item.URL),
				zap.Any("panic", r))
			result = outcome{
				status:  crawl.StatusFailed,
				errText: fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return w.processItem(ctx, item)
}

func (w *Worker) processItem(ctx context.Context, item *crawl.QueueItem) outcome {
	if !w.gate.CanFetch(ctx, item.URL) {
		metrics.ObserveRobotsBlocked()
		return outcome{status: crawl.StatusFailed, errText: crawl.ReasonRobotsBlocked}
	}

	if err := w.gate.AwaitTurn(ctx, item.Domain); err != nil {
		// Canceled while waiting for the domain slot: give the item back.
		return outcome{status: crawl.StatusFailed, errText: crawl.ReasonShutdown, retryable: true}
	}

	start := w.clk.Now()
	rawHTML, err := w.fetcher.Fetch(ctx, item.URL)
	metrics.ObserveFetchDuration(w.clk.Now().Sub(start))
	if err != nil {
		w.logger.Warn("fetch failed",
			zap.String("url", item.URL),
			zap.Int("attempt", item.Attempts),
			zap.Error(err))
		return outcome{
			status:    crawl.StatusFailed,
			errText:   crawl.ReasonFetchError,
			retryable: crawl.IsRetryable(err),
		}
	}

	extraction := w.extractor.Extract(rawHTML, item.URL)
	if extraction.Content == "" || extraction.WordCount < w.cfg.MinWordCount {
		return outcome{status: crawl.StatusFailed, errText: crawl.ReasonNoContent}
	}

	dup, err := w.pages.IsDuplicate(ctx, extraction.ContentHash)
	if err != nil {
		return outcome{status: crawl.StatusFailed, errText: crawl.ReasonStoreError}
	}
	if dup {
		metrics.ObserveDedupHit()
		return outcome{status: crawl.StatusDuplicate}
	}

	pageID, err := w.ids.NewID()
	if err != nil {
		return outcome{status: crawl.StatusFailed, errText: crawl.ReasonStoreError}
	}

	page := crawl.Page{
		ID:          pageID,
		URL:         item.URL,
		Title:       extraction.Title,
		Content:     extraction.Content,
		ContentHash: extraction.ContentHash,
		WordCount:   extraction.WordCount,
		CrawlTime:   w.clk.Now(),
	}
	page.RawHTMLPath = w.archiveRawHTML(ctx, extraction.ContentHash, rawHTML)

	storedID, err := w.pages.SavePage(ctx, page)
	if err != nil {
		w.logger.Error("save page",
			zap.String("url", item.URL),
			zap.Error(err))
		return outcome{status: crawl.StatusFailed, errText: crawl.ReasonStoreError}
	}
	if storedID != pageID {
		// Another worker stored the same content between the dedup check
		// and the insert.
		metrics.ObserveDedupHit()
		return outcome{status: crawl.StatusDuplicate}
	}

	return outcome{status: crawl.StatusSuccess}
}

// archiveRawHTML uploads the raw page body. Best effort: a failed upload
// only drops the archive path, never the page.
func (w *Worker) archiveRawHTML(ctx context.Context, contentHash, rawHTML string) string {
	if w.blobs == nil {
		return ""
	}
	path := fmt.Sprintf("html/%s.html", contentHash)
	uri, err := w.blobs.PutObject(ctx, path, w.cfg.RawContentType, []byte(rawHTML))
	if err != nil {
		w.logger.Warn("archive raw html", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
