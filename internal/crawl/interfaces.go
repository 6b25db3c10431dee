package crawl

import (
	"context"
	"time"
)

// Frontier owns the QueueItem lifecycle: enqueue, claim, terminal bookkeeping.
type Frontier interface {
	// Enqueue normalizes the URL and inserts it if no item shares the
	// normalized form. Returns whether a new item was created.
	Enqueue(ctx context.Context, rawURL string) (bool, error)
	// ClaimNext atomically flips the oldest queued item to processing and
	// returns it, or nil when nothing is queued.
	ClaimNext(ctx context.Context) (*QueueItem, error)
	// MarkResult records the terminal outcome for a claimed item. A failed
	// retryable result below the attempt ceiling returns to queued.
	MarkResult(ctx context.Context, id string, status QueueStatus, errText string, retryable bool) error
	// Stats returns the per-status counters.
	Stats(ctx context.Context) (QueueStats, error)
}

// PageStore owns Page persistence and the content-hash dedup index.
type PageStore interface {
	IsDuplicate(ctx context.Context, contentHash string) (bool, error)
	// SavePage inserts the page unless its content hash is already present,
	// in which case the existing page's id is returned.
	SavePage(ctx context.Context, page Page) (string, error)
	GetPages(ctx context.Context, offset, limit int) ([]Page, error)
	Search(ctx context.Context, query string, limit int) ([]Page, error)
}

// EmbeddingStore is the indexer's view of persistence: un-embedded pages in,
// vectors out, all-or-nothing per batch.
type EmbeddingStore interface {
	PagesWithoutEmbeddings(ctx context.Context, limit int) ([]Page, error)
	StoreEmbeddings(ctx context.Context, pages []Page, vectors [][]float32) error
}

// PolitenessGate answers robots permission and paces per-domain fetches.
type PolitenessGate interface {
	CanFetch(ctx context.Context, rawURL string) bool
	AwaitTurn(ctx context.Context, domain string) error
}

// Fetcher retrieves raw page HTML. Non-2xx responses and timeouts are
// reported as an empty body plus an error, never a partial body.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Extractor turns raw HTML into a normalized title/text/hash triple.
type Extractor interface {
	Extract(html, rawURL string) Extraction
}

// Embedder computes one vector per input text, preserving input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces queue item and page IDs.
type IDGenerator interface {
	NewID() (string, error)
}
