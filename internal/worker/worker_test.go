package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapai/scrapai/internal/clock/system"
	"github.com/scrapai/scrapai/internal/crawl"
	frontiermem "github.com/scrapai/scrapai/internal/frontier/memory"
	"github.com/scrapai/scrapai/internal/id/uuid"
	pagemem "github.com/scrapai/scrapai/internal/pagestore/memory"
	blobmem "github.com/scrapai/scrapai/internal/storage/memory"
)

type fakeGate struct {
	allow      bool
	awaitErr   error
	fetchAsked int
	awaitAsked int
}

func (g *fakeGate) CanFetch(context.Context, string) bool {
	g.fetchAsked++
	return g.allow
}

func (g *fakeGate) AwaitTurn(context.Context, string) error {
	g.awaitAsked++
	return g.awaitErr
}

type fakeFetcher struct {
	html  string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.html, nil
}

type fakeExtractor struct {
	ext       crawl.Extraction
	panicWith any
}

func (e *fakeExtractor) Extract(string, string) crawl.Extraction {
	if e.panicWith != nil {
		panic(e.panicWith)
	}
	return e.ext
}

type harness struct {
	worker   *Worker
	frontier *frontiermem.Frontier
	pages    *pagemem.Store
	blobs    *blobmem.BlobStore
	gate     *fakeGate
	fetcher  *fakeFetcher
}

func goodExtraction() crawl.Extraction {
	return crawl.Extraction{
		Title:       "Title",
		Content:     "one two three four five six seven eight nine ten eleven",
		ContentHash: "hash-1",
		WordCount:   11,
	}
}

func newHarness(t *testing.T, fetcher *fakeFetcher, extractor *fakeExtractor, gate *fakeGate) *harness {
	t.Helper()
	ids := uuid.New()
	clk := system.New()
	frontier := frontiermem.New(frontiermem.Config{MaxAttempts: 3}, ids, clk)
	pages := pagemem.New(ids, clk)
	blobs := blobmem.NewBlobStore()

	w := New(Config{MinWordCount: 10, IdlePoll: 10 * time.Millisecond}, Options{
		Frontier:  frontier,
		Gate:      gate,
		Fetcher:   fetcher,
		Extractor: extractor,
		Pages:     pages,
		Blobs:     blobs,
		IDs:       ids,
		Clock:     clk,
		Logger:    zap.NewNop(),
	})
	return &harness{
		worker:   w,
		frontier: frontier,
		pages:    pages,
		blobs:    blobs,
		gate:     gate,
		fetcher:  fetcher,
	}
}

func claim(t *testing.T, h *harness, url string) *crawl.QueueItem {
	t.Helper()
	ctx := context.Background()
	_, err := h.frontier.Enqueue(ctx, url)
	require.NoError(t, err)
	item, err := h.frontier.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func TestProcessItemSuccessStoresPageAndArchive(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&fakeFetcher{html: "<html>real page</html>"},
		&fakeExtractor{ext: goodExtraction()},
		&fakeGate{allow: true},
	)
	item := claim(t, h, "https://example.com/a")

	result := h.worker.safeProcess(context.Background(), item)
	require.Equal(t, crawl.StatusSuccess, result.status)
	require.Empty(t, result.errText)

	pages, err := h.pages.GetPages(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "https://example.com/a", pages[0].URL)
	require.Equal(t, "memory://html/hash-1.html", pages[0].RawHTMLPath)

	data, ok := h.blobs.Object("html/hash-1.html")
	require.True(t, ok)
	require.Equal(t, "<html>real page</html>", string(data))
}

func TestProcessItemRobotsBlockedSkipsFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&fakeFetcher{html: "<html></html>"},
		&fakeExtractor{ext: goodExtraction()},
		&fakeGate{allow: false},
	)
	item := claim(t, h, "https://example.com/private")

	result := h.worker.safeProcess(context.Background(), item)
	require.Equal(t, crawl.StatusFailed, result.status)
	require.Equal(t, crawl.ReasonRobotsBlocked, result.errText)
	require.False(t, result.retryable)
	require.Zero(t, h.fetcher.calls)
}

func TestProcessItemFetchErrorIsRetryable(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&fakeFetcher{err: &crawl.FetchError{URL: "https://example.com/x", Err: errors.New("connection refused")}},
		&fakeExtractor{ext: goodExtraction()},
		&fakeGate{allow: true},
	)
	item := claim(t, h, "https://example.com/x")

	result := h.worker.safeProcess(context.Background(), item)
	require.Equal(t, crawl.StatusFailed, result.status)
	require.Equal(t, crawl.ReasonFetchError, result.errText)
	require.True(t, result.retryable)

	// A retryable failure below the ceiling goes back to queued.
	require.NoError(t, h.frontier.MarkResult(context.Background(), item.ID, result.status, result.errText, result.retryable))
	stats, err := h.frontier.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Queued)
}

func TestProcessItemThinContentFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&fakeFetcher{html: "<html>thin</html>"},
		&fakeExtractor{ext: crawl.Extraction{Title: "T", Content: "short", ContentHash: "h", WordCount: 1}},
		&fakeGate{allow: true},
	)
	item := claim(t, h, "https://example.com/thin")

	result := h.worker.safeProcess(context.Background(), item)
	require.Equal(t, crawl.StatusFailed, result.status)
	require.Equal(t, crawl.ReasonNoContent, result.errText)
	require.False(t, result.retryable)

	pages, err := h.pages.GetPages(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Empty(t, pages)
}

func TestProcessItemDuplicateContentIsNotStoredTwice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t,
		&fakeFetcher{html: "<html>same content</html>"},
		&fakeExtractor{ext: goodExtraction()},
		&fakeGate{allow: true},
	)

	first := claim(t, h, "https://example.com/original")
	result := h.worker.safeProcess(ctx, first)
	require.Equal(t, crawl.StatusSuccess, result.status)

	second := claim(t, h, "https://mirror.example/copy")
	result = h.worker.safeProcess(ctx, second)
	require.Equal(t, crawl.StatusDuplicate, result.status)

	pages, err := h.pages.GetPages(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
}

func TestProcessItemShutdownDuringAwaitIsRequeued(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&fakeFetcher{html: "<html></html>"},
		&fakeExtractor{ext: goodExtraction()},
		&fakeGate{allow: true, awaitErr: context.Canceled},
	)
	item := claim(t, h, "https://example.com/later")

	result := h.worker.safeProcess(context.Background(), item)
	require.Equal(t, crawl.StatusFailed, result.status)
	require.Equal(t, crawl.ReasonShutdown, result.errText)
	require.True(t, result.retryable)
	require.Zero(t, h.fetcher.calls)
}

func TestProcessItemPanicIsContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&fakeFetcher{html: "<html></html>"},
		&fakeExtractor{panicWith: "malformed node tree"},
		&fakeGate{allow: true},
	)
	item := claim(t, h, "https://example.com/poison")

	result := h.worker.safeProcess(context.Background(), item)
	require.Equal(t, crawl.StatusFailed, result.status)
	require.Contains(t, result.errText, "panic")
	require.False(t, result.retryable)
}

func TestRunProcessesQueueUntilCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&fakeFetcher{html: "<html>page</html>"},
		&fakeExtractor{ext: goodExtraction()},
		&fakeGate{allow: true},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.frontier.Enqueue(ctx, "https://example.com/run")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stats, err := h.frontier.Stats(context.Background())
		return err == nil && stats.Success == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
