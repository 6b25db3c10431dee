package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapai/scrapai/internal/clock/system"
	"github.com/scrapai/scrapai/internal/crawl"
	frontiermem "github.com/scrapai/scrapai/internal/frontier/memory"
	"github.com/scrapai/scrapai/internal/id/uuid"
	pagemem "github.com/scrapai/scrapai/internal/pagestore/memory"
)

type fixture struct {
	server   *Server
	frontier *frontiermem.Frontier
	pages    *pagemem.Store
}

func newFixture() *fixture {
	ids := uuid.New()
	clk := system.New()
	frontier := frontiermem.New(frontiermem.Config{MaxAttempts: 3}, ids, clk)
	pages := pagemem.New(ids, clk)
	return &fixture{
		server:   NewServer(frontier, pages, nil),
		frontier: frontier,
		pages:    pages,
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmitURLsQueuesAndDedups(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/v1/crawl", map[string]any{
		"urls": []string{
			"https://example.com/a",
			"https://example.com/b",
			"https://Example.com/a/",
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Queued  int      `json:"queued"`
		Skipped int      `json:"skipped"`
		Errors  []string `json:"errors"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 2, resp.Queued)
	require.Equal(t, 1, resp.Skipped)
	require.Empty(t, resp.Errors)
}

func TestSubmitURLsReportsInvalidEntries(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/v1/crawl", map[string]any{
		"urls": []string{"https://example.com/ok", "ftp://example.com/bad"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Queued int      `json:"queued"`
		Errors []string `json:"errors"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Queued)
	require.Len(t, resp.Errors, 1)
}

func TestSubmitURLsRejectsEmptyBody(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/v1/crawl", map[string]any{"urls": []string{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/crawl", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedPage(t *testing.T, f *fixture, title, content, hash string) {
	t.Helper()
	_, err := f.pages.SavePage(context.Background(), crawl.Page{
		URL:         "https://example.com/" + hash,
		Title:       title,
		Content:     content,
		ContentHash: hash,
		WordCount:   len(content),
	})
	require.NoError(t, err)
}

func TestSearchReturnsMatches(t *testing.T) {
	t.Parallel()

	f := newFixture()
	seedPage(t, f, "Go Patterns", "goroutines and channels explained", "h1")
	seedPage(t, f, "Cooking", "a recipe for bread", "h2")

	rec := f.do(t, http.MethodGet, "/api/v1/search?q=goroutines", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int `json:"count"`
		Results []struct {
			Title string `json:"title"`
		} `json:"results"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "Go Patterns", resp.Results[0].Title)
}

func TestSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/v1/search", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPagesPaginates(t *testing.T) {
	t.Parallel()

	f := newFixture()
	seedPage(t, f, "One", "first page body", "h1")
	seedPage(t, f, "Two", "second page body", "h2")
	seedPage(t, f, "Three", "third page body", "h3")

	rec := f.do(t, http.MethodGet, "/api/v1/pages?offset=1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
		Pages []struct {
			Title string `json:"title"`
		} `json:"pages"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "Two", resp.Pages[0].Title)
}

func TestStatsReflectsQueue(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		_, err := f.frontier.Enqueue(ctx, u)
		require.NoError(t, err)
	}
	item, err := f.frontier.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, f.frontier.MarkResult(ctx, item.ID, crawl.StatusSuccess, "", false))

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Queue crawl.QueueStats `json:"queue"`
	}
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Queue.Queued)
	require.Equal(t, 1, resp.Queue.Success)
	require.Equal(t, 2, resp.Queue.Total)
}
