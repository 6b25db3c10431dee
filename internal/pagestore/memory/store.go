// Package memory provides an in-process page store for tests and
// single-node runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/scrapai/scrapai/internal/crawl"
)

// Store keeps pages and embeddings in memory. Implements both
// crawl.PageStore and crawl.EmbeddingStore.
type Store struct {
	ids crawl.IDGenerator
	clk crawl.Clock

	mu         sync.Mutex
	pages      map[string]*crawl.Page
	byHash     map[string]string
	order      []string
	embeddings map[string]crawl.EmbeddingRecord
}

// New builds a Store.
func New(ids crawl.IDGenerator, clk crawl.Clock) *Store {
	return &Store{
		ids:        ids,
		clk:        clk,
		pages:      make(map[string]*crawl.Page),
		byHash:     make(map[string]string),
		embeddings: make(map[string]crawl.EmbeddingRecord),
	}
}

// IsDuplicate reports whether a page with this content hash exists.
func (s *Store) IsDuplicate(_ context.Context, contentHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byHash[contentHash]
	return ok, nil
}

// SavePage inserts the page unless its content hash is already present, in
// which case the existing page's id is returned. The check and the insert
// happen under one lock so concurrent savers cannot both insert.
func (s *Store) SavePage(_ context.Context, page crawl.Page) (string, error) {
	if page.ContentHash == "" {
		return "", fmt.Errorf("page content hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHash[page.ContentHash]; ok {
		return existing, nil
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

	stored := page
	s.pages[stored.ID] = &stored
	s.byHash[stored.ContentHash] = stored.ID
	s.order = append(s.order, stored.ID)
	return stored.ID, nil
}

// GetPages lists stored pages in insertion order.
func (s *Store) GetPages(_ context.Context, offset, limit int) ([]crawl.Page, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if offset >= len(s.order) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.order) {
		end = len(s.order)
	}
	out := make([]crawl.Page, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, *s.pages[id])
	}
	return out, nil
}

// Search returns pages whose title or content contains the query,
// case-insensitively, up to limit.
func (s *Store) Search(_ context.Context, query string, limit int) ([]crawl.Page, error) {
	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]crawl.Page, 0, limit)
	for _, id := range s.order {
		page := s.pages[id]
		if strings.Contains(strings.ToLower(page.Title), needle) ||
			strings.Contains(strings.ToLower(page.Content), needle) {
			out = append(out, *page)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// PagesWithoutEmbeddings returns up to limit pages not yet embedded,
// oldest first.
func (s *Store) PagesWithoutEmbeddings(_ context.Context, limit int) ([]crawl.Page, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]crawl.Page, 0, limit)
	for _, id := range s.order {
		page := s.pages[id]
		if page.Embedded {
			continue
		}
		out = append(out, *page)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// StoreEmbeddings persists one vector per page and flips the embedded flag.
// All-or-nothing: a mismatched batch leaves every page untouched.
func (s *Store) StoreEmbeddings(_ context.Context, pages []crawl.Page, vectors [][]float32) error {
	if len(pages) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d pages", len(vectors), len(pages))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, page := range pages {
		if _, ok := s.pages[page.ID]; !ok {
			return fmt.Errorf("page %s not found", page.ID)
		}
	}
	now := s.clk.Now()
	for i, page := range pages {
		s.embeddings[page.ID] = crawl.EmbeddingRecord{
			PageID:     page.ID,
			Vector:     append([]float32(nil), vectors[i]...),
			InsertedAt: now,
		}
		s.pages[page.ID].Embedded = true
	}
	return nil
}

// Embedding returns the stored vector for a page, for inspection in tests
// and the management API.
func (s *Store) Embedding(pageID string) (crawl.EmbeddingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.embeddings[pageID]
	return rec, ok
}
