// Package memory provides an in-process crawl.Frontier for tests and
// single-node runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/scrapai/scrapai/internal/crawl"
)

// Config tunes frontier behavior.
type Config struct {
	// MaxAttempts is the total attempt ceiling for retryable failures.
	MaxAttempts int
}

// Frontier keeps queue items in memory. One item per normalized URL;
// claim order is enqueue order.
type Frontier struct {
	cfg Config
	ids crawl.IDGenerator
	clk crawl.Clock

	mu    sync.Mutex
	items map[string]*crawl.QueueItem
	byURL map[string]string
	order []string
}

// New builds a Frontier.
func New(cfg Config, ids crawl.IDGenerator, clk crawl.Clock) *Frontier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Frontier{
		cfg:   cfg,
		ids:   ids,
		clk:   clk,
		items: make(map[string]*crawl.QueueItem),
		byURL: make(map[string]string),
	}
}

// Enqueue inserts the URL if its normalized form is not already tracked.
func (f *Frontier) Enqueue(_ context.Context, rawURL string) (bool, error) {
	normalized, err := crawl.NormalizeURL(rawURL)
	if err != nil {
		return false, fmt.Errorf("normalize url: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byURL[normalized]; exists {
		return false, nil
	}

	domain, err := crawl.Domain(normalized)
	if err != nil {
		return false, fmt.Errorf("derive domain: %w", err)
	}
	id, err := f.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate id: %w", err)
	}
	item := &crawl.QueueItem{
		ID:          id,
		URL:         normalized,
		Domain:      domain,
		Status:      crawl.StatusQueued,
		ScheduledAt: f.clk.Now(),
	}
	f.items[id] = item
	f.byURL[normalized] = id
	f.order = append(f.order, id)
	return true, nil
}

// ClaimNext flips the oldest queued item to processing and returns a copy.
func (f *Frontier) ClaimNext(_ context.Context) (*crawl.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range f.order {
		item := f.items[id]
		if item.Status != crawl.StatusQueued {
			continue
		}
		item.Status = crawl.StatusProcessing
		item.Attempts++
		claimed := *item
		return &claimed, nil
	}
	return nil, nil
}

// MarkResult records the outcome for a claimed item. A retryable failure
// below the attempt ceiling returns the item to queued.
func (f *Frontier) MarkResult(_ context.Context, id string, status crawl.QueueStatus, errText string, retryable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("queue item %s not found", id)
	}
	if item.Status != crawl.StatusProcessing {
		return fmt.Errorf("queue item %s is %s, not processing", id, item.Status)
	}

	if status == crawl.StatusFailed && retryable && item.Attempts < f.cfg.MaxAttempts {
		item.Status = crawl.StatusQueued
		item.LastError = errText
		return nil
	}

	item.Status = status
	item.LastError = errText
	return nil
}

// Stats returns per-status counters.
func (f *Frontier) Stats(_ context.Context) (crawl.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var stats crawl.QueueStats
	for _, item := range f.items {
		switch item.Status {
		case crawl.StatusQueued:
			stats.Queued++
		case crawl.StatusProcessing:
			stats.Processing++
		case crawl.StatusSuccess:
			stats.Success++
		case crawl.StatusDuplicate:
			stats.Duplicate++
		case crawl.StatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}
