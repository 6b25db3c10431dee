// Package crawl defines core types shared across the pipeline subsystems.
package crawl

import "time"

// QueueStatus represents the lifecycle state of a queue item.
type QueueStatus string

// Queue item status values persisted in the frontier.
const (
	StatusQueued     QueueStatus = "queued"
	StatusProcessing QueueStatus = "processing"
	StatusSuccess    QueueStatus = "success"
	StatusFailed     QueueStatus = "failed"
	StatusDuplicate  QueueStatus = "duplicate"
)

// Terminal reports whether the status ends an item's traversal.
func (s QueueStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusDuplicate:
		return true
	default:
		return false
	}
}

// QueueItem is one pending or processed URL in the frontier.
// Exactly one item exists per distinct normalized URL.
type QueueItem struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Domain      string      `json:"domain"`
	Status      QueueStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	ScheduledAt time.Time   `json:"scheduled_at"`
	LastError   string      `json:"last_error,omitempty"`
}

// Page is a successfully extracted document. Immutable once stored,
// except for the Embedded flag owned by the embedding indexer.
type Page struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	WordCount   int       `json:"word_count"`
	RawHTMLPath string    `json:"raw_html_path,omitempty"`
	CrawlTime   time.Time `json:"crawl_time"`
	Embedded    bool      `json:"embedded"`
}

// EmbeddingRecord stores one vector per page.
type EmbeddingRecord struct {
	PageID     string    `json:"page_id"`
	Vector     []float32 `json:"vector"`
	InsertedAt time.Time `json:"inserted_at"`
}

// Extraction is the result of turning raw HTML into normalized text.
// ContentHash is a function of Content only, never of the URL.
type Extraction struct {
	Title       string
	Content     string
	ContentHash string
	WordCount   int
}

// QueueStats aggregates frontier counters for the management API.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Duplicate  int `json:"duplicate"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
