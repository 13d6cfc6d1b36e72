// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// ContentType is the classification label recorded for a page.
type ContentType string

// Content type labels in classifier evaluation order, web last.
const (
	ContentNews      ContentType = "news"
	ContentAcademic  ContentType = "academic"
	ContentShopping  ContentType = "shopping"
	ContentReference ContentType = "reference"
	ContentWeb       ContentType = "web"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the crawl queue.
const (
	TaskPending   TaskStatus = "pending"
	TaskInFlight  TaskStatus = "in_flight"
	TaskDone      TaskStatus = "done"
	TaskFailed    TaskStatus = "failed"
	TaskAbandoned TaskStatus = "abandoned"
)

// Field identifies which part of a page an index entry came from.
type Field string

// Indexed fields.
const (
	FieldTitle   Field = "title"
	FieldContent Field = "content"
)

// Page is the durable record for a crawled URL.
type Page struct {
	URL           string      `json:"url"`
	Domain        string      `json:"domain"`
	Title         string      `json:"title"`
	Text          string      `json:"text"`
	Description   string      `json:"description,omitempty"`
	RawMarkupURI  string      `json:"raw_markup_uri,omitempty"`
	ContentHash   string      `json:"content_hash"`
	ContentType   ContentType `json:"content_type"`
	Language      string      `json:"language,omitempty"`
	CrawledAt     time.Time   `json:"crawled_at"`
	LastModified  *time.Time  `json:"last_modified,omitempty"`
	PageScore     float64     `json:"page_score"`
	QualityScore  float64     `json:"quality_score"`
	StatusCode    int         `json:"status_code"`
	ContentLength int         `json:"content_length"`
	TermNorm      float64     `json:"term_norm"`
	ImageCount    int         `json:"image_count"`
	FailureCount  int         `json:"failure_count"`
	Stale         bool        `json:"stale"`
	Version       uint64      `json:"version"`
}

// Image is an image discovered on a page.
type Image struct {
	PageURL      string    `json:"page_url"`
	URL          string    `json:"url"`
	AltText      string    `json:"alt_text,omitempty"`
	Title        string    `json:"title,omitempty"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Link is a directed edge in the link graph. The target may not be a crawled page.
type Link struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	AnchorText   string    `json:"anchor_text,omitempty"`
	External     bool      `json:"external"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// CrawlTask is one URL in the frontier.
type CrawlTask struct {
	URL         string     `json:"url"`
	Domain      string     `json:"domain"`
	Priority    int        `json:"priority"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	RetryCount  int        `json:"retry_count"`
	Status      TaskStatus `json:"status"`
	LastError   string     `json:"last_error,omitempty"`
	Seq         uint64     `json:"seq"`
}

// FetchResult is the outcome of a single HTTP attempt. Non-2xx statuses are results, not errors.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Elapsed    time.Duration
}

// ContentTypeHeader returns the response Content-Type header, if any.
func (r FetchResult) ContentTypeHeader() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// FetchRecord is the history row written for each fetch attempt.
type FetchRecord struct {
	ID          string
	URL         string
	Domain      string
	StatusCode  int
	Outcome     string
	ErrorText   string
	ContentHash string
	Bytes       int
	Elapsed     time.Duration
	FetchedAt   time.Time
}
