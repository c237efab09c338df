// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// Status represents the lifecycle state of a URL in the frontier.
type Status string

// Status values persisted in the frontier store.
const (
	StatusPending Status = "pending"
	StatusVisited Status = "visited"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVisited, StatusPaused, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a terminal state. Error rows can still be
// forced back to pending by an explicit operator resume.
func (s Status) Terminal() bool {
	return s == StatusVisited || s == StatusError
}

// CanTransition validates the direct transitions performed by SetStatus
// (pause and resume). Visited rows never leave visited; the only way into
// pending is a resume from paused or, as an operator override, from error.
// MarkVisited and MarkRetryOrError handle their own transitions.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch {
	case from == StatusPending && to == StatusPaused:
		return true
	case from == StatusPaused && to == StatusPending:
		return true
	case from == StatusError && to == StatusPending:
		return true
	default:
		return false
	}
}

// URLRecord is one row of the frontier: everything known about a URL.
type URLRecord struct {
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	RetryCount  int       `json:"retry_count"`
	IsSitemap   bool      `json:"is_sitemap"`
	PauseReason string    `json:"pause_reason,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastUpdated time.Time `json:"last_updated"`

	// Seq orders rows by first discovery; backends assign it on insert.
	Seq uint64 `json:"seq"`
}

// PageSummary is the record appended to the content sink for each
// successfully processed non-sitemap page.
type PageSummary struct {
	RunID      string    `json:"run_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	StatusCode int       `json:"status_code"`
	Content    string    `json:"content"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// SitemapEntry is one URL produced by expanding a sitemap document.
// Index entries carry IsSitemap=true, urlset entries IsSitemap=false.
type SitemapEntry struct {
	URL       string
	IsSitemap bool
}
