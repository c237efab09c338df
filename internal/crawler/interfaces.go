package crawler

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups for unknown URLs.
var ErrNotFound = errors.New("url not found")

// ErrInvalidTransition is returned when a status change violates the URL
// state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the durable frontier: the single source of truth for every URL
// ever seen and its crawl status. Implementations serialize writes and allow
// concurrent reads; all methods are safe for concurrent use.
type Store interface {
	// UpsertNew inserts url with status pending and retry count zero.
	// It reports false if the URL is already known; re-discovery is a no-op.
	UpsertNew(ctx context.Context, url string, isSitemap bool) (bool, error)

	// Get returns the current record for url, or ErrNotFound.
	Get(ctx context.Context, url string) (URLRecord, error)

	// MarkVisited moves url from pending to visited.
	MarkVisited(ctx context.Context, url string) error

	// MarkRetryOrError increments the retry counter and records lastError.
	// Once the counter exceeds the configured maximum the row becomes error;
	// until then it stays pending. Rows no longer pending are left untouched.
	// The resulting status is returned.
	MarkRetryOrError(ctx context.Context, url, lastError string) (Status, error)

	// SetStatus performs the direct pause/resume transition. The reason is
	// stored on pause and cleared when moving back to pending.
	SetStatus(ctx context.Context, url string, status Status, reason string) error

	// ListByStatus returns all rows with the given status in discovery order.
	ListByStatus(ctx context.Context, status Status) ([]URLRecord, error)

	// ListByPrefix returns rows whose URL starts with the literal prefix,
	// filtered to the given status.
	ListByPrefix(ctx context.Context, prefix string, status Status) ([]URLRecord, error)

	// CountsByStatus returns row counts keyed by status, including zeroes.
	CountsByStatus(ctx context.Context) (map[Status]int, error)

	// CountsByDomain returns row counts keyed by registrable host
	// (lowercased, leading "www." stripped).
	CountsByDomain(ctx context.Context) (map[string]int, error)

	// EarliestURL returns the first URL ever inserted, or "" when empty.
	EarliestURL(ctx context.Context) (string, error)

	Close() error
}

// Queue is the in-memory cache of URLs believed eligible for immediate
// fetch. It is not authoritative: workers must re-check the store before
// fetching, so stale entries are expected and harmless.
type Queue interface {
	Enqueue(url string)
	// Dequeue blocks until an item is available or the context ends.
	Dequeue(ctx context.Context) (string, error)
	// RemovePrefix drops queued entries matching prefix. Best-effort only;
	// it may race with concurrent dequeues.
	RemovePrefix(prefix string) int
	Len() int
}

// Fetcher fetches a URL and returns status, body and content type.
// Transport failures and non-2xx responses are both returned as errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Expander parses a fetched sitemap document (possibly gzip-compressed)
// into child entries.
type Expander interface {
	Expand(body []byte, contentType, sourceURL string) ([]SitemapEntry, error)
}

// Extractor maps a fetched HTML document to a page summary plus the
// outbound links found in it.
type Extractor interface {
	Extract(baseURL string, statusCode int, body []byte) (PageSummary, []string, error)
}

// Sink is the append-only stream of processed page records.
type Sink interface {
	Append(ctx context.Context, summary PageSummary) error
	Close() error
}
