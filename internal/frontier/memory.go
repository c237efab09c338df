package frontier

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crawlkit/crawld/internal/crawler"
)

// Memory provides an in-memory Store implementation for development and
// testing. State is lost on restart; use the bolt or postgres backends for
// real crawls.
type Memory struct {
	mu         sync.RWMutex
	rows       map[string]crawler.URLRecord
	seq        uint64
	maxRetries int
}

// NewMemory constructs a Memory store with the given retry ceiling.
func NewMemory(maxRetries int) *Memory {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Memory{
		rows:       make(map[string]crawler.URLRecord),
		maxRetries: maxRetries,
	}
}

// UpsertNew inserts url as pending if absent and reports whether it was new.
func (m *Memory) UpsertNew(_ context.Context, url string, isSitemap bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[url]; exists {
		return false, nil
	}
	m.seq++
	m.rows[url] = crawler.URLRecord{
		URL:         url,
		Status:      crawler.StatusPending,
		IsSitemap:   isSitemap,
		LastUpdated: time.Now().UTC(),
		Seq:         m.seq,
	}
	return true, nil
}

// Get returns the record for url.
func (m *Memory) Get(_ context.Context, url string) (crawler.URLRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rows[url]
	if !ok {
		return crawler.URLRecord{}, crawler.ErrNotFound
	}
	return rec, nil
}

// MarkVisited moves url from pending to visited.
func (m *Memory) MarkVisited(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[url]
	if !ok {
		return crawler.ErrNotFound
	}
	if rec.Status != crawler.StatusPending {
		return crawler.ErrInvalidTransition
	}
	rec.Status = crawler.StatusVisited
	rec.LastError = ""
	rec.LastUpdated = time.Now().UTC()
	m.rows[url] = rec
	return nil
}

// MarkRetryOrError increments the retry counter, keeping the row pending
// until the counter exceeds the maximum, at which point it becomes error.
// Rows no longer pending are left untouched and their current status is
// returned, so a failure cannot undo an operator pause made mid-fetch.
func (m *Memory) MarkRetryOrError(_ context.Context, url, lastError string) (crawler.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[url]
	if !ok {
		return "", crawler.ErrNotFound
	}
	if rec.Status != crawler.StatusPending {
		return rec.Status, nil
	}
	rec.RetryCount++
	rec.LastError = lastError
	if rec.RetryCount > m.maxRetries {
		rec.Status = crawler.StatusError
	} else {
		rec.Status = crawler.StatusPending
	}
	rec.LastUpdated = time.Now().UTC()
	m.rows[url] = rec
	return rec.Status, nil
}

// SetStatus performs the direct pause/resume transition.
func (m *Memory) SetStatus(_ context.Context, url string, status crawler.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[url]
	if !ok {
		return crawler.ErrNotFound
	}
	if !crawler.CanTransition(rec.Status, status) {
		return crawler.ErrInvalidTransition
	}
	rec.Status = status
	if status == crawler.StatusPaused {
		rec.PauseReason = reason
	} else {
		rec.PauseReason = ""
	}
	rec.LastUpdated = time.Now().UTC()
	m.rows[url] = rec
	return nil
}

// ListByStatus returns rows with the given status in discovery order.
func (m *Memory) ListByStatus(_ context.Context, status crawler.Status) ([]crawler.URLRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []crawler.URLRecord
	for _, rec := range m.rows {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sortBySeq(out)
	return out, nil
}

// ListByPrefix returns rows matching the literal prefix and status.
func (m *Memory) ListByPrefix(_ context.Context, prefix string, status crawler.Status) ([]crawler.URLRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []crawler.URLRecord
	for url, rec := range m.rows {
		if strings.HasPrefix(url, prefix) && rec.Status == status {
			out = append(out, rec)
		}
	}
	sortBySeq(out)
	return out, nil
}

// CountsByStatus returns row counts keyed by status, including zeroes.
func (m *Memory) CountsByStatus(_ context.Context) (map[crawler.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := emptyStatusCounts()
	for _, rec := range m.rows {
		counts[rec.Status]++
	}
	return counts, nil
}

// CountsByDomain returns row counts keyed by host.
func (m *Memory) CountsByDomain(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for url := range m.rows {
		if d := crawler.Domain(url); d != "" {
			counts[d]++
		}
	}
	return counts, nil
}

// EarliestURL returns the first URL ever inserted, or "" when empty.
func (m *Memory) EarliestURL(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var earliest crawler.URLRecord
	for _, rec := range m.rows {
		if earliest.URL == "" || rec.Seq < earliest.Seq {
			earliest = rec
		}
	}
	return earliest.URL, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

func sortBySeq(rows []crawler.URLRecord) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
}

func emptyStatusCounts() map[crawler.Status]int {
	return map[crawler.Status]int{
		crawler.StatusPending: 0,
		crawler.StatusVisited: 0,
		crawler.StatusPaused:  0,
		crawler.StatusError:   0,
	}
}
