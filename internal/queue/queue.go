// Package queue implements the in-memory work queue feeding the worker pool.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/crawlkit/crawld/internal/crawler"
)

// Memory is an unbounded multi-producer/multi-consumer FIFO of URLs with a
// context-aware blocking dequeue. It is only a cache of "candidates to try
// now": the frontier store stays authoritative, so entries may be stale and
// RemovePrefix is allowed to race with concurrent dequeues.
type Memory struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
}

// NewMemory constructs an empty queue.
func NewMemory() *Memory {
	return &Memory{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends url and wakes one blocked consumer. It never blocks.
func (q *Memory) Enqueue(url string) {
	q.mu.Lock()
	q.items = append(q.items, url)
	crawler.QueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the oldest URL, blocking until one is available or the
// context ends. Shutdown is observed through context cancellation.
func (q *Memory) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			url := q.items[0]
			q.items = q.items[1:]
			crawler.QueueDepth.Set(float64(len(q.items)))
			q.mu.Unlock()
			return url, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.notify:
			// Woken by an enqueue; another consumer may have won the item,
			// so loop and re-check.
		}
	}
}

// RemovePrefix drops every queued URL starting with prefix and returns the
// number removed. Purely an optimization for prefix pause: the worker's
// status re-check is the correctness backstop.
func (q *Memory) RemovePrefix(prefix string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, url := range q.items {
		if strings.HasPrefix(url, prefix) {
			removed++
			continue
		}
		kept = append(kept, url)
	}
	q.items = kept
	crawler.QueueDepth.Set(float64(len(q.items)))
	return removed
}

// Len returns the current queue depth.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
