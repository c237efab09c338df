// Package sink persists processed page summaries.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/crawlkit/crawld/internal/crawler"
)

// JSONL appends page summaries to a newline-delimited JSON file. Appends
// are serialized with a mutex so concurrent workers never interleave lines.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONL opens (or creates) the output file at path in append mode, so a
// resumed crawl extends the previous run's output.
func NewJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}
	return &JSONL{file: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one summary as a single JSON line.
func (s *JSONL) Append(ctx context.Context, summary crawler.PageSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("sink is closed")
	}
	if err := s.enc.Encode(summary); err != nil {
		return fmt.Errorf("append summary for %s: %w", summary.URL, err)
	}
	return nil
}

// Close flushes and closes the output file. Further appends fail.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
