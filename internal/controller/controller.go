// Package controller coordinates the crawl: it owns the worker pool and
// implements every operator command the console and the admin API expose.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/worker"
)

// ErrAlreadyStarted is returned by Start when the pool is already running.
var ErrAlreadyStarted = errors.New("crawl already started")

// Deps carries everything the controller wires into its workers.
type Deps struct {
	Store     crawler.Store
	Queue     crawler.Queue
	Fetcher   crawler.Fetcher
	Expander  crawler.Expander
	Extractor crawler.Extractor
	Sink      crawler.Sink
	WorkerCfg worker.Config
	RunID     string
	Logger    *zap.Logger
}

// Controller drives the crawl lifecycle and operator commands.
type Controller struct {
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New constructs a Controller.
func New(deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{deps: deps, logger: logger}
}

// RunID identifies this process run in sink records and status output.
func (c *Controller) RunID() string { return c.deps.RunID }

// LoadPending refills the work queue from the frontier's pending rows.
// Called once on startup so an interrupted crawl resumes where it stopped.
func (c *Controller) LoadPending(ctx context.Context) (int, error) {
	rows, err := c.deps.Store.ListByStatus(ctx, crawler.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("load pending urls: %w", err)
	}
	for _, rec := range rows {
		c.deps.Queue.Enqueue(rec.URL)
	}
	c.logger.Info("frontier reloaded", zap.Int("pending", len(rows)))
	return len(rows), nil
}

// Start launches n workers. It is an error to start twice; Stop first.
func (c *Controller) Start(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	if n <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	for i := 0; i < n; i++ {
		w := worker.New(
			c.deps.Store, c.deps.Queue, c.deps.Fetcher,
			c.deps.Expander, c.deps.Extractor, c.deps.Sink,
			c.deps.WorkerCfg,
			c.logger.With(zap.Int("worker", i)),
		)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			w.Run(runCtx)
		}()
	}
	c.logger.Info("crawl started", zap.Int("workers", n), zap.String("run_id", c.deps.RunID))
	return nil
}

// Stop cancels the workers, waits for them to drain, and closes the store
// and sink. Safe to call more than once.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.started = false
	c.mu.Unlock()

	c.wg.Wait()

	c.closeOnce.Do(func() {
		var errs []error
		if c.deps.Sink != nil {
			if err := c.deps.Sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if c.deps.Store != nil {
			if err := c.deps.Store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
		c.logger.Info("crawl stopped")
	})
	return c.closeErr
}

// Running reports whether the worker pool is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Seed normalizes rawURL, registers it in the frontier, and queues it. The
// sitemap flag is inferred from the URL shape. Re-seeding a known pending
// URL re-queues it; any other known status is left untouched.
func (c *Controller) Seed(ctx context.Context, rawURL string) (string, bool, error) {
	url, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("seed: %w", err)
	}
	inserted, err := c.deps.Store.UpsertNew(ctx, url, crawler.LooksLikeSitemap(url))
	if err != nil {
		return "", false, err
	}
	if inserted {
		crawler.TotalURLsDiscovered.Inc()
		c.deps.Queue.Enqueue(url)
		c.logger.Info("seeded url", zap.String("url", url))
		return url, true, nil
	}
	rec, err := c.deps.Store.Get(ctx, url)
	if err != nil {
		return "", false, err
	}
	if rec.Status == crawler.StatusPending {
		c.deps.Queue.Enqueue(url)
	}
	return url, false, nil
}

// Pause marks a single URL paused. The queue is left alone; workers re-check
// the frontier before fetching, so a queued copy is dropped on dequeue.
func (c *Controller) Pause(ctx context.Context, rawURL, reason string) error {
	url, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return c.deps.Store.SetStatus(ctx, url, crawler.StatusPaused, reason)
}

// Resume moves a paused or errored URL back to pending and re-queues it.
// Resuming an errored URL is the operator override: the retry counter is
// kept, so one more failure sends it straight back to error.
func (c *Controller) Resume(ctx context.Context, rawURL string) error {
	url, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if err := c.deps.Store.SetStatus(ctx, url, crawler.StatusPending, ""); err != nil {
		return err
	}
	c.deps.Queue.Enqueue(url)
	return nil
}

// PausePrefix pauses every pending URL under the literal prefix and evicts
// matching queue entries. Eviction is best-effort; the frontier re-check in
// the workers is what actually guarantees paused URLs are not fetched.
func (c *Controller) PausePrefix(ctx context.Context, prefix, reason string) (int, error) {
	rows, err := c.deps.Store.ListByPrefix(ctx, prefix, crawler.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("pause prefix %s: %w", prefix, err)
	}
	paused := 0
	for _, rec := range rows {
		if err := c.deps.Store.SetStatus(ctx, rec.URL, crawler.StatusPaused, reason); err != nil {
			// Raced with a worker finishing the URL; skip it.
			if errors.Is(err, crawler.ErrInvalidTransition) {
				continue
			}
			return paused, err
		}
		paused++
	}
	removed := c.deps.Queue.RemovePrefix(prefix)
	c.logger.Info("paused prefix",
		zap.String("prefix", prefix),
		zap.Int("paused", paused),
		zap.Int("dequeued", removed))
	return paused, nil
}

// ResumePrefix moves every paused URL under the literal prefix back to
// pending and re-queues them.
func (c *Controller) ResumePrefix(ctx context.Context, prefix string) (int, error) {
	rows, err := c.deps.Store.ListByPrefix(ctx, prefix, crawler.StatusPaused)
	if err != nil {
		return 0, fmt.Errorf("resume prefix %s: %w", prefix, err)
	}
	return c.resumeRows(ctx, rows)
}

// ResumeAllPaused resumes every paused URL in the frontier.
func (c *Controller) ResumeAllPaused(ctx context.Context) (int, error) {
	rows, err := c.deps.Store.ListByStatus(ctx, crawler.StatusPaused)
	if err != nil {
		return 0, fmt.Errorf("resume all paused: %w", err)
	}
	return c.resumeRows(ctx, rows)
}

func (c *Controller) resumeRows(ctx context.Context, rows []crawler.URLRecord) (int, error) {
	resumed := 0
	for _, rec := range rows {
		if err := c.deps.Store.SetStatus(ctx, rec.URL, crawler.StatusPending, ""); err != nil {
			if errors.Is(err, crawler.ErrInvalidTransition) {
				continue
			}
			return resumed, err
		}
		c.deps.Queue.Enqueue(rec.URL)
		resumed++
	}
	return resumed, nil
}

// ListPendingByPrefix returns the pending rows under a literal prefix, in
// discovery order.
func (c *Controller) ListPendingByPrefix(ctx context.Context, prefix string) ([]crawler.URLRecord, error) {
	return c.deps.Store.ListByPrefix(ctx, prefix, crawler.StatusPending)
}

// StatusCounts returns frontier row counts per status.
func (c *Controller) StatusCounts(ctx context.Context) (map[crawler.Status]int, error) {
	return c.deps.Store.CountsByStatus(ctx)
}

// DomainCount pairs a grouping key with its row count.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// Stats is the aggregate crawl report behind the stats command.
type Stats struct {
	RunID          string                 `json:"run_id"`
	Running        bool                   `json:"running"`
	Counts         map[crawler.Status]int `json:"counts"`
	Total          int                    `json:"total"`
	QueueDepth     int                    `json:"queue_depth"`
	EarliestSeed   string                 `json:"earliest_seed,omitempty"`
	TopDomains     []DomainCount          `json:"top_domains,omitempty"`
	PausedDomains  []DomainCount          `json:"paused_domains,omitempty"`
	PausedPrefixes []DomainCount          `json:"paused_prefixes,omitempty"`
}

// Stats builds the aggregate report. topN bounds the domain and paused
// prefix listings.
func (c *Controller) Stats(ctx context.Context, topN int) (Stats, error) {
	counts, err := c.deps.Store.CountsByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	domains, err := c.deps.Store.CountsByDomain(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	earliest, err := c.deps.Store.EarliestURL(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	paused, err := c.deps.Store.ListByStatus(ctx, crawler.StatusPaused)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	pausedDomains := make(map[string]int)
	pausedPrefixes := make(map[string]int)
	for _, rec := range paused {
		if d := crawler.Domain(rec.URL); d != "" {
			pausedDomains[d]++
		}
		if key := crawler.DomainPrefix(rec.URL); key != "" {
			pausedPrefixes[key]++
		}
	}

	return Stats{
		RunID:          c.deps.RunID,
		Running:        c.Running(),
		Counts:         counts,
		Total:          total,
		QueueDepth:     c.deps.Queue.Len(),
		EarliestSeed:   earliest,
		TopDomains:     topCounts(domains, topN),
		PausedDomains:  topCounts(pausedDomains, topN),
		PausedPrefixes: topCounts(pausedPrefixes, topN),
	}, nil
}

// topCounts sorts a count map descending, breaking ties by key, and keeps
// the first n entries.
func topCounts(m map[string]int, n int) []DomainCount {
	out := make([]DomainCount, 0, len(m))
	for k, v := range m {
		out = append(out, DomainCount{Domain: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
