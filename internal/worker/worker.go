// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
)

// Config controls Worker behavior.
type Config struct {
	// Delay is the politeness pause before every fetch.
	Delay time.Duration
	// RetryBackoffBase seeds the exponential re-enqueue delay after a
	// failed fetch. Doubles per recorded retry, capped at RetryBackoffCap.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
}

func (c *Config) applyDefaults() {
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 500 * time.Millisecond
	}
	if c.RetryBackoffCap <= 0 {
		c.RetryBackoffCap = 30 * time.Second
	}
}

// Worker consumes queue items and executes the fetch pipeline: re-check the
// frontier, fetch, then either expand a sitemap or scrape a page and feed
// newly discovered URLs back into the frontier and queue.
type Worker struct {
	store     crawler.Store
	queue     crawler.Queue
	fetcher   crawler.Fetcher
	expander  crawler.Expander
	extractor crawler.Extractor
	sink      crawler.Sink
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	store crawler.Store,
	queue crawler.Queue,
	fetcher crawler.Fetcher,
	expander crawler.Expander,
	extractor crawler.Extractor,
	sink crawler.Sink,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Worker{
		store:     store,
		queue:     queue,
		fetcher:   fetcher,
		expander:  expander,
		extractor: extractor,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		url, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, url)
	}
}

// process runs one URL through the pipeline. The queue is only a cache, so
// the frontier row is re-checked first: a URL paused or completed after it
// was enqueued is silently dropped here.
func (w *Worker) process(ctx context.Context, url string) {
	rec, err := w.store.Get(ctx, url)
	if err != nil {
		w.logger.Debug("dropping unknown queue entry", zap.String("url", url), zap.Error(err))
		return
	}
	if rec.Status != crawler.StatusPending {
		w.logger.Debug("dropping non-pending queue entry",
			zap.String("url", url),
			zap.String("status", string(rec.Status)))
		return
	}

	if !w.politePause(ctx) {
		return
	}

	crawler.TotalFetches.Inc()
	resp, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.handleFailure(ctx, url, err)
		return
	}

	if isSitemapResponse(rec, resp) {
		w.processSitemap(ctx, url, resp)
	} else {
		w.processPage(ctx, url, resp)
	}
}

// handleFailure records the failed attempt. Rows that stay pending get
// re-enqueued after an exponential backoff so one flaky host does not spin
// the pool; rows that crossed the retry ceiling are done.
func (w *Worker) handleFailure(ctx context.Context, url string, fetchErr error) {
	crawler.TotalFetchErrors.Inc()
	status, err := w.store.MarkRetryOrError(ctx, url, fetchErr.Error())
	if err != nil {
		w.logger.Error("recording fetch failure failed", zap.String("url", url), zap.Error(err))
		return
	}
	if status == crawler.StatusPaused || status == crawler.StatusVisited {
		// The operator moved the row while the fetch was in flight; the
		// failure was not recorded and must not undo that.
		w.logger.Debug("discarding failure for non-pending url",
			zap.String("url", url),
			zap.String("status", string(status)))
		return
	}
	crawler.TotalRetries.Inc()

	if status != crawler.StatusPending {
		w.logger.Warn("url exhausted retries",
			zap.String("url", url),
			zap.Error(fetchErr))
		return
	}

	rec, err := w.store.Get(ctx, url)
	if err != nil {
		w.logger.Error("reading retry count failed", zap.String("url", url), zap.Error(err))
		return
	}
	delay := w.backoff(rec.RetryCount)
	w.logger.Info("fetch failed, will retry",
		zap.String("url", url),
		zap.Int("retry_count", rec.RetryCount),
		zap.Duration("backoff", delay),
		zap.Error(fetchErr))

	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		w.queue.Enqueue(url)
	})
}

func (w *Worker) backoff(retryCount int) time.Duration {
	delay := w.cfg.RetryBackoffBase
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= w.cfg.RetryBackoffCap {
			return w.cfg.RetryBackoffCap
		}
	}
	return delay
}

func (w *Worker) processSitemap(ctx context.Context, url string, resp crawler.FetchResponse) {
	entries, err := w.expander.Expand(resp.Body, resp.ContentType, url)
	if err != nil {
		w.handleFailure(ctx, url, err)
		return
	}
	crawler.TotalSitemapsExpanded.Inc()

	discovered := 0
	for _, entry := range entries {
		if w.discover(ctx, entry.URL, entry.IsSitemap) {
			discovered++
		}
	}
	if err := w.store.MarkVisited(ctx, url); err != nil {
		w.logger.Error("marking sitemap visited failed", zap.String("url", url), zap.Error(err))
		return
	}
	w.logger.Info("sitemap expanded",
		zap.String("url", url),
		zap.Int("entries", len(entries)),
		zap.Int("new", discovered))
}

func (w *Worker) processPage(ctx context.Context, url string, resp crawler.FetchResponse) {
	summary, links, err := w.extractor.Extract(url, resp.StatusCode, resp.Body)
	if err != nil {
		w.handleFailure(ctx, url, err)
		return
	}
	if err := w.sink.Append(ctx, summary); err != nil {
		if ctx.Err() != nil {
			return
		}
		// The page itself was fine; losing the sink write should not
		// burn a retry against the origin.
		w.logger.Error("sink append failed", zap.String("url", url), zap.Error(err))
	} else {
		crawler.TotalPagesScraped.Inc()
	}

	discovered := 0
	for _, link := range links {
		if w.discover(ctx, link, crawler.LooksLikeSitemap(link)) {
			discovered++
		}
	}
	if err := w.store.MarkVisited(ctx, url); err != nil {
		w.logger.Error("marking page visited failed", zap.String("url", url), zap.Error(err))
		return
	}
	w.logger.Info("page scraped",
		zap.String("url", url),
		zap.String("title", summary.Title),
		zap.Int("links", len(links)),
		zap.Int("new", discovered))
}

// discover registers url in the frontier and enqueues it when new.
func (w *Worker) discover(ctx context.Context, url string, isSitemap bool) bool {
	inserted, err := w.store.UpsertNew(ctx, url, isSitemap)
	if err != nil {
		w.logger.Error("registering discovered url failed", zap.String("url", url), zap.Error(err))
		return false
	}
	if !inserted {
		return false
	}
	crawler.TotalURLsDiscovered.Inc()
	w.queue.Enqueue(url)
	return true
}

// politePause sleeps for the configured delay, returning false if the
// context ended first.
func (w *Worker) politePause(ctx context.Context) bool {
	if w.cfg.Delay <= 0 {
		return true
	}
	timer := time.NewTimer(w.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// isSitemapResponse decides whether a fetched document is a sitemap. The
// response wins over the discovery-time flag: a sitemapindex sometimes lists
// plain pages, and feeding those to the XML parser would burn their retries.
// The flag and the URL shape only break the tie when the content type is
// ambiguous (gzip, octet-stream, missing).
func isSitemapResponse(rec crawler.URLRecord, resp crawler.FetchResponse) bool {
	ct := strings.ToLower(resp.ContentType)
	if strings.Contains(ct, "html") {
		return false
	}
	if strings.Contains(ct, "xml") {
		return true
	}
	return rec.IsSitemap || crawler.LooksLikeSitemap(rec.URL)
}
