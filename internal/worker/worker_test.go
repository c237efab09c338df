package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/extract"
	"github.com/crawlkit/crawld/internal/frontier"
	"github.com/crawlkit/crawld/internal/queue"
	"github.com/crawlkit/crawld/internal/sitemap"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResponse
	errs      map[string]error
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]crawler.FetchResponse),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) serve(url, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = crawler.FetchResponse{
		URL:         url,
		StatusCode:  200,
		ContentType: contentType,
		Body:        []byte(body),
	}
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return crawler.FetchResponse{}, err
	}
	resp, ok := f.responses[url]
	if !ok {
		return crawler.FetchResponse{}, errors.New("no response configured")
	}
	return resp, nil
}

type fakeSink struct {
	mu        sync.Mutex
	summaries []crawler.PageSummary
}

func (s *fakeSink) Append(_ context.Context, summary crawler.PageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.summaries))
	for i, summary := range s.summaries {
		out[i] = summary.URL
	}
	return out
}

type harness struct {
	store   *frontier.Memory
	queue   *queue.Memory
	fetcher *fakeFetcher
	sink    *fakeSink
	worker  *Worker
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:   frontier.NewMemory(3),
		queue:   queue.NewMemory(),
		fetcher: newFakeFetcher(),
		sink:    &fakeSink{},
	}
	h.worker = New(
		h.store, h.queue, h.fetcher,
		sitemap.New(),
		extract.New("run-test", nil),
		h.sink, cfg, nil,
	)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) seed(t *testing.T, url string, isSitemap bool) {
	t.Helper()
	inserted, err := h.store.UpsertNew(context.Background(), url, isSitemap)
	require.NoError(t, err)
	require.True(t, inserted)
	h.queue.Enqueue(url)
}

func (h *harness) status(t *testing.T, url string) crawler.Status {
	t.Helper()
	rec, err := h.store.Get(context.Background(), url)
	if errors.Is(err, crawler.ErrNotFound) {
		return ""
	}
	require.NoError(t, err)
	return rec.Status
}

func TestWorker_ScrapesPageAndDiscoversLinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.serve("https://example.com/", "text/html",
		`<html><head><title>Home</title></head><body>
		   <a href="/about">about</a>
		   <a href="https://example.com/contact">contact</a>
		 </body></html>`)
	h.fetcher.serve("https://example.com/about", "text/html",
		`<html><head><title>About</title></head><body>done</body></html>`)
	h.fetcher.serve("https://example.com/contact", "text/html",
		`<html><head><title>Contact</title></head><body>done</body></html>`)

	h.seed(t, "https://example.com/", false)
	h.run(t)

	require.Eventually(t, func() bool {
		return h.status(t, "https://example.com/") == crawler.StatusVisited &&
			h.status(t, "https://example.com/about") == crawler.StatusVisited &&
			h.status(t, "https://example.com/contact") == crawler.StatusVisited
	}, 5*time.Second, 10*time.Millisecond, "seed and discovered links all get crawled")

	require.ElementsMatch(t, []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/contact",
	}, h.sink.urls())
}

func TestWorker_ExpandsSitemapIntoFrontier(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.serve("https://example.com/sitemap.xml", "application/xml",
		`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
		   <url><loc>https://example.com/a</loc></url>
		   <url><loc>https://example.com/b</loc></url>
		 </urlset>`)
	h.fetcher.serve("https://example.com/a", "text/html", "<html><body>a</body></html>")
	h.fetcher.serve("https://example.com/b", "text/html", "<html><body>b</body></html>")

	h.seed(t, "https://example.com/sitemap.xml", true)
	h.run(t)

	require.Eventually(t, func() bool {
		return h.status(t, "https://example.com/sitemap.xml") == crawler.StatusVisited &&
			h.status(t, "https://example.com/a") == crawler.StatusVisited &&
			h.status(t, "https://example.com/b") == crawler.StatusVisited
	}, 5*time.Second, 10*time.Millisecond)

	require.ElementsMatch(t, []string{
		"https://example.com/a",
		"https://example.com/b",
	}, h.sink.urls(), "the sitemap itself never reaches the sink")
}

func TestWorker_FlaggedSitemapServingHTMLIsScraped(t *testing.T) {
	t.Parallel()

	// A sitemapindex can list URLs that turn out to be plain pages. The
	// stored flag says sitemap, but the response is HTML and wins.
	h := newHarness(t, Config{})
	h.fetcher.serve("https://example.com/feed", "text/html; charset=utf-8",
		`<html><head><title>Feed</title></head><body>
		   <a href="/entry">entry</a>
		 </body></html>`)
	h.fetcher.serve("https://example.com/entry", "text/html",
		"<html><body>entry</body></html>")

	h.seed(t, "https://example.com/feed", true)
	h.run(t)

	require.Eventually(t, func() bool {
		return h.status(t, "https://example.com/feed") == crawler.StatusVisited &&
			h.status(t, "https://example.com/entry") == crawler.StatusVisited
	}, 5*time.Second, 10*time.Millisecond)

	require.Contains(t, h.sink.urls(), "https://example.com/feed",
		"the mislabeled url is scraped, not fed to the sitemap parser")
	require.Equal(t, 1, h.fetcher.callCount("https://example.com/feed"),
		"no retries were burned on parse failures")

	rec, err := h.store.Get(context.Background(), "https://example.com/feed")
	require.NoError(t, err)
	require.Zero(t, rec.RetryCount)
	require.Empty(t, rec.LastError)
}

func TestWorker_DropsStaleQueueEntries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.store.UpsertNew(ctx, "https://example.com/held", false)
	require.NoError(t, err)
	require.NoError(t, h.store.SetStatus(ctx, "https://example.com/held", crawler.StatusPaused, "operator"))
	h.queue.Enqueue("https://example.com/held")
	h.queue.Enqueue("https://example.com/ghost") // never registered

	h.fetcher.serve("https://example.com/ok", "text/html", "<html><body>ok</body></html>")
	h.seed(t, "https://example.com/ok", false)
	h.run(t)

	require.Eventually(t, func() bool {
		return h.status(t, "https://example.com/ok") == crawler.StatusVisited
	}, 5*time.Second, 10*time.Millisecond)

	require.Zero(t, h.fetcher.callCount("https://example.com/held"), "paused rows are never fetched")
	require.Zero(t, h.fetcher.callCount("https://example.com/ghost"))
	require.Equal(t, crawler.StatusPaused, h.status(t, "https://example.com/held"))
}

func TestWorker_RetriesUntilError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{
		RetryBackoffBase: time.Millisecond,
		RetryBackoffCap:  5 * time.Millisecond,
	})
	h.fetcher.fail("https://flaky.com/", errors.New("connection refused"))
	h.seed(t, "https://flaky.com/", false)
	h.run(t)

	require.Eventually(t, func() bool {
		return h.status(t, "https://flaky.com/") == crawler.StatusError
	}, 5*time.Second, 10*time.Millisecond, "repeated failures end in the error status")

	rec, err := h.store.Get(context.Background(), "https://flaky.com/")
	require.NoError(t, err)
	require.Equal(t, 4, rec.RetryCount, "three retries plus the final failure")
	require.Equal(t, "connection refused", rec.LastError)
	require.Equal(t, 4, h.fetcher.callCount("https://flaky.com/"))
}

func TestWorker_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, nil, nil, nil, Config{
		RetryBackoffBase: 500 * time.Millisecond,
		RetryBackoffCap:  30 * time.Second,
	}, nil)

	require.Equal(t, 500*time.Millisecond, w.backoff(1))
	require.Equal(t, time.Second, w.backoff(2))
	require.Equal(t, 2*time.Second, w.backoff(3))
	require.Equal(t, 30*time.Second, w.backoff(100))
}
