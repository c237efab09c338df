package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalFetches tracks the number of HTTP fetches attempted by workers.
	TotalFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawld_fetches_total",
		Help: "The total number of HTTP fetches attempted.",
	})
	// TotalFetchErrors tracks fetches that failed and entered the retry path.
	TotalFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawld_fetch_errors_total",
		Help: "The total number of failed fetches.",
	})
	// TotalPagesScraped tracks pages whose summary reached the content sink.
	TotalPagesScraped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawld_pages_scraped_total",
		Help: "The total number of pages scraped and appended to the sink.",
	})
	// TotalURLsDiscovered tracks newly inserted frontier rows.
	TotalURLsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawld_urls_discovered_total",
		Help: "The total number of new URLs registered in the frontier.",
	})
	// TotalSitemapsExpanded tracks successfully parsed sitemap documents.
	TotalSitemapsExpanded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawld_sitemaps_expanded_total",
		Help: "The total number of sitemap documents expanded.",
	})
	// TotalRetries tracks retry-or-error decisions after failed fetches.
	TotalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawld_retries_total",
		Help: "The total number of retry increments recorded.",
	})
	// QueueDepth reports the current in-memory work queue length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawld_queue_depth",
		Help: "Current number of URLs in the in-memory work queue.",
	})
)
