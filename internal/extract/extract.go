// Package extract turns fetched HTML into page summaries and outbound links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/crawld/internal/crawler"
)

// ExcerptLength caps the amount of visible text kept per page. The sink
// stores a preview, not the full document.
const ExcerptLength = 500

// HTML parses documents with goquery and implements crawler.Extractor.
type HTML struct {
	runID string
	now   func() time.Time
}

// New returns an HTML extractor that stamps summaries with runID.
func New(runID string, now func() time.Time) *HTML {
	if now == nil {
		now = time.Now
	}
	return &HTML{runID: runID, now: now}
}

// Extract parses body, producing a summary for the sink and the normalized
// outbound http(s) links found in anchor tags. Relative hrefs are resolved
// against baseURL; fragments and non-web schemes are dropped.
func (h *HTML) Extract(baseURL string, statusCode int, body []byte) (crawler.PageSummary, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.PageSummary{}, nil, fmt.Errorf("parse html %s: %w", baseURL, err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return crawler.PageSummary{}, nil, fmt.Errorf("parse base url %s: %w", baseURL, err)
	}

	summary := crawler.PageSummary{
		RunID:      h.runID,
		URL:        baseURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		StatusCode: statusCode,
		Content:    excerpt(doc),
		FetchedAt:  h.now().UTC(),
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved, err := crawler.NormalizeURL(base.ResolveReference(ref).String())
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})

	return summary, links, nil
}

// excerpt collapses the body text to a bounded single-spaced preview. The
// cut backs up to a rune boundary so the preview never ends mid-character.
func excerpt(doc *goquery.Document) string {
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > ExcerptLength {
		cut := ExcerptLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
