// Package sitemap expands sitemap documents into frontier entries.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/crawlkit/crawld/internal/crawler"
)

// Expander parses sitemap XML, both urlset leaves and sitemapindex files,
// with transparent gzip decompression. It implements crawler.Expander.
type Expander struct{}

// New returns a sitemap Expander.
func New() *Expander {
	return &Expander{}
}

type locEntry struct {
	Loc string `xml:"loc"`
}

type sitemapDoc struct {
	XMLName  xml.Name
	Sitemaps []locEntry `xml:"sitemap"`
	URLs     []locEntry `xml:"url"`
}

// Expand decodes body into child entries. Entries from a sitemapindex are
// themselves sitemaps; entries from a urlset are ordinary pages. Locs that
// fail normalization are skipped rather than failing the whole document.
func (e *Expander) Expand(body []byte, contentType, sourceURL string) ([]crawler.SitemapEntry, error) {
	raw, err := maybeGunzip(body, contentType, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("decompress sitemap %s: %w", sourceURL, err)
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sourceURL, err)
	}

	switch doc.XMLName.Local {
	case "sitemapindex":
		return collectEntries(doc.Sitemaps, true), nil
	case "urlset":
		return collectEntries(doc.URLs, false), nil
	default:
		return nil, fmt.Errorf("sitemap %s: unexpected root element %q", sourceURL, doc.XMLName.Local)
	}
}

func collectEntries(locs []locEntry, isSitemap bool) []crawler.SitemapEntry {
	out := make([]crawler.SitemapEntry, 0, len(locs))
	for _, l := range locs {
		loc, err := crawler.NormalizeURL(strings.TrimSpace(l.Loc))
		if err != nil {
			continue
		}
		out = append(out, crawler.SitemapEntry{URL: loc, IsSitemap: isSitemap})
	}
	return out
}

var gzipMagic = []byte{0x1f, 0x8b}

// maybeGunzip decompresses body when it carries the gzip magic bytes.
// Sitemaps are routinely served as .xml.gz, sometimes with a misleading
// content type, so sniffing the payload beats trusting the headers.
func maybeGunzip(body []byte, _, _ string) ([]byte, error) {
	if !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
