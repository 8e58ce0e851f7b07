// Package source discovers image URLs for a search keyword. The colly and
// headless sub-packages load search result pages; this package holds the
// shared extraction rules.
package source

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Default extraction settings.
const (
	DefaultSearchBaseURL = "https://unsplash.com/s/photos"
	DefaultImageHost     = "images.unsplash.com"
	DefaultNormalizeQS   = "q=80&w=1000"
)

// Rules decide which <img> sources are search results and how they are
// normalized.
type Rules struct {
	// ImageHost must appear in an accepted source URL.
	ImageHost string
	// Exclude lists substrings that reject a source (avatars and similar).
	Exclude []string
	// NormalizeQuery replaces the query string of every accepted URL.
	NormalizeQuery string
}

// DefaultRules returns the rules used for Unsplash search pages.
func DefaultRules() Rules {
	return Rules{
		ImageHost:      DefaultImageHost,
		Exclude:        []string{"profile"},
		NormalizeQuery: DefaultNormalizeQS,
	}
}

// Accept reports whether src is a result image and returns its normalized form.
func (r Rules) Accept(src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" || !strings.Contains(src, r.ImageHost) {
		return "", false
	}
	for _, ex := range r.Exclude {
		if ex != "" && strings.Contains(src, ex) {
			return "", false
		}
	}
	base, _, _ := strings.Cut(src, "?")
	if r.NormalizeQuery == "" {
		return base, true
	}
	return base + "?" + r.NormalizeQuery, true
}

// Extract returns accepted image URLs under sel in document order.
func (r Rules) Extract(sel *goquery.Selection) []string {
	var out []string
	sel.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if u, ok := r.Accept(src); ok {
			out = append(out, u)
		}
	})
	return out
}

// SearchURL builds the search page address for keyword.
func SearchURL(base, keyword string) (string, error) {
	if base == "" {
		base = DefaultSearchBaseURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse search base url: %w", err)
	}
	return u.JoinPath(strings.TrimSpace(keyword)).String(), nil
}

// Set collects unique URLs in discovery order up to a limit.
type Set struct {
	limit int
	seen  map[string]struct{}
	urls  []string
}

// NewSet returns a Set that stops accepting URLs at limit (no cap when <= 0).
func NewSet(limit int) *Set {
	return &Set{limit: limit, seen: make(map[string]struct{})}
}

// Add records new URLs and returns how many were added.
func (s *Set) Add(urls ...string) int {
	added := 0
	for _, u := range urls {
		if s.Full() {
			break
		}
		if _, ok := s.seen[u]; ok {
			continue
		}
		s.seen[u] = struct{}{}
		s.urls = append(s.urls, u)
		added++
	}
	return added
}

// Full reports whether the limit has been reached.
func (s *Set) Full() bool {
	return s.limit > 0 && len(s.urls) >= s.limit
}

// Len returns the number of collected URLs.
func (s *Set) Len() int {
	return len(s.urls)
}

// URLs returns a copy of the collected URLs.
func (s *Set) URLs() []string {
	return append([]string(nil), s.urls...)
}
