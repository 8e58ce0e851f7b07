// Package collysource collects image URLs from a static search page with colly.
package collysource

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/vision2struct/internal/source"
)

// Config controls the static collector.
type Config struct {
	SearchBaseURL string
	UserAgent     string
	Timeout       time.Duration
	Rules         source.Rules
	// Detector, when set, turns an image-less page that looks client-side
	// rendered into source.ErrNeedsRender.
	Detector RenderDetector
}

// RenderDetector inspects a fetched search page.
type RenderDetector interface {
	NeedsRender(statusCode int, body []byte) bool
}

// Collector implements scrape.Collector by fetching one search page.
type Collector struct {
	cfg Config
}

// New builds a Collector; zero-valued rules fall back to source.DefaultRules.
func New(cfg Config) *Collector {
	if cfg.Rules.ImageHost == "" {
		cfg.Rules = source.DefaultRules()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Collector{cfg: cfg}
}

// Collect returns up to limit image URLs found on the keyword's search page.
func (c *Collector) Collect(ctx context.Context, keyword string, limit int) ([]string, error) {
	searchURL, err := source.SearchURL(c.cfg.SearchBaseURL, keyword)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(colly.Async(false))
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)

	found := source.NewSet(limit)
	var visitErr error
	var status int
	var body []byte
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		found.Add(c.cfg.Rules.Extract(e.DOM)...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("search page status %d: %w", r.StatusCode, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(searchURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("collect canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", searchURL, err)
		}
	}
	if visitErr != nil {
		return nil, visitErr
	}
	urls := found.URLs()
	if len(urls) == 0 && c.cfg.Detector != nil && c.cfg.Detector.NeedsRender(status, body) {
		return nil, source.ErrNeedsRender
	}
	return urls, nil
}
