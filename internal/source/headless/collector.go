// Package headless collects image URLs by scrolling a search page in
// headless Chrome until enough results have loaded.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/source"
)

// Config controls the headless collector.
type Config struct {
	SearchBaseURL     string
	UserAgent         string
	MaxParallel       int
	NavigationTimeout time.Duration
	// InitialWait is slept after navigation before the first scroll.
	InitialWait time.Duration
	// ScrollPause is slept after each scroll so lazy images can load.
	ScrollPause time.Duration
	// StagnationRounds stops scrolling after this many rounds without new URLs.
	StagnationRounds int
	// MaxScrolls bounds the number of scroll rounds.
	MaxScrolls   int
	WindowWidth  int
	WindowHeight int
	Rules        source.Rules
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 2 * time.Minute
	}
	if c.InitialWait < 0 {
		c.InitialWait = 0
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 2 * time.Second
	}
	if c.StagnationRounds <= 0 {
		c.StagnationRounds = 3
	}
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = 50
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	if c.Rules.ImageHost == "" {
		c.Rules = source.DefaultRules()
	}
	return c
}

// Collector implements scrape.Collector with chromedp.
type Collector struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Collector and its browser allocator. The browser process is
// started lazily on the first Collect.
func New(cfg Config, logger *zap.Logger) (*Collector, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Collector{
		cfg:         cfg,
		logger:      logger,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close stops the browser allocator.
func (c *Collector) Close() {
	c.allocCancel()
}

// Collect opens the keyword's search page and scrolls until limit URLs
// were found or scrolling stops producing new ones.
func (c *Collector) Collect(ctx context.Context, keyword string, limit int) ([]string, error) {
	searchURL, err := source.SearchURL(c.cfg.SearchBaseURL, keyword)
	if err != nil {
		return nil, err
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(taskCtx,
		c.setupAction(),
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.cfg.InitialWait),
	); err != nil {
		return nil, fmt.Errorf("open search page %s: %w", searchURL, err)
	}

	urls, err := scrollCollect(taskCtx, &chromePage{pause: c.cfg.ScrollPause}, c.cfg, limit)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("headless collection finished",
		zap.String("keyword", keyword),
		zap.Int("urls", len(urls)),
	)
	return urls, nil
}

func (c *Collector) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (c *Collector) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (c *Collector) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

// page is the browser surface the scroll loop needs.
type page interface {
	Scroll(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
}

// scrollCollect scrolls and re-reads the page until limit URLs are found,
// StagnationRounds consecutive rounds add nothing, or MaxScrolls is hit.
func scrollCollect(ctx context.Context, p page, cfg Config, limit int) ([]string, error) {
	found := source.NewSet(limit)
	stagnant := 0
	for round := 0; round < cfg.MaxScrolls && !found.Full() && stagnant < cfg.StagnationRounds; round++ {
		if err := p.Scroll(ctx); err != nil {
			return nil, fmt.Errorf("scroll round %d: %w", round, err)
		}
		html, err := p.HTML(ctx)
		if err != nil {
			return nil, fmt.Errorf("read page round %d: %w", round, err)
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, fmt.Errorf("parse page round %d: %w", round, err)
		}
		if found.Add(cfg.Rules.Extract(doc.Selection)...) == 0 {
			stagnant++
		} else {
			stagnant = 0
		}
	}
	return found.URLs(), nil
}

type chromePage struct {
	pause time.Duration
}

func (p *chromePage) Scroll(ctx context.Context) error {
	err := chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight);`, nil),
		chromedp.Sleep(p.pause),
	)
	if err != nil {
		return fmt.Errorf("chromedp scroll: %w", err)
	}
	return nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp outer html: %w", err)
	}
	return html, nil
}
