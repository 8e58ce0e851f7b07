package source

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// ErrNeedsRender is returned by static collectors when the search page
// carries no usable images and looks client-side rendered.
var ErrNeedsRender = errors.New("search page requires rendering")

// Fallback tries a cheap collector first and promotes to a rendering one
// when the first finds nothing or reports ErrNeedsRender.
type Fallback struct {
	primary   scrape.Collector
	secondary scrape.Collector
	logger    *zap.Logger
}

// NewFallback builds a Fallback. A nil secondary disables promotion.
func NewFallback(primary, secondary scrape.Collector, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Collect implements scrape.Collector.
func (f *Fallback) Collect(ctx context.Context, keyword string, limit int) ([]string, error) {
	urls, err := f.primary.Collect(ctx, keyword, limit)
	promote := errors.Is(err, ErrNeedsRender) || (err == nil && len(urls) == 0)
	if !promote || f.secondary == nil {
		if errors.Is(err, ErrNeedsRender) {
			return nil, nil
		}
		return urls, err
	}
	f.logger.Info("promoting search to headless collector", zap.String("keyword", keyword), zap.Error(err))
	urls, err = f.secondary.Collect(ctx, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("headless collect: %w", err)
	}
	return urls, nil
}
