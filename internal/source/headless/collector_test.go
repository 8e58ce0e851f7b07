package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePage reveals batches of photos as it is scrolled.
type fakePage struct {
	batches [][]string
	scrolls int
	err     error
}

func (f *fakePage) Scroll(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.scrolls++
	return nil
}

func (f *fakePage) HTML(context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < f.scrolls && i < len(f.batches); i++ {
		for _, id := range f.batches[i] {
			fmt.Fprintf(&b, `<img src="https://images.unsplash.com/%s?w=400">`, id)
		}
	}
	b.WriteString(`<img src="https://images.unsplash.com/profile-1"></body></html>`)
	return b.String(), nil
}

func testConfig() Config {
	return Config{MaxScrolls: 20}.withDefaults()
}

func TestScrollCollectStopsAtLimit(t *testing.T) {
	t.Parallel()

	p := &fakePage{batches: [][]string{{"p1", "p2"}, {"p3", "p4"}, {"p5"}}}
	urls, err := scrollCollect(context.Background(), p, testConfig(), 3)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://images.unsplash.com/p1?q=80&w=1000",
		"https://images.unsplash.com/p2?q=80&w=1000",
		"https://images.unsplash.com/p3?q=80&w=1000",
	}, urls)
	require.Equal(t, 2, p.scrolls)
}

func TestScrollCollectStopsAfterStagnation(t *testing.T) {
	t.Parallel()

	p := &fakePage{batches: [][]string{{"p1"}, {"p2"}}}
	urls, err := scrollCollect(context.Background(), p, testConfig(), 10)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	// Two productive rounds, then three stagnant ones.
	require.Equal(t, 5, p.scrolls)
}

func TestScrollCollectHonorsMaxScrolls(t *testing.T) {
	t.Parallel()

	batches := make([][]string, 10)
	for i := range batches {
		batches[i] = []string{fmt.Sprintf("p%d", i)}
	}
	p := &fakePage{batches: batches}
	cfg := testConfig()
	cfg.MaxScrolls = 4
	urls, err := scrollCollect(context.Background(), p, cfg, 100)
	require.NoError(t, err)
	require.Len(t, urls, 4)
}

func TestScrollCollectPropagatesErrors(t *testing.T) {
	t.Parallel()

	_, err := scrollCollect(context.Background(), &fakePage{err: errors.New("tab crashed")}, testConfig(), 3)
	require.ErrorContains(t, err, "tab crashed")
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 3, cfg.StagnationRounds)
	require.Equal(t, 2*time.Second, cfg.ScrollPause)
	require.Equal(t, "images.unsplash.com", cfg.Rules.ImageHost)

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)
}
