package collysource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vision2struct/internal/source"
	"github.com/JakeFAU/vision2struct/internal/source/detector"
)

func TestCollectorCollectsFromSearchPage(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case paths <- r.URL.EscapedPath():
		default:
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
			<img src="https://images.unsplash.com/photo-a?w=200">
			<img src="https://images.unsplash.com/profile-b">
			<img src="https://images.unsplash.com/photo-c">
			<img src="https://images.unsplash.com/photo-d">
		</body></html>`)
	}))
	defer srv.Close()

	c := New(Config{SearchBaseURL: srv.URL + "/s/photos"})
	urls, err := c.Collect(context.Background(), "red shoes", 2)
	require.NoError(t, err)
	require.Equal(t, "/s/photos/red%20shoes", <-paths)
	require.Equal(t, []string{
		"https://images.unsplash.com/photo-a?q=80&w=1000",
		"https://images.unsplash.com/photo-c?q=80&w=1000",
	}, urls)
}

func TestCollectorReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(Config{SearchBaseURL: srv.URL}).Collect(context.Background(), "cats", 5)
	require.Error(t, err)
}

func TestCollectorFlagsRenderedPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="__next"></div><script src="/app.js"></script></body></html>`)
	}))
	defer srv.Close()

	c := New(Config{SearchBaseURL: srv.URL, Detector: detector.NewHeuristic(0)})
	_, err := c.Collect(context.Background(), "cats", 5)
	require.True(t, errors.Is(err, source.ErrNeedsRender))

	urls, err := New(Config{SearchBaseURL: srv.URL}).Collect(context.Background(), "cats", 5)
	require.NoError(t, err)
	require.Empty(t, urls)
}
