package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

func TestFetcherDownloadsImage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Seen-Agent", r.Header.Get("User-Agent"))
		w.Header().Set("X-Seen-Trace", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "vision2struct-test", Timeout: time.Second})

	resp, err := f.Fetch(context.Background(), scrape.FetchRequest{
		JobID:   "job-1",
		URL:     srv.URL + "/photo.jpg?q=80&w=1000",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "jpeg-bytes", string(resp.Body))
	require.Equal(t, "image/jpeg", resp.Headers.Get("Content-Type"))
	require.Equal(t, "vision2struct-test", resp.Headers.Get("X-Seen-Agent"))
	require.Equal(t, "yes", resp.Headers.Get("X-Seen-Trace"))

	// Repeat downloads of the same URL are allowed.
	_, err = f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL + "/photo.jpg?q=80&w=1000"})
	require.NoError(t, err)

	missing, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: srv.URL + "/missing.jpg"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestFetcherHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, scrape.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := scrape.FetchRequest{URL: "https://images.unsplash.com/photo-1"}
	var result scrape.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Empty(t, *collyReq.Headers)

	u, err := url.Parse("https://images.unsplash.com/photo-1")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, "body", string(result.Body))
	require.Nil(t, result.Headers)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
