package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/adapter"
	"github.com/JakeFAU/vision2struct/internal/client"
	"github.com/JakeFAU/vision2struct/internal/config"
)

func newTestService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrape", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"job_id":"job-1","status":"queued"}`)
	})
	mux.HandleFunc("GET /progress/job-1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, payload := range []string{
			`{"percentage":50,"message":"half","stage":"downloading"}`,
			`{"percentage":100,"message":"Analyzed 2 images","stage":"done"}`,
		} {
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	})
	mux.HandleFunc("GET /jobs/job-1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"job":{"id":"job-1","status":"running","parameters":{"keyword":"shoes","limit":2}}}`)
	})
	mux.HandleFunc("POST /jobs/job-1/cancel", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"job_id":"job-1","status":"canceled"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// useService points newSession at srv for the duration of the test.
func useService(t *testing.T, srv *httptest.Server) {
	t.Helper()
	prev := newSession
	t.Cleanup(func() { newSession = prev })
	newSession = func(rootOptions) (*session, error) {
		c, err := client.New(srv.URL)
		if err != nil {
			return nil, err
		}
		cfg := config.Config{Client: config.ClientConfig{BaseURL: srv.URL, ReloadDelay: 10 * time.Millisecond}}
		return &session{cfg: cfg, logger: zap.NewNop(), client: c}, nil
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestScrapePlainFollowsProgress(t *testing.T) {
	useService(t, newTestService(t))

	out, _, err := execute(t, "scrape", "--keyword", "shoes", "--limit", "2", "--plain")
	require.NoError(t, err)
	require.Contains(t, out, "Processing: 50% (half)")
	require.Contains(t, out, "Done! Refreshing...")
}

func TestScrapeRequiresBothFields(t *testing.T) {
	useService(t, newTestService(t))

	_, errOut, err := execute(t, "scrape", "--limit", "2", "--plain")
	var verr *adapter.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, errOut, "Please fill all fields!")
}

func TestStatusPrintsJob(t *testing.T) {
	useService(t, newTestService(t))

	out, _, err := execute(t, "status", "job-1")
	require.NoError(t, err)
	require.Contains(t, out, `"id": "job-1"`)
	require.Contains(t, out, `"status": "running"`)
}

func TestCancelPrintsOutcome(t *testing.T) {
	useService(t, newTestService(t))

	out, _, err := execute(t, "cancel", "job-1")
	require.NoError(t, err)
	require.Equal(t, "job job-1: canceled\n", out)
}

func TestStatusRequiresJobID(t *testing.T) {
	useService(t, newTestService(t))

	_, _, err := execute(t, "status")
	require.Error(t, err)
}
