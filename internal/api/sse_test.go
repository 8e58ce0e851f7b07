package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// readStream collects data payloads and comment lines until the server
// closes the stream.
func readStream(t *testing.T, resp *http.Response) ([]scrape.ProgressEvent, []string) {
	t.Helper()
	var (
		events   []scrape.ProgressEvent
		comments []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			var evt scrape.ProgressEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
			events = append(events, evt)
		case strings.HasPrefix(line, ":"):
			comments = append(comments, line)
		}
	}
	return events, comments
}

func openStream(t *testing.T, url string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func emit(env *testEnv, stage progress.Stage, pct int, msg string) {
	_ = env.broker.Consume(context.Background(), []progress.Event{{
		JobID: jobA, TS: env.clock.Now(), Stage: stage, Percentage: pct, Message: msg,
	}})
}

func TestStreamProgress_ReplaysThenStreamsUntilDone(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), nil)
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/scrape", `{"keyword":"hats"}`).Code)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp := openStream(t, ts.URL+"/progress/"+jobA)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.broker.Subscribers(jobA) == 1 }, time.Second, 5*time.Millisecond)
	emit(env, progress.StageDownloading, 45, "Downloaded 5 of 10")
	emit(env, progress.StageDone, 100, "Analyzed 10 images")

	events, _ := readStream(t, resp)
	require.Len(t, events, 3)
	require.Equal(t, "queued", events[0].Stage)
	require.InDelta(t, 45, events[1].Percentage, 0)
	require.Equal(t, "Downloaded 5 of 10", events[1].Message)
	require.InDelta(t, 100, events[2].Percentage, 0)
	require.Equal(t, "succeeded", events[2].Status)
	require.Equal(t, 0, env.broker.Subscribers(jobA))
}

func TestStreamProgress_QueryParameter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), nil)
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/scrape", `{"keyword":"hats"}`).Code)
	emit(env, progress.StageError, 20, "no images found")
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	events, _ := readStream(t, openStream(t, ts.URL+"/progress?job_id="+jobA))
	require.Len(t, events, 1)
	require.Equal(t, "error", events[0].Stage)
	require.Equal(t, "no images found", events[0].Message)
}

func TestStreamProgress_Heartbeat(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Progress.HeartbeatInterval = 20 * time.Millisecond
	env := newTestEnv(t, cfg, nil)
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/scrape", `{"keyword":"hats"}`).Code)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp := openStream(t, ts.URL+"/progress/"+jobA)
	go func() {
		time.Sleep(100 * time.Millisecond)
		emit(env, progress.StageDone, 100, "done")
	}()
	_, comments := readStream(t, resp)
	require.Contains(t, comments, ": ping")
}

func TestStreamProgress_FinishedJobWithoutEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), nil)
	require.NoError(t, env.jobs.CreateJob(context.Background(), scrape.Job{ID: jobB, Status: scrape.JobStatusQueued}))
	require.NoError(t, env.jobs.UpdateJobStatus(context.Background(), jobB, scrape.JobStatusSucceeded, "", scrape.JobCounters{}))
	require.NoError(t, env.jobs.UpdateProgress(context.Background(), jobB, 100, "Analyzed 3 images"))
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	events, _ := readStream(t, openStream(t, ts.URL+"/progress/"+jobB))
	require.Len(t, events, 1)
	require.InDelta(t, 100, events[0].Percentage, 0)
	require.Equal(t, "done", events[0].Stage)
	require.Equal(t, "Analyzed 3 images", events[0].Message)
}

func TestStreamProgress_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), nil)
	rec := env.do(http.MethodGet, "/progress", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "job_id is required")

	rec = env.do(http.MethodGet, "/progress/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
