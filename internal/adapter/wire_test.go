package adapter

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/api"
	"github.com/JakeFAU/vision2struct/internal/client"
	"github.com/JakeFAU/vision2struct/internal/clock/system"
	"github.com/JakeFAU/vision2struct/internal/config"
	"github.com/JakeFAU/vision2struct/internal/id/uuid"
	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/progress/sinks"
	queuememory "github.com/JakeFAU/vision2struct/internal/queue/memory"
	"github.com/JakeFAU/vision2struct/internal/storage/memory"
)

type wireStep struct {
	stage   progress.Stage
	pct     int
	message string
}

// newScrapeService runs the real API server, hub and broker. Jobs taken from
// the queue replay steps through the hub once a progress subscriber attached.
func newScrapeService(t *testing.T, steps []wireStep) string {
	t.Helper()

	jobs := memory.NewJobStore()
	queue := queuememory.NewQueue(4)
	broker := progress.NewBroker(16, zap.NewNop())
	hub := progress.NewHub(progress.Config{MaxBatchWait: 10 * time.Millisecond},
		sinks.NewJobSink(jobs, zap.NewNop()), broker)

	cfg := config.Config{
		Server:   config.ServerConfig{Port: 5000, RequestTimeout: 5 * time.Second},
		Scraper:  config.ScraperConfig{DefaultLimit: 10, MaxLimit: 50},
		Progress: config.ProgressConfig{HeartbeatInterval: 50 * time.Millisecond},
	}
	srv := api.NewServer(api.Dependencies{
		JobStore: jobs,
		Queue:    queue,
		IDGen:    uuid.New(),
		Clock:    system.New(),
		Progress: hub,
		Broker:   broker,
	}, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		item, err := queue.Dequeue(ctx)
		if err != nil {
			return
		}
		for broker.Subscribers(item.JobID) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
		for _, step := range steps {
			hub.Emit(progress.Event{
				JobID:      item.JobID,
				TS:         time.Now().UTC(),
				Stage:      step.stage,
				Percentage: step.pct,
				Message:    step.message,
			})
		}
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		ts.Close()
		require.NoError(t, hub.Close(context.Background()))
		queue.Close()
	})
	return ts.URL
}

func newWireAdapter(t *testing.T, baseURL string) (*Adapter, *fakeView, *fakeScheduler) {
	t.Helper()
	c, err := client.New(baseURL)
	require.NoError(t, err)
	view := &fakeView{}
	sched := &fakeScheduler{}
	return New(HTTPJobClient{Client: c}, view, WithScheduler(sched)), view, sched
}

func TestActivateAgainstScrapeService(t *testing.T) {
	t.Parallel()

	url := newScrapeService(t, []wireStep{
		{progress.StageDownloading, 10, "Downloaded 1/3"},
		{progress.StageAnalyzing, 45, "Analyzed 1/3"},
		{progress.StageReporting, 90, "Writing report"},
		{progress.StageDone, 100, "Analyzed 3 images"},
	})
	a, view, sched := newWireAdapter(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Activate(ctx, "red shoes", "3"))

	renders, alerts, reloads := view.snapshot()
	require.Empty(t, alerts)
	require.Zero(t, reloads)

	var widths []float64
	var statuses []string
	for _, r := range renders {
		require.True(t, r.Visible)
		statuses = append(statuses, r.StatusText)
		if r.BarWidthPercent == 0 {
			continue
		}
		if n := len(widths); n > 0 && widths[n-1] == r.BarWidthPercent {
			continue
		}
		widths = append(widths, r.BarWidthPercent)
	}
	require.Equal(t, []float64{10, 45, 90, 100}, widths)
	require.Contains(t, statuses, "Processing: 0% (Queued)")
	require.Contains(t, statuses, "Processing: 45% (Analyzed 1/3)")
	require.Equal(t, MsgDone, renders[len(renders)-1].StatusText)

	require.Equal(t, PhaseDone, a.State().Phase)
	require.Equal(t, []time.Duration{DefaultReloadDelay}, sched.delays)
	sched.fire(0)
	_, _, reloads = view.snapshot()
	require.Equal(t, 1, reloads)
}

func TestActivateAgainstScrapeServiceJobFailure(t *testing.T) {
	t.Parallel()

	url := newScrapeService(t, []wireStep{
		{progress.StageCollecting, 5, "Searching images"},
		{progress.StageError, 5, "no images found"},
	})
	a, view, sched := newWireAdapter(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.Activate(ctx, "red shoes", "3")

	var jobErr *JobFailedError
	require.ErrorAs(t, err, &jobErr)
	require.Equal(t, "no images found", jobErr.Message)
	state := a.State()
	require.Equal(t, PhaseFailed, state.Phase)
	require.Equal(t, JobFailedText("no images found"), state.StatusText)
	require.Empty(t, sched.delays)
	_, _, reloads := view.snapshot()
	require.Zero(t, reloads)
}

func TestActivateAgainstUnreachableService(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()
	a, _, _ := newWireAdapter(t, url)

	err := a.Activate(context.Background(), "red shoes", "3")
	require.Truef(t, client.IsKind(err, client.KindSubmit), "unexpected error %v", err)
	require.Equal(t, MsgConnectionFailed, a.State().StatusText)
	require.Equal(t, ErrorSubmit, a.State().Err)
}
