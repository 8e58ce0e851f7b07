package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
	"github.com/JakeFAU/vision2struct/internal/storage/memory"
)

func TestSweepPrunesOldFinishedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	jobs := memory.NewJobStore()
	require.NoError(t, jobs.CreateJob(ctx, scrape.Job{ID: "old", Status: scrape.JobStatusQueued}))
	require.NoError(t, jobs.UpdateJobStatus(ctx, "old", scrape.JobStatusSucceeded, "", scrape.JobCounters{}))
	require.NoError(t, jobs.CreateJob(ctx, scrape.Job{ID: "running", Status: scrape.JobStatusRunning}))

	broker := progress.NewBroker(4, zap.NewNop())
	require.NoError(t, broker.Consume(ctx, []progress.Event{
		{JobID: "old", TS: now.Add(-2 * time.Hour), Stage: progress.StageDone, Percentage: 100},
		{JobID: "fresh", TS: now.Add(-time.Minute), Stage: progress.StageDone, Percentage: 100},
	}))

	// The memory store stamps Finished with the wall clock, so sweep from a
	// point well after it.
	s, err := New(Config{Schedule: "@every 10m", MaxAge: time.Hour}, jobs, broker,
		func() time.Time { return time.Now().Add(2 * time.Hour) }, nil)
	require.NoError(t, err)

	removedJobs, _ := s.Sweep(ctx)
	require.Equal(t, 1, removedJobs)
	_, err = jobs.GetJob(ctx, "old")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	_, err = jobs.GetJob(ctx, "running")
	require.NoError(t, err)
}

func TestSweepPrunesBrokerEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	broker := progress.NewBroker(4, zap.NewNop())
	require.NoError(t, broker.Consume(ctx, []progress.Event{
		{JobID: "old", TS: now.Add(-2 * time.Hour), Stage: progress.StageDone, Percentage: 100},
		{JobID: "fresh", TS: now.Add(-time.Minute), Stage: progress.StageDone, Percentage: 100},
	}))

	s, err := New(Config{Schedule: "@every 1m", MaxAge: time.Hour}, nil, broker, func() time.Time { return now }, nil)
	require.NoError(t, err)

	_, removed := s.Sweep(ctx)
	require.Equal(t, 1, removed)
	_, ok := broker.Last("old")
	require.False(t, ok)
	_, ok = broker.Last("fresh")
	require.True(t, ok)
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Schedule: "whenever", MaxAge: time.Hour}, nil, nil, nil, nil)
	require.Error(t, err)
	_, err = New(Config{Schedule: "@every 1m"}, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Schedule: "@every 1h", MaxAge: time.Hour}, nil, nil, nil, zap.NewNop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
