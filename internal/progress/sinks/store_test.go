package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/store"
)

// TestStoreSinkPersistsEvents ensures a batch collapses to one progress write per job.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	jobUUID := uuid.New()
	jobID := jobUUID.String()
	now := time.Now()

	batch := []progress.Event{
		{JobID: jobID, Stage: progress.StageQueued, TS: now},
		{JobID: jobID, Stage: progress.StageCollecting, Percentage: 5, TS: now.Add(time.Second)},
		{JobID: jobID, Stage: progress.StageDownloading, Percentage: 30, Message: "2/10", TS: now.Add(2 * time.Second)},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{jobUUID}, repo.starts)
	require.Len(t, repo.updates, 1)
	require.Equal(t, 30, repo.updates[0].percentage)
	require.Equal(t, "downloading", repo.updates[0].stage)
	require.Empty(t, repo.completes)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: jobID, Stage: progress.StageError, Percentage: 30, Message: "no images found", TS: now.Add(3 * time.Second)},
	}))
	require.Len(t, repo.starts, 1)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunError, repo.completes[0].status)
	require.Equal(t, "no images found", *repo.completes[0].errMsg)
}

// TestStoreSinkSkipsQueuedOnly leaves jobs that never started untouched.
func TestStoreSinkSkipsQueuedOnly(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: uuid.NewString(), Stage: progress.StageQueued, TS: time.Now()},
		{JobID: "not-a-uuid", Stage: progress.StageCollecting, TS: time.Now()},
	}))
	require.Empty(t, repo.starts)
	require.Empty(t, repo.updates)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: uuid.NewString(), Stage: progress.StageCollecting, TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeProgressRepo struct {
	fail      bool
	starts    []uuid.UUID
	updates   []updateCall
	completes []completeCall
}

type updateCall struct {
	jobID      uuid.UUID
	stage      string
	percentage int
	message    string
}

type completeCall struct {
	jobID  uuid.UUID
	status store.JobRunStatus
	errMsg *string
}

func (f *fakeProgressRepo) UpsertJobStart(_ context.Context, jobID uuid.UUID, _ time.Time) error {
	if f.fail {
		return errors.New("boom")
	}
	f.starts = append(f.starts, jobID)
	return nil
}

func (f *fakeProgressRepo) UpdateProgress(
	_ context.Context,
	jobID uuid.UUID,
	stage string,
	percentage int,
	message string,
	_ time.Time,
) error {
	if f.fail {
		return errors.New("boom")
	}
	f.updates = append(f.updates, updateCall{jobID: jobID, stage: stage, percentage: percentage, message: message})
	return nil
}

func (f *fakeProgressRepo) CompleteJob(
	_ context.Context,
	jobID uuid.UUID,
	_ time.Time,
	status store.JobRunStatus,
	errMsg *string,
) error {
	if f.fail {
		return errors.New("boom")
	}
	f.completes = append(f.completes, completeCall{jobID: jobID, status: status, errMsg: errMsg})
	return nil
}

func (f *fakeProgressRepo) GetJob(context.Context, uuid.UUID) (store.JobRun, error) {
	return store.JobRun{}, store.ErrNotFound
}

func (f *fakeProgressRepo) ListJobs(context.Context, *store.JobRunStatus, int, int) ([]store.JobRun, error) {
	return nil, nil
}
