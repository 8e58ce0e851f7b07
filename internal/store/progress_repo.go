// Package store declares interfaces for persisting job progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// JobRunStatus mirrors the job_runs status column.
type JobRunStatus string

// Job run statuses persisted in job_runs.status.
const (
	RunRunning  JobRunStatus = "running"
	RunSuccess  JobRunStatus = "success"
	RunError    JobRunStatus = "error"
	RunCanceled JobRunStatus = "canceled"
)

// JobRun models the job_runs table for API responses.
type JobRun struct {
	// JobID is the scrape job identifier shared with workers.
	JobID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// UpdatedAt is the timestamp of the latest progress write.
	UpdatedAt time.Time
	// FinishedAt is nil until the run reaches a final status.
	FinishedAt *time.Time
	// Status is running/success/error/canceled.
	Status JobRunStatus
	// Stage and Percentage hold the latest reported progress.
	Stage      string
	Percentage int
	// Message is the latest human-readable progress note.
	Message string
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// ProgressRepository persists job run progress.
type ProgressRepository interface {
	// UpsertJobStart inserts (or idempotently updates) the started_at timestamp.
	UpsertJobStart(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error
	// UpdateProgress records the latest stage, percentage and message.
	UpdateProgress(ctx context.Context, jobID uuid.UUID, stage string, percentage int, message string, at time.Time) error
	// CompleteJob marks the run finished with the provided status and error.
	CompleteJob(ctx context.Context, jobID uuid.UUID, finishedAt time.Time, status JobRunStatus, errMsg *string) error

	// GetJob loads a single job run or returns ErrNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (JobRun, error)
	// ListJobs returns job runs filtered by optional status plus limit/offset.
	ListJobs(ctx context.Context, status *JobRunStatus, limit, offset int) ([]JobRun, error)
}
