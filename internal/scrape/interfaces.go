package scrape

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by stores when a job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrQueueFull is returned when a job cannot be queued in time.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("job queue closed")
)

// JobStore persists job and image metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	UpdateProgress(ctx context.Context, jobID string, percentage int, message string) error
	SetReport(ctx context.Context, jobID string, uri string) error
	RecordImage(ctx context.Context, image ImageRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListImages(ctx context.Context, jobID string) ([]ImageRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher downloads a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Collector discovers image URLs for a keyword.
type Collector interface {
	Collect(ctx context.Context, keyword string, limit int) ([]string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
