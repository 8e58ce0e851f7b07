package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]scrape.Job
	images map[string][]scrape.ImageRecord
	now    func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]scrape.Job),
		images: make(map[string][]scrape.ImageRecord),
		now:    time.Now,
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status scrape.JobStatus,
	errText string,
	counters scrape.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now().UTC()
	if status == scrape.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateProgress stores the latest percentage and message of a job.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, percentage int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	job.Percentage = percentage
	job.Message = message
	s.jobs[jobID] = job
	return nil
}

// SetReport records the URI of the job's CSV report.
func (s *JobStore) SetReport(_ context.Context, jobID string, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrNotFound
	}
	job.ReportURI = uri
	s.jobs[jobID] = job
	return nil
}

// RecordImage appends an image row for a job.
func (s *JobStore) RecordImage(_ context.Context, image scrape.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[image.JobID]; !ok {
		return scrape.ErrNotFound
	}
	s.images[image.JobID] = append(s.images[image.JobID], image)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	return job, nil
}

// ListImages returns all recorded images for a job.
func (s *JobStore) ListImages(_ context.Context, jobID string) ([]scrape.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, scrape.ErrNotFound
	}
	images := s.images[jobID]
	out := make([]scrape.ImageRecord, len(images))
	copy(out, images)
	return out, nil
}

// Prune drops finished jobs (and their images) that ended before the cutoff
// and returns how many were removed.
func (s *JobStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.Finished == nil || !job.Finished.Before(before) {
			continue
		}
		delete(s.jobs, id)
		delete(s.images, id)
		removed++
	}
	return removed, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
