package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// JobSink mirrors the latest percentage and message of each job onto the
// job store so status queries see live progress.
type JobSink struct {
	jobs   scrape.JobStore
	logger *zap.Logger
}

// NewJobSink builds a JobSink writing to jobs.
func NewJobSink(jobs scrape.JobStore, logger *zap.Logger) *JobSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobSink{jobs: jobs, logger: logger}
}

// Consume writes the last event of every job in the batch. Unknown jobs are
// skipped.
func (s *JobSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.jobs == nil {
		return nil
	}
	var order []string
	last := make(map[string]progress.Event)
	for _, evt := range batch {
		if _, ok := last[evt.JobID]; !ok {
			order = append(order, evt.JobID)
		}
		last[evt.JobID] = evt
	}
	for _, jobID := range order {
		evt := last[jobID]
		err := s.jobs.UpdateProgress(ctx, jobID, evt.Percentage, evt.Message)
		if errors.Is(err, scrape.ErrNotFound) {
			s.logger.Debug("progress for unknown job", zap.String("job_id", jobID))
			continue
		}
		if err != nil {
			return fmt.Errorf("mirror job progress: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *JobSink) Close(context.Context) error {
	return nil
}
