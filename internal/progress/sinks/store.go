package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/store"
)

// StoreSink persists job runs via a store.ProgressRepository. Each batch is
// collapsed per job so only the latest progress of a job is written.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger

	mu      sync.Mutex
	started map[uuid.UUID]struct{}
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger, started: make(map[uuid.UUID]struct{})}
}

// Consume collapses per-job deltas and forwards them to the repository. It
// respects ctx deadlines and returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var order []uuid.UUID
	deltas := make(map[uuid.UUID]*runDelta)
	for _, evt := range batch {
		jobID, err := evt.JobUUID()
		if err != nil {
			s.logger.Debug("skipping progress event with non-uuid job id", zap.String("job_id", evt.JobID))
			continue
		}
		delta := deltas[jobID]
		if delta == nil {
			delta = &runDelta{}
			deltas[jobID] = delta
			order = append(order, jobID)
		}
		if evt.Stage != progress.StageQueued && delta.startedAt.IsZero() {
			delta.startedAt = evt.TS
		}
		delta.last = evt
	}

	for _, jobID := range order {
		if err := s.persist(ctx, jobID, deltas[jobID]); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) persist(ctx context.Context, jobID uuid.UUID, delta *runDelta) error {
	if delta.startedAt.IsZero() {
		return nil
	}
	if s.markStarted(jobID) {
		if err := s.repo.UpsertJobStart(ctx, jobID, delta.startedAt); err != nil {
			s.forget(jobID)
			return fmt.Errorf("upsert job start: %w", err)
		}
	}
	evt := delta.last
	if err := s.repo.UpdateProgress(ctx, jobID, string(evt.Stage), evt.Percentage, evt.Message, evt.TS); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if !evt.Stage.Terminal() {
		return nil
	}
	var errMsg *string
	status := store.RunSuccess
	switch evt.Stage {
	case progress.StageError:
		status = store.RunError
		msg := evt.Message
		errMsg = &msg
	case progress.StageCanceled:
		status = store.RunCanceled
	}
	if err := s.repo.CompleteJob(ctx, jobID, evt.TS, status, errMsg); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	s.forget(jobID)
	return nil
}

func (s *StoreSink) markStarted(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.started[jobID]; ok {
		return false
	}
	s.started[jobID] = struct{}{}
	return true
}

func (s *StoreSink) forget(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.started, jobID)
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type runDelta struct {
	startedAt time.Time
	last      progress.Event
}
