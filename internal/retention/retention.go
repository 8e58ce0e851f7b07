// Package retention periodically forgets finished jobs so the in-memory job
// store and the progress broker do not grow without bound.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobPruner removes finished jobs that ended before a cutoff.
type JobPruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// EventPruner removes remembered terminal events older than a cutoff.
type EventPruner interface {
	Prune(before time.Time) int
}

// Config controls the sweep.
type Config struct {
	// Schedule is a cron spec or descriptor such as "@every 10m".
	Schedule string
	MaxAge   time.Duration
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	cfg    Config
	jobs   JobPruner
	events EventPruner
	now    func() time.Time
	cron   *cron.Cron
	logger *zap.Logger
}

// New validates the schedule and builds a Sweeper. Either pruner may be nil.
func New(cfg Config, jobs JobPruner, events EventPruner, now func() time.Time, logger *zap.Logger) (*Sweeper, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be > 0")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		cfg:    cfg,
		jobs:   jobs,
		events: events,
		now:    now,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep prunes everything that finished more than MaxAge ago and returns the
// number of jobs and events removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, int) {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	var jobs, events int
	if s.jobs != nil {
		n, err := s.jobs.Prune(ctx, cutoff)
		if err != nil {
			s.logger.Warn("prune jobs failed", zap.Error(err))
		}
		jobs = n
	}
	if s.events != nil {
		events = s.events.Prune(cutoff)
	}
	if jobs > 0 || events > 0 {
		s.logger.Info("retention sweep",
			zap.Int("jobs_removed", jobs),
			zap.Int("events_removed", events),
			zap.Time("cutoff", cutoff),
		)
	}
	return jobs, events
}
