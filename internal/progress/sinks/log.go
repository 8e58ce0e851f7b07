package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/progress"
)

// LogSink writes progress to the service log. Intermediate steps go to debug
// so a busy worker pool does not flood info; stage changes and terminal
// events are logged at info, failures at warn.
type LogSink struct {
	logger *zap.Logger
	last   map[string]progress.Stage
}

// NewLogSink returns a LogSink logging under the "progress" name.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress"), last: make(map[string]progress.Stage)}
}

// Consume is called from the hub's single flush goroutine, so last needs no lock.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("percentage", evt.Percentage),
			zap.String("message", evt.Message),
		}
		changed := s.last[evt.JobID] != evt.Stage
		s.last[evt.JobID] = evt.Stage

		switch {
		case evt.Stage == progress.StageError:
			s.logger.Warn("job failed", fields...)
		case evt.Stage.Terminal():
			s.logger.Info("job finished", fields...)
		case changed:
			s.logger.Info("job stage", fields...)
		default:
			s.logger.Debug("job progress", fields...)
		}
		if evt.Stage.Terminal() {
			delete(s.last, evt.JobID)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
