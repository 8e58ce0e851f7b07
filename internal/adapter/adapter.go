// Package adapter drives the progress widget: it validates the two input
// fields, submits a scrape job, follows the job's progress stream and
// resets the view shortly after completion.
package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/client"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// DefaultReloadDelay is the pause between completion and reload.
const DefaultReloadDelay = 2000 * time.Millisecond

// Option customizes an Adapter.
type Option func(*Adapter)

// WithReloadDelay overrides DefaultReloadDelay. Non-positive values keep
// the default.
func WithReloadDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.reloadDelay = d
		}
	}
}

// WithScheduler replaces the time-based scheduler.
func WithScheduler(s Scheduler) Option {
	return func(a *Adapter) { a.scheduler = s }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// Adapter owns UIState and is the only writer of it.
type Adapter struct {
	client      JobClient
	view        View
	scheduler   Scheduler
	reloadDelay time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	state  UIState
	reload Timer
}

// New builds an Adapter in the initial state.
func New(jc JobClient, view View, opts ...Option) *Adapter {
	a := &Adapter{
		client:      jc,
		view:        view,
		scheduler:   SystemScheduler{},
		reloadDelay: DefaultReloadDelay,
		logger:      zap.NewNop(),
		state:       InitialState(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns a copy of the current UIState.
func (a *Adapter) State() UIState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Activate runs one submit and stream cycle and blocks until the job
// completes, fails, or ctx ends. Failures are reflected in the view; the
// returned error lets callers choose an exit status.
func (a *Adapter) Activate(ctx context.Context, keyword, limit string) error {
	if err := validate(keyword, limit); err != nil {
		a.view.Alert(MsgFillAllFields)
		return err
	}

	a.mu.Lock()
	if a.state.Phase.InFlight() {
		a.mu.Unlock()
		return ErrJobInProgress
	}
	if a.reload != nil {
		a.reload.Stop()
		a.reload = nil
	}
	a.state.Visible = true
	a.state.Phase = PhaseSubmitting
	a.state.Err = ErrorNone
	snapshot := a.state
	a.mu.Unlock()
	a.view.Render(snapshot)

	handle, err := a.client.Submit(ctx, client.JobRequest{Keyword: keyword, Limit: limit})
	if err != nil {
		a.logger.Warn("job submission failed", zap.Error(err))
		a.fail(ErrorSubmit, MsgConnectionFailed)
		return err
	}
	a.logger.Debug("job submitted", zap.String("job_id", handle.JobID))

	a.update(func(s *UIState) { s.Phase = PhaseStreaming })
	stream, err := a.client.Subscribe(ctx, handle)
	if err != nil {
		a.logger.Warn("progress subscription failed", zap.String("job_id", handle.JobID), zap.Error(err))
		a.fail(ErrorStream, MsgStreamLost)
		return err
	}
	defer stream.Close()
	return a.follow(ctx, stream)
}

func (a *Adapter) follow(ctx context.Context, stream Stream) error {
	for {
		select {
		case <-ctx.Done():
			stream.Close()
			a.fail(ErrorCanceled, MsgCanceled)
			return ctx.Err()
		case evt, open := <-stream.Events():
			if !open {
				err := stream.Err()
				a.logger.Warn("progress stream ended early", zap.Error(err))
				a.fail(ErrorStream, MsgStreamLost)
				if err == nil {
					err = ErrStreamLost
				}
				return err
			}
			if done, err := a.apply(stream, evt); done {
				return err
			}
		}
	}
}

// apply renders one event and reports whether the cycle is over.
func (a *Adapter) apply(stream Stream, evt scrape.ProgressEvent) (bool, error) {
	a.update(func(s *UIState) {
		s.BarWidthPercent = evt.Percentage
		s.StatusText = ProcessingText(evt.Percentage, evt.Message)
	})

	switch {
	case evt.Percentage >= 100:
		stream.Close()
		a.mu.Lock()
		a.state.StatusText = MsgDone
		a.state.Phase = PhaseDone
		a.reload = a.scheduler.AfterFunc(a.reloadDelay, a.doReload)
		snapshot := a.state
		a.mu.Unlock()
		a.view.Render(snapshot)
		return true, nil
	case evt.Stage == "error" || evt.Stage == "canceled":
		stream.Close()
		a.fail(ErrorJob, JobFailedText(evt.Message))
		return true, &JobFailedError{Stage: evt.Stage, Message: evt.Message}
	default:
		return false, nil
	}
}

func (a *Adapter) doReload() {
	a.mu.Lock()
	if a.state.Phase != PhaseDone {
		a.mu.Unlock()
		return
	}
	a.state = InitialState()
	a.reload = nil
	a.mu.Unlock()
	a.view.Reload()
}

func (a *Adapter) fail(kind ErrorKind, text string) {
	a.update(func(s *UIState) {
		s.Phase = PhaseFailed
		s.Err = kind
		s.StatusText = text
	})
}

func (a *Adapter) update(fn func(*UIState)) {
	a.mu.Lock()
	fn(&a.state)
	snapshot := a.state
	a.mu.Unlock()
	a.view.Render(snapshot)
}

func validate(keyword, limit string) error {
	var missing []string
	if strings.TrimSpace(keyword) == "" {
		missing = append(missing, "keyword")
	}
	if strings.TrimSpace(limit) == "" {
		missing = append(missing, "limit")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}
