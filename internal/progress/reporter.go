package progress

import (
	"sync"
	"time"
)

type band struct {
	lo, hi int
}

// stageBands maps pipeline stages onto slices of the 0-100 range.
var stageBands = map[Stage]band{
	StageQueued:      {0, 0},
	StageCollecting:  {0, 20},
	StageDownloading: {20, 60},
	StageAnalyzing:   {60, 95},
	StageReporting:   {95, 99},
}

// Reporter emits the progress of one job. Percentages it emits never
// decrease, only Done reports 100, and nothing is emitted after a terminal
// stage.
type Reporter struct {
	emitter Emitter
	jobID   string
	now     func() time.Time

	mu       sync.Mutex
	last     int
	finished bool
}

// NewReporter binds an emitter to a job. now defaults to time.Now.
func NewReporter(emitter Emitter, jobID string, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{emitter: emitter, jobID: jobID, now: now}
}

// Step reports done/total within the stage's band.
func (r *Reporter) Step(stage Stage, done, total int, message string) {
	b, ok := stageBands[stage]
	if !ok {
		return
	}
	pct := b.lo
	if total > 0 {
		if done > total {
			done = total
		}
		pct = b.lo + (b.hi-b.lo)*done/total
	}
	r.emit(stage, pct, message)
}

// Done reports completion at 100%.
func (r *Reporter) Done(message string) {
	r.emit(StageDone, 100, message)
}

// Fail reports a failed job at its current percentage.
func (r *Reporter) Fail(message string) {
	r.emit(StageError, -1, message)
}

// Canceled reports a canceled job at its current percentage.
func (r *Reporter) Canceled(message string) {
	r.emit(StageCanceled, -1, message)
}

// Percentage returns the last emitted percentage.
func (r *Reporter) Percentage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reporter) emit(stage Stage, pct int, message string) {
	if r == nil || r.emitter == nil {
		return
	}
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = stage.Terminal()
	if pct < r.last {
		pct = r.last
	}
	if pct >= 100 && stage != StageDone {
		pct = 99
	}
	r.last = pct
	r.mu.Unlock()
	r.emitter.Emit(Event{
		JobID:      r.jobID,
		TS:         r.now().UTC(),
		Stage:      stage,
		Percentage: pct,
		Message:    message,
	})
}
