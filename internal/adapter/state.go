package adapter

import (
	"fmt"
	"strconv"
)

// Phase is where the adapter is in its submit, stream, reload cycle.
type Phase string

// Adapter phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseStreaming  Phase = "streaming"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// InFlight reports whether a job is being submitted or followed.
func (p Phase) InFlight() bool {
	return p == PhaseSubmitting || p == PhaseStreaming
}

// ErrorKind names the failure that moved the adapter to PhaseFailed.
type ErrorKind string

// Error kinds surfaced in UIState.
const (
	ErrorNone     ErrorKind = ""
	ErrorSubmit   ErrorKind = "submit"
	ErrorStream   ErrorKind = "stream"
	ErrorJob      ErrorKind = "job"
	ErrorCanceled ErrorKind = "canceled"
)

// Fixed status texts.
const (
	MsgFillAllFields    = "Please fill all fields!"
	MsgConnectionFailed = "Connection failed!"
	MsgDone             = "Done! Refreshing..."
	MsgStreamLost       = "Progress stream lost"
	MsgCanceled         = "Canceled"
	jobFailedPrefix     = "Job failed: "
)

// UIState is everything a view needs to draw the progress widget.
type UIState struct {
	// BarWidthPercent is the last reported percentage, unclamped.
	BarWidthPercent float64
	StatusText      string
	Visible         bool
	Phase           Phase
	Err             ErrorKind
}

// InitialState is the state before any activation and after a reload.
func InitialState() UIState {
	return UIState{Phase: PhaseIdle}
}

// BarFraction is the bar width clamped to [0,1] for drawing.
func (s UIState) BarFraction() float64 {
	switch {
	case s.BarWidthPercent < 0:
		return 0
	case s.BarWidthPercent > 100:
		return 1
	default:
		return s.BarWidthPercent / 100
	}
}

// ProcessingText renders "Processing: <p>% (<message>)". The percentage is
// printed as given, without rounding.
func ProcessingText(percentage float64, message string) string {
	return fmt.Sprintf("Processing: %s%% (%s)", strconv.FormatFloat(percentage, 'f', -1, 64), message)
}

// JobFailedText renders the status shown when the server reports a failed job.
func JobFailedText(message string) string {
	return jobFailedPrefix + message
}
