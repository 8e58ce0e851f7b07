package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// Stage denotes the pipeline step represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageQueued      Stage = "queued"
	StageCollecting  Stage = "collecting"
	StageDownloading Stage = "downloading"
	StageAnalyzing   Stage = "analyzing"
	StageReporting   Stage = "reporting"
	StageDone        Stage = "done"
	StageError       Stage = "error"
	StageCanceled    Stage = "canceled"
)

// Terminal reports whether the stage ends the job's progress stream.
func (s Stage) Terminal() bool {
	switch s {
	case StageDone, StageError, StageCanceled:
		return true
	default:
		return false
	}
}

// Event captures a single progress update for a job.
type Event struct {
	// JobID is the UUID string of the job.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which pipeline step the job is in.
	Stage Stage
	// Percentage is the completion fraction in [0,100].
	Percentage int
	// Message is a short human-readable status.
	Message string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageQueued, StageCollecting, StageDownloading, StageAnalyzing, StageReporting,
		StageDone, StageError, StageCanceled:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Percentage < 0 || e.Percentage > 100 {
		return fmt.Errorf("percentage %d out of range", e.Percentage)
	}
	return nil
}

// JobUUID parses the job ID for repositories keyed by uuid.
func (e Event) JobUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(e.JobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse job id: %w", err)
	}
	return id, nil
}

// Status maps the stage onto the job lifecycle.
func (e Event) Status() scrape.JobStatus {
	switch e.Stage {
	case StageQueued:
		return scrape.JobStatusQueued
	case StageDone:
		return scrape.JobStatusSucceeded
	case StageError:
		return scrape.JobStatusFailed
	case StageCanceled:
		return scrape.JobStatusCanceled
	default:
		return scrape.JobStatusRunning
	}
}

// Payload converts the event to its wire form.
func (e Event) Payload() scrape.ProgressEvent {
	return scrape.ProgressEvent{
		JobID:      e.JobID,
		Percentage: float64(e.Percentage),
		Message:    e.Message,
		Stage:      string(e.Stage),
		Status:     string(e.Status()),
	}
}
