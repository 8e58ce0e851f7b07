package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrJobInProgress is returned by Activate while a job is being submitted
// or streamed.
var ErrJobInProgress = errors.New("a job is already in progress")

// ErrStreamLost is returned when the progress stream ends before completion
// without a transport error of its own.
var ErrStreamLost = errors.New("progress stream ended before completion")

// ValidationError reports empty input fields. No request is made.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// JobFailedError carries the server's message for a failed or canceled job.
type JobFailedError struct {
	Stage   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s: %s", e.Stage, e.Message)
}
