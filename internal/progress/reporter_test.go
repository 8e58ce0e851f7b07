package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) percentages() []int {
	out := make([]int, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Percentage)
	}
	return out
}

func TestReporterBandsAreMonotonic(t *testing.T) {
	t.Parallel()

	em := &recordingEmitter{}
	r := NewReporter(em, "job-1", func() time.Time { return time.Unix(10, 0) })

	r.Step(StageCollecting, 0, 0, "searching")
	r.Step(StageCollecting, 10, 10, "found 10")
	r.Step(StageDownloading, 5, 10, "downloaded 5/10")
	r.Step(StageDownloading, 2, 10, "late update")
	r.Step(StageAnalyzing, 10, 10, "analyzed")
	r.Step(StageReporting, 1, 1, "report written")
	r.Done("complete")

	require.Equal(t, []int{0, 20, 40, 40, 95, 99, 100}, em.percentages())
	require.Equal(t, StageDone, em.events[len(em.events)-1].Stage)
	require.Equal(t, 100, r.Percentage())
}

func TestReporterFailKeepsPercentageAndStops(t *testing.T) {
	t.Parallel()

	em := &recordingEmitter{}
	r := NewReporter(em, "job-1", nil)

	r.Step(StageDownloading, 10, 10, "downloaded")
	r.Fail("no images found")
	r.Done("ignored")

	require.Len(t, em.events, 2)
	require.Equal(t, StageError, em.events[1].Stage)
	require.Equal(t, 60, em.events[1].Percentage)
}

func TestReporterNeverReports100BeforeDone(t *testing.T) {
	t.Parallel()

	em := &recordingEmitter{}
	r := NewReporter(em, "job-1", nil)
	r.Step(StageReporting, 50, 1, "overshoot")
	require.Equal(t, []int{99}, em.percentages())
}

func TestEventPayloadAndStatus(t *testing.T) {
	t.Parallel()

	evt := Event{JobID: "00000000-0000-0000-0000-000000000001", TS: time.Now(), Stage: StageDone, Percentage: 100, Message: "ok"}
	require.NoError(t, evt.Validate())
	payload := evt.Payload()
	require.InDelta(t, 100.0, payload.Percentage, 0)
	require.Equal(t, "succeeded", payload.Status)
	require.Equal(t, "done", payload.Stage)

	id, err := evt.JobUUID()
	require.NoError(t, err)
	require.Equal(t, evt.JobID, id.String())

	require.Error(t, Event{TS: time.Now(), Stage: StageDone}.Validate())
	require.Error(t, Event{JobID: "x", Stage: StageDone}.Validate())
	require.Error(t, Event{JobID: "x", TS: time.Now(), Stage: StageDone, Percentage: -1}.Validate())
}
