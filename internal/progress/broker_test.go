package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(time.Second)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatal("subscription was not closed")
			return out
		}
	}
}

func TestBrokerDeliversUntilTerminal(t *testing.T) {
	t.Parallel()

	b := NewBroker(8, nil)
	sub := b.Subscribe("job-1")
	other := b.Subscribe("job-2")
	defer other.Close()

	now := time.Now()
	require.NoError(t, b.Consume(context.Background(), []Event{
		{JobID: "job-1", TS: now, Stage: StageDownloading, Percentage: 10, Message: "a"},
		{JobID: "job-1", TS: now, Stage: StageAnalyzing, Percentage: 45, Message: "b"},
		{JobID: "job-1", TS: now, Stage: StageAnalyzing, Percentage: 90, Message: "c"},
		{JobID: "job-1", TS: now, Stage: StageDone, Percentage: 100, Message: "d"},
	}))

	got := drain(t, sub)
	require.Len(t, got, 4)
	require.Equal(t, 100, got[3].Percentage)
	require.Zero(t, b.Subscribers("job-1"))
	require.Equal(t, 1, b.Subscribers("job-2"))
	require.Empty(t, other.Events())
}

func TestBrokerReplaysLastEvent(t *testing.T) {
	t.Parallel()

	b := NewBroker(8, nil)
	require.NoError(t, b.Consume(context.Background(), []Event{
		{JobID: "job-1", TS: time.Now(), Stage: StageCollecting, Percentage: 12, Message: "collecting"},
	}))

	sub := b.Subscribe("job-1")
	defer sub.Close()
	select {
	case evt := <-sub.Events():
		require.Equal(t, 12, evt.Percentage)
	case <-time.After(time.Second):
		t.Fatal("expected replayed event")
	}
}

func TestBrokerSubscribeAfterTerminal(t *testing.T) {
	t.Parallel()

	b := NewBroker(8, nil)
	require.NoError(t, b.Consume(context.Background(), []Event{
		{JobID: "job-1", TS: time.Now(), Stage: StageError, Percentage: 30, Message: "boom"},
	}))

	got := drain(t, b.Subscribe("job-1"))
	require.Len(t, got, 1)
	require.Equal(t, StageError, got[0].Stage)
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(1, nil)
	sub := b.Subscribe("job-1")
	now := time.Now()
	require.NoError(t, b.Consume(context.Background(), []Event{
		{JobID: "job-1", TS: now, Stage: StageCollecting, Percentage: 1},
		{JobID: "job-1", TS: now, Stage: StageCollecting, Percentage: 2},
	}))

	got := drain(t, sub)
	require.Len(t, got, 1)
	require.Zero(t, b.Subscribers("job-1"))
}

func TestBrokerCloseAndPrune(t *testing.T) {
	t.Parallel()

	b := NewBroker(4, nil)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, b.Consume(context.Background(), []Event{
		{JobID: "done", TS: old, Stage: StageDone, Percentage: 100},
		{JobID: "running", TS: old, Stage: StageAnalyzing, Percentage: 70},
	}))
	require.Equal(t, 1, b.Prune(time.Now()))
	_, ok := b.Last("done")
	require.False(t, ok)
	_, ok = b.Last("running")
	require.True(t, ok)

	sub := b.Subscribe("running")
	sub.Close()
	sub.Close()

	live := b.Subscribe("running")
	require.NoError(t, b.Close(context.Background()))
	drain(t, live)
	drain(t, b.Subscribe("running"))
}
