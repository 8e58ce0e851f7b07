package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// TestDispatcherRunStartsRunners ensures every runner starts and the dispatcher stops on cancel.
func TestDispatcherRunStartsRunners(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	runner := runnerFunc(func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
	})
	dispatch := New(nil, runner, runner, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return started.Load() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: scrape.ErrQueueFull})
	err := dispatch.Enqueue(context.Background(), scrape.QueueItem{JobID: "job"})
	require.ErrorIs(t, err, scrape.ErrQueueFull)
	require.Equal(t, "queue enqueue: job queue is full", err.Error())

	ok := New(&errorQueue{})
	require.NoError(t, ok.Enqueue(context.Background(), scrape.QueueItem{JobID: "job"}))
}

type runnerFunc func(ctx context.Context)

func (f runnerFunc) Run(ctx context.Context) { f(ctx) }

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, scrape.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (scrape.QueueItem, error) {
	return scrape.QueueItem{}, errors.New("unused")
}
