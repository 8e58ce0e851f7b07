package adapter

import (
	"context"
	"time"

	"github.com/JakeFAU/vision2struct/internal/client"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// View draws UIState. Implementations must be safe for calls from any
// goroutine.
type View interface {
	Render(state UIState)
	// Alert shows a blocking notice such as a validation failure.
	Alert(msg string)
	// Reload resets the view to its initial state.
	Reload()
}

// Stream is an open progress subscription.
type Stream interface {
	Events() <-chan scrape.ProgressEvent
	Err() error
	Close()
}

// JobClient submits jobs and subscribes to their progress.
type JobClient interface {
	Submit(ctx context.Context, req client.JobRequest) (scrape.JobHandle, error)
	Subscribe(ctx context.Context, handle scrape.JobHandle) (Stream, error)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules with time.AfterFunc.
type SystemScheduler struct{}

// AfterFunc implements Scheduler.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// HTTPJobClient adapts *client.Client to JobClient.
type HTTPJobClient struct {
	*client.Client
}

// Subscribe implements JobClient.
func (h HTTPJobClient) Subscribe(ctx context.Context, handle scrape.JobHandle) (Stream, error) {
	sub, err := h.Client.Subscribe(ctx, handle)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
