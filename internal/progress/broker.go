package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 64

// Broker is the Sink that feeds live per-job subscriptions. It remembers the
// most recent event of every job so a late subscriber starts from the current
// state, and it closes every subscription of a job once a terminal event has
// been delivered.
type Broker struct {
	mu         sync.Mutex
	subs       map[string]map[*Subscription]struct{}
	last       map[string]Event
	bufferSize int
	closed     bool
	logger     *zap.Logger
}

// NewBroker builds a Broker whose subscriptions buffer up to bufferSize
// events before being dropped as too slow.
func NewBroker(bufferSize int, logger *zap.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:       make(map[string]map[*Subscription]struct{}),
		last:       make(map[string]Event),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscription is one consumer of a job's progress.
type Subscription struct {
	jobID  string
	ch     chan Event
	broker *Broker
	once   sync.Once
}

// Events yields the job's events in order. The channel is closed after a
// terminal event, when the subscriber falls behind, or on Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// JobID returns the job this subscription follows.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.detachLocked(s)
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers a consumer for jobID. When an event for the job has
// already been seen it is queued first; if that event is terminal the
// returned subscription is already complete.
func (b *Broker) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		jobID:  jobID,
		ch:     make(chan Event, b.bufferSize),
		broker: b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closeChan()
		return sub
	}
	if evt, ok := b.last[jobID]; ok {
		sub.ch <- evt
		if evt.Stage.Terminal() {
			sub.closeChan()
			return sub
		}
	}
	set := b.subs[jobID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Last returns the most recent event recorded for jobID.
func (b *Broker) Last(jobID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, ok := b.last[jobID]
	return evt, ok
}

// Subscribers reports how many live subscriptions follow jobID.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Consume delivers each event to the job's subscribers without blocking.
func (b *Broker) Consume(_ context.Context, batch []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, evt := range batch {
		b.last[evt.JobID] = evt
		for sub := range b.subs[evt.JobID] {
			select {
			case sub.ch <- evt:
			default:
				b.logger.Warn("dropping slow progress subscriber", zap.String("job_id", evt.JobID))
				b.detachLocked(sub)
			}
		}
		if evt.Stage.Terminal() {
			for sub := range b.subs[evt.JobID] {
				sub.closeChan()
			}
			delete(b.subs, evt.JobID)
		}
	}
	return nil
}

// Prune forgets terminal jobs whose final event is older than before and
// returns how many were removed.
func (b *Broker) Prune(before time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for jobID, evt := range b.last {
		if evt.Stage.Terminal() && evt.TS.Before(before) {
			delete(b.last, jobID)
			removed++
		}
	}
	return removed
}

// Close ends every subscription; later events are ignored.
func (b *Broker) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for jobID, set := range b.subs {
		for sub := range set {
			sub.closeChan()
		}
		delete(b.subs, jobID)
	}
	return nil
}

func (b *Broker) detachLocked(sub *Subscription) {
	if set, ok := b.subs[sub.jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.jobID)
		}
	}
	sub.closeChan()
}
