// Package memory keeps completion events in process. The service uses it
// when no Pub/Sub topic is configured; tests use it to inspect what a job
// announced.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// Publisher records publishes instead of sending them anywhere.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes later Publish calls return err until it is reset with nil.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish appends the payload and returns a sequential "memory-<n>" id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Completions returns the completion events published to topic, in order.
// Payloads of other types are skipped.
func (p *Publisher) Completions(topic string) []scrape.CompletionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []scrape.CompletionEvent
	for _, msg := range p.messages {
		if msg.Topic != topic {
			continue
		}
		switch evt := msg.Payload.(type) {
		case scrape.CompletionEvent:
			out = append(out, evt)
		case *scrape.CompletionEvent:
			if evt != nil {
				out = append(out, *evt)
			}
		}
	}
	return out
}
