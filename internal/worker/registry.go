package worker

import (
	"context"
	"sync"
)

// Registry tracks cancel functions of running jobs so the API can stop them.
// Jobs canceled before a worker picks them up are remembered and skipped.
type Registry struct {
	mu       sync.Mutex
	running  map[string]context.CancelFunc
	canceled map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		running:  make(map[string]context.CancelFunc),
		canceled: make(map[string]struct{}),
	}
}

// Cancel stops a running job, or marks a queued one so it never starts.
// It reports whether the job was running.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[jobID]; ok {
		cancel()
		return true
	}
	r.canceled[jobID] = struct{}{}
	return false
}

// Running reports whether a worker currently owns the job.
func (r *Registry) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// register returns false if the job was canceled while queued.
func (r *Registry) register(jobID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.canceled[jobID]; ok {
		delete(r.canceled, jobID)
		return false
	}
	r.running[jobID] = cancel
	return true
}

func (r *Registry) release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, jobID)
}
