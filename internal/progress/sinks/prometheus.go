package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/vision2struct/internal/progress"
)

// PrometheusSink exports scrape progress metrics via Prometheus. It owns all
// collectors for jobs started/completed/running and per-stage event counts.
type PrometheusSink struct {
	jobsStarted    prometheus.Counter
	jobsCompleted  *prometheus.CounterVec
	jobsRunning    prometheus.Gauge
	jobRuntime     *prometheus.HistogramVec
	stageEvents    *prometheus.CounterVec
	lastPercentage prometheus.Gauge

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vision2struct_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vision2struct_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vision2struct_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vision2struct_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		stageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vision2struct_progress_events_total",
			Help: "Progress events partitioned by stage.",
		}, []string{"stage"}),
		lastPercentage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vision2struct_progress_last_percentage",
			Help: "Percentage carried by the most recent progress event.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.stageEvents,
		s.lastPercentage,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.stageEvents.WithLabelValues(string(evt.Stage)).Inc()
	s.lastPercentage.Set(float64(evt.Percentage))

	switch {
	case evt.Stage == progress.StageQueued:
		return
	case evt.Stage.Terminal():
		result := resultLabel(evt.Stage)
		s.jobsCompleted.WithLabelValues(result).Inc()
		if started, ok := s.tracker.complete(evt.JobID); ok {
			s.jobsRunning.Dec()
			if runtime := evt.TS.Sub(started); runtime > 0 {
				s.jobRuntime.WithLabelValues(result).Observe(runtime.Seconds())
			}
		}
	default:
		if s.tracker.start(evt.JobID, evt.TS) {
			s.jobsStarted.Inc()
			s.jobsRunning.Inc()
		}
	}
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageDone:
		return "success"
	case progress.StageCanceled:
		return "canceled"
	default:
		return "error"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]time.Time)}
}

func (t *jobTracker) start(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = at
	return true
}

func (t *jobTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, id)
	return started, true
}
