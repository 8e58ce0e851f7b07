package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/metrics"
	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

const (
	defaultHeartbeat  = 15 * time.Second
	progressEventType = "progress"
)

// streamProgress serves GET /progress/{job_id} (or ?job_id=) as an SSE
// stream. The latest known event is sent first; the stream ends after a
// terminal event.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		jobID = r.URL.Query().Get("job_id")
	}
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	if s.deps.Broker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.deps.Broker.Subscribe(jobID)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncSubscribers()
	defer metrics.DecSubscribers()
	logger := s.logger.With(zap.String("job_id", jobID))
	logger.Debug("progress stream opened")

	// Events of long-finished jobs may have been pruned from the broker.
	if _, seen := s.deps.Broker.Last(jobID); !seen && job.Status.Terminal() {
		if err := writeSSE(w, progressEventType, eventFromJob(job)); err != nil {
			logger.Debug("progress stream write failed", zap.Error(err))
		}
		flusher.Flush()
		return
	}

	interval := s.cfg.Progress.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("progress stream closed by client")
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, progressEventType, evt.Payload()); err != nil {
				logger.Debug("progress stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
			if evt.Stage.Terminal() {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// eventFromJob rebuilds a terminal progress payload from stored job state.
func eventFromJob(job scrape.Job) scrape.ProgressEvent {
	evt := progress.Event{
		JobID:      job.ID,
		Percentage: job.Percentage,
		Message:    job.Message,
	}
	switch job.Status {
	case scrape.JobStatusSucceeded:
		evt.Stage = progress.StageDone
		evt.Percentage = 100
	case scrape.JobStatusCanceled:
		evt.Stage = progress.StageCanceled
	default:
		evt.Stage = progress.StageError
	}
	if job.ErrorText != "" && evt.Stage != progress.StageDone {
		evt.Message = job.ErrorText
	}
	return evt.Payload()
}
