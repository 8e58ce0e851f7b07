package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	images, err := s.deps.JobStore.ListImages(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	if images == nil {
		images = []scrape.ImageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "images": images})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}
	if s.deps.Canceler == nil {
		writeError(w, http.StatusNotImplemented, "cancellation unavailable")
		return
	}
	if !s.deps.Canceler.Cancel(jobID) {
		// Still queued: the worker skips it, so record the outcome here.
		if err := s.deps.JobStore.UpdateJobStatus(
			r.Context(), jobID, scrape.JobStatusCanceled, "canceled via API", job.Counters,
		); err != nil {
			s.logger.Error("cancel queued job", zap.String("job_id", jobID), zap.Error(err))
		}
		s.deps.Progress.Emit(progress.Event{
			JobID:   jobID,
			TS:      s.deps.Clock.Now().UTC(),
			Stage:   progress.StageCanceled,
			Message: "canceled via API",
		})
	}
	writeJSON(w, http.StatusAccepted, scrape.JobHandle{JobID: jobID, Status: string(scrape.JobStatusCanceled)})
}

func (s *Server) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, scrape.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load job")
}
