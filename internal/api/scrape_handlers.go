package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/metrics"
	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

const maxRequestBytes = 1 << 20

const msgInvalidLimit = "Limit must be a positive integer"

type scrapeRequest struct {
	Keyword string          `json:"keyword"`
	Limit   json.RawMessage `json:"limit"`
}

// parseLimit accepts a JSON number or a numeric string. Absent, null or
// empty values yield def.
func parseLimit(raw json.RawMessage, def int) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return def, true
	}
	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return def, true
		}
	} else {
		text = string(raw)
	}
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "Keyword is required")
		return
	}
	limit, ok := parseLimit(req.Limit, s.cfg.Scraper.DefaultLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, msgInvalidLimit)
		return
	}
	if limit > s.cfg.Scraper.MaxLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Limit must be at most %d", s.cfg.Scraper.MaxLimit))
		return
	}

	jobID, err := s.enqueueJob(r.Context(), scrape.JobParameters{Keyword: keyword, Limit: limit})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scrape.ErrQueueFull) || errors.Is(err, scrape.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("submit scrape failed", zap.String("keyword", keyword), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	metrics.ObserveJobSubmitted()
	writeJSON(w, http.StatusAccepted, scrape.JobHandle{JobID: jobID, Status: string(scrape.JobStatusQueued)})
}

func (s *Server) enqueueJob(ctx context.Context, params scrape.JobParameters) (string, error) {
	jobID, err := s.deps.IDGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.deps.Clock.Now()
	job := scrape.Job{
		ID:         jobID,
		Status:     scrape.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Message:    "Queued",
	}
	if err := s.deps.JobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	s.deps.Progress.Emit(progress.Event{
		JobID:   jobID,
		TS:      now.UTC(),
		Stage:   progress.StageQueued,
		Message: "Queued",
	})

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := scrape.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.deps.Queue.Enqueue(queueCtx, item); err != nil {
		s.failJob(ctx, jobID, "could not enqueue job")
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// failJob ends a job that never reached a worker.
func (s *Server) failJob(ctx context.Context, jobID, reason string) {
	if err := s.deps.JobStore.UpdateJobStatus(ctx, jobID, scrape.JobStatusFailed, reason, scrape.JobCounters{}); err != nil {
		s.logger.Error("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	s.deps.Progress.Emit(progress.Event{
		JobID:   jobID,
		TS:      s.deps.Clock.Now().UTC(),
		Stage:   progress.StageError,
		Message: reason,
	})
}
