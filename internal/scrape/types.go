// Package scrape defines the core types shared by the scrape service,
// its workers, and the progress client.
package scrape

import (
	"net/http"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures what the client asked for.
type JobParameters struct {
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit"`
}

// Slug returns the filesystem-safe folder name for the keyword.
func (p JobParameters) Slug() string {
	return Slug(p.Keyword)
}

// Slug lower-cases the keyword and replaces spaces with underscores.
func Slug(keyword string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(keyword), " ", "_"))
}

// JobCounters tracks per-job pipeline statistics.
type JobCounters struct {
	URLsFound        int `json:"urls_found"`
	ImagesDownloaded int `json:"images_downloaded"`
	ImagesFailed     int `json:"images_failed"`
	ImagesAnalyzed   int `json:"images_analyzed"`
}

// Job is the metadata persisted for each submitted scrape request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
	ReportURI  string        `json:"report_uri,omitempty"`
	Percentage int           `json:"percentage"`
	Message    string        `json:"message,omitempty"`
}

// Labels are the descriptive attributes attached to an analyzed image.
type Labels struct {
	Category string `json:"category"`
	Color    string `json:"color"`
	Material string `json:"material"`
	Vibe     string `json:"vibe"`
	Season   string `json:"season"`
}

// ImageRecord is persisted for every downloaded image.
type ImageRecord struct {
	JobID       string    `json:"job_id"`
	Index       int       `json:"index"`
	Name        string    `json:"image"`
	SourceURL   string    `json:"source_url"`
	BlobURI     string    `json:"blob_uri"`
	ContentHash string    `json:"content_hash"`
	Bytes       int       `json:"bytes"`
	AvgColorRGB [3]int    `json:"avg_color"`
	Brightness  float64   `json:"brightness"`
	Labels      Labels    `json:"labels"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// FetchRequest captures everything needed to download a URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// ProgressEvent is the JSON payload carried by each message on the
// progress channel. Percentage is a JSON number in [0,100].
type ProgressEvent struct {
	JobID      string  `json:"job_id,omitempty"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
	Stage      string  `json:"stage,omitempty"`
	Status     string  `json:"status,omitempty"`
}

// JobHandle identifies a submitted job; it is returned by submission and
// required to subscribe to that job's progress.
type JobHandle struct {
	JobID  string `json:"job_id"`
	Status string `json:"status,omitempty"`
}

// CompletionEvent is published once a job reaches a final status.
type CompletionEvent struct {
	JobID     string    `json:"job_id"`
	Keyword   string    `json:"keyword"`
	Status    JobStatus `json:"status"`
	Images    int       `json:"images"`
	ReportURI string    `json:"report_uri,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
