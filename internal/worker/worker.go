// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/analyzer"
	"github.com/JakeFAU/vision2struct/internal/metrics"
	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
)

const (
	tracerName             = "github.com/JakeFAU/vision2struct/internal/worker"
	defaultDownloadTimeout = 10 * time.Second
	imageContentType       = "image/jpeg"
	reportContentType      = "text/csv; charset=utf-8"
)

var (
	errNoImages      = errors.New("no images found")
	errNoDownloads   = errors.New("no images could be downloaded")
	errNoCollector   = errors.New("no image collector configured")
	errJobCanceled   = errors.New("job canceled")
	errStatusSkipped = errors.New("unexpected status")
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix      string
	Topic           string
	DownloadTimeout time.Duration
}

// Dependencies are the collaborators a Worker drives.
type Dependencies struct {
	Queue     scrape.Queue
	JobStore  scrape.JobStore
	BlobStore scrape.BlobStore
	Publisher scrape.Publisher
	Collector scrape.Collector
	Fetcher   scrape.Fetcher
	Labeler   analyzer.Labeler
	Hasher    scrape.Hasher
	Clock     scrape.Clock
	Progress  progress.Emitter
	Registry  *Registry
}

// Worker consumes queue items and executes the scrape pipeline.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if deps.Labeler == nil {
		deps.Labeler = analyzer.HeuristicLabeler{}
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Progress == nil {
		deps.Progress = progress.EmitterFunc(func(progress.Event) {})
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scrape.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

// pending is a downloaded image waiting for analysis.
type pending struct {
	record scrape.ImageRecord
	data   []byte
	feat   analyzer.Features
}

func (w *Worker) processJob(ctx context.Context, item scrape.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scrape.job")
	span.SetAttributes(
		attribute.String("job.id", item.JobID),
		attribute.String("job.keyword", item.Params.Keyword),
		attribute.Int("job.limit", item.Params.Limit),
	)
	defer span.End()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("keyword", item.Params.Keyword))
	reporter := progress.NewReporter(w.deps.Progress, item.JobID, w.deps.Clock.Now)
	counters := scrape.JobCounters{}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !w.deps.Registry.register(item.JobID, cancel) {
		logger.Info("job canceled before start")
		w.finish(ctx, item, reporter, counters, "", errJobCanceled, logger)
		return
	}
	defer w.deps.Registry.release(item.JobID)

	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, scrape.JobStatusRunning, "", counters); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		w.finish(ctx, item, reporter, counters, "", fmt.Errorf("mark running: %w", err), logger)
		return
	}

	reportURI, err := w.run(jobCtx, item, reporter, &counters, logger)
	if err != nil && jobCtx.Err() != nil {
		err = errJobCanceled
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	w.finish(ctx, item, reporter, counters, reportURI, err, logger)
}

func (w *Worker) run(
	ctx context.Context,
	item scrape.QueueItem,
	reporter *progress.Reporter,
	counters *scrape.JobCounters,
	logger *zap.Logger,
) (string, error) {
	if w.deps.Collector == nil {
		return "", errNoCollector
	}
	reporter.Step(progress.StageCollecting, 0, 1, fmt.Sprintf("Searching images for %q", item.Params.Keyword))
	urls, err := w.deps.Collector.Collect(ctx, item.Params.Keyword, item.Params.Limit)
	if err != nil {
		return "", fmt.Errorf("collect images: %w", err)
	}
	counters.URLsFound = len(urls)
	if len(urls) == 0 {
		return "", errNoImages
	}
	reporter.Step(progress.StageCollecting, 1, 1, fmt.Sprintf("Found %d images", len(urls)))

	slug := item.Params.Slug()
	var images []pending
	for i, url := range urls {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		img, err := w.download(ctx, item.JobID, slug, i+1, url)
		if err != nil {
			counters.ImagesFailed++
			logger.Warn("image skipped", zap.String("url", url), zap.Error(err))
		} else {
			counters.ImagesDownloaded++
			images = append(images, img)
		}
		reporter.Step(progress.StageDownloading, i+1, len(urls), fmt.Sprintf("Downloaded %d of %d", i+1, len(urls)))
	}
	if len(images) == 0 {
		return "", errNoDownloads
	}

	records := make([]scrape.ImageRecord, 0, len(images))
	for i, img := range images {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		labels, err := w.deps.Labeler.Label(ctx, img.data, img.feat)
		if err != nil {
			metrics.ObserveLabel("fallback")
			logger.Warn("labeling fell back", zap.String("image", img.record.Name), zap.Error(err))
		} else {
			metrics.ObserveLabel("ok")
		}
		img.record.Labels = labels
		if err := w.deps.JobStore.RecordImage(ctx, img.record); err != nil {
			return "", fmt.Errorf("record image: %w", err)
		}
		records = append(records, img.record)
		counters.ImagesAnalyzed++
		reporter.Step(progress.StageAnalyzing, i+1, len(images), fmt.Sprintf("Analyzed %s", img.record.Name))
	}

	reporter.Step(progress.StageReporting, 0, 1, "Writing report")
	var buf bytes.Buffer
	if err := analyzer.WriteCSV(&buf, records); err != nil {
		return "", err
	}
	uri, err := w.deps.BlobStore.PutObject(ctx, w.blobPath(slug, analyzer.ReportName(slug)), reportContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("put report: %w", err)
	}
	if err := w.deps.JobStore.SetReport(ctx, item.JobID, uri); err != nil {
		return "", fmt.Errorf("set report: %w", err)
	}
	return uri, nil
}

func (w *Worker) download(ctx context.Context, jobID, slug string, index int, url string) (pending, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.DownloadTimeout)
	defer cancel()

	resp, err := w.deps.Fetcher.Fetch(fetchCtx, scrape.FetchRequest{JobID: jobID, URL: url})
	if err != nil {
		metrics.ObserveImage(url, "failed", 0)
		return pending{}, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode != 200 {
		metrics.ObserveImage(url, "skipped", 0)
		return pending{}, fmt.Errorf("%w %d", errStatusSkipped, resp.StatusCode)
	}
	feat, err := analyzer.ExtractFeatures(resp.Body)
	if err != nil {
		metrics.ObserveImage(url, "undecodable", len(resp.Body))
		return pending{}, err
	}
	hash, err := w.deps.Hasher.Hash(resp.Body)
	if err != nil {
		return pending{}, fmt.Errorf("hash body: %w", err)
	}
	name := fmt.Sprintf("img_%d.jpg", index)
	uri, err := w.deps.BlobStore.PutObject(ctx, w.blobPath(slug, name), imageContentType, bytes.NewReader(resp.Body))
	if err != nil {
		return pending{}, fmt.Errorf("put object: %w", err)
	}
	metrics.ObserveImage(url, "downloaded", len(resp.Body))
	return pending{
		record: scrape.ImageRecord{
			JobID:       jobID,
			Index:       index,
			Name:        name,
			SourceURL:   url,
			BlobURI:     uri,
			ContentHash: hash,
			Bytes:       len(resp.Body),
			AvgColorRGB: feat.AvgColorRGB,
			Brightness:  feat.Brightness,
			FetchedAt:   w.deps.Clock.Now(),
		},
		data: resp.Body,
		feat: feat,
	}, nil
}

func (w *Worker) blobPath(slug, name string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", slug, name)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, slug, name)
}

// finish persists the final status, publishes the completion event and then
// emits the terminal progress event, so a client reacting to it sees the
// final job state.
func (w *Worker) finish(
	ctx context.Context,
	item scrape.QueueItem,
	reporter *progress.Reporter,
	counters scrape.JobCounters,
	reportURI string,
	runErr error,
	logger *zap.Logger,
) {
	status, errText := deriveFinalStatus(runErr)
	if status == scrape.JobStatusSucceeded {
		if err := w.publish(ctx, item, status, counters, reportURI); err != nil {
			logger.Error("publish completion failed", zap.Error(err))
			status, errText = scrape.JobStatusFailed, err.Error()
		}
	}

	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}

	switch status {
	case scrape.JobStatusSucceeded:
		logger.Info("job succeeded", zap.Int("images", counters.ImagesAnalyzed), zap.String("report_uri", reportURI))
		reporter.Done(fmt.Sprintf("Analyzed %d images", counters.ImagesAnalyzed))
	case scrape.JobStatusCanceled:
		logger.Info("job canceled")
		reporter.Canceled(errText)
	default:
		logger.Warn("job failed", zap.String("error", errText))
		reporter.Fail(errText)
	}
}

func (w *Worker) publish(
	ctx context.Context,
	item scrape.QueueItem,
	status scrape.JobStatus,
	counters scrape.JobCounters,
	reportURI string,
) error {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return nil
	}
	evt := scrape.CompletionEvent{
		JobID:     item.JobID,
		Keyword:   item.Params.Keyword,
		Status:    status,
		Images:    counters.ImagesAnalyzed,
		ReportURI: reportURI,
		Timestamp: w.deps.Clock.Now().UTC(),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, evt); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

func deriveFinalStatus(runErr error) (scrape.JobStatus, string) {
	switch {
	case runErr == nil:
		return scrape.JobStatusSucceeded, ""
	case errors.Is(runErr, errJobCanceled):
		return scrape.JobStatusCanceled, runErr.Error()
	default:
		return scrape.JobStatusFailed, runErr.Error()
	}
}
