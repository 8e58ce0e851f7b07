// Package server builds the scrape service's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/analyzer"
	"github.com/JakeFAU/vision2struct/internal/api"
	"github.com/JakeFAU/vision2struct/internal/clock/system"
	"github.com/JakeFAU/vision2struct/internal/config"
	"github.com/JakeFAU/vision2struct/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/vision2struct/internal/fetcher/colly"
	"github.com/JakeFAU/vision2struct/internal/fetcher/ratelimit"
	"github.com/JakeFAU/vision2struct/internal/hash/sha256"
	"github.com/JakeFAU/vision2struct/internal/id/uuid"
	"github.com/JakeFAU/vision2struct/internal/progress"
	progresssinks "github.com/JakeFAU/vision2struct/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/vision2struct/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/vision2struct/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/vision2struct/internal/queue/memory"
	"github.com/JakeFAU/vision2struct/internal/retention"
	"github.com/JakeFAU/vision2struct/internal/scrape"
	"github.com/JakeFAU/vision2struct/internal/source"
	"github.com/JakeFAU/vision2struct/internal/source/collysource"
	"github.com/JakeFAU/vision2struct/internal/source/detector"
	headlesssource "github.com/JakeFAU/vision2struct/internal/source/headless"
	gcsstorage "github.com/JakeFAU/vision2struct/internal/storage/gcs"
	localstorage "github.com/JakeFAU/vision2struct/internal/storage/local"
	memoryStorage "github.com/JakeFAU/vision2struct/internal/storage/memory"
	pgstore "github.com/JakeFAU/vision2struct/internal/storage/postgres"
	"github.com/JakeFAU/vision2struct/internal/store"
	"github.com/JakeFAU/vision2struct/internal/telemetry"
	"github.com/JakeFAU/vision2struct/internal/worker"
)

// Version is reported as the service version on traces.
var Version = "dev"

const serviceName = "vision2struct-server"

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// App contains the service's long-lived dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	queue       *queueMemory.Queue
	progressHub *progress.Hub
	broker      *progress.Broker
	sweeper     *retention.Sweeper

	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	headless        *headlesssource.Collector
	progressStore   *pgstore.ProgressStore
	tracerShutdown  func(context.Context) error
}

// Build creates every dependency described by cfg. Partially built
// resources are released when an error is returned.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	tp, err := telemetry.InitTracerProvider(ctx, serviceName, Version)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("source", cfg.Scraper.Source),
	)
	jobStore := memoryStorage.NewJobStore()

	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if err = a.setupDatabase(ctx); err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	emitter, err := a.setupProgress(ctx, jobStore)
	if err != nil {
		return err
	}
	collector, err := a.setupCollector()
	if err != nil {
		return err
	}
	labeler, err := a.setupLabeler()
	if err != nil {
		return err
	}

	registry := worker.NewRegistry()
	a.queue = queueMemory.NewQueue(cfg.Scraper.QueueDepth)
	a.dispatch = a.setupDispatcher(worker.Dependencies{
		Queue:     a.queue,
		JobStore:  jobStore,
		BlobStore: blobStore,
		Publisher: publisher,
		Collector: collector,
		Fetcher: ratelimit.Wrap(
			collyfetcher.New(collyfetcher.Config{
				UserAgent:    cfg.Scraper.UserAgent,
				Timeout:      cfg.DownloadTimeout(),
				MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
			}),
			ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RequestsPerSecond, Burst: cfg.HTTP.Burst}),
		),
		Labeler:  labeler,
		Hasher:   sha256.New(),
		Clock:    system.New(),
		Progress: emitter,
		Registry: registry,
	})

	a.sweeper, err = retention.New(retention.Config{
		Schedule: cfg.Retention.Schedule,
		MaxAge:   cfg.Retention.MaxAge,
	}, jobStore, a.broker, time.Now, logger.Named("retention"))
	if err != nil {
		return fmt.Errorf("retention init failed: %w", err)
	}

	deps := api.Dependencies{
		JobStore: jobStore,
		Queue:    a.dispatch,
		IDGen:    uuid.New(),
		Clock:    system.New(),
		Progress: emitter,
		Broker:   a.broker,
		Canceler: registry,
	}
	if a.progressStore != nil {
		deps.Runs = a.progressStore
		deps.ReadyCheck = a.progressStore.Ping
	}
	a.apiServer = api.NewServer(deps, cfg, logger.Named("api"))
	return nil
}

func (a *App) setupStorage(ctx context.Context) (scrape.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database DSN configured, /runs is disabled")
		return nil
	}
	ps, err := pgstore.NewProgressStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	a.progressStore = ps
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (scrape.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupProgress(ctx context.Context, jobs scrape.JobStore) (progress.Emitter, error) {
	a.broker = progress.NewBroker(a.cfg.Progress.SubscriberBuffer, a.logger.Named("progress_broker"))
	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewJobSink(jobs, a.logger.Named("progress_job")),
		a.broker,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	var repo store.ProgressRepository
	if a.progressStore != nil {
		repo = a.progressStore
		sinkList = append(sinkList, progresssinks.NewStoreSink(repo, a.logger.Named("progress_store")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchSize,
		MaxBatchWait:   a.cfg.Progress.BatchWait,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

func (a *App) setupCollector() (scrape.Collector, error) {
	rules := source.DefaultRules()
	if a.cfg.Scraper.ImageHost != "" {
		rules.ImageHost = a.cfg.Scraper.ImageHost
	}
	static := collysource.Config{
		SearchBaseURL: a.cfg.Scraper.SearchBaseURL,
		UserAgent:     a.cfg.Scraper.UserAgent,
		Timeout:       a.cfg.DownloadTimeout(),
		Rules:         rules,
	}
	switch a.cfg.Scraper.Source {
	case config.SourceHeadless:
		c, err := a.setupHeadless(rules)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using headless image source", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		return c, nil
	case config.SourceAuto:
		c, err := a.setupHeadless(rules)
		if err != nil {
			return nil, err
		}
		static.Detector = detector.NewHeuristic(0)
		a.logger.Info("using colly image source with headless promotion")
		return source.NewFallback(collysource.New(static), c, a.logger.Named("source")), nil
	default:
		a.logger.Info("using colly image source", zap.String("search_base_url", a.cfg.Scraper.SearchBaseURL))
		return collysource.New(static), nil
	}
}

func (a *App) setupHeadless(rules source.Rules) (*headlesssource.Collector, error) {
	c, err := headlesssource.New(headlesssource.Config{
		SearchBaseURL:     a.cfg.Scraper.SearchBaseURL,
		UserAgent:         a.cfg.Scraper.UserAgent,
		MaxParallel:       a.cfg.Headless.MaxParallel,
		NavigationTimeout: a.cfg.Headless.NavTimeout,
		InitialWait:       a.cfg.Headless.InitialWait,
		ScrollPause:       a.cfg.Headless.ScrollPause,
		StagnationRounds:  a.cfg.Headless.StagnationRounds,
		MaxScrolls:        a.cfg.Headless.MaxScrolls,
		Rules:             rules,
	}, a.logger.Named("headless"))
	if err != nil {
		return nil, fmt.Errorf("headless collector init failed: %w", err)
	}
	a.headless = c
	return c, nil
}

func (a *App) setupLabeler() (analyzer.Labeler, error) {
	model, err := analyzer.NewModel(analyzer.ModelConfig{
		Provider:  a.cfg.LLM.Provider,
		Model:     a.cfg.LLM.Model,
		APIKey:    a.cfg.LLM.APIKey,
		ServerURL: a.cfg.LLM.ServerURL,
	})
	if err != nil {
		return nil, fmt.Errorf("llm init failed: %w", err)
	}
	if model == nil {
		a.logger.Info("no LLM provider configured, using heuristic labeler")
		return analyzer.HeuristicLabeler{}, nil
	}
	a.logger.Info("using LLM labeler", zap.String("provider", a.cfg.LLM.Provider), zap.String("model", a.cfg.LLM.Model))
	return analyzer.NewLLMLabeler(model, a.logger.Named("labeler")), nil
}

func (a *App) setupDispatcher(deps worker.Dependencies) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		BlobPrefix:      a.cfg.Storage.Prefix,
		Topic:           a.cfg.PubSub.TopicName,
		DownloadTimeout: a.cfg.DownloadTimeout(),
	}
	a.logger.Info("worker config",
		zap.Int("concurrency", a.cfg.Scraper.Concurrency),
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.Duration("download_timeout", workerCfg.DownloadTimeout),
	)
	runners := make([]dispatcher.Runner, 0, a.cfg.Scraper.Concurrency)
	for i := range a.cfg.Scraper.Concurrency {
		runners = append(runners, worker.New(deps, workerCfg, a.logger.Named("worker").With(zap.Int("index", i))))
	}
	return dispatcher.New(a.queue, runners...)
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and processes jobs until ctx is canceled, then drains.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Scraper.Concurrency))
		a.dispatch.Run(ctx)
	}()
	a.sweeper.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	// Closing the broker ends open SSE streams so Shutdown does not wait on them.
	if err := a.broker.Close(shutdownCtx); err != nil {
		a.logger.Warn("progress broker close failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown timeout")
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// Close releases infrastructure clients and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a.sweeper != nil {
		a.sweeper.Stop(ctx)
	}
	a.closeInfrastructure(ctx)
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.progressStore != nil {
		a.progressStore.Close()
	}
}
