// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/api"
	"github.com/JakeFAU/scholar-crawler/internal/clock/system"
	"github.com/JakeFAU/scholar-crawler/internal/config"
	"github.com/JakeFAU/scholar-crawler/internal/detector"
	"github.com/JakeFAU/scholar-crawler/internal/dispatcher"
	"github.com/JakeFAU/scholar-crawler/internal/export"
	"github.com/JakeFAU/scholar-crawler/internal/extractor/lattes"
	"github.com/JakeFAU/scholar-crawler/internal/extractor/orcid"
	"github.com/JakeFAU/scholar-crawler/internal/extractor/scholar"
	collyfetcher "github.com/JakeFAU/scholar-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/scholar-crawler/internal/filter"
	"github.com/JakeFAU/scholar-crawler/internal/hash/sha256"
	"github.com/JakeFAU/scholar-crawler/internal/id/uuid"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/normalize"
	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/scholar-crawler/internal/policy/retry"
	memorypublisher "github.com/JakeFAU/scholar-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/scholar-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/scholar-crawler/internal/queue/memory"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	"github.com/JakeFAU/scholar-crawler/internal/serpapi"
	gcsstorage "github.com/JakeFAU/scholar-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scholar-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/scholar-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/scholar-crawler/internal/storage/postgres"
	"github.com/JakeFAU/scholar-crawler/internal/worker"
)

// artifactStore is a blob sink that can also serve downloads.
type artifactStore interface {
	researcher.BlobStore
	export.Opener
}

// Client constructors, replaced in tests.
var (
	newStorageClient = func(ctx context.Context) (*storage.Client, error) { return storage.NewClient(ctx) }
	newPubSubClient  = func(ctx context.Context, project string) (*pubsub.Client, error) {
		return pubsub.NewClient(ctx, project)
	}
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock     researcher.Clock
	store     researcher.Store
	artifacts artifactStore
	publisher researcher.Publisher
	exporter  *export.Builder
	pipeline  *pipeline.Pipeline

	queue    *queueMemory.Queue
	dispatch *dispatcher.Dispatcher
	api      *api.Server

	pgStore         *pgstore.RecordStore
	storageClient   *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
}

// Build creates the application's dependencies. The caller owns Close.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Bool("scholar_api_enabled", cfg.Scholar.APIKey != ""),
		zap.Bool("store_configured", cfg.Store.URL != ""))

	if err := app.setupStore(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupArtifacts(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.setupPipeline(); err != nil {
		app.Close()
		return nil, err
	}
	app.setupDispatcher()

	app.api = api.NewServer(api.Deps{
		Capturer:  app.dispatch,
		Store:     app.store,
		Exporter:  app.exporter,
		Artifacts: app.artifacts,
		Clock:     app.clock,
	}, cfg, logger.Named("api"))

	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Store.URL == "" {
		a.logger.Warn("no store.url configured, records are kept in memory")
		a.store = memoryStorage.NewRecordStore()
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		URL:        a.cfg.Store.URL,
		Database:   a.cfg.Store.Database,
		Collection: a.cfg.Store.Collection,
	}, sha256.New(), a.logger.Named("store"))
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	a.pgStore = store
	a.store = store
	a.logger.Info("record store initialized", zap.String("collection", a.cfg.Store.Collection))
	return nil
}

func (a *App) setupArtifacts(ctx context.Context) error {
	switch {
	case a.cfg.Export.Bucket != "":
		client, err := newStorageClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Export.Bucket, Prefix: a.cfg.Export.Prefix})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.artifacts = blobs
		a.logger.Info("using GCS artifact sink", zap.String("bucket", a.cfg.Export.Bucket))
	case a.cfg.Export.Dir != "":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Export.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.artifacts = blobs
		a.logger.Info("using local artifact sink", zap.String("path", a.cfg.Export.Dir))
	default:
		a.logger.Info("using in-memory artifact sink")
		a.artifacts = memoryStorage.NewBlobStore()
	}
	a.exporter = export.NewBuilder(a.artifacts, uuid.New(), a.clock, a.logger.Named("export"))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.Publisher.Topic == "" {
		a.logger.Info("no publisher.topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New(memorypublisher.DefaultLimit)
		return nil
	}
	client, err := newPubSubClient(ctx, a.cfg.Publisher.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client)
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Publisher.ProjectID),
		zap.String("topic", a.cfg.Publisher.Topic))
	return nil
}

// fetcherConfig maps configuration onto the shared fetcher.
func fetcherConfig(cfg config.Config) collyfetcher.Config {
	aggMin, aggMax := cfg.Fetcher.Interval.Aggressive.Duration()
	polMin, polMax := cfg.Fetcher.Interval.Polite.Duration()
	return collyfetcher.Config{
		Timeout:    cfg.FetchTimeout(),
		UserAgents: cfg.Fetcher.UserAgents,
		Intervals: ratelimit.Config{
			Aggressive: ratelimit.Window{Min: aggMin, Max: aggMax},
			Polite:     ratelimit.Window{Min: polMin, Max: polMax},
		},
		Retry: retry.Config{
			Base:        time.Duration(cfg.Fetcher.Retry.Base) * time.Millisecond,
			Factor:      cfg.Fetcher.Retry.Factor,
			MaxAttempts: cfg.Fetcher.Retry.Max,
			Jitter:      cfg.Fetcher.Retry.Jitter,
		},
		Block: detector.Config{
			LoginPrefixes: cfg.Fetcher.LoginPrefixes,
			BodyMarkers:   cfg.Fetcher.CaptchaMarkers,
		},
	}
}

func (a *App) setupPipeline() error {
	f := collyfetcher.New(fetcherConfig(a.cfg), a.logger.Named("fetcher"))
	timeout := a.cfg.FetchTimeout()

	paid := serpapi.New(f, serpapi.Config{
		BaseURL:       a.cfg.Sources.ScholarAPI.BaseURL,
		APIKey:        a.cfg.Scholar.APIKey,
		Timeout:       timeout,
		RatePerSecond: a.cfg.Scholar.APIRatePerSecond,
	}, a.logger.Named("serpapi"))

	br := lattes.New(f, lattes.Config{BaseURL: a.cfg.Sources.BR.BaseURL, Timeout: timeout}, a.clock, a.logger.Named("lattes"))
	intl := orcid.New(f, orcid.Config{
		BaseURL:    a.cfg.Sources.INT.BaseURL,
		Timeout:    timeout,
		SearchRows: orcid.DefaultSearchRows,
	}, a.clock, a.logger.Named("orcid"))
	gs, err := scholar.New(f, paid, scholar.Config{
		BaseURL:                  a.cfg.Sources.Scholar.BaseURL,
		Timeout:                  timeout,
		MaxPages:                 a.cfg.Scholar.MaxPages,
		FallbackOnMissingMetrics: a.cfg.Scholar.FallbackOnMissingMetrics,
		Bounds: scholar.Bounds{
			HIndexMax:   a.cfg.Normalizer.HIndexMax,
			I10IndexMax: a.cfg.Normalizer.I10IndexMax,
		},
	}, a.clock, a.logger.Named("scholar"))
	if err != nil {
		return fmt.Errorf("scholar extractor init failed: %w", err)
	}

	p, err := pipeline.New(pipeline.Deps{
		Extractors: map[researcher.Source]pipeline.Factory{
			researcher.SourceBR:      func() researcher.Extractor { return br },
			researcher.SourceINT:     func() researcher.Extractor { return intl },
			researcher.SourceScholar: func() researcher.Extractor { return gs },
		},
		Normalizer: normalize.New(normalize.Config{
			HIndexMax:   a.cfg.Normalizer.HIndexMax,
			I10IndexMax: a.cfg.Normalizer.I10IndexMax,
		}, a.clock),
		Filter: filter.New(filter.Config{
			ScholarBypass: a.cfg.Filter.ScholarBypass,
			Vocabulary:    filter.DefaultVocabulary,
			Markers:       filter.DefaultContextMarkers,
		}),
		Store:     a.store,
		Exporter:  a.exporter,
		Publisher: a.publisher,
		Clock:     a.clock,
	}, pipeline.Config{
		Timeout: a.cfg.RequestTimeout(),
		Topic:   a.cfg.Publisher.Topic,
	}, a.logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	a.pipeline = p
	return nil
}

func (a *App) setupDispatcher() {
	a.queue = queueMemory.NewQueue(a.cfg.Worker.QueueDepth)
	workers := make([]*worker.Worker, 0, a.cfg.Worker.Concurrency)
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(i, a.queue, a.pipeline, a.logger.Named("worker")))
	}
	a.dispatch = dispatcher.New(a.queue, workers, uuid.New())
	a.logger.Info("dispatcher configured",
		zap.Int("workers", a.cfg.Worker.Concurrency),
		zap.Int("queue_depth", a.cfg.Worker.QueueDepth),
		zap.Duration("request_timeout", a.cfg.RequestTimeout()))
}

// Capture runs one capture synchronously, bypassing the dispatcher queue.
func (a *App) Capture(ctx context.Context, req pipeline.Request) pipeline.Response {
	return a.pipeline.Run(ctx, req)
}

// ExportRecords builds a workbook from the retained records of source (all sources when empty).
func (a *App) ExportRecords(ctx context.Context, source researcher.Source, limit int) (export.Artifact, error) {
	filter := researcher.RetainedOnly()
	filter.Source = source
	filter.Limit = limit
	records, err := a.store.Query(ctx, filter)
	if err != nil {
		return export.Artifact{}, fmt.Errorf("query retained records: %w", err)
	}
	artifact, err := a.exporter.Export(ctx, source, records)
	if err != nil {
		return export.Artifact{}, fmt.Errorf("export records: %w", err)
	}
	return artifact, nil
}

// Store exposes the record store.
func (a *App) Store() researcher.Store { return a.store }

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Run starts the dispatcher and HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and pools. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	a.logger.Info("shutdown complete")
}
