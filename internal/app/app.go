// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/assemble"
	"github.com/JakeFAU/collection-sync/internal/clock/system"
	"github.com/JakeFAU/collection-sync/internal/config"
	"github.com/JakeFAU/collection-sync/internal/fetch"
	"github.com/JakeFAU/collection-sync/internal/hash/sha1"
	"github.com/JakeFAU/collection-sync/internal/id/uuid"
	"github.com/JakeFAU/collection-sync/internal/ledger"
	"github.com/JakeFAU/collection-sync/internal/metrics"
	"github.com/JakeFAU/collection-sync/internal/pipeline"
	"github.com/JakeFAU/collection-sync/internal/platform/archiveit"
	"github.com/JakeFAU/collection-sync/internal/progress"
	"github.com/JakeFAU/collection-sync/internal/progress/sinks"
	gcspub "github.com/JakeFAU/collection-sync/internal/publish/gcs"
	pubsubpub "github.com/JakeFAU/collection-sync/internal/publish/pubsub"
	"github.com/JakeFAU/collection-sync/internal/reconcile"
)

// App holds the shared services of one sync invocation. It is built once from an immutable
// config.Config and torn down with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	fs     afero.Fs

	client     *archiveit.Client
	extractor  *archiveit.Extractor
	reconciler *reconcile.Reconciler
	fetcher    *fetch.Engine
	assembler  *assemble.Assembler

	hub      *progress.Hub
	registry *prometheus.Registry
	gauges   *metrics.RunGauges
	ledger   *ledger.Store

	uploader  *gcspub.Uploader
	publisher *pubsubpub.Publisher

	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	ownsStorage   bool
	ownsPubSub    bool
}

// Option customizes the services New builds.
type Option func(*options)

type options struct {
	fs            afero.Fs
	runner        assemble.Runner
	storageClient *storage.Client
	pubsubClient  *pubsub.Client
}

// WithFs replaces the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithRunner replaces the process runner used by the container tool.
func WithRunner(r assemble.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithStorageClient supplies the GCS client used when publish.gcs_bucket is set. The caller keeps
// ownership.
func WithStorageClient(c *storage.Client) Option {
	return func(o *options) { o.storageClient = c }
}

// WithPubSubClient supplies the Pub/Sub client used when publish.pubsub_topic is set. The caller
// keeps ownership.
func WithPubSubClient(c *pubsub.Client) Option {
	return func(o *options) { o.pubsubClient = c }
}

// New creates and initializes an App from cfg. It fails fast when an enabled service cannot be
// initialized; anything already opened is released first.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, fs: o.fs}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	logger.Info("Initializing application services",
		zap.String("collection_id", cfg.Platform.CollectionID),
		zap.Bool("dry_run", cfg.Sync.DryRun),
	)

	initial, maxDelay := cfg.Backoff()
	a.client = archiveit.NewClient(archiveit.ClientConfig{
		Username:          cfg.Platform.Username,
		Password:          cfg.Platform.Password,
		UserAgent:         cfg.Platform.UserAgent,
		Timeout:           cfg.RequestTimeout(),
		MaxRetries:        cfg.HTTP.MaxRetries,
		BackoffInitial:    initial,
		BackoffMax:        maxDelay,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	}, logger.Named("platform"))

	scraper := archiveit.NewReplayScraper(archiveit.ReplayConfig{
		UserAgent:     cfg.Platform.UserAgent,
		Authorization: a.client.AuthorizationHeader(),
		Timeout:       cfg.RequestTimeout(),
		Pace:          a.client.Wait,
	})
	a.extractor, err = archiveit.NewExtractor(a.client, archiveit.Config{
		CollectionID: cfg.Platform.CollectionID,
		PageSize:     cfg.Sync.PageSize,
		Endpoints: archiveit.Endpoints{
			API:    cfg.Platform.APIBaseURL,
			WASAPI: cfg.Platform.WASAPIBaseURL,
			Replay: cfg.Platform.ReplayBaseURL,
		},
	}, scraper, logger.Named("extractor"))
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	progressSinks, err := a.initObservability()
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)

	a.reconciler = reconcile.New(a.fs, sha1.New(),
		reconcile.WithLogger(logger.Named("reconcile")),
		reconcile.WithDryRun(cfg.Sync.DryRun),
	)
	a.fetcher = fetch.New(a.fs, a.client,
		fetch.WithLogger(logger.Named("fetch")),
		fetch.WithEmitter(a.hub),
	)
	a.assembler = assemble.New(assemble.Config{
		Command:      cfg.Assembler.Command,
		SigningURL:   cfg.Assembler.SigningURL,
		SigningToken: cfg.Assembler.SigningToken,
	}, a.fs, o.runner, logger.Named("assemble"))

	if err := a.initPublishing(ctx, o); err != nil {
		return nil, err
	}

	logger.Info("Application services initialized")
	return a, nil
}

func (a *App) initObservability() ([]progress.Sink, error) {
	a.registry = metrics.NewRegistry()
	gauges, err := metrics.NewRunGauges(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init run gauges: %w", err)
	}
	a.gauges = gauges
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	out := []progress.Sink{sinks.NewLogSink(a.logger.Named("events")), promSink}

	if a.cfg.Ledger.Path != "" {
		store, err := ledger.Open(a.cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		a.ledger = store
		out = append(out, sinks.NewLedgerSink(store))
		a.logger.Info("Recording runs in ledger", zap.String("path", a.cfg.Ledger.Path))
	}
	return out, nil
}

func (a *App) initPublishing(ctx context.Context, o options) error {
	pub := a.cfg.Publish
	if pub.GCSBucket != "" {
		client := o.storageClient
		if client == nil {
			var err error
			client, err = storage.NewClient(ctx)
			if err != nil {
				return fmt.Errorf("init storage client: %w", err)
			}
			a.ownsStorage = true
		}
		a.storageClient = client
		uploader, err := gcspub.New(client, gcspub.Config{Bucket: pub.GCSBucket, Prefix: pub.GCSPrefix})
		if err != nil {
			return fmt.Errorf("init uploader: %w", err)
		}
		a.uploader = uploader
		a.logger.Info("Publishing containers to GCS", zap.String("bucket", pub.GCSBucket))
	}
	if pub.PubSubTopic != "" {
		client := o.pubsubClient
		if client == nil {
			var err error
			client, err = pubsub.NewClient(ctx, pub.PubSubProject)
			if err != nil {
				return fmt.Errorf("init pubsub client: %w", err)
			}
			a.ownsPubSub = true
		}
		a.pubsubClient = client
		publisher, err := pubsubpub.Open(ctx, client, pub.PubSubTopic)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = publisher
		a.logger.Info("Publishing run notices to Pub/Sub", zap.String("topic", pub.PubSubTopic))
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry exposes the metrics registry of this invocation.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Reporters lists the Report-stage sinks enabled by the configuration.
func (a *App) Reporters() []pipeline.Reporter {
	out := []pipeline.Reporter{NewMetricsReporter(a.gauges)}
	if a.ledger != nil {
		out = append(out, NewLedgerReporter(a.ledger))
	}
	if a.uploader != nil || a.publisher != nil {
		var (
			up  Uploader
			pub Notifier
		)
		if a.uploader != nil {
			up = a.uploader
		}
		if a.publisher != nil {
			pub = a.publisher
		}
		out = append(out, NewPublishReporter(a.fs, up, pub, a.logger.Named("publish")))
	}
	return out
}

// Pipeline builds the orchestrator for the configured collection.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	return pipeline.New(pipeline.Options{
		CollectionID:  a.cfg.Platform.CollectionID,
		WorkDir:       a.cfg.WorkDir(),
		ContainerPath: a.cfg.ContainerPath(),
		Concurrency:   a.cfg.Sync.Concurrency,
		DryRun:        a.cfg.Sync.DryRun,
	}, pipeline.Dependencies{
		Extractor:  a.extractor,
		Reconciler: a.reconciler,
		Fetcher:    a.fetcher,
		Assembler:  a.assembler,
		Reporters:  a.Reporters(),
		Emitter:    a.hub,
		Clock:      system.New(),
		IDs:        uuid.New(),
		Logger:     a.logger.Named("pipeline"),
	})
}

// Sync runs the pipeline once.
func (a *App) Sync(ctx context.Context) (pipeline.Result, error) {
	p, err := a.Pipeline()
	if err != nil {
		return pipeline.Result{}, err
	}
	return p.Run(ctx), nil
}

// Close drains progress events, writes the metrics textfile and releases every client. Close must
// run after the last Sync so the textfile includes the final events.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("Shutting down application services")
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	if path := a.cfg.Metrics.Textfile; path != "" && a.registry != nil {
		if err := metrics.WriteTextfile(path, a.registry); err != nil {
			errs = append(errs, err)
		} else {
			a.logger.Debug("Wrote metrics textfile", zap.String("path", path))
		}
	}
	errs = append(errs, a.release())
	return errors.Join(errs...)
}

func (a *App) release() error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	if a.publisher != nil {
		a.publisher.Stop()
		a.publisher = nil
	}
	if a.pubsubClient != nil && a.ownsPubSub {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	a.pubsubClient = nil
	if a.storageClient != nil && a.ownsStorage {
		if err := a.storageClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage client: %w", err))
		}
	}
	a.storageClient = nil
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
		a.ledger = nil
	}
	return errors.Join(errs...)
}
