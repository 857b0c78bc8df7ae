// Package app assembles the ingest service: configuration in, wired stages,
// runners, and HTTP server out.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ragline/ingest/internal/api"
	"github.com/ragline/ingest/internal/chunk"
	"github.com/ragline/ingest/internal/clock/system"
	"github.com/ragline/ingest/internal/config"
	"github.com/ragline/ingest/internal/extract"
	collyfetcher "github.com/ragline/ingest/internal/fetcher/colly"
	"github.com/ragline/ingest/internal/keys"
	"github.com/ragline/ingest/internal/ledger"
	"github.com/ragline/ingest/internal/pipeline"
	"github.com/ragline/ingest/internal/queue"
	"github.com/ragline/ingest/internal/seeder"
	"github.com/ragline/ingest/internal/stage/crawl"
	"github.com/ragline/ingest/internal/stage/transform"
	gcsstore "github.com/ragline/ingest/internal/storage/gcs"
)

// shutdownGrace bounds how long an in-flight HTTP request may finish after
// the stop signal.
const shutdownGrace = 10 * time.Second

// App holds the long-lived services of the ingest process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	workTopic     *pubsub.Topic
	ledger        *ledger.Ledger

	workRunner   *queue.Runner
	notifyRunner *queue.Runner
	httpServer   *http.Server
}

// New connects every provider and wires the two stages and the ops server.
// It fails fast: any unreachable dependency aborts startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	rawStore, err := gcsstore.New(storageClient, gcsstore.Config{Bucket: cfg.Storage.RawBucket})
	if err != nil {
		return nil, fmt.Errorf("raw store: %w", err)
	}
	chunkStore, err := gcsstore.New(storageClient, gcsstore.Config{Bucket: cfg.Storage.ChunkBucket})
	if err != nil {
		return nil, fmt.Errorf("chunk store: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	workTopic := pubsubClient.Topic(cfg.PubSub.WorkTopic)
	workSub := pubsubClient.Subscription(cfg.PubSub.WorkSubscription)
	notifySub := pubsubClient.Subscription(cfg.PubSub.NotifySubscription)
	for _, sub := range []*pubsub.Subscription{workSub, notifySub} {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.Queue.BatchSize * 2
	}

	var led pipeline.Ledger
	var ledgerCloser *ledger.Ledger
	if cfg.DB.DSN != "" {
		l, err := ledger.New(ctx, ledger.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect ledger: %w", err)
		}
		led = l
		ledgerCloser = l
		logger.Info("ledger enabled")
	} else {
		logger.Info("no db.dsn configured, ledger disabled")
	}

	splitter, err := chunk.New(chunk.Config{Size: cfg.Chunk.Size, Overlap: cfg.Chunk.Overlap})
	if err != nil {
		return nil, fmt.Errorf("build splitter: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	sanitizer := keys.New(keys.Config{
		MaxBytes:         cfg.Keys.MaxBytes,
		DefaultExtension: cfg.Keys.DefaultExtension,
	})
	extractor := extract.New(cfg.Extract.DenyTags)
	clock := system.New()

	crawlStage := crawl.New(
		fetcher,
		sanitizer,
		rawStore,
		led,
		clock,
		crawl.Config{ContentType: cfg.Storage.ContentType},
		logger.Named("crawl"),
	)
	transformStage := transform.New(
		rawStore,
		chunkStore,
		extractor,
		splitter,
		led,
		clock,
		logger.Named("transform"),
	)

	runnerCfg := queue.RunnerConfig{
		BatchSize: cfg.Queue.BatchSize,
		BatchWait: cfg.BatchWait(),
	}
	workRunner := queue.NewRunner(
		workSub,
		NewCrawlHandler(crawlStage),
		runnerCfg,
		logger.Named("work-runner"),
	)
	notifyRunner := queue.NewRunner(
		notifySub,
		NewTransformHandler(transformStage, cfg.Storage.RawBucket, logger.Named("notify-handler")),
		runnerCfg,
		logger.Named("notify-runner"),
	)

	seed := seeder.New(
		queue.NewPublisher(workTopic),
		seeder.Config{UserAgent: cfg.Fetch.UserAgent},
		logger.Named("seeder"),
	)
	apiServer := api.NewServer(seed, logger.Named("api"))

	return &App{
		cfg:           cfg,
		logger:        logger,
		storageClient: storageClient,
		pubsubClient:  pubsubClient,
		workTopic:     workTopic,
		ledger:        ledgerCloser,
		workRunner:    workRunner,
		notifyRunner:  notifyRunner,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run blocks until ctx is canceled or a component fails, consuming both
// subscriptions and serving HTTP.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("work runner started",
			zap.String("subscription", a.cfg.PubSub.WorkSubscription))
		return a.workRunner.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("notify runner started",
			zap.String("subscription", a.cfg.PubSub.NotifySubscription))
		return a.notifyRunner.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		err := a.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases every client the App holds. Call after Run returns.
func (a *App) Close() {
	a.workTopic.Stop()
	if err := a.pubsubClient.Close(); err != nil {
		a.logger.Warn("close pubsub client", zap.Error(err))
	}
	if err := a.storageClient.Close(); err != nil {
		a.logger.Warn("close storage client", zap.Error(err))
	}
	a.ledger.Close()
	a.logger.Info("shutdown complete")
}
