// Package main wires together the inventory ingestion service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/fordonad/inventory-ingest/internal/api"
	"github.com/fordonad/inventory-ingest/internal/clock/system"
	"github.com/fordonad/inventory-ingest/internal/config"
	"github.com/fordonad/inventory-ingest/internal/discover"
	"github.com/fordonad/inventory-ingest/internal/events"
	"github.com/fordonad/inventory-ingest/internal/extract"
	collyfetcher "github.com/fordonad/inventory-ingest/internal/fetch/colly"
	"github.com/fordonad/inventory-ingest/internal/hash/sha256"
	"github.com/fordonad/inventory-ingest/internal/id/uuid"
	"github.com/fordonad/inventory-ingest/internal/ingest"
	"github.com/fordonad/inventory-ingest/internal/lifecycle"
	"github.com/fordonad/inventory-ingest/internal/logging"
	queueMemory "github.com/fordonad/inventory-ingest/internal/queue/memory"
	queuePubsub "github.com/fordonad/inventory-ingest/internal/queue/pubsub"
	"github.com/fordonad/inventory-ingest/internal/storage/gcs"
	storageMemory "github.com/fordonad/inventory-ingest/internal/storage/memory"
	"github.com/fordonad/inventory-ingest/internal/storage/postgres"
	"github.com/fordonad/inventory-ingest/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	runs, items, eventStore, cleanupStores, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer cleanupStores()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	queue, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}
	defer closeQueue()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
	})
	engine := discover.New(fetcher, clock, cfg.DiscoverConfig(), logger.Named("discover"))
	extractor := extract.New(cfg.ExtractorConfig())
	recorder := events.NewRecorder(logger.Named("events"),
		events.NewStoreSink(eventStore),
		events.NewLogSink(logger.Named("runlog")),
		events.NewMetricsSink(),
	)

	manager := lifecycle.New(lifecycle.Deps{
		Runs:     runs,
		Items:    items,
		Queue:    queue,
		Profiles: cfg.Profiles(),
		Fetcher:  fetcher,
		Discover: engine,
		Extract:  extractor,
		Recorder: recorder,
		Blobs:    blobs,
		Hasher:   hasher,
		Clock:    clock,
		IDGen:    idGen,
		Retry: lifecycle.NewRetryPolicyWith(
			cfg.Retry.MaxAttempts,
			time.Duration(cfg.Retry.BaseDelayMs)*time.Millisecond,
			time.Duration(cfg.Retry.MaxDelayMs)*time.Millisecond,
		),
	}, lifecycle.Config{
		DedupeWindow:        cfg.DedupeWindow(),
		FetchTimeout:        cfg.FetchTimeout(),
		SnapshotContentType: cfg.Storage.ContentType,
	}, logger.Named("lifecycle"))

	pool := worker.NewPool(cfg.Ingest.Concurrency, queue, manager, logger.Named("worker"))
	apiServer := api.NewServer(manager, runs, items, eventStore, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started", zap.Int("concurrency", cfg.Ingest.Concurrency))
		pool.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStores(ctx context.Context, cfg config.Config) (
	ingest.RunStore,
	ingest.ItemStore,
	ingest.EventStore,
	func(),
	error,
) {
	if cfg.DB.DSN == "" {
		return storageMemory.NewRunStore(),
			storageMemory.NewItemStore(),
			storageMemory.NewEventStore(),
			func() {},
			nil
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeMins) * time.Minute,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	runs, err := postgres.NewRunStore(pool, cfg.DB.RunsTable)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	items, err := postgres.NewItemStore(pool, cfg.DB.ItemsTable)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	eventLog, err := postgres.NewEventStore(pool, cfg.DB.EventsTable)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	return runs, items, eventLog, pool.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (ingest.BlobStore, error) {
	if cfg.Storage.GCSBucket == "" {
		// Snapshots are optional; without a bucket they are skipped and the
		// run log records STORAGE_NOT_CONFIGURED.
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (ingest.Queue, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		q := queueMemory.NewQueue(cfg.Ingest.QueueDepth)
		return q, q.Close, nil
	}
	provider, err := queuePubsub.New(ctx, queuePubsub.Config{
		ProjectID:         cfg.PubSub.ProjectID,
		TopicID:           cfg.PubSub.TopicID,
		SubscriptionID:    cfg.PubSub.SubscriptionID,
		DeadLetterTopicID: cfg.PubSub.DeadLetterTopicID,
		Buffer:            cfg.Ingest.QueueDepth,
	}, logger.Named("pubsub"))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := provider.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	return provider, closeFn, nil
}
