// Package app assembles the relay service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/crawlstream/crawl-relay/internal/api"
	"github.com/crawlstream/crawl-relay/internal/broker"
	brokermem "github.com/crawlstream/crawl-relay/internal/broker/memory"
	brokerpubsub "github.com/crawlstream/crawl-relay/internal/broker/pubsub"
	"github.com/crawlstream/crawl-relay/internal/clock/system"
	"github.com/crawlstream/crawl-relay/internal/config"
	"github.com/crawlstream/crawl-relay/internal/correlation"
	correlationmem "github.com/crawlstream/crawl-relay/internal/correlation/memory"
	correlationpg "github.com/crawlstream/crawl-relay/internal/correlation/postgres"
	correlationredis "github.com/crawlstream/crawl-relay/internal/correlation/redis"
	"github.com/crawlstream/crawl-relay/internal/deliver"
	"github.com/crawlstream/crawl-relay/internal/hash/sha256"
	"github.com/crawlstream/crawl-relay/internal/id/uuid"
	"github.com/crawlstream/crawl-relay/internal/lifecycle"
	"github.com/crawlstream/crawl-relay/internal/logging"
	"github.com/crawlstream/crawl-relay/internal/metrics"
	"github.com/crawlstream/crawl-relay/internal/registry"
	blobstorage "github.com/crawlstream/crawl-relay/internal/storage"
	gcsstorage "github.com/crawlstream/crawl-relay/internal/storage/gcs"
	memorystorage "github.com/crawlstream/crawl-relay/internal/storage/memory"
	"github.com/crawlstream/crawl-relay/internal/submit"
	"github.com/crawlstream/crawl-relay/internal/transport/ws"
	"github.com/crawlstream/crawl-relay/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	manager   *lifecycle.Manager

	provider  broker.Provider
	store     correlation.Store
	reg       *registry.Registry
	gcsClient *storage.Client
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("broker", cfg.Broker.Provider),
		zap.String("correlation", cfg.Correlation.Provider),
		zap.String("storage", cfg.Storage.Provider))

	if app.store, err = setupCorrelation(ctx, app); err != nil {
		return nil, err
	}
	if app.provider, err = setupBroker(ctx, app); err != nil {
		return nil, err
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	reg := registry.New(logger.Named("registry"))
	app.reg = reg
	submitter := submit.New(app.store, app.provider, sha256.New(), clock, cfg.Broker.RequestsTopic, logger.Named("submit"))
	sink := deliver.NewSink(reg, logger.Named("deliver"))
	results := deliver.NewConsumer(app.store, sink, logger.Named("deliver"))

	app.manager = lifecycle.NewManager(app.provider, cfg.ManagedTopics(), logger.Named("lifecycle"))
	if err := app.manager.RegisterConsumer(
		lifecycle.NewConsumer("results", cfg.Broker.ResultsTopic, results.Handle),
	); err != nil {
		return nil, fmt.Errorf("register results consumer: %w", err)
	}

	if cfg.Worker.Enabled {
		w := worker.New(app.provider, blobs, clock, worker.Config{
			ResultsTopic: cfg.Broker.ResultsTopic,
			UserAgent:    cfg.Worker.UserAgent,
			Timeout:      time.Duration(cfg.Worker.TimeoutSeconds) * time.Second,
			BlobPrefix:   cfg.Storage.Prefix,
			ContentType:  cfg.Storage.ContentType,
			ExcerptBytes: cfg.Worker.ExcerptBytes,
		}, logger.Named("worker"))
		if err := app.manager.RegisterConsumer(
			lifecycle.NewConsumer("requests", cfg.Broker.RequestsTopic, w.Handle),
		); err != nil {
			return nil, fmt.Errorf("register requests consumer: %w", err)
		}
	}

	wsHandler := ws.NewHandler(reg, uuid.NewGenerator(), logger.Named("ws"))
	app.apiServer = api.NewServer(submitter, wsHandler, cfg, app.ready, logger.Named("api"))
	return app, nil
}

// Manager exposes the consumer lifecycle manager for operational tooling.
func (a *App) Manager() *lifecycle.Manager {
	return a.manager
}

func (a *App) ready() error {
	// The correlation store is the only hard dependency a request cannot be
	// accepted without.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := a.store.Get(ctx, "readiness-probe"); err != nil {
		return fmt.Errorf("correlation store unavailable: %w", err)
	}
	return nil
}

// Run starts the consumers and the HTTP server, blocking until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.manager.StartAll(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.manager.StopAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

// RunConsumers starts only the broker consumers, without the HTTP server,
// and blocks until the context is canceled or a termination signal arrives.
// Used by worker-only deployments.
func (a *App) RunConsumers(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.manager.StartAll(ctx)
	a.logger.Info("consumers started")

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.manager.StopAll()
	return a.Close()
}

// Close releases broker, store, and storage clients.
func (a *App) Close() error {
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Warn("broker close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("correlation store close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupCorrelation(ctx context.Context, app *App) (correlation.Store, error) {
	switch app.cfg.Correlation.Provider {
	case "redis":
		app.logger.Info("using redis correlation store",
			zap.String("addr", app.cfg.Correlation.RedisAddr))
		store, err := correlationredis.New(ctx, correlationredis.Config{
			Addr:      app.cfg.Correlation.RedisAddr,
			Password:  app.cfg.Correlation.RedisPassword,
			DB:        app.cfg.Correlation.RedisDB,
			Retention: app.cfg.Retention(),
		})
		if err != nil {
			return nil, fmt.Errorf("redis correlation store init failed: %w", err)
		}
		return store, nil
	case "postgres":
		app.logger.Info("using postgres correlation store")
		store, err := correlationpg.New(ctx, correlationpg.Config{
			DSN:       app.cfg.Correlation.PostgresDSN,
			Retention: app.cfg.Retention(),
		}, app.logger.Named("correlation"))
		if err != nil {
			return nil, fmt.Errorf("postgres correlation store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Info("using in-memory correlation store")
		return correlationmem.New(app.cfg.Retention(), system.New()), nil
	}
}

func setupBroker(ctx context.Context, app *App) (broker.Provider, error) {
	if app.cfg.Broker.Provider != "pubsub" {
		app.logger.Info("using in-memory broker")
		return brokermem.New(), nil
	}
	app.logger.Info("using pubsub broker", zap.String("project", app.cfg.Broker.ProjectID))
	provider, err := brokerpubsub.New(ctx, brokerpubsub.Config{
		ProjectID:       app.cfg.Broker.ProjectID,
		SubscriptionFor: app.cfg.SubscriptionFor,
	}, app.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub broker init failed: %w", err)
	}
	return provider, nil
}

func setupStorage(ctx context.Context, app *App) (blobstorage.BlobStore, error) {
	if app.cfg.Storage.Provider != "gcs" {
		app.logger.Info("using in-memory blob storage")
		return memorystorage.NewBlobStore(), nil
	}
	app.logger.Info("using GCS blob storage", zap.String("bucket", app.cfg.Storage.GCSBucket))
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	app.gcsClient = client
	blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
	if err != nil {
		return nil, fmt.Errorf("gcs blob store init failed: %w", err)
	}
	return blobs, nil
}
