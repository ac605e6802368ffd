// Postmill worker — выполняет задачи генерации, публикации и синхронизации метрик.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/postmill/internal/analytics"
	"github.com/shaiso/postmill/internal/app"
	"github.com/shaiso/postmill/internal/config"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/executor"
	"github.com/shaiso/postmill/internal/generation"
	"github.com/shaiso/postmill/internal/mq"
	"github.com/shaiso/postmill/internal/publishing"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
	"github.com/shaiso/postmill/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("error", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting postmill-worker", "concurrency", cfg.Worker.Concurrency)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	if err := run(ctx, cfg); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.FromContext(ctx)

	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	stores := app.NewStores(pool)

	blobs, closeBlobs, err := app.OpenBlobs(ctx, cfg.Blob)
	if err != nil {
		return err
	}
	defer closeBlobs()

	gen, err := app.NewGenerator(ctx, cfg.Generator)
	if err != nil {
		return err
	}
	registry := app.NewRegistry(cfg.Platforms, logger)
	logger.Info("publishers registered", "platforms", registry.Platforms(), "dry_run", cfg.Platforms.DryRun)

	conn, err := app.DialBroker(cfg.Broker.URL, logger)
	if err != nil {
		return err
	}
	var trigger executor.Trigger
	if conn != nil {
		defer conn.Close()
		trigger = mq.NewPublisher(conn, logger)
	} else {
		logger.Warn("rabbitmq disabled, running in polling mode")
	}

	exec := executor.New(executor.Config{Trigger: trigger, Logger: logger})

	generate := generation.NewPipeline(generation.Config{
		Jobs:      stores.Jobs,
		Generator: gen,
		Blobs:     blobs,
		Executor:  exec,
		Lease:     cfg.Worker.Lease,
		Logger:    logger,
	})
	publish := publishing.NewPipeline(publishing.Config{
		Posts:     stores.Posts,
		Jobs:      stores.Jobs,
		Accounts:  stores.Accounts,
		Analytics: stores.Analytics,
		Registry:  registry,
		Blobs:     blobs,
		Executor:  exec,
		Lease:     cfg.Worker.Lease,
		Logger:    logger,
	})
	syncer := analytics.New(analytics.Config{
		Posts:     stores.Posts,
		Analytics: stores.Analytics,
		Registry:  registry,
		Window:    cfg.Schedule.AnalyticsWindow(),
		Logger:    logger,
	})

	handlers := worker.NewRegistry()
	handlers.Register(domain.TaskGenerate, worker.PipelineHandler(generate))
	handlers.Register(domain.TaskPublish, worker.PipelineHandler(publish))
	handlers.Register(domain.TaskSyncAnalytics, worker.AnalyticsHandler(syncer, logger))

	w := worker.New(worker.Config{
		Registry:     handlers,
		Conn:         conn,
		Jobs:         stores.Jobs,
		Posts:        stores.Posts,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(ctx, cfg.Ports.Worker, telemetry.NewMux(), logger) }()

	runErr := w.Run(ctx)
	w.Wait()
	if err := <-errCh; err != nil {
		return err
	}
	return runErr
}
