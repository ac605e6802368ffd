// Postmill scheduler — периодические задачи: захват наступивших постов,
// суточная синхронизация метрик и очистка старых заданий.
//
// Задачи выполняет только лидер (advisory lock в Postgres), поэтому
// экземпляров может быть несколько.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/postmill/internal/analytics"
	"github.com/shaiso/postmill/internal/app"
	"github.com/shaiso/postmill/internal/cleanup"
	"github.com/shaiso/postmill/internal/config"
	"github.com/shaiso/postmill/internal/executor"
	"github.com/shaiso/postmill/internal/mq"
	"github.com/shaiso/postmill/internal/publishing"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/scheduler"
	"github.com/shaiso/postmill/internal/telemetry"
)

// leaderLockKey — ключ pg_advisory_lock планировщика.
const leaderLockKey int64 = 0x706f73746d696c6c

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("error", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting postmill-scheduler", "poll_interval", cfg.Schedule.PollInterval)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	if err := run(ctx, cfg); err != nil {
		logger.Error("scheduler stopped with error", "error", err)
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

	conn, err := app.DialBroker(cfg.Broker.URL, logger)
	if err != nil {
		return err
	}
	var trigger executor.Trigger
	if conn != nil {
		defer conn.Close()
		trigger = mq.NewPublisher(conn, logger)
	}

	poller := scheduler.NewPoller(scheduler.PollerConfig{
		Posts:      stores.Posts,
		Dispatcher: publishing.NewDispatcher(stores.Posts, trigger, nil, logger),
		PageSize:   cfg.Schedule.PageSize,
		Logger:     logger,
	})
	syncer := analytics.New(analytics.Config{
		Posts:     stores.Posts,
		Analytics: stores.Analytics,
		Registry:  app.NewRegistry(cfg.Platforms, logger),
		Window:    cfg.Schedule.AnalyticsWindow(),
		Logger:    logger,
	})
	reaper := cleanup.New(cleanup.Config{
		Jobs:      stores.Jobs,
		Blobs:     blobs,
		Retention: cfg.Schedule.Retention(),
		Logger:    logger,
	})

	leader := repo.NewLeader(pool, leaderLockKey)
	defer leader.Release(context.Background())

	runner := scheduler.NewRunner(leader, logger)
	jobs := []scheduler.Job{
		{Name: "poll_due_posts", Spec: scheduler.EverySpec(cfg.Schedule.PollInterval), Run: poller.Run},
		{Name: "sync_analytics", Spec: cfg.Schedule.AnalyticsCron, Run: func(ctx context.Context) error {
			_, err := syncer.Run(ctx)
			return err
		}},
		{Name: "cleanup_jobs", Spec: cfg.Schedule.CleanupCron, Run: func(ctx context.Context) error {
			_, err := reaper.Run(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		if err := runner.Add(job); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(ctx, cfg.Ports.Scheduler, telemetry.NewMux(), logger) }()

	runner.Start(ctx)
	return <-errCh
}
