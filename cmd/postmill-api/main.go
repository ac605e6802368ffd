// Postmill API — HTTP интерфейс для заданий генерации, постов и аналитики.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/postmill/internal/api"
	"github.com/shaiso/postmill/internal/app"
	"github.com/shaiso/postmill/internal/config"
	"github.com/shaiso/postmill/internal/executor"
	"github.com/shaiso/postmill/internal/mq"
	"github.com/shaiso/postmill/internal/publishing"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/service"
	"github.com/shaiso/postmill/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.SetupLogger("error", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting postmill-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	stores := app.NewStores(pool)

	// Без брокера задачи подберёт polling воркера.
	var trigger executor.Trigger
	conn, err := app.DialBroker(cfg.Broker.URL, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	if conn != nil {
		defer conn.Close()
		trigger = mq.NewPublisher(conn, logger)
	}

	svc := service.New(service.Config{
		Jobs:       stores.Jobs,
		Posts:      stores.Posts,
		Analytics:  stores.Analytics,
		Accounts:   stores.Accounts,
		Dispatcher: publishing.NewDispatcher(stores.Posts, trigger, nil, logger),
		Trigger:    trigger,
		Logger:     logger,
	})

	mux := telemetry.NewMux()
	api.NewHandler(api.Config{Service: svc, Logger: logger}).RegisterRoutes(mux)

	// Локальное хранилище раздаётся самим API по MEDIA_BASE_URL.
	if cfg.Blob.Backend == "fs" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.Blob.Dir))))
	}

	if err := app.Serve(ctx, cfg.Ports.API, mux, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
