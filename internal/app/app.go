// Package app собирает зависимости бинарников из config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/postmill/internal/blob"
	"github.com/shaiso/postmill/internal/config"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/generation"
	"github.com/shaiso/postmill/internal/generation/gemini"
	"github.com/shaiso/postmill/internal/generation/httpgen"
	"github.com/shaiso/postmill/internal/mq"
	"github.com/shaiso/postmill/internal/platform"
	"github.com/shaiso/postmill/internal/platform/facebook"
	"github.com/shaiso/postmill/internal/platform/instagram"
	"github.com/shaiso/postmill/internal/platform/twitter"
	"github.com/shaiso/postmill/internal/repo"
)

// shutdownTimeout — сколько HTTP серверу дают на завершение запросов.
const shutdownTimeout = 10 * time.Second

// Stores — Postgres-репозитории всех сущностей.
type Stores struct {
	Jobs      *repo.JobRepo
	Posts     *repo.PostRepo
	Analytics *repo.AnalyticsRepo
	Accounts  *repo.AccountRepo
}

// NewStores создаёт репозитории поверх пула.
func NewStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Jobs:      repo.NewJobRepo(pool),
		Posts:     repo.NewPostRepo(pool),
		Analytics: repo.NewAnalyticsRepo(pool),
		Accounts:  repo.NewAccountRepo(pool),
	}
}

// OpenBlobs открывает хранилище изображений. close освобождает клиент GCS.
func OpenBlobs(ctx context.Context, cfg config.BlobConfig) (store blob.Store, close func() error, err error) {
	switch cfg.Backend {
	case "gcs":
		s, err := blob.NewGCSStore(ctx, cfg.Bucket, cfg.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "fs", "":
		s, err := blob.NewFSStore(cfg.Dir, cfg.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown blob backend %q", domain.ErrConfiguration, cfg.Backend)
	}
}

// NewGenerator выбирает генератор изображений.
func NewGenerator(ctx context.Context, cfg config.GeneratorConfig) (generation.Generator, error) {
	switch cfg.Kind {
	case "gemini":
		return gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "http", "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: generator url is required", domain.ErrConfiguration)
		}
		return httpgen.New(cfg.URL, cfg.APIKey, &http.Client{Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("%w: unknown generator %q", domain.ErrConfiguration, cfg.Kind)
	}
}

// NewRegistry регистрирует издателей платформ.
//
// В dry run регистрируются заглушки для всех платформ с адаптером.
// Иначе платформа без токена не регистрируется, и публикация на неё
// завершается ошибкой конфигурации. LinkedIn адаптера не имеет.
func NewRegistry(cfg config.PlatformsConfig, logger *slog.Logger) *platform.Registry {
	reg := platform.NewRegistry()
	if cfg.DryRun {
		for _, p := range []domain.Platform{domain.PlatformInstagram, domain.PlatformFacebook, domain.PlatformTwitter} {
			reg.Register(platform.NewDryRun(p, logger))
		}
		return reg
	}

	client := &http.Client{}
	if cfg.InstagramToken != "" {
		reg.Register(instagram.New(cfg.InstagramToken, cfg.InstagramAPIURL, client, logger))
	}
	if cfg.FacebookToken != "" {
		reg.Register(facebook.New(cfg.FacebookToken, cfg.FacebookAPIURL, client))
	}
	if cfg.TwitterToken != "" {
		reg.Register(twitter.New(cfg.TwitterToken, cfg.TwitterAPIURL, client))
	}
	return reg
}

// DialBroker подключается к RabbitMQ и объявляет топологию.
// Пустой URL — брокер не используется, возвращается nil.
func DialBroker(url string, logger *slog.Logger) (*mq.Connection, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := mq.Dial(url, logger)
	if err != nil {
		return nil, err
	}
	if err := mq.SetupTopology(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Serve обслуживает HTTP до отмены ctx, затем завершается gracefully.
func Serve(ctx context.Context, port string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
