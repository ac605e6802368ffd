// Package analytics синхронизирует метрики опубликованных постов.
//
// Sync.Run раз в сутки обходит посты, опубликованные за окно (30 дней
// по умолчанию), запрашивает у платформы счётчики и обновляет
// PlatformAnalytics. Ошибка одного поста логируется и считается,
// но не прерывает обход.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/platform"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
)

const (
	DefaultWindow   = 30 * 24 * time.Hour
	DefaultPageSize = 100
	DefaultTimeout  = 30 * time.Second
)

// PostedPosts — чтение опубликованных постов.
type PostedPosts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	ListPosted(ctx context.Context, since time.Time, after repo.Cursor, limit int) ([]domain.ScheduledPost, error)
}

// Store — хранилище метрик.
type Store interface {
	GetByPostID(ctx context.Context, postID uuid.UUID) (*domain.PlatformAnalytics, error)
	Upsert(ctx context.Context, rec *domain.PlatformAnalytics) error
}

// Config — зависимости Sync.
type Config struct {
	Posts     PostedPosts
	Analytics Store
	Registry  *platform.Registry
	Clock     clock.Clock
	Logger    *slog.Logger
	Window    time.Duration
	PageSize  int
	Timeout   time.Duration
}

// Sync — синхронизация метрик.
type Sync struct {
	posts     PostedPosts
	analytics Store
	registry  *platform.Registry
	clock     clock.Clock
	logger    *slog.Logger
	window    time.Duration
	pageSize  int
	timeout   time.Duration
}

// Report — итоги обхода.
type Report struct {
	Total  int
	Synced int
	Failed int
}

// New создаёт Sync.
func New(cfg Config) *Sync {
	s := &Sync{
		posts:     cfg.Posts,
		analytics: cfg.Analytics,
		registry:  cfg.Registry,
		clock:     clock.OrReal(cfg.Clock),
		logger:    cfg.Logger,
		window:    cfg.Window,
		pageSize:  cfg.PageSize,
		timeout:   cfg.Timeout,
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.registry == nil {
		s.registry = platform.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "analytics_sync")
	return s
}

// Run обходит посты, опубликованные за окно, и обновляет их метрики.
func (s *Sync) Run(ctx context.Context) (Report, error) {
	var report Report
	now := s.clock.Now()
	since := now.Add(-s.window)

	var cursor repo.Cursor
	for {
		page, err := s.posts.ListPosted(ctx, since, cursor, s.pageSize)
		if err != nil {
			return report, fmt.Errorf("list posted: %w", err)
		}

		for i := range page {
			post := &page[i]
			report.Total++

			if err := s.syncPost(ctx, post); err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.Failed++
				telemetry.AnalyticsSync.WithLabelValues("failed").Inc()
				s.logger.Warn("analytics sync failed",
					"post_id", post.ID,
					"platform", post.Platform,
					"error", err,
				)
				continue
			}
			report.Synced++
			telemetry.AnalyticsSync.WithLabelValues("synced").Inc()
		}

		if len(page) < s.pageSize {
			break
		}
		last := page[len(page)-1]
		cursor = repo.Cursor{At: *last.PostedAt, ID: last.ID}
	}

	s.logger.Info("analytics sync completed",
		"total", report.Total,
		"synced", report.Synced,
		"failed", report.Failed,
	)
	return report, nil
}

// SyncPost синхронизирует метрики одного поста по запросу.
func (s *Sync) SyncPost(ctx context.Context, postID uuid.UUID) (*domain.PlatformAnalytics, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.State != domain.PostPosted {
		return nil, fmt.Errorf("%w: post is %s, analytics need %s", domain.ErrValidation, post.State, domain.PostPosted)
	}
	if err := s.syncPost(ctx, post); err != nil {
		telemetry.AnalyticsSync.WithLabelValues("failed").Inc()
		return nil, err
	}
	telemetry.AnalyticsSync.WithLabelValues("synced").Inc()
	return s.analytics.GetByPostID(ctx, postID)
}

func (s *Sync) syncPost(ctx context.Context, post *domain.ScheduledPost) error {
	if post.PlatformPostRef == "" {
		return fmt.Errorf("%w: post has no platform reference", domain.ErrValidation)
	}

	pub, err := s.registry.Get(post.Platform)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	m, err := pub.Analytics(callCtx, post.PlatformPostRef)
	if err != nil {
		return fmt.Errorf("fetch analytics: %w", err)
	}

	now := s.clock.Now()
	rec, err := s.analytics.GetByPostID(ctx, post.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		rec = domain.NewAnalyticsPlaceholder(post.ID, now)
	case err != nil:
		return fmt.Errorf("load analytics: %w", err)
	}

	rec.Apply(*m, now)
	if err := s.analytics.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}
	return nil
}
