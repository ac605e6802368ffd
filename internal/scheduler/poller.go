package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
)

// DefaultPageSize — размер страницы выборки наступивших постов.
const DefaultPageSize = 100

// DuePosts — выборка SCHEDULED постов с scheduled_at <= now.
type DuePosts interface {
	ListDue(ctx context.Context, now time.Time, after repo.Cursor, limit int) ([]domain.ScheduledPost, error)
}

// Claimer захватывает пост и ставит задачу публикации.
type Claimer interface {
	ClaimAndDispatch(ctx context.Context, postID uuid.UUID, from domain.PostState) (bool, error)
}

// PollerConfig — конфигурация Poller.
type PollerConfig struct {
	Posts      DuePosts
	Dispatcher Claimer
	Clock      clock.Clock
	Logger     *slog.Logger
	PageSize   int // default: 100
}

// Poller находит наступившие посты и захватывает их для публикации.
type Poller struct {
	posts    DuePosts
	claimer  Claimer
	clock    clock.Clock
	logger   *slog.Logger
	pageSize int
}

// TickReport — итоги одного тика.
type TickReport struct {
	Due       int
	Claimed   int
	Conflicts int
	Failed    int
}

// NewPoller создаёт Poller.
func NewPoller(cfg PollerConfig) *Poller {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		posts:    cfg.Posts,
		claimer:  cfg.Dispatcher,
		clock:    clock.OrReal(cfg.Clock),
		logger:   logger.With("component", "poller"),
		pageSize: pageSize,
	}
}

// Run — Tick в форме задачи Runner.
func (p *Poller) Run(ctx context.Context) error {
	_, err := p.Tick(ctx)
	return err
}

// Tick выполняет один проход.
//
// 1. Выбирает страницами SCHEDULED посты с scheduled_at <= now
// 2. Каждый захватывает условным UPDATE и ставит задачу publish
//
// Проигранный захват — не ошибка: пост забрал другой процесс
// или пользователь отменил его. Ошибка одного поста не мешает остальным.
func (p *Poller) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	now := p.clock.Now()

	var cursor repo.Cursor
	for {
		page, err := p.posts.ListDue(ctx, now, cursor, p.pageSize)
		if err != nil {
			return report, fmt.Errorf("list due posts: %w", err)
		}

		for i := range page {
			post := &page[i]
			report.Due++

			won, err := p.claimer.ClaimAndDispatch(ctx, post.ID, domain.PostScheduled)
			switch {
			case err != nil:
				report.Failed++
				telemetry.PollerClaims.WithLabelValues("error").Inc()
				p.logger.Error("failed to claim post", "post_id", post.ID, "error", err)
			case won:
				report.Claimed++
				telemetry.PollerClaims.WithLabelValues("won").Inc()
			default:
				report.Conflicts++
				telemetry.PollerClaims.WithLabelValues("conflict").Inc()
				p.logger.Debug("post already claimed", "post_id", post.ID)
			}
		}

		if len(page) < p.pageSize {
			break
		}
		last := page[len(page)-1]
		cursor = repo.Cursor{At: last.ScheduledAt, ID: last.ID}

		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	if report.Due == 0 {
		p.logger.Debug("no due posts")
		return report, nil
	}

	p.logger.Info("poller tick completed",
		"due", report.Due,
		"claimed", report.Claimed,
		"conflicts", report.Conflicts,
		"failed", report.Failed,
	)
	return report, nil
}
