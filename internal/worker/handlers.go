package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/executor"
)

// PipelineRunner — generation.Pipeline и publishing.Pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, id uuid.UUID) (executor.Outcome, error)
}

// AnalyticsSyncer — analytics.Sync.
type AnalyticsSyncer interface {
	SyncPost(ctx context.Context, postID uuid.UUID) (*domain.PlatformAnalytics, error)
}

// PipelineHandler адаптирует pipeline к Handler.
// Исход пишется самим pipeline, наверх уходят только инфраструктурные ошибки.
func PipelineHandler(p PipelineRunner) Handler {
	return func(ctx context.Context, id uuid.UUID) error {
		_, err := p.Run(ctx, id)
		return err
	}
}

// AnalyticsHandler адаптирует ручную синхронизацию метрик к Handler.
//
// Синхронизация по запросу не ретраится через executor: фатальная ошибка
// подтверждается и логируется, временная возвращает сообщение в очередь.
func AnalyticsHandler(s AnalyticsSyncer, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, id uuid.UUID) error {
		_, err := s.SyncPost(ctx, id)
		if err == nil {
			return nil
		}
		if domain.IsFatal(err) {
			logger.Warn("analytics sync rejected", "post_id", id, "error", err)
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		logger.Warn("analytics sync failed", "post_id", id, "error", err)
		return err
	}
}
