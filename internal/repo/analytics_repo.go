package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/postmill/internal/domain"
)

// AnalyticsRepo — репозиторий метрик опубликованных постов.
type AnalyticsRepo struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepo создаёт новый AnalyticsRepo.
func NewAnalyticsRepo(pool *pgxpool.Pool) *AnalyticsRepo {
	return &AnalyticsRepo{pool: pool}
}

// CreatePlaceholder создаёт пустую запись метрик. Повторный вызов ничего не меняет.
func (r *AnalyticsRepo) CreatePlaceholder(ctx context.Context, postID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO post_analytics (post_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (post_id) DO NOTHING
	`, postID, now)
	if err != nil {
		return fmt.Errorf("create analytics placeholder: %w", err)
	}
	return nil
}

// Upsert записывает свежие метрики поста.
func (r *AnalyticsRepo) Upsert(ctx context.Context, a *domain.PlatformAnalytics) error {
	rawJSON, err := marshalMap(a.Raw)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO post_analytics (
			post_id, likes, comments, shares, views, reach, impressions,
			engagement_rate, raw_data, last_synced_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (post_id) DO UPDATE SET
			likes = EXCLUDED.likes,
			comments = EXCLUDED.comments,
			shares = EXCLUDED.shares,
			views = EXCLUDED.views,
			reach = EXCLUDED.reach,
			impressions = EXCLUDED.impressions,
			engagement_rate = EXCLUDED.engagement_rate,
			raw_data = EXCLUDED.raw_data,
			last_synced_at = EXCLUDED.last_synced_at
	`,
		a.PostID, a.Likes, a.Comments, a.Shares, a.Views, a.Reach, a.Impressions,
		a.EngagementRate, rawJSON, a.LastSyncedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert post analytics: %w", err)
	}
	return nil
}

// GetByPostID возвращает метрики поста.
func (r *AnalyticsRepo) GetByPostID(ctx context.Context, postID uuid.UUID) (*domain.PlatformAnalytics, error) {
	var a domain.PlatformAnalytics
	var rawJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT post_id, likes, comments, shares, views, reach, impressions,
		       engagement_rate, raw_data, last_synced_at, created_at
		FROM post_analytics
		WHERE post_id = $1
	`, postID).Scan(
		&a.PostID, &a.Likes, &a.Comments, &a.Shares, &a.Views, &a.Reach, &a.Impressions,
		&a.EngagementRate, &rawJSON, &a.LastSyncedAt, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post analytics: %w", err)
	}

	if rawJSON != nil {
		if err := json.Unmarshal(rawJSON, &a.Raw); err != nil {
			return nil, fmt.Errorf("unmarshal raw analytics: %w", err)
		}
	}
	return &a, nil
}

// AverageEngagement — средний engagement rate по синхронизированным постам владельца.
func (r *AnalyticsRepo) AverageEngagement(ctx context.Context, owner uuid.UUID) (float64, error) {
	var avg *float64
	err := r.pool.QueryRow(ctx, `
		SELECT AVG(a.engagement_rate)
		FROM post_analytics a
		JOIN scheduled_posts p ON p.id = a.post_id
		WHERE p.owner_id = $1 AND a.last_synced_at IS NOT NULL
	`, owner).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("average engagement: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
