package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/postmill/internal/domain"
)

const postColumns = `
	id, owner_id, artifact_id, platform, scheduled_at, caption, hashtags,
	state, attempt_count, last_error, platform_post_ref, platform_post_url,
	posted_at, next_attempt_at, created_at, updated_at`

// PostRepo — репозиторий запланированных постов.
type PostRepo struct {
	pool *pgxpool.Pool
}

// NewPostRepo создаёт новый PostRepo.
func NewPostRepo(pool *pgxpool.Pool) *PostRepo {
	return &PostRepo{pool: pool}
}

// Create сохраняет новый пост.
func (r *PostRepo) Create(ctx context.Context, post *domain.ScheduledPost) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_posts (
			id, owner_id, artifact_id, platform, scheduled_at, caption, hashtags,
			state, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		post.ID, post.OwnerID, post.ArtifactID, post.Platform, post.ScheduledAt,
		post.Caption, post.Hashtags, post.State, post.AttemptCount,
		post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scheduled post: %w", err)
	}
	return nil
}

// GetByID возвращает пост по ID.
func (r *PostRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error) {
	post, err := scanPost(r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return post, err
}

// ListByOwner возвращает посты владельца, ближайшие сверху.
func (r *PostRepo) ListByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]domain.ScheduledPost, error) {
	return r.list(ctx, `
		SELECT `+postColumns+` FROM scheduled_posts
		WHERE owner_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, owner, limit)
}

// ListDue возвращает страницу SCHEDULED постов с scheduled_at <= now.
// Курсор — (scheduled_at, id) последнего поста предыдущей страницы.
func (r *PostRepo) ListDue(ctx context.Context, now time.Time, after Cursor, limit int) ([]domain.ScheduledPost, error) {
	at, id := cursorArgs(after)
	return r.list(ctx, `
		SELECT `+postColumns+` FROM scheduled_posts
		WHERE state = 'SCHEDULED' AND scheduled_at <= $1
		  AND ($2::timestamptz IS NULL OR (scheduled_at, id) > ($2, $3::uuid))
		ORDER BY scheduled_at, id
		LIMIT $4
	`, now, at, id, limit)
}

// Claim атомарно переводит пост из from в PROCESSING.
//
// Это единственная точка синхронизации между poller и ручным publish now:
// из N конкурентов UPDATE затронет строку ровно у одного.
// При повторной отправке из FAILED счётчик попыток сбрасывается.
func (r *PostRepo) Claim(ctx context.Context, id uuid.UUID, from domain.PostState, now time.Time) (bool, error) {
	if !domain.CanTransitionPost(from, domain.PostProcessing) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.PostProcessing)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET state = 'PROCESSING',
		    attempt_count = CASE WHEN state = 'FAILED' THEN 0 ELSE attempt_count END,
		    next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1 AND state = $2
	`, id, from, now)
	if err != nil {
		return false, fmt.Errorf("claim scheduled post: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StartAttempt занимает следующую попытку публикации захваченного поста.
//
// Попытка начинается только после истечения lease предыдущей:
// дубликат задачи, пришедший во время живой попытки, проигрывает.
func (r *PostRepo) StartAttempt(ctx context.Context, id uuid.UUID, seen int, now, leaseUntil time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET attempt_count = attempt_count + 1, next_attempt_at = $4, updated_at = NOW()
		WHERE id = $1 AND state = 'PROCESSING' AND attempt_count = $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
	`, id, seen, now, leaseUntil)
	if err != nil {
		return false, fmt.Errorf("start publish attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Defer записывает ошибку попытки attempt и время следующей.
// Запоздавшая попытка не сдвигает lease более новой.
func (r *PostRepo) Defer(ctx context.Context, id uuid.UUID, attempt int, lastErr string, nextAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET last_error = $3, next_attempt_at = $4, updated_at = NOW()
		WHERE id = $1 AND state = 'PROCESSING' AND attempt_count = $2
	`, id, attempt, lastErr, nextAt)
	if err != nil {
		return fmt.Errorf("defer scheduled post: %w", err)
	}
	return nil
}

// MarkPosted переводит PROCESSING → POSTED и записывает ссылку на пост платформы.
func (r *PostRepo) MarkPosted(ctx context.Context, id uuid.UUID, ref, url string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET state = 'POSTED', platform_post_ref = $2, platform_post_url = $3,
		    posted_at = $4, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'PROCESSING'
	`, id, ref, nullString(url), at)
	if err != nil {
		return false, fmt.Errorf("mark scheduled post posted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed переводит PROCESSING → FAILED по итогам попытки attempt.
func (r *PostRepo) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastErr string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET state = 'FAILED', last_error = $3, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'PROCESSING' AND attempt_count = $2
	`, id, attempt, lastErr)
	if err != nil {
		return false, fmt.Errorf("mark scheduled post failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAbandoned переводит PROCESSING → FAILED, когда попытки исчерпаны,
// а lease последней истёк. Живую попытку не трогает.
func (r *PostRepo) MarkAbandoned(ctx context.Context, id uuid.UUID, lastErr string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET state = 'FAILED', last_error = $2, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'PROCESSING'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
	`, id, lastErr, now)
	if err != nil {
		return false, fmt.Errorf("mark scheduled post abandoned: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel переводит пост в CANCELLED из SCHEDULED или FAILED.
// false — пост в другом состоянии (например, уже PROCESSING).
func (r *PostRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_posts
		SET state = 'CANCELLED', next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state IN ('SCHEDULED', 'FAILED')
	`, id)
	if err != nil {
		return false, fmt.Errorf("cancel scheduled post: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDispatchable возвращает захваченные посты, которые пора (снова) публиковать.
func (r *PostRepo) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledPost, error) {
	return r.list(ctx, `
		SELECT `+postColumns+` FROM scheduled_posts
		WHERE state = 'PROCESSING' AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`, now, limit)
}

// ListPosted возвращает страницу опубликованных постов с posted_at >= since.
func (r *PostRepo) ListPosted(ctx context.Context, since time.Time, after Cursor, limit int) ([]domain.ScheduledPost, error) {
	at, id := cursorArgs(after)
	return r.list(ctx, `
		SELECT `+postColumns+` FROM scheduled_posts
		WHERE state = 'POSTED' AND posted_at >= $1
		  AND ($2::timestamptz IS NULL OR (posted_at, id) > ($2, $3::uuid))
		ORDER BY posted_at, id
		LIMIT $4
	`, since, at, id, limit)
}

// CountByState считает посты владельца по состояниям.
func (r *PostRepo) CountByState(ctx context.Context, owner uuid.UUID) (map[domain.PostState]int, error) {
	counts := make(map[domain.PostState]int)
	err := r.count(ctx, `
		SELECT state, COUNT(*) FROM scheduled_posts WHERE owner_id = $1 GROUP BY state
	`, owner, func(key string, n int) { counts[domain.PostState(key)] = n })
	return counts, err
}

// CountByPlatform считает посты владельца по платформам.
func (r *PostRepo) CountByPlatform(ctx context.Context, owner uuid.UUID) (map[domain.Platform]int, error) {
	counts := make(map[domain.Platform]int)
	err := r.count(ctx, `
		SELECT platform, COUNT(*) FROM scheduled_posts WHERE owner_id = $1 GROUP BY platform
	`, owner, func(key string, n int) { counts[domain.Platform(key)] = n })
	return counts, err
}

// --- Helpers ---

func (r *PostRepo) count(ctx context.Context, query string, owner uuid.UUID, put func(string, int)) error {
	rows, err := r.pool.Query(ctx, query, owner)
	if err != nil {
		return fmt.Errorf("count scheduled posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan post count: %w", err)
		}
		put(key, n)
	}
	return rows.Err()
}

func (r *PostRepo) list(ctx context.Context, query string, args ...any) ([]domain.ScheduledPost, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

func scanPost(row pgx.Row) (*domain.ScheduledPost, error) {
	var post domain.ScheduledPost
	var lastError, ref, url *string

	err := row.Scan(
		&post.ID,
		&post.OwnerID,
		&post.ArtifactID,
		&post.Platform,
		&post.ScheduledAt,
		&post.Caption,
		&post.Hashtags,
		&post.State,
		&post.AttemptCount,
		&lastError,
		&ref,
		&url,
		&post.PostedAt,
		&post.NextAttemptAt,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled post: %w", err)
	}

	post.LastError = derefString(lastError)
	post.PlatformPostRef = derefString(ref)
	post.PlatformPostURL = derefString(url)
	return &post, nil
}
