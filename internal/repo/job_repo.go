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

const jobColumns = `
	id, owner_id, prompt, negative_prompt, style, width, height, quality,
	state, attempt_count, last_error, result_ref, thumbnail_ref, source_url,
	metadata, generation_ms, validation_notes, validated_at, next_attempt_at,
	created_at, updated_at`

// JobRepo — репозиторий заданий генерации.
//
// Все изменения состояния — условные UPDATE по ожидаемому состоянию.
// Возвращаемый bool сообщает, выиграл ли вызывающий гонку.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// Create сохраняет новое задание.
func (r *JobRepo) Create(ctx context.Context, job *domain.GenerationJob) error {
	metaJSON, err := marshalMap(job.Metadata)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO generation_jobs (
			id, owner_id, prompt, negative_prompt, style, width, height, quality,
			state, attempt_count, metadata, next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		job.ID, job.OwnerID,
		job.Prompt.Text, job.Prompt.NegativePrompt, job.Prompt.Style,
		job.Prompt.Width, job.Prompt.Height, job.Prompt.Quality,
		job.State, job.AttemptCount, metaJSON, job.NextAttemptAt,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

// GetByID возвращает задание по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListByOwner возвращает последние задания владельца.
func (r *JobRepo) ListByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]domain.GenerationJob, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, owner, limit)
}

// StartAttempt занимает следующую попытку генерации.
//
// Условие (state, attempt_count) гарантирует, что из двух конкурентов
// (retry из очереди и polling после истечения lease) попытку начнёт один.
// Пока lease предыдущей попытки не истёк (next_attempt_at > now),
// новая не начинается. leaseUntil — когда задание снова станет
// доступно, если воркер умрёт.
func (r *JobRepo) StartAttempt(ctx context.Context, id uuid.UUID, from domain.JobState, seen int, now, leaseUntil time.Time) (bool, error) {
	if !from.IsInFlight() {
		return false, fmt.Errorf("%w: cannot start attempt from %s", domain.ErrInvalidTransition, from)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'GENERATING', attempt_count = attempt_count + 1,
		    next_attempt_at = $5, updated_at = NOW()
		WHERE id = $1 AND state = $2 AND attempt_count = $3
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $4)
	`, id, from, seen, now, leaseUntil)
	if err != nil {
		return false, fmt.Errorf("start generation attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Defer записывает ошибку попытки attempt и время следующей.
func (r *JobRepo) Defer(ctx context.Context, id uuid.UUID, attempt int, lastErr string, nextAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET last_error = $3, next_attempt_at = $4, updated_at = NOW()
		WHERE id = $1 AND state = 'GENERATING' AND attempt_count = $2
	`, id, attempt, lastErr, nextAt)
	if err != nil {
		return fmt.Errorf("defer generation job: %w", err)
	}
	return nil
}

// MarkGenerated переводит GENERATING → GENERATED и записывает результат.
func (r *JobRepo) MarkGenerated(ctx context.Context, id uuid.UUID, res domain.GenerationResult) (bool, error) {
	metaJSON, err := marshalMap(res.Metadata)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'GENERATED', result_ref = $2, thumbnail_ref = $3, source_url = $4,
		    metadata = $5, generation_ms = $6, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'GENERATING'
	`, id, res.ResultRef, nullString(res.ThumbnailRef), nullString(res.SourceURL),
		metaJSON, res.Duration.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("mark generation job generated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed переводит GENERATING → FAILED по итогам попытки attempt.
// Срабатывает ровно один раз.
func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastErr string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'FAILED', last_error = $3, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'GENERATING' AND attempt_count = $2
	`, id, attempt, lastErr)
	if err != nil {
		return false, fmt.Errorf("mark generation job failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAbandoned переводит GENERATING → FAILED, когда попытки исчерпаны,
// а lease последней истёк.
func (r *JobRepo) MarkAbandoned(ctx context.Context, id uuid.UUID, lastErr string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'FAILED', last_error = $2, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'GENERATING'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
	`, id, lastErr, now)
	if err != nil {
		return false, fmt.Errorf("mark generation job abandoned: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Review фиксирует решение человека: GENERATED → VALIDATED или REJECTED.
func (r *JobRepo) Review(ctx context.Context, id uuid.UUID, to domain.JobState, notes string, at time.Time) (bool, error) {
	if !domain.CanTransitionJob(domain.JobGenerated, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, domain.JobGenerated, to)
	}
	var validatedAt *time.Time
	if to == domain.JobValidated {
		validatedAt = &at
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = $2, validation_notes = $3, validated_at = $4, updated_at = NOW()
		WHERE id = $1 AND state = 'GENERATED'
	`, id, to, nullString(notes), validatedAt)
	if err != nil {
		return false, fmt.Errorf("review generation job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDispatchable возвращает задания, которые пора (снова) взять в работу.
func (r *JobRepo) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]domain.GenerationJob, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE state IN ('PENDING', 'GENERATING') AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`, now, limit)
}

// ListReapable возвращает REJECTED/FAILED задания старше before,
// на которые не ссылается ни один пост.
func (r *JobRepo) ListReapable(ctx context.Context, before time.Time, after Cursor, limit int) ([]domain.GenerationJob, error) {
	at, id := cursorArgs(after)
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs j
		WHERE j.state IN ('REJECTED', 'FAILED') AND j.created_at < $1
		  AND ($2::timestamptz IS NULL OR (j.created_at, j.id) > ($2, $3::uuid))
		  AND NOT EXISTS (SELECT 1 FROM scheduled_posts p WHERE p.artifact_id = j.id)
		ORDER BY j.created_at, j.id
		LIMIT $4
	`, before, at, id, limit)
}

// Reap удаляет задание вместе с артефактами.
//
// Сначала purge удаляет blob-объекты (удаление идемпотентно), затем
// условный DELETE убирает строку. Блокировка на время сетевых вызовов
// не берётся: FAILED/REJECTED задания больше никто не меняет. Если purge
// вернул ошибку, строка остаётся, и следующий прогон повторит всё целиком.
func (r *JobRepo) Reap(ctx context.Context, id uuid.UUID, before time.Time, purge func(context.Context, *domain.GenerationJob) error) (bool, error) {
	job, err := r.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !reapable(job, before) {
		return false, nil
	}

	if err := purge(ctx, job); err != nil {
		return false, fmt.Errorf("purge artifacts: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM generation_jobs j
		WHERE j.id = $1 AND j.state IN ('REJECTED', 'FAILED') AND j.created_at < $2
		  AND NOT EXISTS (SELECT 1 FROM scheduled_posts p WHERE p.artifact_id = j.id)
	`, id, before)
	if err != nil {
		return false, fmt.Errorf("delete generation job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// reapable — те же условия, что в ListReapable, кроме ссылок из постов.
func reapable(job *domain.GenerationJob, before time.Time) bool {
	return (job.State == domain.JobRejected || job.State == domain.JobFailed) && job.CreatedAt.Before(before)
}

// CountByState считает задания владельца по состояниям.
func (r *JobRepo) CountByState(ctx context.Context, owner uuid.UUID) (map[domain.JobState]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT state, COUNT(*) FROM generation_jobs WHERE owner_id = $1 GROUP BY state
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("count generation jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobState]int)
	for rows.Next() {
		var state domain.JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// --- Helpers ---

func (r *JobRepo) list(ctx context.Context, query string, args ...any) ([]domain.GenerationJob, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generation jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// scanJob читает строку generation_jobs. pgx.ErrNoRows возвращается как есть.
func scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var lastError, resultRef, thumbRef, sourceURL, notes *string
	var metaJSON []byte
	var genMS int64

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Prompt.Text,
		&job.Prompt.NegativePrompt,
		&job.Prompt.Style,
		&job.Prompt.Width,
		&job.Prompt.Height,
		&job.Prompt.Quality,
		&job.State,
		&job.AttemptCount,
		&lastError,
		&resultRef,
		&thumbRef,
		&sourceURL,
		&metaJSON,
		&genMS,
		&notes,
		&job.ValidatedAt,
		&job.NextAttemptAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan generation job: %w", err)
	}

	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	job.LastError = derefString(lastError)
	job.ResultRef = derefString(resultRef)
	job.ThumbnailRef = derefString(thumbRef)
	job.SourceURL = derefString(sourceURL)
	job.ValidationNotes = derefString(notes)
	job.GenerationTime = time.Duration(genMS) * time.Millisecond

	return &job, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return b, nil
}

func cursorArgs(c Cursor) (*time.Time, *uuid.UUID) {
	if c.IsZero() {
		return nil, nil
	}
	return &c.At, &c.ID
}
