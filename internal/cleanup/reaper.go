// Package cleanup удаляет старые отклонённые и неудачные задания генерации
// вместе с их артефактами в blob store.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/blob"
	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultPageSize  = 100
)

// artifactExts — расширения, под которыми пайплайн мог записать изображение.
var artifactExts = []string{"png", "jpg", "webp", "gif"}

// JobStore — часть репозитория заданий, нужная жнецу.
type JobStore interface {
	ListReapable(ctx context.Context, before time.Time, after repo.Cursor, limit int) ([]domain.GenerationJob, error)
	Reap(ctx context.Context, id uuid.UUID, before time.Time, purge func(context.Context, *domain.GenerationJob) error) (bool, error)
}

// Config — зависимости Reaper.
type Config struct {
	Jobs      JobStore
	Blobs     blob.Store
	Clock     clock.Clock
	Logger    *slog.Logger
	Retention time.Duration
	PageSize  int
}

// Reaper — суточная очистка.
type Reaper struct {
	jobs      JobStore
	blobs     blob.Store
	clock     clock.Clock
	logger    *slog.Logger
	retention time.Duration
	pageSize  int
}

// Report — итоги прохода.
type Report struct {
	Candidates int
	Reaped     int
	Failed     int
}

// New создаёт Reaper.
func New(cfg Config) *Reaper {
	r := &Reaper{
		jobs:      cfg.Jobs,
		blobs:     cfg.Blobs,
		clock:     clock.OrReal(cfg.Clock),
		logger:    cfg.Logger,
		retention: cfg.Retention,
		pageSize:  cfg.PageSize,
	}
	if r.retention <= 0 {
		r.retention = DefaultRetention
	}
	if r.pageSize <= 0 {
		r.pageSize = DefaultPageSize
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "cleanup")
	return r
}

// Run удаляет задания в REJECTED/FAILED старше срока хранения.
//
// Ошибка очистки одного задания оставляет запись на месте: следующий
// проход повторит её целиком.
func (r *Reaper) Run(ctx context.Context) (Report, error) {
	var report Report
	before := r.clock.Now().Add(-r.retention)

	var cursor repo.Cursor
	for {
		page, err := r.jobs.ListReapable(ctx, before, cursor, r.pageSize)
		if err != nil {
			return report, fmt.Errorf("list reapable jobs: %w", err)
		}

		for i := range page {
			job := &page[i]
			report.Candidates++

			reaped, err := r.jobs.Reap(ctx, job.ID, before, r.purge)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.Failed++
				r.logger.Warn("reap job failed", "job_id", job.ID, "error", err)
				continue
			}
			if reaped {
				report.Reaped++
				telemetry.CleanupReaped.Inc()
				r.logger.Debug("job reaped", "job_id", job.ID, "state", job.State)
			}
		}

		if len(page) < r.pageSize {
			break
		}
		last := page[len(page)-1]
		cursor = repo.Cursor{At: last.CreatedAt, ID: last.ID}
	}

	r.logger.Info("cleanup completed",
		"before", before,
		"candidates", report.Candidates,
		"reaped", report.Reaped,
		"failed", report.Failed,
	)
	return report, nil
}

// purge удаляет все объекты задания, включая ключи попыток,
// которые не дошли до фиксации.
func (r *Reaper) purge(ctx context.Context, job *domain.GenerationJob) error {
	var errs []error
	for _, key := range blobKeys(job) {
		if err := r.blobs.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func blobKeys(job *domain.GenerationJob) []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	add(job.ResultRef)
	add(job.ThumbnailRef)
	for _, ext := range artifactExts {
		add(job.ArtifactKey(ext))
	}
	add(job.ThumbnailKey())
	return keys
}
