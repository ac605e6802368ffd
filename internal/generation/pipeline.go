package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/blob"
	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/executor"
	"github.com/shaiso/postmill/internal/httpx"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
)

// DefaultLease — сколько попытка считается живой. По истечении
// задание снова попадает в выборку polling воркера.
const DefaultLease = 10 * time.Minute

// JobStore — операции хранилища, нужные пайплайну.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)
	StartAttempt(ctx context.Context, id uuid.UUID, from domain.JobState, seen int, now, leaseUntil time.Time) (bool, error)
	Defer(ctx context.Context, id uuid.UUID, attempt int, lastErr string, nextAt time.Time) error
	MarkGenerated(ctx context.Context, id uuid.UUID, res domain.GenerationResult) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastErr string) (bool, error)
	MarkAbandoned(ctx context.Context, id uuid.UUID, lastErr string, now time.Time) (bool, error)
}

// Fetcher скачивает изображение по URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Config — зависимости Pipeline.
type Config struct {
	Jobs      JobStore
	Generator Generator
	Blobs     blob.Store
	Fetcher   Fetcher
	Executor  *executor.Executor
	Policy    executor.Policy
	Lease     time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Pipeline — пайплайн генерации.
type Pipeline struct {
	jobs    JobStore
	gen     Generator
	blobs   blob.Store
	fetcher Fetcher
	exec    *executor.Executor
	policy  executor.Policy
	lease   time.Duration
	clock   clock.Clock
	logger  *slog.Logger
}

// NewPipeline создаёт Pipeline. Нулевые Policy и Lease заменяются
// значениями по умолчанию.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		jobs:    cfg.Jobs,
		gen:     cfg.Generator,
		blobs:   cfg.Blobs,
		fetcher: cfg.Fetcher,
		exec:    cfg.Executor,
		policy:  cfg.Policy,
		lease:   cfg.Lease,
		clock:   clock.OrReal(cfg.Clock),
		logger:  cfg.Logger,
	}
	if p.policy.MaxAttempts == 0 {
		p.policy = executor.GenerationPolicy
	}
	if p.lease <= 0 {
		p.lease = DefaultLease
	}
	if p.fetcher == nil {
		p.fetcher = httpx.NewDownloader(nil)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.exec == nil {
		p.exec = executor.New(executor.Config{Clock: p.clock, Logger: p.logger})
	}
	return p
}

// Run выполняет одну попытку генерации задания jobID.
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID) (executor.Outcome, error) {
	unit := &jobUnit{
		p:      p,
		id:     jobID,
		logger: telemetry.WithJobID(p.logger, jobID),
	}
	ref := domain.TaskRef{Kind: domain.TaskGenerate, EntityID: jobID}

	outcome, err := p.exec.Execute(ctx, ref, unit, p.policy)
	if err != nil {
		return "", err
	}
	telemetry.GenerationAttempts.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// jobUnit — executor.Unit для одного задания.
type jobUnit struct {
	p      *Pipeline
	id     uuid.UUID
	job    *domain.GenerationJob
	logger *slog.Logger
}

func (u *jobUnit) Begin(ctx context.Context) (int, error) {
	job, err := u.p.jobs.GetByID(ctx, u.id)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, fmt.Errorf("job %s: %w", u.id, executor.ErrSettled)
	}
	if err != nil {
		return 0, err
	}
	if !job.State.IsInFlight() {
		return 0, fmt.Errorf("job %s is %s: %w", u.id, job.State, executor.ErrSettled)
	}

	now := u.p.clock.Now()
	if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
		return 0, fmt.Errorf("job %s attempt %d leased until %s: %w",
			u.id, job.AttemptCount, job.NextAttemptAt.Format(time.RFC3339), domain.ErrConflict)
	}

	// Последняя попытка оборвалась (воркер упал), lease истёк.
	if job.AttemptCount >= u.p.policy.MaxAttempts {
		cause := errors.New("attempt abandoned after lease expiry")
		if job.LastError != "" {
			cause = fmt.Errorf("%s (last error: %s)", cause, job.LastError)
		}
		won, err := u.p.jobs.MarkAbandoned(ctx, u.id, cause.Error(), now)
		if err != nil {
			return 0, err
		}
		if won {
			u.logger.Warn("job failed after abandoned attempts", "attempts", job.AttemptCount)
		}
		return 0, fmt.Errorf("job %s exhausted: %w", u.id, executor.ErrSettled)
	}

	won, err := u.p.jobs.StartAttempt(ctx, u.id, job.State, job.AttemptCount, now, now.Add(u.p.lease))
	if err != nil {
		return 0, err
	}
	if !won {
		return 0, fmt.Errorf("job %s attempt %d: %w", u.id, job.AttemptCount+1, domain.ErrConflict)
	}

	job.State = domain.JobGenerating
	job.AttemptCount++
	u.job = job
	return job.AttemptCount, nil
}

func (u *jobUnit) Attempt(ctx context.Context, attempt int) error {
	job := u.job
	start := u.p.clock.Now()
	genStart := time.Now()

	img, err := u.p.gen.Generate(ctx, NewRequest(job.Prompt))
	telemetry.GenerationDuration.Observe(time.Since(genStart).Seconds())
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	data, mimeType := img.Data, img.MIMEType
	if len(data) == 0 {
		if img.URL == "" {
			return fmt.Errorf("%w: generator returned no image", domain.ErrValidation)
		}
		data, mimeType, err = u.p.fetcher.Fetch(ctx, img.URL)
		if err != nil {
			return fmt.Errorf("download image: %w", err)
		}
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	ext, ok := imageExt(mimeType)
	if !ok {
		return fmt.Errorf("%w: unsupported image type %q", domain.ErrValidation, mimeType)
	}

	ref, err := u.p.blobs.Put(ctx, job.ArtifactKey(ext), data, mimeType)
	if err != nil {
		return fmt.Errorf("%w: store image: %w", domain.ErrTransient, err)
	}

	thumbRef := u.storeThumbnail(ctx, job, data)

	meta := make(map[string]any, len(img.Metadata)+4)
	maps.Copy(meta, img.Metadata)
	meta["generator"] = u.p.gen.Name()
	meta["content_type"] = mimeType
	meta["size_bytes"] = len(data)
	meta["attempt"] = attempt

	won, err := u.p.jobs.MarkGenerated(ctx, u.id, domain.GenerationResult{
		ResultRef:    ref,
		ThumbnailRef: thumbRef,
		SourceURL:    img.URL,
		Metadata:     meta,
		Duration:     u.p.clock.Now().Sub(start),
	})
	if err != nil {
		return fmt.Errorf("%w: mark generated: %w", domain.ErrTransient, err)
	}
	if !won {
		return fmt.Errorf("mark generated: %w", executor.ErrSettled)
	}

	u.logger.Info("image generated", "attempt", attempt, "result_ref", ref, "bytes", len(data))
	return nil
}

// storeThumbnail сохраняет миниатюру. Ошибка не мешает генерации.
func (u *jobUnit) storeThumbnail(ctx context.Context, job *domain.GenerationJob, data []byte) string {
	thumb, err := blob.Thumbnail(data, blob.ThumbnailSize)
	if err != nil {
		u.logger.Warn("thumbnail skipped", "error", err)
		return ""
	}
	ref, err := u.p.blobs.Put(ctx, job.ThumbnailKey(), thumb, "image/jpeg")
	if err != nil {
		u.logger.Warn("failed to store thumbnail", "error", err)
		return ""
	}
	return ref
}

func (u *jobUnit) Defer(ctx context.Context, cause error, nextAt time.Time) error {
	return u.p.jobs.Defer(ctx, u.id, u.job.AttemptCount, cause.Error(), nextAt)
}

func (u *jobUnit) Fail(ctx context.Context, cause error) error {
	won, err := u.p.jobs.MarkFailed(ctx, u.id, u.job.AttemptCount, cause.Error())
	if err != nil {
		return err
	}
	if !won {
		u.logger.Debug("job already left generating, failure not recorded")
	}
	return nil
}

// imageExt возвращает расширение файла для MIME-типа изображения.
func imageExt(mimeType string) (string, bool) {
	mt, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(mt)) {
	case "image/png":
		return "png", true
	case "image/jpeg", "image/jpg":
		return "jpg", true
	case "image/webp":
		return "webp", true
	case "image/gif":
		return "gif", true
	default:
		return "", false
	}
}
