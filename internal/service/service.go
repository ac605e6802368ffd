// Package service — операции ядра для внешних адаптеров (HTTP API, CLI).
//
// Service проверяет ввод и принадлежность сущностей владельцу, пишет в
// хранилище и ставит задачи в очередь. Сама генерация и публикация идут
// в worker. Чужая сущность для вызывающего выглядит как ErrNotFound.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/executor"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// JobStore — задания генерации.
type JobStore interface {
	Create(ctx context.Context, job *domain.GenerationJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)
	ListByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]domain.GenerationJob, error)
	Review(ctx context.Context, id uuid.UUID, to domain.JobState, notes string, at time.Time) (bool, error)
	CountByState(ctx context.Context, owner uuid.UUID) (map[domain.JobState]int, error)
}

// PostStore — запланированные посты.
type PostStore interface {
	Create(ctx context.Context, post *domain.ScheduledPost) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	ListByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]domain.ScheduledPost, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	CountByState(ctx context.Context, owner uuid.UUID) (map[domain.PostState]int, error)
	CountByPlatform(ctx context.Context, owner uuid.UUID) (map[domain.Platform]int, error)
}

// AnalyticsStore — метрики постов.
type AnalyticsStore interface {
	GetByPostID(ctx context.Context, postID uuid.UUID) (*domain.PlatformAnalytics, error)
	AverageEngagement(ctx context.Context, owner uuid.UUID) (float64, error)
}

// AccountStore — привязанные аккаунты.
type AccountStore interface {
	Link(ctx context.Context, acc domain.LinkedAccount) error
}

// Dispatcher — publishing.Dispatcher.
type Dispatcher interface {
	ClaimAndDispatch(ctx context.Context, postID uuid.UUID, from domain.PostState) (bool, error)
}

// Config — зависимости Service.
type Config struct {
	Jobs       JobStore
	Posts      PostStore
	Analytics  AnalyticsStore
	Accounts   AccountStore
	Dispatcher Dispatcher

	// Trigger ставит задачи generate и sync_analytics. Nil — задания
	// генерации подберёт polling воркера, ручная синхронизация недоступна.
	Trigger executor.Trigger

	Validator *validator.Validate
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Service — фасад операций ядра.
type Service struct {
	jobs       JobStore
	posts      PostStore
	analytics  AnalyticsStore
	accounts   AccountStore
	dispatcher Dispatcher
	trigger    executor.Trigger
	validate   *validator.Validate
	clock      clock.Clock
	logger     *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	s := &Service{
		jobs:       cfg.Jobs,
		posts:      cfg.Posts,
		analytics:  cfg.Analytics,
		accounts:   cfg.Accounts,
		dispatcher: cfg.Dispatcher,
		trigger:    cfg.Trigger,
		validate:   cfg.Validator,
		clock:      clock.OrReal(cfg.Clock),
		logger:     cfg.Logger,
	}
	if s.validate == nil {
		s.validate = NewValidator()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "service")
	return s
}

// --- Generation jobs ---

// SubmitGeneration создаёт задание в PENDING и ставит задачу generate.
//
// Ошибка постановки в очередь не отменяет задание: у него next_attempt_at = now,
// и его подберёт polling воркера.
func (s *Service) SubmitGeneration(ctx context.Context, owner uuid.UUID, req GenerationRequest) (*domain.GenerationJob, error) {
	if err := validate(s.validate, req); err != nil {
		return nil, err
	}

	job := domain.NewGenerationJob(owner, req.prompt(), s.clock.Now())
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger := telemetry.WithJobID(s.logger, job.ID)
	logger.Info("generation job submitted", "owner_id", owner, "style", job.Prompt.Style)

	s.enqueue(ctx, logger, domain.TaskRef{Kind: domain.TaskGenerate, EntityID: job.ID})
	return job, nil
}

// GetJob возвращает задание владельца.
func (s *Service) GetJob(ctx context.Context, owner, id uuid.UUID) (*domain.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != owner {
		return nil, repo.ErrNotFound
	}
	return job, nil
}

// ListJobs возвращает последние задания владельца.
func (s *Service) ListJobs(ctx context.Context, owner uuid.UUID, limit int) ([]domain.GenerationJob, error) {
	return s.jobs.ListByOwner(ctx, owner, clampLimit(limit))
}

// ValidateJob одобряет сгенерированное изображение: GENERATED → VALIDATED.
func (s *Service) ValidateJob(ctx context.Context, owner, id uuid.UUID, req ReviewRequest) (*domain.GenerationJob, error) {
	return s.review(ctx, owner, id, domain.JobValidated, req)
}

// RejectJob отклоняет сгенерированное изображение: GENERATED → REJECTED.
func (s *Service) RejectJob(ctx context.Context, owner, id uuid.UUID, req ReviewRequest) (*domain.GenerationJob, error) {
	return s.review(ctx, owner, id, domain.JobRejected, req)
}

func (s *Service) review(ctx context.Context, owner, id uuid.UUID, to domain.JobState, req ReviewRequest) (*domain.GenerationJob, error) {
	if err := validate(s.validate, req); err != nil {
		return nil, err
	}
	job, err := s.GetJob(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	won, err := s.jobs.Review(ctx, id, to, req.Notes, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: job is %s, review needs %s", domain.ErrInvalidTransition, job.State, domain.JobGenerated)
	}

	telemetry.WithJobID(s.logger, id).Info("generation job reviewed", "state", to)
	return s.jobs.GetByID(ctx, id)
}

// --- Scheduled posts ---

// SubmitSchedule планирует публикацию готового артефакта.
func (s *Service) SubmitSchedule(ctx context.Context, owner uuid.UUID, req ScheduleRequest) (*domain.ScheduledPost, error) {
	if err := validate(s.validate, req); err != nil {
		return nil, err
	}

	p, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !req.ScheduledAt.After(now) {
		return nil, fmt.Errorf("%w: scheduled_at must be in the future", domain.ErrValidation)
	}

	job, err := s.GetJob(ctx, owner, req.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", req.ArtifactID, err)
	}
	if !job.IsReady() {
		return nil, fmt.Errorf("%w: artifact is %s, not ready for publishing", domain.ErrValidation, job.State)
	}

	post := domain.NewScheduledPost(owner, job.ID, p, req.ScheduledAt, req.Caption, req.Hashtags, now)
	if domain.CaptionTooLong(post.Content()) {
		return nil, fmt.Errorf("%w: caption with hashtags exceeds %d characters", domain.ErrValidation, domain.MaxCaptionLength)
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	telemetry.WithPostID(s.logger, post.ID).Info("post scheduled",
		"platform", post.Platform,
		"scheduled_at", post.ScheduledAt,
		"artifact_id", post.ArtifactID,
	)
	return post, nil
}

// GetPost возвращает пост владельца.
func (s *Service) GetPost(ctx context.Context, owner, id uuid.UUID) (*domain.ScheduledPost, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.OwnerID != owner {
		return nil, repo.ErrNotFound
	}
	return post, nil
}

// ListPosts возвращает посты владельца.
func (s *Service) ListPosts(ctx context.Context, owner uuid.UUID, limit int) ([]domain.ScheduledPost, error) {
	return s.posts.ListByOwner(ctx, owner, clampLimit(limit))
}

// Cancel отменяет пост в SCHEDULED или FAILED.
// false — пост уже в другом состоянии (например, публикуется).
func (s *Service) Cancel(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	if _, err := s.GetPost(ctx, owner, id); err != nil {
		return false, err
	}

	won, err := s.posts.Cancel(ctx, id)
	if err != nil {
		return false, err
	}

	logger := telemetry.WithPostID(s.logger, id)
	if won {
		logger.Info("post cancelled")
	} else {
		logger.Info("post not cancellable")
	}
	return won, nil
}

// PublishNow захватывает пост из SCHEDULED или FAILED и ставит публикацию
// немедленно, не дожидаясь poller.
func (s *Service) PublishNow(ctx context.Context, owner, id uuid.UUID) error {
	post, err := s.GetPost(ctx, owner, id)
	if err != nil {
		return err
	}
	if post.State != domain.PostScheduled && post.State != domain.PostFailed {
		return fmt.Errorf("%w: post is %s", domain.ErrInvalidTransition, post.State)
	}

	won, err := s.dispatcher.ClaimAndDispatch(ctx, id, post.State)
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("%w: post %s was claimed concurrently", domain.ErrConflict, id)
	}
	return nil
}

// --- Analytics ---

// GetAnalytics возвращает метрики опубликованного поста.
// Если строки метрик нет (сбой после публикации), отдаётся пустая заготовка.
func (s *Service) GetAnalytics(ctx context.Context, owner, id uuid.UUID) (*domain.PlatformAnalytics, error) {
	post, err := s.postedPost(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	rec, err := s.analytics.GetByPostID(ctx, post.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NewAnalyticsPlaceholder(post.ID, *post.PostedAt), nil
	}
	return rec, err
}

// RequestAnalyticsSync ставит задачу sync_analytics для поста.
func (s *Service) RequestAnalyticsSync(ctx context.Context, owner, id uuid.UUID) error {
	if _, err := s.postedPost(ctx, owner, id); err != nil {
		return err
	}
	if s.trigger == nil {
		return fmt.Errorf("%w: task queue is not configured", domain.ErrConfiguration)
	}

	task := domain.TaskRef{Kind: domain.TaskSyncAnalytics, EntityID: id}
	if err := s.trigger.Enqueue(ctx, task, 0); err != nil {
		return fmt.Errorf("%w: enqueue %s: %w", domain.ErrTransient, task, err)
	}
	return nil
}

func (s *Service) postedPost(ctx context.Context, owner, id uuid.UUID) (*domain.ScheduledPost, error) {
	post, err := s.GetPost(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if post.State != domain.PostPosted || post.PostedAt == nil {
		return nil, fmt.Errorf("%w: post is %s, analytics need %s", domain.ErrValidation, post.State, domain.PostPosted)
	}
	return post, nil
}

// --- Accounts & stats ---

// LinkAccount привязывает аккаунт владельца на платформе (upsert).
func (s *Service) LinkAccount(ctx context.Context, owner uuid.UUID, platform string, req AccountRequest) (*domain.LinkedAccount, error) {
	if err := validate(s.validate, req); err != nil {
		return nil, err
	}
	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}

	acc := domain.LinkedAccount{OwnerID: owner, Platform: p, AccountID: req.AccountID}
	if err := s.accounts.Link(ctx, acc); err != nil {
		return nil, fmt.Errorf("link account: %w", err)
	}
	s.logger.Info("account linked", "owner_id", owner, "platform", p)
	return &acc, nil
}

// Stats собирает счётчики владельца.
func (s *Service) Stats(ctx context.Context, owner uuid.UUID) (*Stats, error) {
	jobs, err := s.jobs.CountByState(ctx, owner)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.CountByState(ctx, owner)
	if err != nil {
		return nil, err
	}
	platforms, err := s.posts.CountByPlatform(ctx, owner)
	if err != nil {
		return nil, err
	}
	avg, err := s.analytics.AverageEngagement(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &Stats{Jobs: jobs, Posts: posts, Platforms: platforms, AverageEngagement: avg}, nil
}

func (s *Service) enqueue(ctx context.Context, logger *slog.Logger, task domain.TaskRef) {
	if s.trigger == nil {
		return
	}
	if err := s.trigger.Enqueue(ctx, task, 0); err != nil {
		logger.Warn("enqueue failed, task left to polling", "task", task.String(), "error", err)
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
