package publishing

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
	"github.com/shaiso/postmill/internal/executor"
	"github.com/shaiso/postmill/internal/platform"
	"github.com/shaiso/postmill/internal/repo"
	"github.com/shaiso/postmill/internal/telemetry"
)

const (
	// DefaultLease — сколько попытка публикации считается живой.
	DefaultLease = 10 * time.Minute

	// commitTimeout — на запись результата после успешной публикации.
	commitTimeout = 10 * time.Second
)

// PostStore — операции хранилища постов, нужные пайплайну.
type PostStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	StartAttempt(ctx context.Context, id uuid.UUID, seen int, now, leaseUntil time.Time) (bool, error)
	Defer(ctx context.Context, id uuid.UUID, attempt int, lastErr string, nextAt time.Time) error
	MarkPosted(ctx context.Context, id uuid.UUID, ref, url string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, lastErr string) (bool, error)
	MarkAbandoned(ctx context.Context, id uuid.UUID, lastErr string, now time.Time) (bool, error)
}

// JobReader читает задания генерации (артефакты).
type JobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GenerationJob, error)
}

// AccountReader возвращает связанный аккаунт владельца.
type AccountReader interface {
	Get(ctx context.Context, owner uuid.UUID, platform domain.Platform) (*domain.LinkedAccount, error)
}

// PlaceholderCreator создаёт пустую запись аналитики.
type PlaceholderCreator interface {
	CreatePlaceholder(ctx context.Context, postID uuid.UUID, now time.Time) error
}

// Config — зависимости Pipeline.
type Config struct {
	Posts     PostStore
	Jobs      JobReader
	Accounts  AccountReader
	Analytics PlaceholderCreator
	Registry  *platform.Registry
	Blobs     blob.Store
	Executor  *executor.Executor
	Policy    executor.Policy
	Lease     time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Pipeline — пайплайн публикации.
type Pipeline struct {
	posts     PostStore
	jobs      JobReader
	accounts  AccountReader
	analytics PlaceholderCreator
	registry  *platform.Registry
	blobs     blob.Store
	exec      *executor.Executor
	policy    executor.Policy
	lease     time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewPipeline создаёт Pipeline.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		posts:     cfg.Posts,
		jobs:      cfg.Jobs,
		accounts:  cfg.Accounts,
		analytics: cfg.Analytics,
		registry:  cfg.Registry,
		blobs:     cfg.Blobs,
		exec:      cfg.Executor,
		policy:    cfg.Policy,
		lease:     cfg.Lease,
		clock:     clock.OrReal(cfg.Clock),
		logger:    cfg.Logger,
	}
	if p.policy.MaxAttempts == 0 {
		p.policy = executor.PublishPolicy
	}
	if p.lease <= 0 {
		p.lease = DefaultLease
	}
	if p.registry == nil {
		p.registry = platform.NewRegistry()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.exec == nil {
		p.exec = executor.New(executor.Config{Clock: p.clock, Logger: p.logger})
	}
	return p
}

// Run выполняет одну попытку публикации поста postID.
func (p *Pipeline) Run(ctx context.Context, postID uuid.UUID) (executor.Outcome, error) {
	unit := &postUnit{
		p:      p,
		id:     postID,
		logger: telemetry.WithPostID(p.logger, postID),
	}
	ref := domain.TaskRef{Kind: domain.TaskPublish, EntityID: postID}

	outcome, err := p.exec.Execute(ctx, ref, unit, p.policy)
	if err != nil {
		return "", err
	}

	label := "unknown"
	if unit.post != nil {
		label = string(unit.post.Platform)
	}
	telemetry.PublishAttempts.WithLabelValues(label, string(outcome)).Inc()
	return outcome, nil
}

// postUnit — executor.Unit для одного поста.
type postUnit struct {
	p      *Pipeline
	id     uuid.UUID
	post   *domain.ScheduledPost
	logger *slog.Logger
}

func (u *postUnit) Begin(ctx context.Context) (int, error) {
	post, err := u.p.posts.GetByID(ctx, u.id)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, fmt.Errorf("post %s: %w", u.id, executor.ErrSettled)
	}
	if err != nil {
		return 0, err
	}
	u.post = post

	if post.State != domain.PostProcessing {
		return 0, fmt.Errorf("post %s is %s: %w", u.id, post.State, executor.ErrSettled)
	}

	// Предыдущая попытка ещё держит lease (или retry ещё не наступил).
	now := u.p.clock.Now()
	if post.NextAttemptAt != nil && post.NextAttemptAt.After(now) {
		return 0, fmt.Errorf("post %s attempt %d leased until %s: %w",
			u.id, post.AttemptCount, post.NextAttemptAt.Format(time.RFC3339), domain.ErrConflict)
	}

	if post.AttemptCount >= u.p.policy.MaxAttempts {
		cause := "attempt abandoned after lease expiry"
		if post.LastError != "" {
			cause += " (last error: " + post.LastError + ")"
		}
		won, err := u.p.posts.MarkAbandoned(ctx, u.id, cause, now)
		if err != nil {
			return 0, err
		}
		if won {
			u.logger.Warn("post failed after abandoned attempts", "attempts", post.AttemptCount)
		}
		return 0, fmt.Errorf("post %s exhausted: %w", u.id, executor.ErrSettled)
	}

	won, err := u.p.posts.StartAttempt(ctx, u.id, post.AttemptCount, now, now.Add(u.p.lease))
	if err != nil {
		return 0, err
	}
	if !won {
		return 0, fmt.Errorf("post %s attempt %d: %w", u.id, post.AttemptCount+1, domain.ErrConflict)
	}

	post.AttemptCount++
	return post.AttemptCount, nil
}

func (u *postUnit) Attempt(ctx context.Context, attempt int) error {
	post := u.post

	pub, err := u.p.registry.Get(post.Platform)
	if err != nil {
		return err
	}

	content, err := u.content(ctx, post)
	if err != nil {
		return err
	}

	res, err := pub.Publish(ctx, content)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", post.Platform, err)
	}

	// Пост уже на платформе: результат записываем даже если
	// таймаут попытки истёк.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	now := u.p.clock.Now()
	won, err := u.p.posts.MarkPosted(commitCtx, u.id, res.PostRef, res.URL, now)
	if err != nil {
		return fmt.Errorf("%w: mark posted: %w", domain.ErrTransient, err)
	}
	if !won {
		u.logger.Error("post published but state changed concurrently", "platform_post_ref", res.PostRef)
		return fmt.Errorf("mark posted: %w", executor.ErrSettled)
	}

	if u.p.analytics != nil {
		if err := u.p.analytics.CreatePlaceholder(commitCtx, u.id, now); err != nil {
			u.logger.Warn("failed to create analytics placeholder", "error", err)
		}
	}

	u.logger.Info("post published",
		"platform", post.Platform,
		"attempt", attempt,
		"platform_post_ref", res.PostRef,
	)
	return nil
}

// content собирает публикуемое содержимое из поста, артефакта и аккаунта.
func (u *postUnit) content(ctx context.Context, post *domain.ScheduledPost) (platform.Content, error) {
	job, err := u.p.jobs.GetByID(ctx, post.ArtifactID)
	if errors.Is(err, repo.ErrNotFound) {
		return platform.Content{}, fmt.Errorf("%w: artifact %s no longer exists", domain.ErrValidation, post.ArtifactID)
	}
	if err != nil {
		return platform.Content{}, fmt.Errorf("%w: load artifact: %w", domain.ErrTransient, err)
	}
	if !job.IsReady() {
		return platform.Content{}, fmt.Errorf("%w: artifact %s is %s", domain.ErrValidation, job.ID, job.State)
	}

	var accountID string
	acc, err := u.p.accounts.Get(ctx, post.OwnerID, post.Platform)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// адаптер сам вернёт ErrConfiguration, если аккаунт ему нужен
	case err != nil:
		return platform.Content{}, fmt.Errorf("%w: load linked account: %w", domain.ErrTransient, err)
	default:
		accountID = acc.AccountID
	}

	imageURL := ""
	if u.p.blobs != nil {
		imageURL = u.p.blobs.URL(job.ResultRef)
	}

	return platform.Content{
		PostID:    post.ID,
		AccountID: accountID,
		Text:      post.Content(),
		ImageURL:  imageURL,
	}, nil
}

func (u *postUnit) Defer(ctx context.Context, cause error, nextAt time.Time) error {
	return u.p.posts.Defer(ctx, u.id, u.post.AttemptCount, cause.Error(), nextAt)
}

func (u *postUnit) Fail(ctx context.Context, cause error) error {
	won, err := u.p.posts.MarkFailed(ctx, u.id, u.post.AttemptCount, cause.Error())
	if err != nil {
		return err
	}
	if !won {
		u.logger.Debug("post already left processing, failure not recorded")
	}
	return nil
}
