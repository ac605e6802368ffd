package publishing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/executor"
)

// PostClaimer — условный переход поста в PROCESSING.
type PostClaimer interface {
	Claim(ctx context.Context, id uuid.UUID, from domain.PostState, now time.Time) (bool, error)
}

// Dispatcher захватывает посты и ставит задачи публикации.
type Dispatcher struct {
	posts   PostClaimer
	trigger executor.Trigger
	clock   clock.Clock
	logger  *slog.Logger
}

// NewDispatcher создаёт Dispatcher. trigger может быть nil:
// захваченный пост подберёт polling воркера.
func NewDispatcher(posts PostClaimer, trigger executor.Trigger, c clock.Clock, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		posts:   posts,
		trigger: trigger,
		clock:   clock.OrReal(c),
		logger:  logger.With("component", "dispatcher"),
	}
}

// ClaimAndDispatch переводит пост из from в PROCESSING и ставит задачу publish.
// false без ошибки — пост уже захвачен кем-то другим или в другом состоянии.
func (d *Dispatcher) ClaimAndDispatch(ctx context.Context, postID uuid.UUID, from domain.PostState) (bool, error) {
	won, err := d.posts.Claim(ctx, postID, from, d.clock.Now())
	if err != nil || !won {
		return false, err
	}

	if d.trigger != nil {
		ref := domain.TaskRef{Kind: domain.TaskPublish, EntityID: postID}
		if err := d.trigger.Enqueue(ctx, ref, 0); err != nil {
			// next_attempt_at = now, пост подберёт polling
			d.logger.Warn("failed to enqueue publish task", "post_id", postID, "error", err)
		}
	}

	d.logger.Info("post claimed", "post_id", postID, "from", from)
	return true, nil
}
