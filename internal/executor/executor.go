package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
)

// ErrSettled — сущность уже в финальном или более продвинутом состоянии.
// Для Execute это сигнал завершиться без действий.
var ErrSettled = errors.New("entity already settled")

// Outcome — чем закончился вызов Execute.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Unit — единица работы над одной сущностью.
type Unit interface {
	// Begin перечитывает состояние и занимает следующую попытку.
	// Возвращает номер попытки (с 1) или ErrSettled / domain.ErrConflict.
	Begin(ctx context.Context) (int, error)

	// Attempt выполняет работу и фиксирует успех в хранилище.
	Attempt(ctx context.Context, attempt int) error

	// Defer записывает ошибку попытки и время следующей.
	Defer(ctx context.Context, cause error, nextAt time.Time) error

	// Fail переводит сущность в состояние ошибки.
	Fail(ctx context.Context, cause error) error
}

// Trigger ставит задачу в очередь с задержкой.
type Trigger interface {
	Enqueue(ctx context.Context, ref domain.TaskRef, delay time.Duration) error
}

// Config — параметры Executor.
type Config struct {
	// Trigger — отложенная очередь для retry. Может быть nil:
	// тогда задачу подберёт polling воркера по next_attempt_at.
	Trigger Trigger
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Executor выполняет Unit по политике повторов.
type Executor struct {
	trigger Trigger
	clock   clock.Clock
	logger  *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		trigger: cfg.Trigger,
		clock:   clock.OrReal(cfg.Clock),
		logger:  logger.With("component", "executor"),
	}
}

// IsTransient возвращает true, если после ошибки имеет смысл повторить попытку.
func IsTransient(err error) bool {
	return err != nil && !domain.IsFatal(err)
}

// Execute выполняет одну попытку unit.
//
// Возвращаемая ошибка — только инфраструктурная (хранилище недоступно,
// воркер останавливается). Ошибки самой работы отражаются в Outcome
// и в состоянии сущности.
func (e *Executor) Execute(ctx context.Context, ref domain.TaskRef, unit Unit, policy Policy) (Outcome, error) {
	logger := e.logger.With("task", ref.String())

	attempt, err := unit.Begin(ctx)
	if errors.Is(err, ErrSettled) || errors.Is(err, domain.ErrConflict) {
		logger.Debug("task skipped", "reason", err)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("begin %s: %w", ref, err)
	}

	logger = logger.With("attempt", attempt)
	logger.Debug("attempt started")

	attemptCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	workErr := unit.Attempt(attemptCtx, attempt)
	if workErr == nil {
		logger.Info("attempt succeeded")
		return OutcomeSucceeded, nil
	}
	if errors.Is(workErr, ErrSettled) || errors.Is(workErr, domain.ErrConflict) {
		logger.Info("attempt result discarded, entity moved on", "reason", workErr)
		return OutcomeSkipped, nil
	}

	// Воркер останавливается: попытку не засчитываем в отказ,
	// сущность вернётся в работу по истечении lease.
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if !IsTransient(workErr) || attempt >= policy.MaxAttempts {
		if err := unit.Fail(ctx, workErr); err != nil {
			return "", fmt.Errorf("fail %s: %w", ref, err)
		}
		logger.Warn("task failed",
			"fatal", !IsTransient(workErr),
			"error", workErr,
		)
		return OutcomeFailed, nil
	}

	delay := policy.Delay(attempt)
	if err := unit.Defer(ctx, workErr, e.clock.Now().Add(delay)); err != nil {
		return "", fmt.Errorf("defer %s: %w", ref, err)
	}

	if e.trigger != nil {
		if err := e.trigger.Enqueue(ctx, ref, delay); err != nil {
			// next_attempt_at уже записан, polling подберёт задачу
			logger.Warn("failed to enqueue retry", "error", err)
		}
	}

	logger.Info("attempt failed, retry scheduled",
		"delay", delay,
		"error", workErr,
	)
	return OutcomeRetrying, nil
}
