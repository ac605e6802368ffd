package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shaiso/postmill/internal/clock"
	"github.com/shaiso/postmill/internal/domain"
	"github.com/shaiso/postmill/internal/mq"
	"github.com/shaiso/postmill/internal/telemetry"
)

const (
	defaultConcurrency  = 4
	defaultPollInterval = 30 * time.Second
	defaultBatchSize    = 50
)

// DispatchableJobs — задания, которые пора (снова) генерировать.
type DispatchableJobs interface {
	ListDispatchable(ctx context.Context, now time.Time, limit int) ([]domain.GenerationJob, error)
}

// DispatchablePosts — захваченные посты, которые пора (снова) публиковать.
type DispatchablePosts interface {
	ListDispatchable(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledPost, error)
}

// Config — конфигурация Worker.
type Config struct {
	Registry *Registry

	// Conn — соединение с RabbitMQ. Nil — только polling.
	Conn *mq.Connection

	Jobs  DispatchableJobs
	Posts DispatchablePosts

	Concurrency  int           // задач в работе одновременно (default: 4)
	PollInterval time.Duration // интервал polling (default: 30s)
	BatchSize    int           // сущностей каждого вида за один poll (default: 50)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Worker исполняет задачи из очереди и из polling fallback.
type Worker struct {
	registry *Registry
	conn     *mq.Connection
	jobs     DispatchableJobs
	posts    DispatchablePosts

	concurrency  int
	pollInterval time.Duration
	batchSize    int

	limiter *semaphore.Weighted
	clock   clock.Clock
	logger  *slog.Logger

	// active — задачи, уже взятые этим процессом. Не даёт polling
	// запустить ту же сущность второй раз, пока первая попытка в работе.
	mu     sync.Mutex
	active map[domain.TaskRef]struct{}
	wg     sync.WaitGroup
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	w := &Worker{
		registry:     cfg.Registry,
		conn:         cfg.Conn,
		jobs:         cfg.Jobs,
		posts:        cfg.Posts,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		clock:        clock.OrReal(cfg.Clock),
		logger:       cfg.Logger,
		active:       make(map[domain.TaskRef]struct{}),
	}
	if w.registry == nil {
		w.registry = NewRegistry()
	}
	if w.concurrency <= 0 {
		w.concurrency = defaultConcurrency
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "worker")
	w.limiter = semaphore.NewWeighted(int64(w.concurrency))
	return w
}

// Run запускает consumer (если есть соединение) и polling и блокируется
// до отмены ctx. Перед возвратом дожидается задач в работе.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting worker",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
		"kinds", w.registry.Kinds(),
	)

	var loops sync.WaitGroup
	if w.conn != nil {
		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueReady,
			Handler:  w.Dispatch,
			Limiter:  w.limiter,
			Prefetch: w.concurrency,
		})
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("task consumer stopped", "error", err)
			}
		}()
	} else {
		w.logger.Warn("rabbitmq not configured, running on polling only")
	}

	w.pollLoop(ctx)

	loops.Wait()
	w.wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

// Dispatch исполняет одну задачу: ищет обработчик и перехватывает панику.
func (w *Worker) Dispatch(ctx context.Context, task domain.TaskRef) (err error) {
	if !w.begin(task) {
		w.logger.Debug("task already in progress", "task", task.String())
		return nil
	}
	defer w.end(task)

	h, err := w.registry.Get(task.Kind)
	if err != nil {
		// Повтор не поможет: подтверждаем и логируем.
		w.logger.Error("task dropped", "task", task.String(), "error", err)
		return nil
	}

	telemetry.TasksDispatched.WithLabelValues(string(task.Kind)).Inc()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task handler panicked",
				"task", task.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %s: %v", ErrTaskPanicked, task, r)
		}
	}()

	return h(ctx, task.EntityID)
}

func (w *Worker) begin(task domain.TaskRef) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.active[task]; ok {
		return false
	}
	w.active[task] = struct{}{}
	return true
}

func (w *Worker) end(task domain.TaskRef) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, task)
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем то, что осталось от прошлого запуска.
	w.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll запускает сущности с истёкшим next_attempt_at и возвращает,
// сколько задач было запущено.
func (w *Worker) Poll(ctx context.Context) int {
	now := w.clock.Now()
	var tasks []domain.TaskRef

	if w.jobs != nil {
		jobs, err := w.jobs.ListDispatchable(ctx, now, w.batchSize)
		if err != nil {
			w.logger.Error("list dispatchable jobs failed", "error", err)
		}
		for _, j := range jobs {
			tasks = append(tasks, domain.TaskRef{Kind: domain.TaskGenerate, EntityID: j.ID})
		}
	}
	if w.posts != nil {
		posts, err := w.posts.ListDispatchable(ctx, now, w.batchSize)
		if err != nil {
			w.logger.Error("list dispatchable posts failed", "error", err)
		}
		for _, p := range posts {
			tasks = append(tasks, domain.TaskRef{Kind: domain.TaskPublish, EntityID: p.ID})
		}
	}

	if len(tasks) == 0 {
		return 0
	}
	w.logger.Debug("poll found dispatchable entities", "count", len(tasks))

	started := 0
	for _, task := range tasks {
		if w.isActive(task) {
			continue
		}
		if err := w.limiter.Acquire(ctx, 1); err != nil {
			return started
		}
		started++
		w.wg.Add(1)
		go func(task domain.TaskRef) {
			defer w.wg.Done()
			defer w.limiter.Release(1)
			if err := w.Dispatch(ctx, task); err != nil && ctx.Err() == nil {
				w.logger.Error("polled task failed", "task", task.String(), "error", err)
			}
		}(task)
	}
	return started
}

func (w *Worker) isActive(task domain.TaskRef) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.active[task]
	return ok
}

// Wait ждёт завершения задач, запущенных через Poll.
func (w *Worker) Wait() {
	w.wg.Wait()
}
