package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Leader — право запускать периодические задачи.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Job — периодическая задача.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Runner запускает задачи по cron-расписанию.
//
// Паника в задаче перехватывается cron.Recover; задача, не успевшая
// закончиться к следующему запуску, этот запуск пропускает.
type Runner struct {
	cron   *cron.Cron
	leader Leader
	logger *slog.Logger
	ctx    context.Context
}

// NewRunner создаёт Runner. leader может быть nil: тогда процесс
// считается единственным.
func NewRunner(leader Leader, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cron")
	cl := cronLogger{logger: logger}

	return &Runner{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		leader: leader,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add регистрирует задачу.
func (r *Runner) Add(job Job) error {
	if err := ValidateSpec(job.Spec); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	if _, err := r.cron.AddFunc(job.Spec, func() { r.runJob(r.ctx, job) }); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	r.logger.Info("job registered", "job", job.Name, "spec", job.Spec)
	return nil
}

// Start запускает расписание и блокирует до отмены ctx.
// Перед выходом дожидается завершения выполняющихся задач.
func (r *Runner) Start(ctx context.Context) {
	r.ctx = ctx
	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
}

// runJob выполняет задачу, если процесс — лидер.
func (r *Runner) runJob(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if r.leader != nil {
		ok, err := r.leader.TryAcquire(ctx)
		if err != nil {
			r.logger.Error("leader check failed", "job", job.Name, "error", err)
			return
		}
		if !ok {
			r.logger.Debug("not leader, skipping", "job", job.Name)
			return
		}
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.logger.Error("job failed", "job", job.Name, "duration", time.Since(start), "error", err)
		return
	}
	r.logger.Debug("job completed", "job", job.Name, "duration", time.Since(start))
}

// cronLogger — адаптер slog для cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
