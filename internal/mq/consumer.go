package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/postmill/internal/domain"
)

// Handler обрабатывает задачу. Ошибка означает, что задача не была
// доведена до исхода и сообщение нужно вернуть в очередь.
type Handler func(ctx context.Context, task domain.TaskRef) error

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Limiter ограничивает число задач в работе. Его же делит poll fallback воркера.
	Limiter *semaphore.Weighted

	// Prefetch — сколько неподтверждённых сообщений держит брокер за потребителем.
	Prefetch int
}

// Consumer читает задачи из очереди и подтверждает их после обработки.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	limiter  *semaphore.Weighted
	prefetch int

	inflight sync.WaitGroup
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	queue := cfg.Queue
	if queue == "" {
		queue = QueueReady
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = semaphore.NewWeighted(int64(prefetch))
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("component", "mq_consumer", "queue", queue),
		queue:    queue,
		handler:  cfg.Handler,
		limiter:  limiter,
		prefetch: prefetch,
	}
}

// Run потребляет сообщения до отмены ctx, переживая переподключения.
// Перед возвратом дожидается задач, которые уже в работе.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		reconnected := c.conn.Reconnected()

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer interrupted, waiting for reconnect", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
		case <-time.After(reconnectMax):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()
	// Подтверждения идут по этому каналу: закрываем его только после обработчиков.
	defer c.inflight.Wait()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.logger.Info("consumer started", "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.limiter.Acquire(ctx, 1); err != nil {
				_ = raw.Nack(false, true)
				return err
			}
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer c.limiter.Release(1)
				c.handle(ctx, raw)
			}()
		}
	}
}

// handle обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	msg, err := decodeMessage(raw.Body)
	if err != nil {
		c.logger.Error("malformed message", "error", err, "message_id", raw.MessageId)
		_ = raw.Nack(false, false)
		return
	}

	herr := c.handler(ctx, msg.Task)
	switch settle(herr, raw.Redelivered, ctx.Err() != nil) {
	case ack:
		if err := raw.Ack(false); err != nil {
			c.logger.Warn("ack failed", "task", msg.Task.String(), "error", err)
		}
	case requeue:
		c.logger.Warn("task requeued", "task", msg.Task.String(), "error", herr)
		_ = raw.Nack(false, true)
	case deadLetter:
		c.logger.Error("task dead-lettered", "task", msg.Task.String(), "error", herr)
		_ = raw.Nack(false, false)
	}
}

type settlement int

const (
	ack settlement = iota
	requeue
	deadLetter
)

// settle решает судьбу сообщения после обработчика.
//
// Ошибка при остановке — всегда requeue. Повторная ошибка на уже
// переданном сообщении уходит в DLQ: сущность останется в БД с
// истёкшей арендой и её подберёт poll fallback.
func settle(err error, redelivered, shuttingDown bool) settlement {
	switch {
	case err == nil:
		return ack
	case shuttingDown || errors.Is(err, context.Canceled):
		return requeue
	case redelivered:
		return deadLetter
	default:
		return requeue
	}
}
