package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/postmill/internal/domain"
)

// Message — тело сообщения в tasks.ready.
type Message struct {
	ID         string         `json:"id"`
	Task       domain.TaskRef `json:"task"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

func encodeMessage(task domain.TaskRef, now time.Time) (Message, []byte, error) {
	msg := Message{ID: uuid.NewString(), Task: task, EnqueuedAt: now}
	body, err := json.Marshal(msg)
	if err != nil {
		return msg, nil, fmt.Errorf("marshal message: %w", err)
	}
	return msg, body, nil
}

func decodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Task.Kind == "" || msg.Task.EntityID == uuid.Nil {
		return msg, fmt.Errorf("message %q has no task reference", msg.ID)
	}
	return msg, nil
}

// Publisher ставит задачи в очередь. Реализует executor.Trigger.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger

	// mu сериализует публикацию на общем канале и защищает declared.
	mu sync.Mutex
	// declared — когда очередь задержки объявлялась последний раз.
	// Публикация не продлевает x-expires, поэтому объявление повторяется.
	declared map[string]time.Time
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:     conn,
		logger:   logger.With("component", "mq_publisher"),
		declared: make(map[string]time.Time),
	}
}

// Enqueue публикует задачу. При delay > 0 сообщение идёт в очередь
// задержки и попадёт в tasks.ready по истечении TTL.
func (p *Publisher) Enqueue(ctx context.Context, task domain.TaskRef, delay time.Duration) error {
	now := time.Now().UTC()
	msg, body, err := encodeMessage(task, now)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn.withPublishChannel(func(ch *amqp.Channel) error {
		exchange, key := ExchangeTasks, RoutingReady
		if delay > 0 {
			name := DelayQueue(delay)
			if at, ok := p.declared[name]; !ok || now.Sub(at) > delayQueueIdle/2 {
				if _, err := declareDelayQueue(ch, delay); err != nil {
					return err
				}
				p.declared[name] = now
			}
			exchange, key = "", name
		}

		err := ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.EnqueuedAt,
			Type:         string(task.Kind),
			Body:         body,
		})
		if err != nil {
			clear(p.declared)
			return fmt.Errorf("publish %s: %w", task, err)
		}

		p.logger.Debug("task enqueued", "task", task.String(), "delay", delay, "message_id", msg.ID)
		return nil
	})
}
