package mq

import (
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена exchanges, очередей и ключей маршрутизации.
const (
	ExchangeTasks = "postmill.tasks"
	ExchangeDLX   = "postmill.dlx"

	QueueReady = "tasks.ready"
	QueueDLQ   = "tasks.dlq"

	RoutingReady = "ready"
	RoutingDead  = "dead"

	delayQueuePrefix = "tasks.delay."

	// delayQueueIdle — сколько очередь задержки живёт без сообщений и потребителей.
	delayQueueIdle = 10 * time.Minute
)

// SetupTopology объявляет exchanges и постоянные очереди.
// Объявление идемпотентно, его вызывает каждый процесс при старте.
func SetupTopology(conn *Connection) error {
	return conn.withPublishChannel(func(ch *amqp.Channel) error {
		for _, name := range []string{ExchangeTasks, ExchangeDLX} {
			if err := ch.ExchangeDeclare(name, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", name, err)
			}
		}

		queues := []struct {
			name, exchange, key string
			args                amqp.Table
		}{
			{QueueReady, ExchangeTasks, RoutingReady, amqp.Table{
				"x-dead-letter-exchange":    ExchangeDLX,
				"x-dead-letter-routing-key": RoutingDead,
			}},
			{QueueDLQ, ExchangeDLX, RoutingDead, nil},
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(q.name, q.key, q.exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
			}
		}
		return nil
	})
}

// DelayQueue возвращает имя очереди задержки: tasks.delay.<ms>.
func DelayQueue(delay time.Duration) string {
	return delayQueuePrefix + strconv.FormatInt(delay.Milliseconds(), 10)
}

// delayQueueArgs — сообщения лежат delay и по истечении TTL
// возвращаются в postmill.tasks с ключом ready.
func delayQueueArgs(delay time.Duration) amqp.Table {
	ms := delay.Milliseconds()
	return amqp.Table{
		"x-message-ttl":             ms,
		"x-dead-letter-exchange":    ExchangeTasks,
		"x-dead-letter-routing-key": RoutingReady,
		"x-expires":                 ms + delayQueueIdle.Milliseconds(),
	}
}

func declareDelayQueue(ch *amqp.Channel, delay time.Duration) (string, error) {
	name := DelayQueue(delay)
	if _, err := ch.QueueDeclare(name, true, false, false, false, delayQueueArgs(delay)); err != nil {
		return "", fmt.Errorf("declare delay queue %s: %w", name, err)
	}
	return name, nil
}
