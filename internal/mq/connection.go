package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Connection — AMQP соединение с автоматическим переподключением.
//
// Публикация и потребление идут через отдельные каналы: Qos и
// долгий Consume не должны мешать PublishWithContext.
type Connection struct {
	url    string
	logger *slog.Logger

	mu       sync.RWMutex
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	closed   bool
	closedCh chan struct{}

	// reconnected закрывается и пересоздаётся при каждом переподключении.
	reconnected chan struct{}
}

// Dial устанавливает соединение с RabbitMQ.
func Dial(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:         url,
		logger:      logger.With("component", "mq"),
		closedCh:    make(chan struct{}),
		reconnected: make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	go c.watch()
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.pubCh = ch
	c.mu.Unlock()

	c.logger.Info("connected to rabbitmq")
	return nil
}

// watch ждёт разрыва соединения и переподключается.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return
		case err, ok := <-notify:
			if ok && err != nil {
				c.logger.Warn("rabbitmq connection lost", "error", err)
			}
			if !c.reconnect() {
				return
			}
		}
	}
}

// reconnect повторяет подключение с экспоненциальной задержкой.
// false — соединение закрыто через Close.
func (c *Connection) reconnect() bool {
	delay := reconnectMin
	for {
		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.logger.Warn("reconnect failed", "error", err, "retry_in", delay)
			delay = min(delay*2, reconnectMax)
			continue
		}

		c.mu.Lock()
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()
		return true
	}
}

// Reconnected возвращает канал, который закроется при следующем переподключении.
func (c *Connection) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Channel открывает новый канал для потребителя.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, errNotConnected
	}
	return conn.Channel()
}

// withPublishChannel выполняет fn на общем канале публикации.
func (c *Connection) withPublishChannel(fn func(ch *amqp.Channel) error) error {
	c.mu.RLock()
	ch := c.pubCh
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return errNotConnected
	}
	return fn(ch)
}

// Ping проверяет, что соединение живо. Используется в /healthz.
func (c *Connection) Ping(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || c.conn.IsClosed() {
		return errNotConnected
	}
	return nil
}

// Close закрывает соединение и останавливает переподключение.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.pubCh != nil {
		if err := c.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("rabbitmq connection closed")
	return errors.Join(errs...)
}

var errNotConnected = errors.New("rabbitmq not connected")
