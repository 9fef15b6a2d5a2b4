package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const heartbeat = 10 * time.Second

// Connection holds one AMQP connection and channel shared by the publisher and
// consumer of a process. A closed channel is re-dialed on the next Channel call.
type Connection struct {
	url     string
	name    string
	logger  *slog.Logger
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConnection dials RabbitMQ and opens the shared channel
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}

	c := &Connection{url: url, name: "broadcaster", logger: logger}
	if err := c.dial(); err != nil {
		return nil, err
	}

	logger.Info("connected to RabbitMQ")
	return c, nil
}

func (c *Connection) dial() error {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(c.name)

	conn, err := amqp.DialConfig(c.url, amqp.Config{Heartbeat: heartbeat, Properties: props})
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.conn, c.channel = conn, channel
	return nil
}

// Channel returns the shared channel, re-dialing when the broker dropped it
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthy() {
		return c.channel, nil
	}

	c.logger.Warn("rabbitmq channel closed, reconnecting")
	c.release()
	if err := c.dial(); err != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", err)
	}
	c.logger.Info("reconnected to RabbitMQ")
	return c.channel, nil
}

// Close closes the channel and then the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.release(); err != nil {
		return fmt.Errorf("errors during close: %w", err)
	}
	c.logger.Info("rabbitmq connection closed")
	return nil
}

// IsConnected reports whether both the connection and channel are open
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy()
}

func (c *Connection) healthy() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// release closes whatever is open; the caller holds mu
func (c *Connection) release() error {
	var errs []error
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	c.conn, c.channel = nil, nil
	return errors.Join(errs...)
}
