package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"broadcaster/internal/models"
)

// JobHandler processes one dispatch job
type JobHandler func(ctx context.Context, job *DispatchJob) error

// Consumer consumes dispatch jobs from a RabbitMQ queue
type Consumer struct {
	conn      *Connection
	queueName string
	handler   JobHandler
	logger    *slog.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler JobHandler, logger *slog.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	if err := declareQueue(conn, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		logger:    logger,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start starts consuming jobs in a goroutine
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	// One job at a time: a pass can run for minutes when paced
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Warn("delivery channel closed", "queue", c.queueName)
					return
				}
				c.deliver(ctx, d)
			}
		}
	}()

	c.logger.Info("consumer started", "queue", c.queueName)
	return nil
}

// deliver acks handled jobs and drops failed ones. The scheduler re-drives
// every running campaign, so a dropped job is never lost work.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	if err := c.processMessage(ctx, d.Body); err != nil {
		c.logger.Error("dispatch job failed", "error", err)
		d.Nack(false, false)
		return
	}
	d.Ack(false)
}

// Stop stops consuming and waits for the current job to finish
func (c *Consumer) Stop() error {
	close(c.stopChan)
	<-c.doneChan

	c.logger.Info("consumer stopped", "queue", c.queueName)
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, body []byte) error {
	job, err := ParseDispatchJob(body)
	if err != nil {
		return err
	}
	if err := c.handler(ctx, job); err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}
	return nil
}

// ParseDispatchJob decodes and validates a job body
func ParseDispatchJob(body []byte) (*DispatchJob, error) {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatch job: %w", err)
	}
	family, err := models.ParseFamily(string(job.Family))
	if err != nil {
		return nil, err
	}
	if job.CampaignID <= 0 {
		return nil, fmt.Errorf("invalid campaign id %d", job.CampaignID)
	}
	job.Family = family
	return &job, nil
}
