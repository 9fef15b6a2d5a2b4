package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"broadcaster/internal/models"
)

// DispatchJob asks a worker to run one dispatch pass over a campaign
type DispatchJob struct {
	Family     models.Family `json:"family"`
	CampaignID int64         `json:"campaign_id"`
}

// Publisher publishes dispatch jobs to RabbitMQ
type Publisher struct {
	conn      *Connection
	queueName string
}

// NewPublisher creates a new publisher and declares its queue
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if err := declareQueue(conn, queueName); err != nil {
		return nil, err
	}

	return &Publisher{
		conn:      conn,
		queueName: queueName,
	}, nil
}

// TriggerDispatch publishes a dispatch job for the campaign
func (p *Publisher) TriggerDispatch(ctx context.Context, family models.Family, id int64) error {
	body, err := json.Marshal(DispatchJob{Family: family, CampaignID: id})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch job: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	return nil
}

// declareQueue declares the durable, non-auto-delete queue shared by publisher and consumer
func declareQueue(conn *Connection, queueName string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}
