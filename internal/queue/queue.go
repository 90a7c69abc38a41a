// Package queue carries ingestion and validation jobs over RabbitMQ.
//
// Every work queue has a <name>_retry queue that dead-letters back to it
// after a delay and a <name>_dlq queue for jobs that ran out of retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
)

const (
	IngestQueue   = "ingest_queue"
	ValidateQueue = "validate_queue"

	retryDelayMs = 10000
)

// Queues lists the work queues consumed by the worker.
var Queues = []string{IngestQueue, ValidateQueue}

func RetryQueue(name string) string {
	return name + "_retry"
}

func DeadLetterQueue(name string) string {
	return name + "_dlq"
}

// Publisher is the publishing half of an AMQP channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// Dial connects to RabbitMQ.
func Dial(cfg config.RabbitMQ) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares every queue in names with its retry and dead-letter
// queue. Declaring is idempotent.
func SetupQueues(ch declarer, names []string) error {
	for _, name := range names {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(DeadLetterQueue(name), true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", DeadLetterQueue(name), err)
		}
		_, err := ch.QueueDeclare(RetryQueue(name), true, false, false, false, amqp091.Table{
			"x-message-ttl":             int32(retryDelayMs),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", RetryQueue(name), err)
		}
	}
	return nil
}

// PublishJSON encodes v and publishes it persistently to queueName.
func PublishJSON(ctx context.Context, pub Publisher, queueName string, correlationID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return pub.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          body,
		DeliveryMode:  amqp091.Persistent,
		Timestamp:     time.Now(),
	})
}
