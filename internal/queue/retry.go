package queue

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

const (
	DefaultMaxRetries = 10
	retriesHeader     = "x-retries"
	errorHeader       = "x-last-error"
)

func retriesOf(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// HandleFailure moves a failed delivery to the retry queue, or to the dead
// letter queue once maxRetries is reached or the failure is permanent. The
// delivery is acked after the republish succeeded and requeued otherwise.
func HandleFailure(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string, cause error, maxRetries int) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retries := retriesOf(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if cause != nil {
		headers[errorHeader] = cause.Error()
	}

	target := RetryQueue(queueName)
	if retries >= maxRetries || errors.Is(cause, ErrPermanent) {
		target = DeadLetterQueue(queueName)
	} else {
		headers[retriesHeader] = int32(retries + 1)
	}

	err := pub.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationId,
		Body:          msg.Body,
		Headers:       headers,
		DeliveryMode:  amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	logger.Info("[Queue] Message republished", "queue", target, "retries", retries)
	_ = msg.Ack(false)
}
