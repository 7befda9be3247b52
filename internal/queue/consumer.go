package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DefaultMaxRetries = 10

	retriesHeader = "x-retries"
)

// ErrPermanent marks a message that can never succeed. Such messages go
// straight to the dead-letter queue instead of being retried.
var ErrPermanent = errors.New("permanent message failure")

// Handler processes a single message body.
type Handler func(ctx context.Context, body []byte) error

// ConsumeChannel is the subset of *amqp091.Channel a consumer needs.
type ConsumeChannel interface {
	Channel
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

var _ ConsumeChannel = (*amqp091.Channel)(nil)

// Consume delivers messages from queueName to handle one at a time until
// ctx is cancelled or the delivery channel closes. Failed messages are
// republished to the retry queue, or to the dead-letter queue once they
// have been retried maxRetries times.
func Consume(ctx context.Context, ch ConsumeChannel, queueName string, maxRetries int, handle Handler) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := ch.Consume(queueName, queueName+"_consumer", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				log.Info("Message channel closed", "queue", queueName)
				return nil
			}
			processMessage(ctx, ch, msg, queueName, maxRetries, handle)
		}
	}
}

func processMessage(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, maxRetries int, handle Handler) {
	start := time.Now()
	log.Info("Received message", "queue", queueName)

	if err := handle(ctx, msg.Body); err != nil {
		log.Error("Error processing message", "queue", queueName, "err", err)
		HandleProcessingError(ctx, ch, msg, queueName, maxRetries, errors.Is(err, ErrPermanent))
		return
	}
	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", "err", err)
	}
	log.Info("Message processed successfully", "queue", queueName, "duration", time.Since(start).Round(time.Millisecond))
}

// HandleProcessingError moves a failed message to "<queue>_retry" with an
// incremented retry count, or to "<queue>_dlq" when it is permanent or out
// of retries. The original delivery is acked once the copy is published
// and requeued when publishing fails.
func HandleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, maxRetries int, permanent bool) {
	retries := RetryCount(msg.Headers)

	if permanent || retries >= maxRetries {
		dlqName := queueName + "_dlq"
		log.Info("Sending message to DLQ", "dlq", dlqName, "retries", retries)
		err := ch.PublishWithContext(ctx, "", dlqName, false, false, amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      msg.Headers,
			DeliveryMode: amqp091.Persistent,
		})
		if err != nil {
			log.Error("Failed to publish to DLQ", "dlq", dlqName, "err", err)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	err := ch.PublishWithContext(ctx, "", retryName, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		log.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// RetryCount reads the retry header. Brokers may hand integers back with a
// different width than they were published with.
func RetryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}
