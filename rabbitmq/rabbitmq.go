package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"shop-service/config"
	"shop-service/logging"
	"shop-service/models"
)

// HeaderAttempt carries the delivery attempt of a notification message.
const HeaderAttempt = "x-attempt"

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config

	logger *zap.Logger
	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

func NewRabbitMQ(cfg *config.Config, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
		logger:  logging.OrNop(logger),
	}, nil
}

func (r *RabbitMQ) deadLetterExchange() string {
	return r.Cfg.DeadLetterQueue + "_exchange"
}

// SetupQueues declares the notification topology: a direct exchange feeding a
// priority queue, a dead letter exchange and queue, and an optional delayed
// exchange used for retries.
func (r *RabbitMQ) SetupQueues() error {
	if err := r.Channel.ExchangeDeclare(
		r.deadLetterExchange(),
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}

	if err := r.Channel.QueueBind(
		r.Cfg.DeadLetterQueue,
		r.Cfg.DeadLetterQueue,
		r.deadLetterExchange(),
		false,
		nil,
	); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if err := r.Channel.ExchangeDeclare(
		r.Cfg.NotifyExchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare notification exchange: %w", err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.NotifyQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-max-priority":            r.Cfg.MaxPriority,
			"x-dead-letter-exchange":    r.deadLetterExchange(),
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	); err != nil {
		return fmt.Errorf("declare notification queue: %w", err)
	}

	if err := r.Channel.QueueBind(
		r.Cfg.NotifyQueue,
		"",
		r.Cfg.NotifyExchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("bind notification queue: %w", err)
	}

	// Requires the rabbitmq_delayed_message_exchange plugin. Without it
	// retries are published straight to the notification exchange.
	if err := r.Channel.ExchangeDeclare(
		r.Cfg.DelayExchange,
		"x-delayed-message",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		r.logger.Warn("delayed exchange not supported, retries will not be delayed", zap.Error(err))
		// A failed declare closes the channel.
		ch, chErr := r.Conn.Channel()
		if chErr != nil {
			return fmt.Errorf("reopen channel: %w", chErr)
		}
		r.Channel = ch
		r.Cfg.DelayExchange = ""
		return nil
	}

	return r.Channel.QueueBind(
		r.Cfg.NotifyQueue,
		"",
		r.Cfg.DelayExchange,
		false,
		nil,
	)
}

func priorityFor(kind string) uint8 {
	if kind == models.NotificationOrderShipped || kind == models.NotificationEmailVerification {
		return 5
	}
	return 1
}

// PublishNotification publishes a notification event as its first attempt.
func (r *RabbitMQ) PublishNotification(ctx context.Context, event models.NotificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Type:         event.Type,
		Body:         body,
		Priority:     priorityFor(event.Type),
		Headers:      amqp.Table{HeaderAttempt: int32(1)},
	}
	return r.publish(ctx, r.Cfg.NotifyExchange, msg)
}

// PublishRetry republishes a failed notification body with the attempt
// counter set, delayed when the delayed exchange is available.
func (r *RabbitMQ) PublishRetry(ctx context.Context, body []byte, kind string, attempt int, delay time.Duration) error {
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Type:         kind,
		Body:         body,
		Priority:     priorityFor(kind),
		Headers: amqp.Table{
			HeaderAttempt: int32(attempt),
			"x-delay":     delay.Milliseconds(),
		},
	}

	exchange := r.Cfg.DelayExchange
	if exchange == "" {
		exchange = r.Cfg.NotifyExchange
	}
	return r.publish(ctx, exchange, msg)
}

func (r *RabbitMQ) publish(ctx context.Context, exchange string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.Channel.PublishWithContext(ctx,
		exchange,
		"",
		false, // mandatory
		false, // immediate
		msg,
	)
}

// Consume opens a dedicated channel with manual acks on queue.
func (r *RabbitMQ) Consume(queue, tag string, prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := r.Conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return ch.Consume(
		queue,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			r.logger.Debug("close channel", zap.Error(err))
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			r.logger.Debug("close connection", zap.Error(err))
		}
	}
}
