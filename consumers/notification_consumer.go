package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"shop-service/database"
	"shop-service/logging"
	"shop-service/mailer"
	"shop-service/middlewares"
	"shop-service/models"
	"shop-service/rabbitmq"
)

// RetryPublisher schedules another delivery attempt of a failed message.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, body []byte, kind string, attempt int, delay time.Duration) error
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type NotificationWorkerDeps struct {
	Users       UserLookup
	Logs        database.NotificationLogStore
	Mailer      mailer.Mailer
	Retry       RetryPublisher
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *zap.Logger
}

// NotificationWorker turns queued notification events into emails and keeps
// an audit row per attempt.
type NotificationWorker struct {
	users       UserLookup
	logs        database.NotificationLogStore
	mailer      mailer.Mailer
	retry       RetryPublisher
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewNotificationWorker(deps NotificationWorkerDeps) *NotificationWorker {
	w := &NotificationWorker{
		users:       deps.Users,
		logs:        deps.Logs,
		mailer:      deps.Mailer,
		retry:       deps.Retry,
		maxAttempts: deps.MaxAttempts,
		retryDelay:  deps.RetryDelay,
		logger:      logging.OrNop(deps.Logger),
		now:         time.Now,
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 5
	}
	if w.retryDelay <= 0 {
		w.retryDelay = 30 * time.Second
	}
	return w
}

// Start consumes the main and dead letter queues until ctx ends or the
// delivery channels close.
func (w *NotificationWorker) Start(ctx context.Context, msgs, deadLetters <-chan amqp.Delivery) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				w.Handle(ctx, msg)
			}
		}
	}()

	if deadLetters == nil {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deadLetters:
				if !ok {
					return
				}
				w.HandleDeadLetter(msg)
			}
		}
	}()
}

// permanentError marks failures that no retry can fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Handle processes one delivery and always settles it: Ack on success or
// after scheduling a retry, Nack without requeue (dead letter) otherwise.
// A transient failure after ctx ends is requeued for the next consumer.
func (w *NotificationWorker) Handle(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing notification", zap.Any("panic", r))
			_ = msg.Nack(false, false)
		}
	}()

	attempt := attemptOf(msg)

	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		w.logger.Warn("invalid notification message", zap.ByteString("body", msg.Body), zap.Error(err))
		middlewares.RecordNotification("deliver", "invalid")
		_ = msg.Nack(false, false)
		return
	}

	log := w.logger.With(
		zap.String("type", event.Type),
		zap.Int64("order_id", event.OrderID),
		zap.Int("attempt", attempt),
	)

	recipient, err := w.deliver(ctx, event)

	var permanent permanentError
	if err != nil && ctx.Err() != nil && !errors.As(err, &permanent) {
		middlewares.RecordNotification("deliver", "requeued")
		log.Warn("worker stopping, notification requeued", zap.Error(err))
		_ = msg.Nack(false, true)
		return
	}

	// Bookkeeping outlives the consumer's context.
	detached := context.WithoutCancel(ctx)
	w.audit(detached, event, recipient, attempt, err)
	if err == nil {
		middlewares.RecordNotification("deliver", "sent")
		log.Info("notification sent", zap.String("recipient", recipient))
		_ = msg.Ack(false)
		return
	}

	if errors.As(err, &permanent) || attempt >= w.maxAttempts {
		middlewares.RecordNotification("deliver", "failed")
		log.Error("notification failed, dead lettering", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	delay := w.retryDelay * time.Duration(attempt)
	if rerr := w.retry.PublishRetry(detached, msg.Body, event.Type, attempt+1, delay); rerr != nil {
		middlewares.RecordNotification("deliver", "failed")
		log.Error("schedule notification retry", zap.Error(rerr), zap.NamedError("cause", err))
		_ = msg.Nack(false, false)
		return
	}
	middlewares.RecordNotification("deliver", "retry")
	log.Warn("notification failed, retry scheduled", zap.Duration("delay", delay), zap.Error(err))
	_ = msg.Ack(false)
}

func (w *NotificationWorker) deliver(ctx context.Context, event models.NotificationEvent) (string, error) {
	user, err := w.users.GetUserByID(ctx, event.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return "", permanentError{fmt.Errorf("user %d not found", event.UserID)}
	}
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}

	msg, err := mailer.Compose(event, user)
	if err != nil {
		return user.Email, permanentError{err}
	}
	if err := w.mailer.Send(ctx, msg); err != nil {
		return user.Email, fmt.Errorf("send email: %w", err)
	}
	return user.Email, nil
}

func (w *NotificationWorker) audit(ctx context.Context, event models.NotificationEvent, recipient string, attempt int, sendErr error) {
	entry := &models.NotificationLog{
		OrderID:   event.OrderID,
		UserID:    event.UserID,
		Type:      event.Type,
		Recipient: recipient,
		Stage:     models.NotificationStageDelivery,
		Status:    models.NotificationSent,
		Attempt:   attempt,
		CreatedAt: w.now().UTC(),
	}
	if sendErr != nil {
		entry.Status = models.NotificationFailed
		entry.Error = sendErr.Error()
	}
	if err := w.logs.InsertNotificationLog(ctx, entry); err != nil {
		w.logger.Warn("write notification log", zap.Int64("order_id", event.OrderID), zap.Error(err))
	}
}

// HandleDeadLetter records messages that exhausted their attempts.
func (w *NotificationWorker) HandleDeadLetter(msg amqp.Delivery) {
	middlewares.RecordNotification("dead_letter", "received")
	w.logger.Error("notification dead lettered",
		zap.String("type", msg.Type),
		zap.Int("attempt", attemptOf(msg)),
		zap.ByteString("body", msg.Body),
	)
	_ = msg.Ack(false)
}

func attemptOf(msg amqp.Delivery) int {
	switch v := msg.Headers[rabbitmq.HeaderAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}
