package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"shop-service/database"
	"shop-service/logging"
	"shop-service/middlewares"
	"shop-service/models"
)

var (
	ErrQueueFull        = errors.New("notification buffer full")
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

// Publisher is the broker side of the dispatcher.
type Publisher interface {
	PublishNotification(ctx context.Context, event models.NotificationEvent) error
}

// Dispatcher hands notification events from request goroutines to a single
// publishing goroutine. Dispatch never blocks the caller. Events that are
// dropped or fail to publish are written to the notification log when one
// is configured.
type Dispatcher struct {
	publisher Publisher
	logs      database.NotificationLogStore
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time

	events chan models.NotificationEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(publisher Publisher, logs database.NotificationLogStore, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		publisher: publisher,
		logs:      logs,
		logger:    logging.OrNop(logger),
		timeout:   5 * time.Second,
		now:       time.Now,
		events:    make(chan models.NotificationEvent, buffer),
		done:      make(chan struct{}),
	}
}

func (d *Dispatcher) Dispatch(event models.NotificationEvent) error {
	err := d.enqueue(event)
	if err != nil {
		d.record(event, models.NotificationStageDispatch, err)
	}
	return err
}

func (d *Dispatcher) enqueue(event models.NotificationEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		middlewares.RecordNotification("dispatch", "closed")
		return ErrDispatcherClosed
	}

	select {
	case d.events <- event:
		middlewares.RecordNotification("dispatch", "queued")
		return nil
	default:
		middlewares.RecordNotification("dispatch", "dropped")
		return ErrQueueFull
	}
}

// Run publishes queued events until Close is called and the buffer drains.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for event := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.publisher.PublishNotification(ctx, event)
		cancel()
		if err != nil {
			middlewares.RecordNotification("publish", "error")
			d.logger.Error("publish notification",
				zap.String("type", event.Type),
				zap.Int64("order_id", event.OrderID),
				zap.Error(err),
			)
			d.record(event, models.NotificationStagePublish, err)
			continue
		}
		middlewares.RecordNotification("publish", "ok")
	}
}

// record appends a failed entry for an event that never reached the queue.
func (d *Dispatcher) record(event models.NotificationEvent, stage string, cause error) {
	if d.logs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	entry := &models.NotificationLog{
		OrderID:   event.OrderID,
		UserID:    event.UserID,
		Type:      event.Type,
		Stage:     stage,
		Status:    models.NotificationFailed,
		Error:     cause.Error(),
		Attempt:   1,
		CreatedAt: d.now().UTC(),
	}
	if err := d.logs.InsertNotificationLog(ctx, entry); err != nil {
		d.logger.Warn("write notification log",
			zap.Int64("order_id", event.OrderID),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}

// Close stops accepting events and waits for Run to flush the buffer, or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
