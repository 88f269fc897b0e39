package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-service/database/memstore"
	"shop-service/models"
)

type fakePublisher struct {
	mu      sync.Mutex
	got     []models.NotificationEvent
	fail    bool
	release chan struct{}
}

func (p *fakePublisher) PublishNotification(_ context.Context, e models.NotificationEvent) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.got = append(p.got, e)
	return nil
}

func (p *fakePublisher) published() []models.NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.NotificationEvent(nil), p.got...)
}

func TestDispatcherFlushesOnClose(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, nil, 8, nil)
	go d.Run()

	for i := 1; i <= 3; i++ {
		require.NoError(t, d.Dispatch(models.NotificationEvent{Type: models.NotificationOrderConfirmation, OrderID: int64(i)}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	got := pub.published()
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].OrderID)
	assert.ErrorIs(t, d.Dispatch(models.NotificationEvent{}), ErrDispatcherClosed)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &fakePublisher{release: make(chan struct{})}
	logs := memstore.New()
	d := NewDispatcher(pub, logs, 1, nil)

	require.NoError(t, d.Dispatch(models.NotificationEvent{OrderID: 1}))
	assert.ErrorIs(t, d.Dispatch(models.NotificationEvent{Type: models.NotificationOrderShipped, OrderID: 2, UserID: 7}), ErrQueueFull)

	entries := logs.NotificationLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].OrderID)
	assert.Equal(t, int64(7), entries[0].UserID)
	assert.Equal(t, models.NotificationStageDispatch, entries[0].Stage)
	assert.Equal(t, models.NotificationFailed, entries[0].Status)
	assert.Equal(t, ErrQueueFull.Error(), entries[0].Error)

	go d.Run()
	close(pub.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Len(t, pub.published(), 1)
}

func TestDispatcherSurvivesPublishErrors(t *testing.T) {
	pub := &fakePublisher{fail: true}
	logs := memstore.New()
	d := NewDispatcher(pub, logs, 4, nil)
	go d.Run()

	require.NoError(t, d.Dispatch(models.NotificationEvent{OrderID: 1}))
	require.NoError(t, d.Dispatch(models.NotificationEvent{OrderID: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Empty(t, pub.published())

	entries := logs.NotificationLogs()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.NotificationStagePublish, e.Stage)
		assert.Equal(t, models.NotificationFailed, e.Status)
		assert.Equal(t, "broker down", e.Error)
	}
}

func TestDispatchAfterCloseIsLogged(t *testing.T) {
	logs := memstore.New()
	d := NewDispatcher(&fakePublisher{}, logs, 1, nil)
	go d.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	require.ErrorIs(t, d.Dispatch(models.NotificationEvent{OrderID: 9}), ErrDispatcherClosed)
	entries := logs.NotificationLogs()
	require.Len(t, entries, 1)
	assert.Equal(t, models.NotificationStageDispatch, entries[0].Stage)
}

func TestPriorityFavoursShipping(t *testing.T) {
	assert.Greater(t, priorityFor(models.NotificationOrderShipped), priorityFor(models.NotificationOrderConfirmation))
	assert.Equal(t, priorityFor(models.NotificationOrderShipped), priorityFor(models.NotificationEmailVerification))
}
