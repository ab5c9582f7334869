package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	return kafka.Message{}, io.EOF
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestPublishOrderPlaced(t *testing.T) {
	w := &fakeWriter{}
	pub := NewEventPublisher(NewProducerWithWriter(w))

	event := &models.OrderPlacedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:    12,
		UserID:     3,
		TotalPrice: decimal.RequireFromString("20.00"),
		Items:      []models.OrderItemData{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(10)}},
	}
	require.NoError(t, pub.PublishOrderPlaced(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "order-12", string(w.msgs[0].Key))

	var decoded models.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, models.EventTypeOrderPlaced, decoded.EventType)
	assert.Equal(t, int64(12), decoded.OrderID)
	assert.True(t, decoded.TotalPrice.Equal(event.TotalPrice))
}

func TestPublishWrapsWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	pub := NewEventPublisher(NewProducerWithWriter(w))

	err := pub.PublishProductCreated(context.Background(), &models.ProductCreatedEvent{ProductID: 1})
	assert.ErrorContains(t, err, "broker down")
}

func TestHandleMessageRoutesByType(t *testing.T) {
	h := NewEventHandler()

	var placed, created int
	var unhandled []string
	h.OnOrderPlaced(func(_ context.Context, e *models.OrderPlacedEvent) error {
		placed++
		assert.Equal(t, int64(5), e.OrderID)
		return nil
	})
	h.OnProductCreated(func(_ context.Context, e *models.ProductCreatedEvent) error {
		created++
		return nil
	})
	h.OnUnhandled(func(_ context.Context, e models.BaseEvent) {
		unhandled = append(unhandled, e.EventType)
	})

	ctx := context.Background()
	require.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: mustJSON(t, models.OrderPlacedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPlaced), OrderID: 5,
	})}))
	require.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: mustJSON(t, models.ProductCreatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeProductCreated), ProductID: 1,
	})}))
	require.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: mustJSON(t, models.BaseEvent{EventType: "SOMETHING_ELSE"})}))

	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, created)
	assert.Equal(t, []string{"SOMETHING_ELSE"}, unhandled)

	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("not json")}))
}

func TestStartConsumingCommitsOnlyHandled(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("ok")},
		{Offset: 2, Value: []byte("fail")},
		{Offset: 3, Value: []byte("ok")},
	}}
	c := NewConsumerWithReader(r, "shop-events")
	c.SetRetry(3, time.Millisecond)

	calls := map[int64]int{}
	err := c.StartConsuming(context.Background(), func(_ context.Context, msg kafka.Message) error {
		calls[msg.Offset]++
		if string(msg.Value) == "fail" {
			return errors.New("bad message")
		}
		return nil
	})
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, map[int64]int{1: 1, 2: 3, 3: 1}, calls)

	require.Len(t, r.committed, 2)
	assert.Equal(t, int64(1), r.committed[0].Offset)
	assert.Equal(t, int64(3), r.committed[1].Offset)
}

func TestStartConsumingRetriesTransientFailure(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7, Value: []byte("flaky")}}}
	c := NewConsumerWithReader(r, "shop-events")
	c.SetRetry(3, time.Millisecond)

	attempts := 0
	err := c.StartConsuming(context.Background(), func(context.Context, kafka.Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary")
		}
		return nil
	})
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, attempts)
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(7), r.committed[0].Offset)
}

func TestStartConsumingStopsOnCancel(t *testing.T) {
	c := NewConsumerWithReader(&fakeReader{}, "shop-events")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.StartConsuming(ctx, func(context.Context, kafka.Message) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
