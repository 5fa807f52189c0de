package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestInMemoryDispatcher(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	typed := &recorder{}
	all := &recorder{}
	d.Subscribe(EventTicketClaimed, typed.handle)
	d.SubscribeAll(all.handle)
	d.SubscribeAll(func(context.Context, Event) error { return errors.New("sink down") })

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketClaimed, TicketID: 1}))
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketClosed, TicketID: 1}))

	assert.Len(t, typed.snapshot(), 1)
	assert.Len(t, all.snapshot(), 2)
}

func TestQueuedDispatcherDeliversInOrder(t *testing.T) {
	d := NewQueuedDispatcher(16, zap.NewNop())
	rec := &recorder{}
	d.SubscribeAll(rec.handle)
	d.Start()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: i}))
	}
	d.Close()

	got := rec.snapshot()
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.TicketID)
	}

	// publishing after close is a no-op, not a panic
	assert.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated}))
	d.Close()
}

func TestQueuedDispatcherDropsWhenFull(t *testing.T) {
	d := NewQueuedDispatcher(2, zap.NewNop())
	rec := &recorder{}
	d.SubscribeAll(rec.handle)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated}))
	}
	d.Close()
	assert.Len(t, rec.snapshot(), 2)
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "relay:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(client, "relay:events")
	actor := "staff-1"
	event := Event{
		ID:        "e1",
		Type:      EventTicketClaimed,
		TicketID:  7,
		GuildID:   "g",
		ActorID:   &actor,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"claimed_by": "staff-1"},
	}
	require.NoError(t, sink.Handle(ctx, event))

	select {
	case msg := <-sub.Channel():
		var decoded Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
		assert.Equal(t, EventTicketClaimed, decoded.Type)
		assert.Equal(t, int64(7), decoded.TicketID)
		assert.Equal(t, "staff-1", decoded.Payload["claimed_by"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestRedisSinkNotConfigured(t *testing.T) {
	var sink *RedisSink
	assert.Error(t, sink.Handle(context.Background(), Event{}))
}
