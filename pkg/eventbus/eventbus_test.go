package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/startlimit/pkg/limiter"
	"github.com/flowforge/startlimit/pkg/model"
)

func TestFromLimiter(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := limiter.Event{
		Type: limiter.EventCreated,
		Tag:  "typeA",
		Definition: &model.LimitDefinition{
			Tag: "typeA", Name: "typeA", Count: 10, Window: 60, ExpiresAfter: 3600,
		},
		At: at,
	}

	event, err := FromLimiter(ev)
	if err != nil {
		t.Fatalf("FromLimiter: %v", err)
	}
	if event.Type != "limit.created" {
		t.Errorf("Type = %q, want limit.created", event.Type)
	}
	if event.Timestamp != at.Unix() {
		t.Errorf("Timestamp = %d, want %d", event.Timestamp, at.Unix())
	}

	var payload LimitEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Tag != "typeA" || payload.Count != 10 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestFromLimiterWithoutDefinition(t *testing.T) {
	event, err := FromLimiter(limiter.Event{Type: limiter.EventExpired, Tag: "gone", At: time.Now()})
	if err != nil {
		t.Fatalf("FromLimiter: %v", err)
	}
	var payload LimitEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Tag != "gone" || payload.Count != 0 {
		t.Errorf("payload = %+v", payload)
	}
}

// Requires a Redis instance on localhost:6379.
func TestBusPublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	bus := NewBus(rdb, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := bus.Subscribe(ctx, ChannelLimit)
	// Give the subscription time to register before publishing.
	time.Sleep(100 * time.Millisecond)

	bus.Hook(limiter.Event{Type: limiter.EventDeleted, Tag: "typeA", At: time.Now()})

	select {
	case ev := <-events:
		if ev == nil || ev.Type != "limit.deleted" {
			t.Fatalf("event = %+v, want limit.deleted", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
