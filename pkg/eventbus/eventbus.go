package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/limiter"
)

type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type LimitEvent struct {
	Tag          string `json:"tag"`
	Name         string `json:"name,omitempty"`
	Count        int64  `json:"count,omitempty"`
	Window       int64  `json:"window,omitempty"`
	ExpiresAfter int64  `json:"expires,omitempty"`
}

const ChannelLimit = "sl:events:limit"

const publishTimeout = 2 * time.Second

type Bus struct {
	client redis.UniversalClient
	logger *zap.Logger
}

func NewBus(client redis.UniversalClient, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{client: client, logger: logger}
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

// FromLimiter converts a registry change into a bus event.
func FromLimiter(ev limiter.Event) (Event, error) {
	payload := LimitEvent{Tag: ev.Tag}
	if def := ev.Definition; def != nil {
		payload.Name = def.Name
		payload.Count = def.Count
		payload.Window = def.Window
		payload.ExpiresAfter = def.ExpiresAfter
	}
	event, err := NewEvent("limit."+string(ev.Type), payload)
	if err != nil {
		return Event{}, err
	}
	event.Timestamp = ev.At.Unix()
	return event, nil
}

// Hook publishes registry changes on ChannelLimit. Publishing happens off the
// caller's goroutine; failures are logged.
func (b *Bus) Hook(ev limiter.Event) {
	event, err := FromLimiter(ev)
	if err != nil {
		b.logger.Error("failed to encode limit event", zap.String("tag", ev.Tag), zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := b.Publish(ctx, ChannelLimit, event); err != nil {
			b.logger.Warn("failed to publish limit event", zap.String("tag", ev.Tag), zap.Error(err))
		}
	}()
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			ch <- &event
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
