// Package realtime fans validation events out to other engine instances
// over Redis pub/sub. Delivery is best-effort, at-least-once, unordered;
// receivers merge idempotently by record/conflict id.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"mapvet/api/internal/util"
)

// Event is the wire envelope published on the bus. Type carries the
// logical channel (decision.recorded, conflict.opened, ...); Origin lets
// an instance skip its own events.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	MissionID string         `json:"missionId"`
	UserID    string         `json:"userId"`
	Payload   map[string]any `json:"payload"`
	Origin    string         `json:"origin"`
	EmittedAt time.Time      `json:"emittedAt"`
}

// Handler processes incoming events. It may be called more than once for
// the same event and must be idempotent.
type Handler func(ctx context.Context, event Event) error

// RedisBus implements the engine's Broadcaster over a single Redis channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
	cancel  context.CancelFunc
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(redisURL, channel string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBusWithClient(client, channel), nil
}

// NewRedisBusWithClient creates a bus from an existing Redis client.
func NewRedisBusWithClient(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		origin:  util.NewID("node"),
	}
}

// Origin is this instance's identity on the bus.
func (b *RedisBus) Origin() string {
	return b.origin
}

// Broadcast publishes an event. eventType is the logical channel from the
// engine; everything goes out on the one configured Redis channel.
func (b *RedisBus) Broadcast(ctx context.Context, eventType string, payload map[string]any, missionID, userID string) error {
	event := Event{
		ID:        util.NewID("evt"),
		Type:      eventType,
		MissionID: missionID,
		UserID:    userID,
		Payload:   payload,
		Origin:    b.origin,
		EmittedAt: time.Now().UTC(),
	}
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, jsonData).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe starts a background loop feeding remote events to the handler.
// Own events are skipped by origin. Handler errors are logged, not retried
// here; redelivery comes from the at-least-once bus semantics.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go func() {
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case message, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
					log.Printf("realtime: drop malformed event: %v", err)
					continue
				}
				if event.Origin == b.origin {
					continue
				}
				if err := handler(loopCtx, event); err != nil {
					log.Printf("realtime: handle %s event %s: %v", event.Type, event.ID, err)
				}
			}
		}
	}()
	return nil
}

// Close stops the subscription loop and closes the Redis connection.
func (b *RedisBus) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.client.Close()
}

// Ping checks if Redis is reachable.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
