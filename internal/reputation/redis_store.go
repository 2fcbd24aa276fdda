package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mapvet/api/internal/engine"
)

// RedisStore keeps per-user reputation scores in a Redis hash and a short
// trail of recent events per user.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed reputation store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "reputation:",
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// UserReputation reads the user's accumulated score. Unknown users start at
// level 1 with zero score.
func (s *RedisStore) UserReputation(ctx context.Context, userID string) (engine.Reputation, error) {
	score, err := s.client.HGet(ctx, s.key(userID), "score").Float64()
	if err == redis.Nil {
		return engine.Reputation{Level: 1, Score: 0}, nil
	}
	if err != nil {
		return engine.Reputation{}, fmt.Errorf("read reputation for %s: %w", userID, err)
	}
	return engine.Reputation{Level: LevelForScore(score), Score: score}, nil
}

type reputationEvent struct {
	Type       string         `json:"type"`
	Weight     float64        `json:"weight"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// RecordEvent adds the event's weight to the user's score and keeps the
// last 100 events for inspection.
func (s *RedisStore) RecordEvent(ctx context.Context, userID, eventType string, weight float64, metadata map[string]any) error {
	key := s.key(userID)
	if err := s.client.HIncrByFloat(ctx, key, "score", weight).Err(); err != nil {
		return fmt.Errorf("increment reputation for %s: %w", userID, err)
	}

	event := reputationEvent{
		Type:       eventType,
		Weight:     weight,
		Metadata:   metadata,
		RecordedAt: time.Now().UTC(),
	}
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal reputation event: %w", err)
	}
	eventsKey := key + ":events"
	if err := s.client.LPush(ctx, eventsKey, jsonData).Err(); err != nil {
		return fmt.Errorf("record reputation event for %s: %w", userID, err)
	}
	if err := s.client.LTrim(ctx, eventsKey, 0, 99).Err(); err != nil {
		return fmt.Errorf("trim reputation events for %s: %w", userID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
