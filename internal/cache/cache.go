// Package cache provides an optional read cache for event listings.
// Cached reads are display-only and may be slightly stale; the
// registration path never goes through here.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"rsvpd/internal/model"
)

// EventCache stores event listings under string keys.
type EventCache interface {
	GetEvents(ctx context.Context, key string) ([]model.Event, bool)
	SetEvents(ctx context.Context, key string, events []model.Event, ttl time.Duration)
}

// Redis is an EventCache backed by a Redis instance. Cache failures are
// treated as misses; the caller falls through to the store.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Redis{client: client}, nil
}

func (r *Redis) GetEvents(ctx context.Context, key string) ([]model.Event, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, false
	}
	return events, true
}

func (r *Redis) SetEvents(ctx context.Context, key string, events []model.Event, ttl time.Duration) {
	data, err := json.Marshal(events)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, data, ttl).Err()
}

// Close releases the underlying Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Noop is the EventCache used when no Redis address is configured.
type Noop struct{}

func (Noop) GetEvents(ctx context.Context, key string) ([]model.Event, bool) { return nil, false }

func (Noop) SetEvents(ctx context.Context, key string, events []model.Event, ttl time.Duration) {}
