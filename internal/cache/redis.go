package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rodrigobarona/eleva-care-app-sub005/config"
)

// EventClaims remembers which provider events were already taken by a handler.
type EventClaims struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func NewEventClaims(client *redis.Client, ttl time.Duration) *EventClaims {
	return &EventClaims{client: client, ttl: ttl}
}

// Claim returns false when another delivery of the same event holds the claim.
func (c *EventClaims) Claim(ctx context.Context, source, eventID string) (bool, error) {
	return c.client.SetNX(ctx, eventKey(source, eventID), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
}

// Release drops a claim so a later redelivery is processed again.
func (c *EventClaims) Release(ctx context.Context, source, eventID string) error {
	return c.client.Del(ctx, eventKey(source, eventID)).Err()
}

func (c *EventClaims) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func eventKey(source, eventID string) string {
	return fmt.Sprintf("webhook:%s:event:%s", source, eventID)
}
