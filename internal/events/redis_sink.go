package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events as JSON on a redis channel for external consumers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink builds a sink publishing to channel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Handle is an EventHandler.
func (s *RedisSink) Handle(ctx context.Context, event Event) error {
	if s == nil || s.client == nil {
		return errors.New("redis sink not configured")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, raw).Err()
}
