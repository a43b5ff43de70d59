package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes events as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  redis.Cmdable
	channel string
}

// NewRedisNotifier creates a RedisNotifier publishing on channel.
func NewRedisNotifier(client redis.Cmdable, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Publish sends evt to the channel.
func (n *RedisNotifier) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", n.channel, err)
	}
	return nil
}
