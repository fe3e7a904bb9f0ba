package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenstack/logflow/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client. It is shared by the identity cache,
// the rate limiter, the project queues, and the notification bus, since
// all four ride on the same Redis instance.
type Client struct {
	Raw *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{Raw: redis.NewClient(opt)}, nil
}

func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.Raw.Ping(ctx).Err()
}

func (r *Client) Close() error {
	return r.Raw.Close()
}
