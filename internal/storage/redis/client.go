package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// API tokens live for 30 days; the admin console re-issues them on login.
const apiTokenTTL = 30 * 24 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Raw exposes the underlying client for pub/sub (broadcast bridge) and the
// push service's subscription storage.
func (c *Client) Raw() *redis.Client {
	return c.cli
}

// SetAPIToken stores a bearer token under api_token:{token}, TTL 30 days.
func (c *Client) SetAPIToken(ctx context.Context, token, userID string) error {
	return c.cli.Set(ctx, "api_token:"+token, userID, apiTokenTTL).Err()
}

// UserIDByToken returns the user id for a bearer token, or "" if unknown.
func (c *Client) UserIDByToken(ctx context.Context, token string) (string, error) {
	val, err := c.cli.Get(ctx, "api_token:"+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// DeleteAPIToken revokes a bearer token (logout).
func (c *Client) DeleteAPIToken(ctx context.Context, token string) error {
	return c.cli.Del(ctx, "api_token:"+token).Err()
}
