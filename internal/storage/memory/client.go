package memory

import (
	"context"
	"sync"
	"time"
)

const apiTokenTTL = 30 * 24 * time.Hour

type item struct {
	val string
	exp time.Time
}

// Client is the in-memory TokenStore used by -dev mode (no Redis required).
type Client struct {
	mu     sync.RWMutex
	tokens map[string]item
}

func New() *Client {
	return &Client{tokens: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetAPIToken(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[token] = item{val: userID, exp: time.Now().Add(apiTokenTTL)}
	return nil
}

func (c *Client) UserIDByToken(ctx context.Context, token string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tokens[token]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteAPIToken(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, token)
	return nil
}
