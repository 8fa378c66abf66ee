package storage

import "context"

// TokenStore resolves bearer API tokens to user ids.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type TokenStore interface {
	SetAPIToken(ctx context.Context, token, userID string) error
	UserIDByToken(ctx context.Context, token string) (string, error)
	DeleteAPIToken(ctx context.Context, token string) error
	Close() error
}
