// Package credstore keeps the API bearer token in the user's config
// directory so CLI tools and background agents share one login.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoToken is returned when no token has been saved yet.
var ErrNoToken = errors.New("credstore: no token saved")

// Store reads and writes one token file.
type Store struct {
	path string
}

// New returns a store at an explicit path, or the default location
// (<user config dir>/projectdesk/token) when path is empty.
func New(path string) (*Store, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("credstore: config dir: %w", err)
		}
		path = filepath.Join(dir, "projectdesk", "token")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

// Save writes the token with owner-only permissions.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credstore: refusing to save empty token")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credstore: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("credstore: write: %w", err)
	}
	return nil
}

// Load returns the saved token, or ErrNoToken.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("credstore: read: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Clear deletes the saved token. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credstore: remove: %w", err)
	}
	return nil
}

// TokenSource adapts the store to clients that pull the token per request.
func (s *Store) TokenSource() func(ctx context.Context) (string, error) {
	return func(context.Context) (string, error) {
		return s.Load()
	}
}
