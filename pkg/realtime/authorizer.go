package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TokenSource supplies the caller's API bearer token.
type TokenSource func(ctx context.Context) (string, error)

// HTTPAuthorizer performs the channel-join handshake against an auth endpoint
// (the web tier's /broadcasting/auth proxy or the backend directly). It posts
// the socket id and channel name and returns the signed subscribe token.
func HTTPAuthorizer(authURL string, tokens TokenSource) Authorizer {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, socketID, channelName string) (string, error) {
		body, err := json.Marshal(map[string]string{
			"socket_id":    socketID,
			"channel_name": channelName,
		})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if tokens != nil {
			token, err := tokens(ctx)
			if err != nil {
				return "", fmt.Errorf("realtime: token source: %w", err)
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("realtime: auth endpoint returned %d", resp.StatusCode)
		}
		var parsed struct {
			Auth string `json:"auth"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return "", fmt.Errorf("realtime: decode auth response: %w", err)
		}
		if parsed.Auth == "" {
			return "", fmt.Errorf("realtime: auth endpoint returned no token")
		}
		return parsed.Auth, nil
	}
}
