// Package apiclient is the HTTP client for the project collaboration API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/projectdesk/internal/model"
)

// TokenSource supplies the API bearer token per request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token as a TokenSource.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Messages fetches a newest-first page of the project's channel history.
func (c *Client) Messages(ctx context.Context, projectID string, limit, offset int) ([]model.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/projects/" + url.PathEscape(projectID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var messages []model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, "", &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts a text-only message and returns the persisted copy with
// its server-assigned id.
func (c *Client) SendMessage(ctx context.Context, projectID, body string) (*model.Message, error) {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return nil, err
	}
	var msg model.Message
	path := "/api/projects/" + url.PathEscape(projectID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json", &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Upload is one file to attach to a message.
type Upload struct {
	Name   string
	Reader io.Reader
}

// SendMessageFiles posts a message with attachments as multipart form data.
func (c *Client) SendMessageFiles(ctx context.Context, projectID, body string, files []Upload) (*model.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("body", body); err != nil {
		return nil, err
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("files[]", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg model.Message
	path := "/api/projects/" + url.PathEscape(projectID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, &buf, mw.FormDataContentType(), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ProgressResult is the server's acknowledgement of a progress update.
type ProgressResult struct {
	OK      bool `json:"ok"`
	Project struct {
		ID       string `json:"id"`
		Progress int    `json:"progress"`
	} `json:"project"`
	Update *model.ProgressUpdate `json:"update"`
}

// UpdateProgress sets the project's completion percentage.
func (c *Client) UpdateProgress(ctx context.Context, projectID string, value int, note string) (*ProgressResult, error) {
	payload, err := json.Marshal(map[string]any{"value": value, "note": note})
	if err != nil {
		return nil, err
	}
	var result ProgressResult
	path := "/api/projects/" + url.PathEscape(projectID) + "/progress"
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ProgressHistory fetches the newest-first progress audit trail.
func (c *Client) ProgressHistory(ctx context.Context, projectID string, limit, offset int) ([]model.ProgressUpdate, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/projects/" + url.PathEscape(projectID) + "/progress"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var updates []model.ProgressUpdate
	if err := c.do(ctx, http.MethodGet, path, nil, "", &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		token, err := c.tokens(ctx)
		if err != nil {
			return fmt.Errorf("api: token source: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var parsed struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &parsed) != nil || parsed.Error == "" {
			parsed.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: parsed.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
