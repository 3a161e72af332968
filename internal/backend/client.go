// Package backend is an HTTP client for the chat message endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/nimbleai/internal/metrics"
	"github.com/eldtechnologies/nimbleai/internal/models"
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// Client calls the chat backend.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a backend client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
			// Redirects are surfaced as errors rather than followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type listResponse struct {
	Messages []models.ChatMessage `json:"messages"`
	HasMore  bool                 `json:"has_more"`
}

// PostMessage stores msg through the backend and returns the stored copy.
func (c *Client) PostMessage(ctx context.Context, token string, msg models.ChatMessage) (*models.ChatMessage, error) {
	return c.PostMessageFrom(ctx, token, "", msg)
}

// PostMessageFrom is PostMessage for a message sent over a socket. The
// backend leaves fan-out of such messages to the caller, which already
// knows the origin connection.
func (c *Client) PostMessageFrom(ctx context.Context, token, connectionID string, msg models.ChatMessage) (*models.ChatMessage, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	var header http.Header
	if connectionID != "" {
		header = http.Header{}
		header.Set(models.HeaderOriginConnection, connectionID)
	}

	var stored models.ChatMessage
	if err := c.do(ctx, "post_message", http.MethodPost, "/api/messages", token, header, body, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListMessages fetches up to limit of a user's messages, newest first.
func (c *Client) ListMessages(ctx context.Context, token, userID string, limit int) ([]models.ChatMessage, error) {
	q := url.Values{}
	q.Set("userId", userID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp listResponse
	if err := c.do(ctx, "list_messages", http.MethodGet, "/api/messages?"+q.Encode(), token, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []models.ChatMessage{}
	}
	return resp.Messages, nil
}

// do performs an HTTP request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path, token string, header http.Header, body []byte, out interface{}) error {
	start := time.Now()
	defer func() { metrics.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
