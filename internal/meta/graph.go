// Package meta exchanges WhatsApp Embedded Signup codes for Business access
// tokens through the Meta Graph API.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrMissingCode is returned when ExchangeCode is called without a code.
var ErrMissingCode = errors.New("authorization code is required")

// GraphError is the error envelope returned by the Graph API.
type GraphError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	TraceID    string `json:"fbtrace_id,omitempty"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph error %d (%s/%d): %s", e.StatusCode, e.Type, e.Code, e.Message)
}

// Token is the result of a successful code exchange.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   *time.Time // nil for tokens without expiry
}

// Client talks to the Graph API oauth endpoint.
type Client struct {
	BaseURL    string
	Version    string
	AppID      string
	AppSecret  string
	HTTPClient *http.Client
}

// NewClient creates a Graph API client.
func NewClient(baseURL, version, appID, appSecret string) *Client {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Version:    version,
		AppID:      appID,
		AppSecret:  appSecret,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	Error       *GraphError `json:"error"`
}

// ExchangeCode trades a short-lived OAuth code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	q := url.Values{}
	q.Set("client_id", c.AppID)
	q.Set("client_secret", c.AppSecret)
	q.Set("code", code)
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}

	endpoint := c.BaseURL + "/oauth/access_token"
	if c.Version != "" {
		endpoint = fmt.Sprintf("%s/%s/oauth/access_token", c.BaseURL, c.Version)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &GraphError{StatusCode: resp.StatusCode, Message: "unparseable response", Type: "decode"}
	}

	if tr.Error != nil {
		tr.Error.StatusCode = resp.StatusCode
		return nil, tr.Error
	}
	if resp.StatusCode >= 400 || tr.AccessToken == "" {
		return nil, &GraphError{StatusCode: resp.StatusCode, Message: "no access token in response", Type: "empty"}
	}

	tok := &Token{AccessToken: tr.AccessToken, TokenType: tr.TokenType}
	if tr.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
		tok.ExpiresAt = &exp
	}
	return tok, nil
}
