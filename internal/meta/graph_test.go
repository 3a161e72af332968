package meta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeCode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/oauth/access_token", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "app-1", q.Get("client_id"))
		assert.Equal(t, "shh", q.Get("client_secret"))
		assert.Equal(t, "code-123", q.Get("code"))
		assert.Equal(t, "https://app.example/cb", q.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"EAAG123","token_type":"bearer","expires_in":5184000}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "v19.0", "app-1", "shh")
	tok, err := c.ExchangeCode(context.Background(), "code-123", "https://app.example/cb")
	require.NoError(t, err)
	assert.Equal(t, "EAAG123", tok.AccessToken)
	assert.Equal(t, "bearer", tok.TokenType)
	require.NotNil(t, tok.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), *tok.ExpiresAt, time.Minute)
}

func TestExchangeCode_NoExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("redirect_uri"))
		w.Write([]byte(`{"access_token":"EAAG456","token_type":"bearer"}`))
	}))
	defer server.Close()

	tok, err := NewClient(server.URL, "v19.0", "a", "s").ExchangeCode(context.Background(), "c", "")
	require.NoError(t, err)
	assert.Nil(t, tok.ExpiresAt)
}

func TestExchangeCode_GraphError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"This authorization code has expired.","type":"OAuthException","code":100,"fbtrace_id":"Axyz"}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "v19.0", "a", "s").ExchangeCode(context.Background(), "old", "")
	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusBadRequest, gerr.StatusCode)
	assert.Equal(t, "OAuthException", gerr.Type)
	assert.Equal(t, 100, gerr.Code)
	assert.Contains(t, gerr.Error(), "expired")
}

func TestExchangeCode_Garbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", "a", "s").ExchangeCode(context.Background(), "c", "")
	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusBadGateway, gerr.StatusCode)
}

func TestExchangeCode_MissingCode(t *testing.T) {
	_, err := NewClient("", "v19.0", "a", "s").ExchangeCode(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrMissingCode)
}
