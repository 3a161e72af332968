package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/nimbleai/internal/models"
)

func TestPostMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg models.ChatMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "hello", msg.Body)

		msg.ID = "01HX"
		msg.Timestamp = 42
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(msg)
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", time.Second)
	stored, err := c.PostMessage(context.Background(), "tok", models.ChatMessage{UserID: "u1", Body: "hello", Sender: models.SenderAgent})
	require.NoError(t, err)
	assert.Equal(t, "01HX", stored.ID)
	assert.Equal(t, int64(42), stored.Timestamp)
}

func TestListMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"messages":[{"id":"b","userId":"u1","body":"two","ts":2},{"id":"a","userId":"u1","body":"one","ts":1}],"has_more":false}`))
	}))
	defer server.Close()

	msgs, err := NewClient(server.URL, 0).ListMessages(context.Background(), "", "u1", 25)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Body)
}

func TestListMessages_EmptyIsNotNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":null}`))
	}))
	defer server.Close()

	msgs, err := NewClient(server.URL, 0).ListMessages(context.Background(), "", "u1", 0)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"body too long (max 4096 bytes)"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 0).PostMessage(context.Background(), "", models.ChatMessage{})
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusUnprocessableEntity, serr.Code)
	assert.Equal(t, "body too long (max 4096 bytes)", serr.Message)
}

func TestStatusError_NoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 0).ListMessages(context.Background(), "", "u1", 10)
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "Service Unavailable", serr.Message)
}

func TestPostMessageFrom_MarksOrigin(t *testing.T) {
	var origins []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origins = append(origins, r.Header.Get(models.HeaderOriginConnection))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"01HX","userId":"u1","body":"hi","ts":1}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 0)
	_, err := c.PostMessageFrom(context.Background(), "tok", "conn-1", models.ChatMessage{Body: "hi"})
	require.NoError(t, err)
	_, err = c.PostMessage(context.Background(), "tok", models.ChatMessage{Body: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []string{"conn-1", ""}, origins)
}

func TestStatusError_Redirects(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"found", http.StatusFound},
		{"not modified", http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.code == http.StatusFound {
					w.Header().Set("Location", "/login")
				}
				w.WriteHeader(tt.code)
			}))
			defer server.Close()

			msgs, err := NewClient(server.URL, 0).ListMessages(context.Background(), "", "u1", 10)
			assert.Nil(t, msgs)
			var serr *StatusError
			require.True(t, errors.As(err, &serr), "got %v", err)
			assert.Equal(t, tt.code, serr.Code)
		})
	}
}
