package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/nimbleai/internal/auth"
	"github.com/eldtechnologies/nimbleai/internal/handlers"
	"github.com/eldtechnologies/nimbleai/internal/models"
	"github.com/eldtechnologies/nimbleai/internal/store"
)

type stubMessages struct{ stored []models.ChatMessage }

func (s *stubMessages) Ping(ctx context.Context) error { return nil }

func (s *stubMessages) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	msg.ID = "01J0000000000000000000000"
	msg.Timestamp = 1
	s.stored = append(s.stored, *msg)
	return nil
}

func (s *stubMessages) GetMessages(ctx context.Context, userID string, page store.Page) ([]models.ChatMessage, error) {
	return s.stored, nil
}

func newTestRouter(t *testing.T) (http.Handler, *auth.Verifier, *stubMessages) {
	t.Helper()
	verifier := auth.NewVerifier("router-secret")
	msgs := &stubMessages{}
	h := handlers.NewHandler(handlers.Deps{
		Messages: msgs,
		Logger:   zerolog.Nop(),
	})
	return NewRouter(zerolog.Nop(), Options{Handler: h, Verifier: verifier}), verifier, msgs
}

func TestRouter_PublicRoutes(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NimbleAI")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestRouter_HealthDegradedWithoutDatabase(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestRouter_RequiresAuth(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, target := range []string{"/api/messages", "/api/integrations"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}
}

func TestRouter_PostMessage(t *testing.T) {
	r, verifier, msgs := newTestRouter(t)
	token, err := verifier.Issue("user-1", "", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"body":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, msgs.stored, 1)
	assert.Equal(t, "user-1", msgs.stored[0].UserID)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	r, verifier, msgs := newTestRouter(t)
	token, err := verifier.Issue("user-1", "", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("body=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, msgs.stored)
}
