package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/nimbleai/internal/api/middleware"
	"github.com/eldtechnologies/nimbleai/internal/meta"
	"github.com/eldtechnologies/nimbleai/internal/models"
	"github.com/eldtechnologies/nimbleai/internal/store"
)

// memIntegrations is an in-memory IntegrationStore.
type memIntegrations struct {
	mu      sync.Mutex
	rows    map[string]models.Integration
	pingErr error
}

func newMemIntegrations() *memIntegrations {
	return &memIntegrations{rows: make(map[string]models.Integration)}
}

func (m *memIntegrations) Close()                         {}
func (m *memIntegrations) Ping(ctx context.Context) error { return m.pingErr }

func (m *memIntegrations) UpsertIntegration(ctx context.Context, in *models.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	key := in.UserID + "/" + in.Provider
	if existing, ok := m.rows[key]; ok {
		in.CreatedAt = existing.CreatedAt
	} else {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	m.rows[key] = *in
	return nil
}

func (m *memIntegrations) GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.rows[userID+"/"+provider]
	if !ok {
		return nil, nil
	}
	return &in, nil
}

func (m *memIntegrations) ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Integration
	for _, in := range m.rows {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *memIntegrations) DeleteIntegration(ctx context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + provider
	if _, ok := m.rows[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

// memMessages is an in-memory MessageStore ordered by (timestamp, id).
type memMessages struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
	next int64
	err  error
}

func (m *memMessages) Ping(ctx context.Context) error { return m.err }

func (m *memMessages) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%04d", m.next)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = m.next
	}
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memMessages) GetMessages(ctx context.Context, userID string, page store.Page) ([]models.ChatMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range m.msgs {
		if msg.UserID != userID {
			continue
		}
		if page.Before > 0 {
			tied := msg.Timestamp == page.Before && page.BeforeID != "" && msg.ID < page.BeforeID
			if msg.Timestamp >= page.Before && !tied {
				continue
			}
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

type fakeExchanger struct {
	token       *meta.Token
	err         error
	gotCode     string
	gotRedirect string
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*meta.Token, error) {
	f.gotCode = code
	f.gotRedirect = redirectURI
	return f.token, f.err
}

type prefixSealer struct{ err error }

func (s prefixSealer) Seal(plaintext string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "sealed:" + plaintext, nil
}

func (s prefixSealer) Open(sealed string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if !strings.HasPrefix(sealed, "sealed:") {
		return "", errors.New("not sealed")
	}
	return strings.TrimPrefix(sealed, "sealed:"), nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames []models.Frame
	users  []string
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, userID string, frame models.Frame, except string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = append(b.users, userID)
	b.frames = append(b.frames, frame)
	return 1, nil
}

type fixture struct {
	h            *Handler
	integrations *memIntegrations
	messages     *memMessages
	exchanger    *fakeExchanger
	broadcaster  *recordingBroadcaster
	router       chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		integrations: newMemIntegrations(),
		messages:     &memMessages{},
		exchanger:    &fakeExchanger{token: &meta.Token{AccessToken: "EAAG-secret", TokenType: "bearer"}},
		broadcaster:  &recordingBroadcaster{},
	}
	f.h = NewHandler(Deps{
		Integrations: f.integrations,
		Messages:     f.messages,
		Exchanger:    f.exchanger,
		Sealer:       prefixSealer{},
		Broadcaster:  f.broadcaster,
		RedirectURI:  "https://app.example/whatsapp/callback",
		Logger:       zerolog.Nop(),
	})

	r := chi.NewRouter()
	r.Get("/health", f.h.Health)
	r.Get("/api", f.h.Root)
	r.Post("/api/whatsapp/exchange-token", f.h.ExchangeWhatsAppToken)
	r.Get("/api/integrations", f.h.ListIntegrations)
	r.Delete("/api/integrations/{provider}", f.h.DeleteIntegration)
	r.Post("/api/messages", f.h.PostMessage)
	r.Get("/api/messages", f.h.GetMessages)
	f.router = r
	return f
}

// do performs a request as userID; an empty userID sends it anonymously.
func (f *fixture) do(t *testing.T, method, target, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return f.doWithHeader(t, method, target, userID, body, nil)
}

func (f *fixture) doWithHeader(t *testing.T, method, target, userID string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if userID != "" {
		req = req.WithContext(middleware.WithUser(req.Context(), &middleware.User{ID: userID}))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "pass", resp.Checks["database"].Status)
	assert.Equal(t, "pass", resp.Checks["redis"].Status)
	assert.NotContains(t, resp.Checks, "connections")
}

func TestHealth_Degraded(t *testing.T) {
	f := newFixture(t)
	f.messages.err = errors.New("redis down")

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "fail", resp.Checks["redis"].Status)
}

func TestRoot(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RootResponse
	decode(t, rec, &resp)
	assert.Equal(t, "NimbleAI", resp.Name)
	assert.Equal(t, version, resp.Version)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "1234", sanitizeID("  12\x0034\n "))
	assert.Len(t, sanitizeID(string(bytes.Repeat([]byte("a"), 300))), 128)
}
