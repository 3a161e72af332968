package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/meta"
	"github.com/eldtechnologies/nimbleai/internal/models"
	"github.com/eldtechnologies/nimbleai/internal/store"
)

// TokenExchanger trades an OAuth code for a provider access token.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*meta.Token, error)
}

// TokenSealer encrypts access tokens before they are persisted and reads
// them back.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Broadcaster pushes a frame to every live socket of a user.
type Broadcaster interface {
	Broadcast(ctx context.Context, userID string, frame models.Frame, except string) (int, error)
}

// Pinger is a dependency reported by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups the collaborators a Handler needs. Nil optional fields
// disable the matching feature.
type Deps struct {
	Integrations store.IntegrationStore
	Messages     store.MessageStore
	Exchanger    TokenExchanger
	Sealer       TokenSealer
	Broadcaster  Broadcaster // optional
	Connections  Pinger      // optional, reported by /health when set
	RedirectURI  string
	Logger       zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	integrations store.IntegrationStore
	messages     store.MessageStore
	exchanger    TokenExchanger
	sealer       TokenSealer
	broadcaster  Broadcaster
	connections  Pinger
	redirectURI  string
	logger       zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		integrations: d.Integrations,
		messages:     d.Messages,
		exchanger:    d.Exchanger,
		sealer:       d.Sealer,
		broadcaster:  d.Broadcaster,
		connections:  d.Connections,
		redirectURI:  d.RedirectURI,
		logger:       d.Logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeID trims an identifier and strips control characters, limiting it
// to 128 bytes.
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)

	id = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, id)

	if len(id) > 128 {
		id = id[:128]
	}

	return id
}
