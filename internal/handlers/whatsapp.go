package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/nimbleai/internal/api/middleware"
	"github.com/eldtechnologies/nimbleai/internal/meta"
	"github.com/eldtechnologies/nimbleai/internal/metrics"
	"github.com/eldtechnologies/nimbleai/internal/models"
)

// ExchangeTokenRequest is the body of the WhatsApp code exchange.
type ExchangeTokenRequest struct {
	Code          string `json:"code"`
	RedirectURI   string `json:"redirectUri"`
	WABAID        string `json:"wabaId"`
	PhoneNumberID string `json:"phoneNumberId"`
}

// Integration states reported to the dashboard.
const (
	IntegrationActive         = "active"
	IntegrationExpired        = "expired"
	IntegrationRelinkRequired = "relink_required" // token unreadable, e.g. after a key rotation
)

// IntegrationResponse describes a linked account without its token.
type IntegrationResponse struct {
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	WABAID        string     `json:"wabaId,omitempty"`
	PhoneNumberID string     `json:"phoneNumberId,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// ExchangeTokenResponse is returned after a successful exchange.
type ExchangeTokenResponse struct {
	Success     bool                `json:"success"`
	Integration IntegrationResponse `json:"integration"`
}

func (h *Handler) toIntegrationResponse(in *models.Integration) IntegrationResponse {
	resp := IntegrationResponse{
		Provider:      in.Provider,
		Status:        h.integrationStatus(in, time.Now()),
		ExpiresAt:     in.ExpiresAt,
		WABAID:        in.WABAID,
		PhoneNumberID: in.PhoneNumberID,
	}
	if !in.UpdatedAt.IsZero() {
		updated := in.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

// integrationStatus checks that the stored token still opens with the
// current key and has not expired.
func (h *Handler) integrationStatus(in *models.Integration, now time.Time) string {
	if h.sealer != nil {
		if _, err := h.sealer.Open(in.AccessToken); err != nil {
			h.logger.Warn().
				Err(err).
				Str("user_id", in.UserID).
				Str("provider", in.Provider).
				Msg("stored access token cannot be opened")
			return IntegrationRelinkRequired
		}
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return IntegrationExpired
	}
	return IntegrationActive
}

// ExchangeWhatsAppToken trades an Embedded Signup code for a WhatsApp
// Business access token and stores it sealed against the caller.
func (h *Handler) ExchangeWhatsAppToken(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req ExchangeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		h.Error(w, http.StatusBadRequest, "code is required")
		return
	}

	redirectURI := strings.TrimSpace(req.RedirectURI)
	if redirectURI == "" {
		redirectURI = h.redirectURI
	}

	token, err := h.exchanger.ExchangeCode(r.Context(), code, redirectURI)
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("graph_error").Inc()

		var gerr *meta.GraphError
		if errors.As(err, &gerr) {
			h.logger.Warn().
				Str("user_id", user.ID).
				Int("graph_status", gerr.StatusCode).
				Str("graph_type", gerr.Type).
				Int("graph_code", gerr.Code).
				Msg("graph rejected code exchange")
			h.Error(w, http.StatusBadGateway, gerr.Message)
			return
		}
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("code exchange failed")
		h.Error(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	sealed, err := h.sealer.Seal(token.AccessToken)
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("store_error").Inc()
		h.logger.Error().Err(err).Msg("failed to seal access token")
		h.Error(w, http.StatusInternalServerError, "failed to store integration")
		return
	}

	integration := &models.Integration{
		UserID:        user.ID,
		Provider:      models.ProviderWhatsApp,
		AccessToken:   sealed,
		TokenType:     token.TokenType,
		ExpiresAt:     token.ExpiresAt,
		WABAID:        sanitizeID(req.WABAID),
		PhoneNumberID: sanitizeID(req.PhoneNumberID),
	}
	if err := h.integrations.UpsertIntegration(r.Context(), integration); err != nil {
		metrics.TokenExchanges.WithLabelValues("store_error").Inc()
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to store integration")
		h.Error(w, http.StatusInternalServerError, "failed to store integration")
		return
	}

	metrics.TokenExchanges.WithLabelValues("ok").Inc()
	h.logger.Info().
		Str("user_id", user.ID).
		Str("provider", integration.Provider).
		Str("waba_id", integration.WABAID).
		Msg("whatsapp integration linked")

	h.JSON(w, http.StatusOK, ExchangeTokenResponse{
		Success:     true,
		Integration: h.toIntegrationResponse(integration),
	})
}
