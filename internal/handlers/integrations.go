package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/nimbleai/internal/api/middleware"
	"github.com/eldtechnologies/nimbleai/internal/store"
)

// IntegrationsResponse lists the caller's linked accounts.
type IntegrationsResponse struct {
	Integrations []IntegrationResponse `json:"integrations"`
}

// ListIntegrations returns the caller's integrations without tokens, each
// with its current status.
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	list, err := h.integrations.ListIntegrations(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	resp := IntegrationsResponse{Integrations: make([]IntegrationResponse, len(list))}
	for i := range list {
		resp.Integrations[i] = h.toIntegrationResponse(&list[i])
	}

	h.JSON(w, http.StatusOK, resp)
}

// DeleteIntegration unlinks one provider from the caller.
func (h *Handler) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	provider := chi.URLParam(r, "provider")
	if provider == "" {
		h.Error(w, http.StatusBadRequest, "provider is required")
		return
	}

	err := h.integrations.DeleteIntegration(r.Context(), user.ID, provider)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "integration not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.logger.Info().Str("user_id", user.ID).Str("provider", provider).Msg("integration removed")
	w.WriteHeader(http.StatusNoContent)
}
