package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/nimbleai/internal/api/middleware"
	"github.com/eldtechnologies/nimbleai/internal/metrics"
	"github.com/eldtechnologies/nimbleai/internal/models"
	"github.com/eldtechnologies/nimbleai/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
	broadcastTimeout    = 5 * time.Second
)

// PostMessageRequest is the body of POST /api/messages.
type PostMessageRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Sender         string `json:"sender"`
	Body           string `json:"body"`
}

// MessagesResponse is a page of chat history. When HasMore is set, the
// next page is requested with before=NextBefore&before_id=NextBeforeID.
type MessagesResponse struct {
	Messages     []models.ChatMessage `json:"messages"`
	HasMore      bool                 `json:"has_more"`
	NextBefore   int64                `json:"next_before,omitempty"`
	NextBeforeID string               `json:"next_before_id,omitempty"`
}

// PostMessage stores a chat message for the caller and notifies their
// open sockets.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UserID != "" && req.UserID != user.ID {
		h.Error(w, http.StatusForbidden, "cannot post messages for another user")
		return
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(body) > models.MaxMessageBody {
		h.Error(w, http.StatusUnprocessableEntity, "body too long (max 4096 bytes)")
		return
	}

	sender := req.Sender
	if sender == "" {
		sender = models.SenderAgent
	}
	if !models.ValidSender(sender) {
		h.Error(w, http.StatusBadRequest, "sender must be one of user, agent, bot")
		return
	}

	msg := &models.ChatMessage{
		UserID:         user.ID,
		ConversationID: sanitizeID(req.ConversationID),
		Sender:         sender,
		Body:           body,
	}

	// Store in Redis (generates ID and timestamp)
	if err := h.messages.AddMessage(r.Context(), msg); err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to store message")
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	metrics.MessagesStored.WithLabelValues(msg.Sender).Inc()

	// Socket-originated messages are fanned out by the router, which
	// excludes the sending connection.
	if origin := r.Header.Get(models.HeaderOriginConnection); origin != "" {
		h.logger.Debug().Str("user_id", user.ID).Str("connection_id", origin).Msg("fan-out left to socket router")
	} else {
		h.broadcast(r.Context(), msg)
	}

	h.JSON(w, http.StatusCreated, msg)
}

// broadcast notifies the user's sockets; failures are logged only.
func (h *Handler) broadcast(ctx context.Context, msg *models.ChatMessage) {
	if h.broadcaster == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
	defer cancel()

	delivered, err := h.broadcaster.Broadcast(ctx, msg.UserID, models.Frame{Type: models.FrameNewMessage, Message: msg}, "")
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", msg.UserID).Msg("broadcast failed")
		return
	}
	h.logger.Debug().Str("user_id", msg.UserID).Int("delivered", delivered).Msg("message broadcast")
}

// GetMessages returns the caller's chat history, newest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	if uid := q.Get("userId"); uid != "" && uid != user.ID {
		h.Error(w, http.StatusForbidden, "cannot read messages of another user")
		return
	}

	limit := defaultMessageLimit
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	// Fetch one extra for the has_more check
	page := store.Page{Limit: limit + 1}
	if beforeStr := q.Get("before"); beforeStr != "" {
		if b, err := strconv.ParseInt(beforeStr, 10, 64); err == nil && b > 0 {
			page.Before = b
			page.BeforeID = sanitizeID(q.Get("before_id"))
		}
	}

	messages, err := h.messages.GetMessages(r.Context(), user.ID, page)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to fetch messages")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	resp := MessagesResponse{Messages: messages}
	if len(messages) > limit {
		resp.Messages = messages[:limit]
		oldest := resp.Messages[limit-1]
		resp.HasMore = true
		resp.NextBefore = oldest.Timestamp
		resp.NextBeforeID = oldest.ID
	}
	if resp.Messages == nil {
		resp.Messages = []models.ChatMessage{}
	}

	h.JSON(w, http.StatusOK, resp)
}
