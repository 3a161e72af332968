// Package wsrouter handles API Gateway WebSocket route events: it tracks
// connections, proxies chat requests to the backend and pushes results back.
package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/backend"
	"github.com/eldtechnologies/nimbleai/internal/metrics"
	"github.com/eldtechnologies/nimbleai/internal/models"
	"github.com/eldtechnologies/nimbleai/internal/store"
)

// Route keys handled by the router.
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"
)

// backendTokenTTL bounds the lifetime of tokens minted for proxied calls.
const backendTokenTTL = time.Minute

// MessageBackend is the chat backend the router proxies to.
type MessageBackend interface {
	PostMessageFrom(ctx context.Context, token, connectionID string, msg models.ChatMessage) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, token, userID string, limit int) ([]models.ChatMessage, error)
}

// TokenAuthority verifies connect tokens and mints backend tokens.
type TokenAuthority interface {
	VerifyUser(token, userID string) error
	Issue(userID, email string, ttl time.Duration) (string, error)
}

// Options tune router behavior.
type Options struct {
	ConnectionTTL time.Duration
	FetchLimit    int
}

// Router dispatches WebSocket route events.
type Router struct {
	conns   store.ConnectionStore
	fanout  *Fanout
	backend MessageBackend
	tokens  TokenAuthority
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRouter creates a Router. tokens verifies connects and signs the
// short-lived tokens attached to backend calls.
func NewRouter(conns store.ConnectionStore, pusher Pusher, be MessageBackend, tokens TokenAuthority, opts Options, logger zerolog.Logger) *Router {
	if opts.ConnectionTTL <= 0 {
		opts.ConnectionTTL = 2 * time.Hour
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 100
	}
	return &Router{
		conns:   conns,
		fanout:  NewFanout(conns, pusher, logger),
		backend: be,
		tokens:  tokens,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Fanout exposes the router's pusher for out-of-band broadcasts.
func (rt *Router) Fanout() *Fanout {
	return rt.fanout
}

// inboundFrame is the body of a custom route event.
type inboundFrame struct {
	Action    string `json:"action"`
	RequestID string `json:"requestId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Message   struct {
		ConversationID string `json:"conversationId"`
		Sender         string `json:"sender"`
		Body           string `json:"body"`
	} `json:"message"`
}

// Handle is the Lambda entry point.
func (rt *Router) Handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	route := req.RequestContext.RouteKey
	connectionID := req.RequestContext.ConnectionID

	metrics.SocketEvents.WithLabelValues(routeLabel(route)).Inc()

	log := rt.logger.With().
		Str("route", route).
		Str("connection_id", connectionID).
		Logger()

	switch route {
	case RouteConnect:
		return rt.connect(ctx, log, req)
	case RouteDisconnect:
		return rt.disconnect(ctx, log, connectionID)
	}

	var frame inboundFrame
	if req.Body != "" {
		if err := json.Unmarshal([]byte(req.Body), &frame); err != nil {
			log.Warn().Err(err).Msg("malformed frame")
			rt.reply(ctx, log, connectionID, models.Frame{Type: models.FrameError, Error: "invalid JSON body"})
			return respond(http.StatusBadRequest), nil
		}
	}

	// Custom routes are selected on $request.body.action; $default carries
	// the action in the body only.
	action := route
	if route == RouteDefault {
		action = frame.Action
	}

	switch action {
	case models.ActionSendMessage:
		return rt.sendMessage(ctx, log, connectionID, frame)
	case models.ActionFetchMessages:
		return rt.fetchMessages(ctx, log, connectionID, frame)
	default:
		log.Info().Str("action", frame.Action).Msg("unknown action")
		rt.reply(ctx, log, connectionID, models.Frame{Type: models.FrameError, RequestID: frame.RequestID, Error: "unknown action"})
		return respond(http.StatusOK), nil
	}
}

func (rt *Router) connect(ctx context.Context, log zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := strings.TrimSpace(req.QueryStringParameters["userId"])
	if userID == "" {
		log.Warn().Msg("connect without userId")
		return respond(http.StatusBadRequest), nil
	}

	if err := rt.tokens.VerifyUser(req.QueryStringParameters["token"], userID); err != nil {
		log.Warn().
			Str("type", "security").
			Str("event", "connect_rejected").
			Str("user_id", userID).
			Str("ip", req.RequestContext.Identity.SourceIP).
			Err(err).
			Msg("connect token rejected")
		return respond(http.StatusUnauthorized), nil
	}

	now := rt.now()
	conn := models.Connection{
		ConnectionID: req.RequestContext.ConnectionID,
		UserID:       userID,
		ConnectedAt:  now.UnixMilli(),
		ExpiresAt:    now.Add(rt.opts.ConnectionTTL).Unix(),
	}
	if err := rt.conns.PutConnection(ctx, conn); err != nil {
		log.Error().Err(err).Msg("failed to save connection")
		return respond(http.StatusInternalServerError), nil
	}

	log.Info().Str("user_id", userID).Msg("connection established")
	return respond(http.StatusOK), nil
}

func (rt *Router) disconnect(ctx context.Context, log zerolog.Logger, connectionID string) (events.APIGatewayProxyResponse, error) {
	if err := rt.conns.DeleteConnection(ctx, connectionID); err != nil {
		log.Error().Err(err).Msg("failed to remove connection")
		return respond(http.StatusInternalServerError), nil
	}
	log.Info().Msg("connection closed")
	return respond(http.StatusOK), nil
}

// owner resolves the user behind a connection and mints a backend token.
func (rt *Router) owner(ctx context.Context, connectionID string) (string, string, error) {
	conn, err := rt.conns.GetConnection(ctx, connectionID)
	if err != nil {
		return "", "", err
	}
	if conn == nil {
		return "", "", store.ErrNotFound
	}

	token, err := rt.tokens.Issue(conn.UserID, "", backendTokenTTL)
	if err != nil {
		return "", "", err
	}
	return conn.UserID, token, nil
}

func (rt *Router) sendMessage(ctx context.Context, log zerolog.Logger, connectionID string, frame inboundFrame) (events.APIGatewayProxyResponse, error) {
	userID, token, err := rt.owner(ctx, connectionID)
	if err != nil {
		return rt.fail(ctx, log, connectionID, frame.RequestID, err)
	}

	body := strings.TrimSpace(frame.Message.Body)
	if body == "" {
		rt.reply(ctx, log, connectionID, models.Frame{Type: models.FrameError, RequestID: frame.RequestID, Error: "message body is required"})
		return respond(http.StatusBadRequest), nil
	}

	sender := frame.Message.Sender
	if sender == "" {
		sender = models.SenderAgent
	}

	stored, err := rt.backend.PostMessageFrom(ctx, token, connectionID, models.ChatMessage{
		UserID:         userID,
		ConversationID: frame.Message.ConversationID,
		Sender:         sender,
		Body:           body,
	})
	if err != nil {
		return rt.fail(ctx, log, connectionID, frame.RequestID, err)
	}

	rt.reply(ctx, log, connectionID, models.Frame{Type: models.FrameMessageSent, RequestID: frame.RequestID, Message: stored})

	delivered, err := rt.fanout.Broadcast(ctx, userID, models.Frame{Type: models.FrameNewMessage, Message: stored}, connectionID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("broadcast failed")
	}

	log.Info().
		Str("user_id", userID).
		Str("message_id", stored.ID).
		Int("delivered", delivered).
		Msg("message sent")
	return respond(http.StatusOK), nil
}

func (rt *Router) fetchMessages(ctx context.Context, log zerolog.Logger, connectionID string, frame inboundFrame) (events.APIGatewayProxyResponse, error) {
	userID, token, err := rt.owner(ctx, connectionID)
	if err != nil {
		return rt.fail(ctx, log, connectionID, frame.RequestID, err)
	}

	limit := rt.opts.FetchLimit
	if frame.Limit > 0 && frame.Limit < limit {
		limit = frame.Limit
	}

	msgs, err := rt.backend.ListMessages(ctx, token, userID, limit)
	if err != nil {
		return rt.fail(ctx, log, connectionID, frame.RequestID, err)
	}

	rt.reply(ctx, log, connectionID, models.Frame{Type: models.FrameMessages, RequestID: frame.RequestID, Messages: msgs})
	log.Debug().Str("user_id", userID).Int("count", len(msgs)).Msg("messages fetched")
	return respond(http.StatusOK), nil
}

// fail reports err to the origin connection and maps it to a status.
func (rt *Router) fail(ctx context.Context, log zerolog.Logger, connectionID, requestID string, err error) (events.APIGatewayProxyResponse, error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var serr *backend.StatusError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusGone
		message = "connection not registered"
	case errors.As(err, &serr):
		status = http.StatusBadGateway
		if serr.Code >= http.StatusBadRequest && serr.Code < http.StatusInternalServerError {
			status = serr.Code
		}
		message = serr.Message
	}

	log.Error().Err(err).Int("status", status).Msg("route failed")
	rt.reply(ctx, log, connectionID, models.Frame{Type: models.FrameError, RequestID: requestID, Error: message})
	return respond(status), nil
}

// reply pushes a frame to the origin; failures are only logged.
func (rt *Router) reply(ctx context.Context, log zerolog.Logger, connectionID string, frame models.Frame) {
	if err := rt.fanout.Send(ctx, connectionID, frame); err != nil && !errors.Is(err, ErrGone) {
		log.Warn().Err(err).Str("frame", frame.Type).Msg("reply push failed")
	}
}

func respond(status int) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: http.StatusText(status)}
}

// routeLabel bounds metric cardinality to known routes.
func routeLabel(route string) string {
	switch route {
	case RouteConnect, RouteDisconnect, RouteDefault, models.ActionSendMessage, models.ActionFetchMessages:
		return route
	}
	return "other"
}
