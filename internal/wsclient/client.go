// Package wsclient is a reconnecting WebSocket client for the chat socket.
// It requests stored messages whenever a connection is established and
// fans inbound frames out to handlers registered per frame type.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/backend"
	"github.com/eldtechnologies/nimbleai/internal/metrics"
	"github.com/eldtechnologies/nimbleai/internal/models"
)

// Synthetic frame types emitted by the client itself.
const (
	FrameConnected        = "connected"
	FrameDisconnected     = "disconnected"
	FrameConnectionFailed = "connection_failed"
)

var (
	// ErrNotConnected is returned when writing without a live socket.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("websocket client closed")
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Config holds client configuration.
type Config struct {
	URL        string
	UserID     string
	Token      string
	BackendURL string

	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	PingInterval         time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Handler receives frames of the type it was registered for.
type Handler func(frame models.Frame)

type subscription struct {
	id uint64
	fn Handler
}

// Client is a WebSocket client with automatic reconnection.
type Client struct {
	cfg     Config
	logger  zerolog.Logger
	dialer  *websocket.Dialer
	backend *backend.Client

	mu           sync.Mutex
	conn         *websocket.Conn
	done         chan struct{} // closed when conn goes away
	closed       bool
	reconnecting bool
	stop         chan struct{}

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]subscription
	nextSubID  uint64
}

// New creates a Client. Call Connect to open the socket.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg.setDefaults()

	c := &Client{
		cfg:      cfg,
		logger:   logger.With().Str("component", "wsclient").Str("user_id", cfg.UserID).Logger(),
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		stop:     make(chan struct{}),
		handlers: make(map[string][]subscription),
	}
	if cfg.BackendURL != "" {
		c.backend = backend.NewClient(cfg.BackendURL, 0)
	}
	return c
}

// Connect opens the socket and requests stored messages. If the dial
// fails the error is returned and reconnection is scheduled.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("websocket connection failed")
		if ctx.Err() == nil {
			go c.reconnect()
		}
		return err
	}

	c.attach(conn)
	return nil
}

// dialURL appends the user id and token to the socket URL.
func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("userId", c.cfg.UserID)
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.dialURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return conn, nil
}

// attach installs conn as the live socket and starts its loops.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	done := make(chan struct{})
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	c.logger.Info().Msg("websocket connected")

	go c.readLoop(conn)
	go c.pingLoop(conn, done)

	c.emit(models.Frame{Type: FrameConnected})

	if err := c.FetchMessages(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to request messages")
	}
}

// detach clears conn if it is still the live socket. It reports whether
// the caller should schedule a reconnect.
func (c *Client) detach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return false
	}
	c.conn = nil
	close(c.done)
	c.done = nil
	return !c.closed
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			conn.Close()
			if c.detach(conn) {
				c.logger.Info().Msg("websocket disconnected")
				c.emit(models.Frame{Type: FrameDisconnected})
				go c.reconnect()
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		case <-done:
			return
		}
	}
}

// newBackOff returns the reconnect schedule: BaseDelay doubling per
// attempt, capped at MaxDelay, without jitter.
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// reconnect retries the dial up to MaxReconnectAttempts times.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	// Cleared before attach so that a drop of the new socket starts a
	// fresh cycle with a reset attempt count.
	finish := func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}

	b := c.newBackOff()
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := b.NextBackOff()
		c.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxReconnectAttempts).
			Dur("delay", delay).
			Msg("reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.stop:
			timer.Stop()
			finish()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			lastErr = err
			metrics.ClientReconnects.WithLabelValues("failed").Inc()
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		metrics.ClientReconnects.WithLabelValues("ok").Inc()
		finish()
		c.attach(conn)
		return
	}

	finish()
	metrics.ClientReconnects.WithLabelValues("exhausted").Inc()
	c.logger.Error().Err(lastErr).Int("attempts", c.cfg.MaxReconnectAttempts).Msg("giving up reconnecting")

	data, _ := json.Marshal(map[string]string{"reason": "max reconnect attempts reached"})
	c.emit(models.Frame{Type: FrameConnectionFailed, Data: data})
}

// OnMessage registers handler for frames of the given type. The returned
// function removes this handler only.
func (c *Client) OnMessage(frameType string, handler Handler) func() {
	c.handlersMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.handlers[frameType] = append(c.handlers[frameType], subscription{id: id, fn: handler})
	c.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			defer c.handlersMu.Unlock()
			subs := c.handlers[frameType]
			for i, s := range subs {
				if s.id == id {
					c.handlers[frameType] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(c.handlers[frameType]) == 0 {
				delete(c.handlers, frameType)
			}
		})
	}
}

func (c *Client) dispatch(data []byte) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if frame.Type == "" {
		c.logger.Warn().Msg("dropping frame without type")
		return
	}
	c.emit(frame)
}

// emit runs every handler registered for frame.Type in registration order.
func (c *Client) emit(frame models.Frame) {
	c.handlersMu.RLock()
	subs := append([]subscription(nil), c.handlers[frame.Type]...)
	c.handlersMu.RUnlock()

	for _, s := range subs {
		c.invoke(frame, s.fn)
	}
}

func (c *Client) invoke(frame models.Frame, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("frame", frame.Type).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("handler panic recovered")
		}
	}()
	fn(frame)
}

// Send writes v as a JSON text frame.
func (c *Client) Send(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// FetchMessages asks the router for the user's stored messages.
func (c *Client) FetchMessages() error {
	return c.Send(models.Frame{
		Action:    models.ActionFetchMessages,
		UserID:    c.cfg.UserID,
		RequestID: uuid.NewString(),
	})
}

// SendMessage stores msg through the HTTP backend and returns the stored
// copy. Other sockets of the user learn about it via new_message.
func (c *Client) SendMessage(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	if c.backend == nil {
		return nil, errors.New("backend URL not configured")
	}
	if msg.UserID == "" {
		msg.UserID = c.cfg.UserID
	}
	return c.backend.PostMessage(ctx, c.cfg.Token, msg)
}

// IsConnected reports whether a socket is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the socket and stops reconnecting. It is safe to call more
// than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	conn := c.conn
	c.conn = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := conn.Close()
	c.emit(models.Frame{Type: FrameDisconnected})
	c.logger.Info().Msg("websocket closed")
	return err
}
