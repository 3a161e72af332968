package models

import "encoding/json"

// Frame types pushed to WebSocket clients.
const (
	FrameMessages    = "messages"
	FrameNewMessage  = "new_message"
	FrameMessageSent = "message_sent"
	FrameError       = "error"
)

// Client actions routed by API Gateway on the "action" field.
const (
	ActionSendMessage   = "sendMessage"
	ActionFetchMessages = "fetch_messages"
)

// HeaderOriginConnection marks a message posted on behalf of a WebSocket
// connection. The router fans such messages out itself.
const HeaderOriginConnection = "X-Origin-Connection"

// Frame is the JSON envelope exchanged over the WebSocket.
type Frame struct {
	Type      string          `json:"type,omitempty"`
	Action    string          `json:"action,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Message   *ChatMessage    `json:"message,omitempty"`
	Messages  []ChatMessage   `json:"messages,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}
