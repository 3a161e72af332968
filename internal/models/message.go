package models

// Sender values for ChatMessage.Sender.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
	SenderBot   = "bot"
)

// MaxMessageBody is the largest accepted message body in bytes.
const MaxMessageBody = 4096

// ChatMessage represents a support conversation message stored in Redis.
type ChatMessage struct {
	ID             string `json:"id"`                       // ULID
	UserID         string `json:"userId"`                   // Dashboard account owner
	ConversationID string `json:"conversationId,omitempty"` // Customer thread
	Sender         string `json:"sender"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"ts"` // Unix ms
}

// ValidSender reports whether s is a known sender kind.
func ValidSender(s string) bool {
	switch s {
	case SenderUser, SenderAgent, SenderBot:
		return true
	}
	return false
}
