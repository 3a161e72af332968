package store

import (
	"context"
	"errors"

	"github.com/eldtechnologies/nimbleai/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// IntegrationStore defines persistent storage of linked third-party accounts.
// Both PostgresStore and SQLiteStore implement this interface.
type IntegrationStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	UpsertIntegration(ctx context.Context, in *models.Integration) error
	GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error)
	ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error)
	DeleteIntegration(ctx context.Context, userID, provider string) error
}

// Page selects a window of chat history, newest first. History is ordered
// by (timestamp, id); a page holds messages strictly older than the cursor
// (Before, BeforeID). Without BeforeID every message in the Before
// millisecond is excluded. A zero Before starts from the newest message.
type Page struct {
	Limit    int
	Before   int64
	BeforeID string
}

// MessageStore holds chat history per dashboard user.
type MessageStore interface {
	Ping(ctx context.Context) error
	AddMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessages(ctx context.Context, userID string, page Page) ([]models.ChatMessage, error)
}

// ConnectionStore tracks live WebSocket connections.
type ConnectionStore interface {
	PutConnection(ctx context.Context, conn models.Connection) error
	// GetConnection returns nil, nil when the connection is unknown.
	GetConnection(ctx context.Context, connectionID string) (*models.Connection, error)
	DeleteConnection(ctx context.Context, connectionID string) error
	ListUserConnections(ctx context.Context, userID string) ([]models.Connection, error)
}
