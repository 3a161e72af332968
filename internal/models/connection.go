package models

// Connection is a live API Gateway WebSocket connection owned by a user.
type Connection struct {
	ConnectionID string `json:"connectionId" dynamodbav:"connectionId"`
	UserID       string `json:"userId" dynamodbav:"userId"`
	ConnectedAt  int64  `json:"connectedAt" dynamodbav:"connectedAt"` // Unix ms
	ExpiresAt    int64  `json:"expiresAt" dynamodbav:"expiresAt"`     // Unix seconds, DynamoDB TTL
}
