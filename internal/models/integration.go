package models

import "time"

// ProviderWhatsApp identifies the WhatsApp Business integration.
const ProviderWhatsApp = "whatsapp"

// Integration is a third-party account linked to a dashboard user.
type Integration struct {
	UserID        string     `json:"userId"`
	Provider      string     `json:"provider"`
	AccessToken   string     `json:"-"` // Sealed at rest
	TokenType     string     `json:"tokenType,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	WABAID        string     `json:"wabaId,omitempty"`
	PhoneNumberID string     `json:"phoneNumberId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
