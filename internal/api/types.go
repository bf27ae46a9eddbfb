package api

import (
	"time"

	"github.com/satriahrh/bidstream/domain/entities"
)

// TokenRequest asks for a token for a known user
type TokenRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// TokenResponse carries a signed user token
type TokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *entities.User `json:"user"`
}

// VoiceIntentRequest carries one finalized recording, base64 encoded
type VoiceIntentRequest struct {
	Audio    string `json:"audio" validate:"required"`
	MimeType string `json:"mime_type"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
