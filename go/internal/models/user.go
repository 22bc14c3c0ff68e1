package models

import (
	"github.com/google/uuid"
)

// Profile holds the display identity of a user.
type Profile struct {
	UserID      uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}
