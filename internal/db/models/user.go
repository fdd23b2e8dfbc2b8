package models

import "time"

// User is an identity known to the auth service.
type User struct {
	ID           string `gorm:"primaryKey"` // UUID
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile holds presentation fields for a user; its ID is the user ID.
type Profile struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Settings stores per-user preferences, one row per user.
type Settings struct {
	UserID               string    `gorm:"primaryKey" json:"user_id"`
	Language             string    `gorm:"default:'en'" json:"language"`
	Theme                string    `gorm:"default:'system'" json:"theme"`
	VoiceEnabled         bool      `json:"voice_enabled"`
	AutoSpeak            bool      `json:"auto_speak"`
	VoiceName            string    `json:"voice_name,omitempty"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// RefreshToken is a hashed, rotating refresh credential.
type RefreshToken struct {
	Hash      string `gorm:"primaryKey"` // sha256 hex of the opaque token
	UserID    string `gorm:"index;not null"`
	ExpiresAt time.Time
	RotatedAt *time.Time // set once the token has been exchanged
	CreatedAt time.Time
}
