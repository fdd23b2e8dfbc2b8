package models

import "time"

// Conversation groups the messages of one chat thread.
type Conversation struct {
	ID        string    `gorm:"primaryKey" json:"id"` // UUID
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// Message is one turn side. ID is monotonic so ordering is stable within a timestamp.
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Role           string    `gorm:"not null" json:"role"` // user, assistant
	Content        string    `gorm:"type:text" json:"content"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// Task is a to-do item or reminder.
type Task struct {
	ID             string     `gorm:"primaryKey" json:"id"` // UUID
	UserID         string     `gorm:"index;not null" json:"user_id"`
	Title          string     `gorm:"not null" json:"title"`
	Description    string     `json:"description,omitempty"`
	DueAt          *time.Time `gorm:"index" json:"due_at,omitempty"`
	Priority       string     `gorm:"default:'medium'" json:"priority"` // low, medium, high
	Completed      bool       `json:"completed"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// VoiceCommand logs a spoken request and the reply it produced.
type VoiceCommand struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string    `gorm:"index;not null" json:"user_id"`
	Transcript string    `gorm:"type:text" json:"transcript"`
	Response   string    `gorm:"type:text" json:"response"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
