package models

import "time"

// Config is a key/value row. The server keeps generated secrets here; the client
// state database uses the same table for its persisted local state.
type Config struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
