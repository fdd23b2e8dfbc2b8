// Package localstate persists the client's key/value state in a local SQLite file.
package localstate

import (
	"errors"

	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/db/models"
	"gorm.io/gorm"
)

// Keys used by the client.
const (
	KeySavedAccountsLegacy = "saved_accounts"
	KeySavedAccounts       = "saved_accounts_v2"
	KeyPendingSwitchEmail  = "pending_switch_email"
	KeyAuthSession         = "auth_session"
)

// Store is a gorm-backed key/value store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	database, err := db.OpenState(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: database}, nil
}

// New wraps an already migrated database.
func New(database *gorm.DB) *Store {
	return &Store{db: database}
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var row models.Config
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	return s.db.Save(&models.Config{Key: key, Value: value}).Error
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&models.Config{}).Error
}

// Take returns the value for key and deletes it.
func (s *Store) Take(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row models.Config
		err := tx.Where("key = ?", key).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = row.Value, true
		return tx.Where("key = ?", key).Delete(&models.Config{}).Error
	})
	return value, found, err
}

// Close releases the database.
func (s *Store) Close() error {
	return db.Close(s.db)
}
