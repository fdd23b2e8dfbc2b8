package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/assistant/internal/db/models"
	"github.com/pysugar/assistant/internal/logging"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

const signingKeyConfigKey = "jwt_signing_key"

// InitDB opens the server database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every server table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Config{},
		&models.User{},
		&models.Profile{},
		&models.Settings{},
		&models.RefreshToken{},
		&models.Conversation{},
		&models.Message{},
		&models.Task{},
		&models.VoiceCommand{},
	)
}

// OpenState opens the client-side state database (key/value rows only).
func OpenState(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.Config{}); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func open(path string) (*gorm.DB, error) {
	level := logger.Warn
	if logging.L().Core().Enabled(zapcore.DebugLevel) {
		level = logger.Info
	}
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
}

// EnsureSigningKey returns the configured secret, or the persisted one, generating
// and storing a new secret on first run.
func EnsureSigningKey(db *gorm.DB, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	var cfg models.Config
	err := db.Where("key = ?", signingKeyConfigKey).First(&cfg).Error
	if err == nil && cfg.Value != "" {
		return cfg.Value, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(keyBytes)
	if err := db.Save(&models.Config{Key: signingKeyConfigKey, Value: secret}).Error; err != nil {
		return "", err
	}
	logging.L().Info("🔑 Generated new token signing key")
	return secret, nil
}
