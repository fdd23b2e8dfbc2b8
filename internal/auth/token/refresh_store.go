package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pysugar/assistant/internal/db/models"
	"github.com/pysugar/assistant/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidRefreshToken indicates the token is unknown, revoked or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates an already-rotated token was presented again.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshStore persists opaque refresh tokens with rotation and replay detection.
type RefreshStore interface {
	NewToken(userID string, ttl time.Duration) (string, error)
	RotateToken(token string, ttl time.Duration) (userID string, newToken string, err error)
	DeleteToken(token string) error
	DeleteUser(userID string) error
}

// GormRefreshStore keeps refresh token hashes in the refresh_tokens table.
// Rotated rows stay until expiry so a replay can be recognised.
type GormRefreshStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormRefreshStore creates a database-backed refresh store.
func NewGormRefreshStore(db *gorm.DB) *GormRefreshStore {
	return &GormRefreshStore{db: db, now: time.Now}
}

// NewToken issues a token for userID and prunes the user's expired rows.
func (s *GormRefreshStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	s.db.Where("user_id = ? AND expires_at < ?", userID, now).Delete(&models.RefreshToken{})
	row := models.RefreshToken{
		Hash:      refreshTokenHash(token),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return "", err
	}
	return token, nil
}

// RotateToken exchanges token for a new one. Presenting a rotated token revokes
// every token of its user.
func (s *GormRefreshStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)
	now := s.now()
	var userID, next string
	replayed, expired := false, false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row models.RefreshToken
		if err := tx.Where("hash = ?", hash).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		if row.RotatedAt != nil {
			replayed = true
			userID = row.UserID
			return tx.Where("user_id = ?", row.UserID).Delete(&models.RefreshToken{}).Error
		}
		if now.After(row.ExpiresAt) {
			expired = true
			return tx.Delete(&row).Error
		}

		rotatedAt := now
		row.RotatedAt = &rotatedAt
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		var err error
		next, err = generateRefreshToken()
		if err != nil {
			return err
		}
		userID = row.UserID
		return tx.Create(&models.RefreshToken{
			Hash:      refreshTokenHash(next),
			UserID:    row.UserID,
			ExpiresAt: now.Add(ttl),
		}).Error
	})
	if err != nil {
		return "", "", err
	}
	if expired {
		return "", "", ErrInvalidRefreshToken
	}
	if replayed {
		logging.L().Warn("🚨 Refresh token replay, revoked all sessions", zap.String("user_id", userID))
		return "", "", ErrRefreshTokenReplay
	}
	return userID, next, nil
}

// DeleteToken revokes a single token.
func (s *GormRefreshStore) DeleteToken(token string) error {
	return s.db.Where("hash = ?", refreshTokenHash(token)).Delete(&models.RefreshToken{}).Error
}

// DeleteUser revokes every token of userID.
func (s *GormRefreshStore) DeleteUser(userID string) error {
	return s.db.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
}

func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
