package db

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/assistant/internal/db/models"
	"gorm.io/gorm"
)

// ErrEmailTaken is returned by CreateUser for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

// NormalizeEmail lower-cases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a user together with its profile and default settings.
func CreateUser(db *gorm.DB, email, passwordHash, displayName string) (models.User, error) {
	email = NormalizeEmail(email)
	user := models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
	}
	if displayName == "" {
		displayName = LocalPart(email)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.Profile{ID: user.ID, Email: email, DisplayName: displayName}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Settings{
			UserID:               user.ID,
			Language:             "en",
			Theme:                "system",
			NotificationsEnabled: true,
		}).Error
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// LocalPart returns the part of an email before '@'.
func LocalPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

// FindUserByEmail looks up a user by normalized email.
func FindUserByEmail(db *gorm.DB, email string) (models.User, error) {
	var user models.User
	err := db.Where("email = ?", NormalizeEmail(email)).First(&user).Error
	return user, notFound(err)
}

// FindUserByID looks up a user by ID.
func FindUserByID(db *gorm.DB, id string) (models.User, error) {
	var user models.User
	err := db.Where("id = ?", id).First(&user).Error
	return user, notFound(err)
}

// GetProfile returns the profile for userID.
func GetProfile(db *gorm.DB, userID string) (models.Profile, error) {
	var profile models.Profile
	err := db.Where("id = ?", userID).First(&profile).Error
	return profile, notFound(err)
}

// ProfilePatch carries optional profile updates.
type ProfilePatch struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// UpdateProfile applies patch to the caller's profile.
func UpdateProfile(db *gorm.DB, userID string, patch ProfilePatch) (models.Profile, error) {
	profile, err := GetProfile(db, userID)
	if err != nil {
		return profile, err
	}
	if patch.DisplayName != nil {
		profile.DisplayName = strings.TrimSpace(*patch.DisplayName)
	}
	if patch.AvatarURL != nil {
		profile.AvatarURL = strings.TrimSpace(*patch.AvatarURL)
	}
	if err := db.Save(&profile).Error; err != nil {
		return profile, err
	}
	return profile, nil
}

// GetSettings returns the user's settings, or defaults when no row exists yet.
func GetSettings(db *gorm.DB, userID string) (models.Settings, error) {
	var settings models.Settings
	err := db.Where("user_id = ?", userID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Settings{
			UserID:               userID,
			Language:             "en",
			Theme:                "system",
			NotificationsEnabled: true,
		}, nil
	}
	return settings, err
}

// UpsertSettings writes settings for userID, creating the row when needed.
func UpsertSettings(db *gorm.DB, userID string, settings models.Settings) (models.Settings, error) {
	settings.UserID = userID
	settings.UpdatedAt = time.Now()
	if err := db.Save(&settings).Error; err != nil {
		return settings, err
	}
	return settings, nil
}

// DeleteUserCascade removes every row owned by userID, then the user itself.
func DeleteUserCascade(db *gorm.DB, userID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		owned := []interface{}{
			&models.Message{},
			&models.Conversation{},
			&models.Task{},
			&models.VoiceCommand{},
			&models.RefreshToken{},
		}
		for _, model := range owned {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Settings{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", userID).Delete(&models.Profile{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", userID).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
