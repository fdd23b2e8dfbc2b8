package db

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/assistant/internal/db/models"
	"gorm.io/gorm"
)

// ListConversations returns the user's conversations, most recently updated first.
func ListConversations(db *gorm.DB, userID string) ([]models.Conversation, error) {
	convs := []models.Conversation{}
	err := db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error
	return convs, err
}

// CreateConversation inserts a conversation with a fresh ID.
func CreateConversation(db *gorm.DB, userID, title string) (models.Conversation, error) {
	conv := models.Conversation{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  strings.TrimSpace(title),
	}
	if err := db.Create(&conv).Error; err != nil {
		return conv, err
	}
	return conv, nil
}

// GetConversation loads one of the user's conversations.
func GetConversation(db *gorm.DB, userID, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := db.Where("id = ? AND user_id = ?", id, userID).First(&conv).Error
	return conv, notFound(err)
}

// UpdateConversationTitle overwrites the title of one of the user's conversations.
func UpdateConversationTitle(db *gorm.DB, userID, id, title string) (models.Conversation, error) {
	res := db.Model(&models.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"title": strings.TrimSpace(title), "updated_at": time.Now()})
	if res.Error != nil {
		return models.Conversation{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Conversation{}, ErrNotFound
	}
	return GetConversation(db, userID, id)
}

// DeleteConversation removes a conversation and its messages.
func DeleteConversation(db *gorm.DB, userID, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ? AND user_id = ?", id, userID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// InsertMessage appends a message to one of the user's conversations and bumps
// the conversation's updated_at.
func InsertMessage(db *gorm.DB, userID, conversationID, role, content string) (models.Message, error) {
	msg := models.Message{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Conversation{}).
			Where("id = ? AND user_id = ?", conversationID, userID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(&msg).Error
	})
	return msg, err
}

// ListMessages returns a conversation's messages in creation order.
func ListMessages(db *gorm.DB, userID, conversationID string) ([]models.Message, error) {
	if _, err := GetConversation(db, userID, conversationID); err != nil {
		return nil, err
	}
	msgs := []models.Message{}
	err := db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}

// DeleteMessages removes every message of one of the user's conversations.
func DeleteMessages(db *gorm.DB, userID, conversationID string) error {
	if _, err := GetConversation(db, userID, conversationID); err != nil {
		return err
	}
	return db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).Delete(&models.Message{}).Error
}
