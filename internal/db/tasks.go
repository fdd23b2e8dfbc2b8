package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/assistant/internal/db/models"
	"gorm.io/gorm"
)

// ErrInvalidTask is wrapped by task validation failures.
var ErrInvalidTask = errors.New("invalid task")

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Completed *bool
	DueBefore *time.Time
}

// TaskPatch carries optional task updates.
type TaskPatch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	DueAt       *time.Time `json:"due_at"`
	Priority    *string    `json:"priority"`
	Completed   *bool      `json:"completed"`
}

// NormalizePriority maps free-form priorities onto low, medium or high.
func NormalizePriority(p string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", "medium", "normal":
		return "medium", nil
	case "low":
		return "low", nil
	case "high", "urgent":
		return "high", nil
	default:
		return "", fmt.Errorf("%w: priority %q", ErrInvalidTask, p)
	}
}

// ListTasks returns the user's tasks, soonest due first, undated last.
func ListTasks(db *gorm.DB, userID string, filter TaskFilter) ([]models.Task, error) {
	q := db.Where("user_id = ?", userID)
	if filter.Completed != nil {
		q = q.Where("completed = ?", *filter.Completed)
	}
	if filter.DueBefore != nil {
		q = q.Where("due_at IS NOT NULL AND due_at <= ?", *filter.DueBefore)
	}
	tasks := []models.Task{}
	err := q.Order("due_at IS NULL, due_at ASC, created_at ASC").Find(&tasks).Error
	return tasks, err
}

// CreateTask inserts a task for userID.
func CreateTask(db *gorm.DB, userID string, task models.Task) (models.Task, error) {
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return task, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	priority, err := NormalizePriority(task.Priority)
	if err != nil {
		return task, err
	}
	task.ConversationID = strings.TrimSpace(task.ConversationID)
	if task.ConversationID != "" {
		if _, err := GetConversation(db, userID, task.ConversationID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return task, fmt.Errorf("%w: unknown conversation", ErrInvalidTask)
			}
			return task, err
		}
	}
	task.ID = uuid.New().String()
	task.UserID = userID
	task.Priority = priority
	if err := db.Create(&task).Error; err != nil {
		return task, err
	}
	return task, nil
}

// UpdateTask applies patch to one of the user's tasks.
func UpdateTask(db *gorm.DB, userID, id string, patch TaskPatch) (models.Task, error) {
	var task models.Task
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&task).Error; err != nil {
		return task, notFound(err)
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return task, fmt.Errorf("%w: title is required", ErrInvalidTask)
		}
		task.Title = title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.DueAt != nil {
		due := *patch.DueAt
		task.DueAt = &due
	}
	if patch.Priority != nil {
		priority, err := NormalizePriority(*patch.Priority)
		if err != nil {
			return task, err
		}
		task.Priority = priority
	}
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}
	if err := db.Save(&task).Error; err != nil {
		return task, err
	}
	return task, nil
}

// DeleteTask removes one of the user's tasks.
func DeleteTask(db *gorm.DB, userID, id string) error {
	res := db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertVoiceCommand logs a voice interaction.
func InsertVoiceCommand(db *gorm.DB, userID, transcript, response string) (models.VoiceCommand, error) {
	cmd := models.VoiceCommand{UserID: userID, Transcript: transcript, Response: response}
	if err := db.Create(&cmd).Error; err != nil {
		return cmd, err
	}
	return cmd, nil
}

// ListVoiceCommands returns the user's most recent voice commands.
func ListVoiceCommands(db *gorm.DB, userID string, limit int) ([]models.VoiceCommand, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	cmds := []models.VoiceCommand{}
	err := db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit).Find(&cmds).Error
	return cmds, err
}
