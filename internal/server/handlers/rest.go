package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/db/models"
	"gorm.io/gorm"
)

// GetProfileHandler returns the caller's profile. Other users' profiles are not visible.
// GET /rest/v1/profiles/{id}
func GetProfileHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id != currentUser(r) {
			writeError(w, "Not found", http.StatusNotFound)
			return
		}
		profile, err := db.GetProfile(database, id)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

// UpdateProfileHandler patches the caller's profile.
// PATCH /rest/v1/profiles/{id}
func UpdateProfileHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id != currentUser(r) {
			writeError(w, "Not found", http.StatusNotFound)
			return
		}
		var patch db.ProfilePatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		profile, err := db.UpdateProfile(database, id, patch)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

// GetSettingsHandler returns the caller's settings.
// GET /rest/v1/settings
func GetSettingsHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := db.GetSettings(database, currentUser(r))
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

// PutSettingsHandler upserts the caller's settings. Fields missing from the
// body keep their stored values.
// PUT /rest/v1/settings
func PutSettingsHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := currentUser(r)
		settings, err := db.GetSettings(database, userID)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		if !decodeJSON(w, r, &settings) {
			return
		}
		saved, err := db.UpsertSettings(database, userID, settings)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

// ListConversationsHandler lists the caller's conversations, newest first.
// GET /rest/v1/conversations
func ListConversationsHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := db.ListConversations(database, currentUser(r))
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

type titleRequest struct {
	Title string `json:"title"`
}

// CreateConversationHandler inserts a conversation.
// POST /rest/v1/conversations
func CreateConversationHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req titleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conv, err := db.CreateConversation(database, currentUser(r), req.Title)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

// UpdateConversationHandler renames a conversation.
// PATCH /rest/v1/conversations/{id}
func UpdateConversationHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req titleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		conv, err := db.UpdateConversationTitle(database, currentUser(r), chi.URLParam(r, "id"), req.Title)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

// DeleteConversationHandler removes a conversation and its messages.
// DELETE /rest/v1/conversations/{id}
func DeleteConversationHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.DeleteConversation(database, currentUser(r), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListMessagesHandler returns a conversation's messages in creation order.
// GET /rest/v1/conversations/{id}/messages
func ListMessagesHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := db.ListMessages(database, currentUser(r), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// CreateMessageHandler appends a message.
// POST /rest/v1/conversations/{id}/messages
func CreateMessageHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Role != "user" && req.Role != "assistant" {
			writeError(w, "role must be user or assistant", http.StatusBadRequest)
			return
		}
		msg, err := db.InsertMessage(database, currentUser(r), chi.URLParam(r, "id"), req.Role, req.Content)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// DeleteMessagesHandler clears a conversation.
// DELETE /rest/v1/conversations/{id}/messages
func DeleteMessagesHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.DeleteMessages(database, currentUser(r), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListTasksHandler lists tasks; ?completed=true|false and ?due_before=RFC3339 filter.
// GET /rest/v1/tasks
func ListTasksHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter db.TaskFilter
		if v := r.URL.Query().Get("completed"); v != "" {
			completed, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, "completed must be a boolean", http.StatusBadRequest)
				return
			}
			filter.Completed = &completed
		}
		if v := r.URL.Query().Get("due_before"); v != "" {
			due, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, "due_before must be RFC 3339", http.StatusBadRequest)
				return
			}
			filter.DueBefore = &due
		}
		tasks, err := db.ListTasks(database, currentUser(r), filter)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

// CreateTaskHandler inserts a task.
// POST /rest/v1/tasks
func CreateTaskHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var task models.Task
		if !decodeJSON(w, r, &task) {
			return
		}
		created, err := db.CreateTask(database, currentUser(r), task)
		if err != nil {
			if isValidationError(err) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateTaskHandler patches a task.
// PATCH /rest/v1/tasks/{id}
func UpdateTaskHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch db.TaskPatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		task, err := db.UpdateTask(database, currentUser(r), chi.URLParam(r, "id"), patch)
		if err != nil {
			if isValidationError(err) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// DeleteTaskHandler removes a task.
// DELETE /rest/v1/tasks/{id}
func DeleteTaskHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.DeleteTask(database, currentUser(r), chi.URLParam(r, "id")); err != nil {
			writeStoreError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListVoiceCommandsHandler returns the most recent voice commands.
// GET /rest/v1/voice-commands?limit=
func ListVoiceCommandsHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		cmds, err := db.ListVoiceCommands(database, currentUser(r), limit)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cmds)
	}
}

// CreateVoiceCommandHandler logs a voice interaction.
// POST /rest/v1/voice-commands
func CreateVoiceCommandHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Transcript string `json:"transcript"`
			Response   string `json:"response"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Transcript) == "" {
			writeError(w, "transcript is required", http.StatusBadRequest)
			return
		}
		cmd, err := db.InsertVoiceCommand(database, currentUser(r), req.Transcript, req.Response)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, cmd)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, db.ErrInvalidTask)
}
