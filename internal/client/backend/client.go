package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/db/models"
)

// TokenProvider yields a live access token.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// ChatMessage is one entry of the history sent to the chat function.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls the row API and functions on behalf of the signed-in user.
type Client struct {
	req    *Requester
	tokens TokenProvider
}

// New creates a backend client.
func New(req *Requester, tokens TokenProvider) *Client {
	return &Client{req: req, tokens: tokens}
}

func (c *Client) token(ctx context.Context) (string, error) {
	tok, err := c.tokens.AccessToken(ctx)
	if err != nil {
		var tagged *notice.Error
		if errors.As(err, &tagged) {
			return "", err
		}
		return "", notice.Wrap(notice.AuthenticationRequired, "access token", err)
	}
	return tok, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.req.DoJSON(ctx, method, path, tok, payload, out)
}

// GetProfile loads a profile by user id.
func (c *Client) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var profile models.Profile
	err := c.do(ctx, http.MethodGet, "/rest/v1/profiles/"+url.PathEscape(userID), nil, &profile)
	return profile, err
}

// UpdateProfile patches the caller's profile.
func (c *Client) UpdateProfile(ctx context.Context, userID string, patch db.ProfilePatch) (models.Profile, error) {
	var profile models.Profile
	err := c.do(ctx, http.MethodPatch, "/rest/v1/profiles/"+url.PathEscape(userID), patch, &profile)
	return profile, err
}

// GetSettings reads the caller's settings.
func (c *Client) GetSettings(ctx context.Context) (models.Settings, error) {
	var settings models.Settings
	err := c.do(ctx, http.MethodGet, "/rest/v1/settings", nil, &settings)
	return settings, err
}

// PutSettings upserts settings; only the keys present in fields change.
func (c *Client) PutSettings(ctx context.Context, fields map[string]interface{}) (models.Settings, error) {
	var settings models.Settings
	err := c.do(ctx, http.MethodPut, "/rest/v1/settings", fields, &settings)
	return settings, err
}

// ListConversations returns the caller's conversations, newest first.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.do(ctx, http.MethodGet, "/rest/v1/conversations", nil, &convs)
	return convs, err
}

// CreateConversation inserts a conversation.
func (c *Client) CreateConversation(ctx context.Context, title string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/rest/v1/conversations", map[string]string{"title": title}, &conv)
	return conv, err
}

// UpdateConversationTitle renames a conversation.
func (c *Client) UpdateConversationTitle(ctx context.Context, id, title string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPatch, "/rest/v1/conversations/"+url.PathEscape(id), map[string]string{"title": title}, &conv)
	return conv, err
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rest/v1/conversations/"+url.PathEscape(id), nil, nil)
}

// ListMessages returns a conversation's messages in creation order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := c.do(ctx, http.MethodGet, "/rest/v1/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &msgs)
	return msgs, err
}

// InsertMessage appends a message.
func (c *Client) InsertMessage(ctx context.Context, conversationID, role, content string) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/rest/v1/conversations/"+url.PathEscape(conversationID)+"/messages",
		map[string]string{"role": role, "content": content}, &msg)
	return msg, err
}

// DeleteMessages clears a conversation.
func (c *Client) DeleteMessages(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/rest/v1/conversations/"+url.PathEscape(conversationID)+"/messages", nil, nil)
}

// ListTasks lists tasks, optionally filtered.
func (c *Client) ListTasks(ctx context.Context, completed *bool, dueBefore *time.Time) ([]models.Task, error) {
	q := url.Values{}
	if completed != nil {
		q.Set("completed", strconv.FormatBool(*completed))
	}
	if dueBefore != nil {
		q.Set("due_before", dueBefore.UTC().Format(time.RFC3339))
	}
	path := "/rest/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var tasks []models.Task
	err := c.do(ctx, http.MethodGet, path, nil, &tasks)
	return tasks, err
}

// CreateTask inserts a task.
func (c *Client) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	var created models.Task
	err := c.do(ctx, http.MethodPost, "/rest/v1/tasks", task, &created)
	return created, err
}

// UpdateTask patches a task.
func (c *Client) UpdateTask(ctx context.Context, id string, patch db.TaskPatch) (models.Task, error) {
	var task models.Task
	err := c.do(ctx, http.MethodPatch, "/rest/v1/tasks/"+url.PathEscape(id), patch, &task)
	return task, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rest/v1/tasks/"+url.PathEscape(id), nil, nil)
}

// ListVoiceCommands returns recent voice commands.
func (c *Client) ListVoiceCommands(ctx context.Context, limit int) ([]models.VoiceCommand, error) {
	var cmds []models.VoiceCommand
	err := c.do(ctx, http.MethodGet, "/rest/v1/voice-commands?limit="+strconv.Itoa(limit), nil, &cmds)
	return cmds, err
}

// InsertVoiceCommand logs a voice interaction.
func (c *Client) InsertVoiceCommand(ctx context.Context, transcript, response string) (models.VoiceCommand, error) {
	var cmd models.VoiceCommand
	err := c.do(ctx, http.MethodPost, "/rest/v1/voice-commands",
		map[string]string{"transcript": transcript, "response": response}, &cmd)
	return cmd, err
}

// StreamChat opens the chat event stream. The caller closes the returned body.
func (c *Client) StreamChat(ctx context.Context, history []ChatMessage) (io.ReadCloser, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.req.Open(ctx, http.MethodPost, "/functions/v1/chat", tok,
		map[string]interface{}{"messages": history}, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GenerateTitle asks the server to title a new conversation.
func (c *Client) GenerateTitle(ctx context.Context, firstMessage, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/functions/v1/generate-title",
		map[string]string{"firstMessage": firstMessage, "conversationId": conversationID}, nil)
}

// DeleteAccount deletes the caller's account and every row it owns.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/functions/v1/delete-account", nil, nil)
}
