package upstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// CreateTaskToolName is the function the model calls to create a reminder.
const CreateTaskToolName = "create_task"

// SystemPrompt is prepended to every chat request.
const SystemPrompt = `You are a helpful personal assistant. Answer concisely and in the user's language.
When the user asks to be reminded of something or to note a to-do item, call the create_task tool
with a short title, an optional description, an optional ISO-8601 due date and a priority, then
confirm the reminder in your reply. Today is %s.`

// Tool is an OpenAI function tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StreamChunk is one `data:` record of a streaming completion.
type StreamChunk struct {
	ID      string `json:"id,omitempty"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string          `json:"role,omitempty"`
			Content   string          `json:"content,omitempty"`
			ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// ToolCallDelta is a fragment of a streamed tool call. Fragments sharing an
// Index belong to the same call; Arguments arrive split across fragments.
type ToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// CreateTaskArgs are the arguments of a create_task call.
type CreateTaskArgs struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueAt       string `json:"due_at,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

var createTaskParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string", "description": "Short task title"},
    "description": {"type": "string", "description": "Optional details"},
    "due_at": {"type": "string", "description": "Due date/time in ISO-8601 (RFC 3339) format"},
    "priority": {"type": "string", "enum": ["low", "medium", "high"]}
  },
  "required": ["title"]
}`)

// AssistantTools returns the tools advertised on chat requests.
func AssistantTools() []Tool {
	return []Tool{{
		Type: "function",
		Function: ToolFunction{
			Name:        CreateTaskToolName,
			Description: "Create a task or reminder for the user",
			Parameters:  createTaskParameters,
		},
	}}
}

// SystemMessage builds the system prompt for now.
func SystemMessage(now time.Time) Message {
	return Message{Role: "system", Content: fmt.Sprintf(SystemPrompt, now.Format("Monday, 2006-01-02"))}
}
