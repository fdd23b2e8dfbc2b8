// Package upstream talks to the OpenAI-compatible chat completions endpoint
// that backs the chat and title functions.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/assistant/internal/config"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/util"
	"github.com/pysugar/assistant/internal/version"
	"go.uber.org/zap"
)

const defaultTimeout = 180 * time.Second

// ErrNotConfigured is returned when no base URL or API key is set.
var ErrNotConfigured = errors.New("upstream completion endpoint is not configured")

// Message is one OpenAI chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body sent to /chat/completions.
type ChatRequest struct {
	Model      string    `json:"model"`
	Messages   []Message `json:"messages"`
	Stream     bool      `json:"stream"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`
	MaxTokens  int       `json:"max_tokens,omitempty"`
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, util.TruncateLog(e.Body, 200))
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient builds a client from configuration.
func NewClient(cfg config.Upstream) *Client {
	timeout := config.Duration(cfg.Timeout, defaultTimeout)
	return NewClientWithHTTP(cfg.BaseURL, cfg.APIKey, cfg.Model, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP builds a client around an existing http.Client.
func NewClientWithHTTP(baseURL, apiKey, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: httpClient,
	}
}

// IsEnabled reports whether the client has enough configuration to send requests.
func (c *Client) IsEnabled() bool {
	return c != nil && c.baseURL != "" && c.apiKey != "" && c.model != ""
}

// Model is the configured completion model.
func (c *Client) Model() string {
	return c.model
}

// StreamChat opens a streaming completion. A non-2xx status is returned as a
// *StatusError with the body consumed; otherwise the caller owns resp.Body.
func (c *Client) StreamChat(ctx context.Context, messages []Message, tools []Tool) (*http.Response, error) {
	req := ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
		Tools:    tools,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, statusError(resp)
	}
	return resp, nil
}

// Complete runs a non-streaming completion and returns the assistant text.
// Gateways that always answer with an event stream are merged into one reply.
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	resp, err := c.do(ctx, ChatRequest{Model: c.model, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", statusError(resp)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return consumeAndMergeSSE(resp.Body)
	}

	var parsed struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// consumeAndMergeSSE concatenates the content deltas of an event stream.
func consumeAndMergeSSE(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var text strings.Builder
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scanner error: %w", err)
	}
	return text.String(), nil
}

func (c *Client) do(ctx context.Context, payload ChatRequest) (*http.Response, error) {
	if !c.IsEnabled() {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if util.IsVerbose() {
		logging.FromContext(ctx).Debug("🔄 [VERBOSE] Upstream request payload",
			zap.String("body", util.TruncateBytes(body)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "assistant/"+version.Version)
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if id := logging.GetRequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) *StatusError {
	retry := ParseRetryDelay(resp)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
	logging.L().Warn("⚠️ Upstream error response",
		zap.Int("status", resp.StatusCode),
		zap.String("body", util.TruncateBytes(body)))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body), RetryAfter: retry}
}
