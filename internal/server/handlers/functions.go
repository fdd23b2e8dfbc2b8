package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pysugar/assistant/internal/auth/token"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/ratelimit"
	"github.com/pysugar/assistant/internal/telemetry"
	"github.com/pysugar/assistant/internal/upstream"
	"github.com/pysugar/assistant/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTitleWords    = 6
	fallbackTitleLen = 50
	titleTimeout     = 20 * time.Second
)

const titlePrompt = "Generate a concise title of at most 6 words for a conversation that starts with the user's message. " +
	"Reply with the title only, without quotes or trailing punctuation."

// ChatHandler relays a streaming completion for the caller's message history.
// POST /functions/v1/chat
func ChatHandler(client *upstream.Client, limiter ratelimit.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "functions.chat")
		defer span.End()
		log := logging.FromContext(ctx)

		var req struct {
			Messages []upstream.Message `json:"messages"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		history := make([]upstream.Message, 0, len(req.Messages)+1)
		history = append(history, upstream.SystemMessage(time.Now()))
		for _, m := range req.Messages {
			if (m.Role == "user" || m.Role == "assistant") && m.Content != "" {
				history = append(history, m)
			}
		}
		if len(history) == 1 {
			writeError(w, "messages must contain at least one user or assistant message", http.StatusBadRequest)
			return
		}
		if !client.IsEnabled() {
			writeError(w, "Chat completion is not configured", http.StatusServiceUnavailable)
			return
		}

		userID := currentUser(r)
		if limiter != nil {
			if ok, retry := limiter.Allow(userID); !ok {
				setRetryAfter(w, retry)
				writeError(w, "Rate limit exceeded, please try again later", http.StatusTooManyRequests)
				return
			}
		}
		span.SetAttributes(attribute.Int("chat.messages", len(history)-1))

		resp, err := client.StreamChat(ctx, history, upstream.AssistantTools())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeUpstreamError(w, r, err)
			return
		}
		defer resp.Body.Close()

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}
		SetSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		chunkCount, err := relayStream(w, flusher.Flush, resp.Body, newRelayGuard(0, 0))
		if err != nil {
			// No sentinel: the client treats the missing [DONE] as an interrupted reply.
			if ctx.Err() == nil {
				log.Warn("⚠️ Chat relay interrupted", zap.Error(err), zap.Int("chunks", chunkCount))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			telemetry.Count(ctx, "assistant.chat.fragments", int64(chunkCount))
			return
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()

		telemetry.Count(ctx, "assistant.chat.fragments", int64(chunkCount))
		if chunkCount == 0 {
			log.Warn("⚠️ Chat relay completed with 0 chunks", zap.String("user_id", userID))
		} else {
			log.Info("✅ Chat relay completed", zap.String("user_id", userID), zap.Int("chunks", chunkCount))
		}
	}
}

// relayStream copies upstream data records to w until the [DONE] sentinel or
// EOF. Malformed records are dropped. It returns an error when the upstream
// read fails or the guard stops the relay; the caller then omits the sentinel.
func relayStream(w io.Writer, flush func(), body io.Reader, guard *relayGuard) (int, error) {
	// Increase scanner buffer to handle large SSE frames (8MB limit)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	chunks := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return chunks, nil
		}
		if err := guard.observe([]byte(data)); err != nil {
			return chunks, err
		}
		if !json.Valid([]byte(data)) {
			if util.IsVerbose() {
				logging.L().Debug("⚠️ [VERBOSE] Skipping malformed upstream chunk", zap.String("data", util.TruncateLog(data, 200)))
			}
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flush()
		chunks++
	}
	return chunks, scanner.Err()
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int((d + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			setRetryAfter(w, statusErr.RetryAfter)
			writeError(w, "Rate limit exceeded, please try again later", http.StatusTooManyRequests)
		case http.StatusPaymentRequired:
			writeError(w, "Payment required, please add credits to continue", http.StatusPaymentRequired)
		default:
			writeError(w, fmt.Sprintf("Upstream error (status %d)", statusErr.StatusCode), http.StatusBadGateway)
		}
	case errors.Is(err, upstream.ErrNotConfigured):
		writeError(w, "Chat completion is not configured", http.StatusServiceUnavailable)
	default:
		logging.FromContext(r.Context()).Error("❌ Upstream request failed", zap.Error(err))
		writeError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
	}
}

// GenerateTitleHandler titles a conversation from its first message.
// POST /functions/v1/generate-title
func GenerateTitleHandler(database *gorm.DB, client *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FirstMessage   string `json:"firstMessage"`
			ConversationID string `json:"conversationId"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ConversationID == "" || strings.TrimSpace(req.FirstMessage) == "" {
			writeError(w, "firstMessage and conversationId are required", http.StatusBadRequest)
			return
		}
		userID := currentUser(r)
		if _, err := db.GetConversation(database, userID, req.ConversationID); err != nil {
			writeStoreError(w, r, err)
			return
		}

		title := FallbackTitle(req.FirstMessage)
		if client.IsEnabled() {
			ctx, cancel := context.WithTimeout(r.Context(), titleTimeout)
			generated, err := client.Complete(ctx, []upstream.Message{
				{Role: "system", Content: titlePrompt},
				{Role: "user", Content: req.FirstMessage},
			}, 24)
			cancel()
			if err != nil {
				logging.FromContext(r.Context()).Warn("⚠️ Title generation failed, using fallback", zap.Error(err))
			} else if cleaned := CleanTitle(generated); cleaned != "" {
				title = cleaned
			}
		}

		if _, err := db.UpdateConversationTitle(database, userID, req.ConversationID, title); err != nil {
			writeStoreError(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Info("🏷️ Conversation titled",
			zap.String("conversation_id", req.ConversationID), zap.String("title", title))
		w.WriteHeader(http.StatusNoContent)
	}
}

// FallbackTitle is the first 50 characters of the message.
func FallbackTitle(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(message) <= fallbackTitleLen {
		return message
	}
	return strings.TrimSpace(string([]rune(message)[:fallbackTitleLen]))
}

// CleanTitle strips quotes and punctuation and keeps at most six words.
func CleanTitle(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.Trim(raw, "\"'`*# ")
	raw = strings.TrimPrefix(raw, "Title:")
	words := strings.Fields(raw)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.TrimRight(strings.Join(words, " "), ".!?:;,")
}

// DeleteAccountHandler removes every row of the caller and the identity itself.
// POST /functions/v1/delete-account
func DeleteAccountHandler(database *gorm.DB, tokens *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := currentUser(r)
		if err := tokens.RevokeUser(userID); err != nil {
			writeStoreError(w, r, err)
			return
		}
		if err := db.DeleteUserCascade(database, userID); err != nil {
			writeStoreError(w, r, err)
			return
		}
		logging.FromContext(r.Context()).Info("🗑️ Account deleted", zap.String("user_id", userID))
		w.WriteHeader(http.StatusNoContent)
	}
}
