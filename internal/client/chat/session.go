package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/assistant/internal/client/backend"
	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/db/models"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ErrBusy is returned by Send while a turn is in flight.
var ErrBusy = errors.New("a message is already being sent")

// PlaceholderTitle names a conversation until its generated title arrives.
const PlaceholderTitle = "New conversation"

const titleTimeout = 30 * time.Second

// State is the session's position in a turn.
type State int

const (
	Idle State = iota
	Sending
	Streaming
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Failed:
		return "error"
	}
	return "unknown"
}

// Message is one side of a turn.
type Message struct {
	Role    string
	Content string
}

// Backend is the part of the backend client a session uses.
type Backend interface {
	CreateConversation(ctx context.Context, title string) (models.Conversation, error)
	InsertMessage(ctx context.Context, conversationID, role, content string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	StreamChat(ctx context.Context, history []backend.ChatMessage) (io.ReadCloser, error)
	GenerateTitle(ctx context.Context, firstMessage, conversationID string) error
	CreateTask(ctx context.Context, task models.Task) (models.Task, error)
}

// TokenSource yields the caller's access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Deps wires a session.
type Deps struct {
	Backend Backend
	Auth    TokenSource
	Sink    notice.Sink
	// OnFragment, when set, receives each assistant text fragment as it arrives.
	OnFragment func(fragment string)
}

// Session is one conversation's message list and the turn state machine.
type Session struct {
	backend    Backend
	auth       TokenSource
	sink       notice.Sink
	onFragment func(string)
	now        func() time.Time

	mu             sync.Mutex
	messages       []Message
	conversationID string
	state          State
	busy           bool
	// generation changes whenever the visible conversation is replaced.
	generation uint64

	background sync.WaitGroup
}

// NewSession creates an empty session.
func NewSession(deps Deps) *Session {
	sink := deps.Sink
	if sink == nil {
		sink = notice.Discard
	}
	return &Session{
		backend:    deps.Backend,
		auth:       deps.Auth,
		sink:       sink,
		onFragment: deps.OnFragment,
		now:        time.Now,
	}
}

// Messages returns a copy of the visible message list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// State returns the current turn state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID is empty until the first message is persisted.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// NewConversation clears the visible conversation. A turn still in flight
// keeps writing to the conversation it started in.
func (s *Session) NewConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.messages = nil
	s.conversationID = ""
	if !s.busy {
		s.state = Idle
	}
}

// Open replaces the visible conversation with a persisted one.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	rows, err := s.backend.ListMessages(ctx, conversationID)
	if err != nil {
		s.sink.Notify(notice.FromError(err))
		return err
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, Message{Role: row.Role, Content: row.Content})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.messages = msgs
	s.conversationID = conversationID
	if !s.busy {
		s.state = Idle
	}
	return nil
}

// Wait blocks until background title generation has finished.
func (s *Session) Wait() {
	s.background.Wait()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// turn is the state captured when a send starts.
type turn struct {
	generation     uint64
	conversationID string
	history        []backend.ChatMessage
}

// Send appends text as a user message, persists it and streams the reply.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("message is empty")
	}
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	if _, err := s.auth.AccessToken(ctx); err != nil {
		err = notice.Wrap(notice.AuthenticationRequired, "send message", err)
		s.sink.Notify(notice.Notice{Kind: notice.AuthenticationRequired, Message: notice.Message(notice.AuthenticationRequired, err)})
		return err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "chat.send")
	defer span.End()
	err := s.send(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Session) send(ctx context.Context, text string) error {
	s.mu.Lock()
	s.state = Sending
	s.messages = append(s.messages, Message{Role: "user", Content: text})
	t := turn{generation: s.generation, conversationID: s.conversationID}
	for _, m := range s.messages {
		t.history = append(t.history, backend.ChatMessage{Role: m.Role, Content: m.Content})
	}
	s.mu.Unlock()

	isNew := t.conversationID == ""
	if isNew {
		conv, err := s.backend.CreateConversation(ctx, PlaceholderTitle)
		if err != nil {
			return s.abort(err)
		}
		t.conversationID = conv.ID
		s.mu.Lock()
		if s.generation == t.generation {
			s.conversationID = conv.ID
		}
		s.mu.Unlock()
		logging.L().Debug("💬 Created conversation", zap.String("conversation_id", conv.ID))
	}
	if _, err := s.backend.InsertMessage(ctx, t.conversationID, "user", text); err != nil {
		return s.abort(err)
	}
	if isNew {
		s.generateTitle(ctx, text, t.conversationID)
	}

	body, err := s.backend.StreamChat(ctx, t.history)
	if err != nil {
		return s.abort(err)
	}
	defer body.Close()
	s.setState(Streaming)

	content, calls, err := s.readStream(t, body)
	if err != nil {
		s.setState(Failed)
		logging.L().Warn("⚠️ Chat stream interrupted", zap.Error(err), zap.Int("received", len(content)))
		err = notice.Wrap(notice.NetworkOrServerError, "read reply", err)
		s.sink.Notify(notice.FromError(err))
		return err
	}

	created := s.createTasks(ctx, t, calls)
	if content == "" && len(created) > 0 {
		content = taskConfirmation(created)
		s.applyAssistant(t, content)
	}
	if content == "" {
		s.setState(Idle)
		logging.L().Warn("⚠️ Chat reply was empty", zap.String("conversation_id", t.conversationID))
		return nil
	}
	if _, err := s.backend.InsertMessage(ctx, t.conversationID, "assistant", content); err != nil {
		s.setState(Failed)
		s.sink.Notify(notice.FromError(err))
		return err
	}
	telemetry.Count(ctx, "assistant.chat.turns", 1, attribute.Bool("chat.new_conversation", isNew))

	s.mu.Lock()
	orphaned := s.generation != t.generation
	s.state = Idle
	s.mu.Unlock()
	if orphaned {
		s.sink.Notify(notice.Notice{Kind: notice.Info, Message: "Reply saved to previous conversation."})
	}
	return nil
}

// abort handles a failure before any reply arrived: the session returns to
// Idle and the user message stays visible.
func (s *Session) abort(err error) error {
	s.setState(Idle)
	s.sink.Notify(notice.FromError(err))
	return err
}

func (s *Session) readStream(t turn, body io.Reader) (string, *toolCalls, error) {
	var content strings.Builder
	calls := newToolCalls()
	dec := NewDecoder(body)
	for {
		chunk, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return content.String(), calls, err
		}
		for _, choice := range chunk.Choices {
			calls.add(choice.Delta.ToolCalls)
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			s.applyAssistant(t, content.String())
			if s.onFragment != nil && s.visible(t) {
				s.onFragment(choice.Delta.Content)
			}
		}
	}
	if n := dec.Malformed(); n > 0 {
		logging.L().Debug("⚠️ Skipped malformed stream records", zap.Int("count", n))
	}
	if !dec.SawSentinel() {
		return content.String(), calls, ErrTruncated
	}
	return content.String(), calls, nil
}

func (s *Session) visible(t turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == t.generation
}

// applyAssistant sets the assistant message of the current turn, appending
// it on the first fragment. Turns from a replaced conversation are ignored.
func (s *Session) applyAssistant(t turn, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != t.generation {
		return
	}
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == "assistant" {
		s.messages[n-1].Content = content
		return
	}
	s.messages = append(s.messages, Message{Role: "assistant", Content: content})
}

func (s *Session) generateTitle(ctx context.Context, firstMessage, conversationID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
		defer cancel()
		if err := s.backend.GenerateTitle(ctx, firstMessage, conversationID); err != nil {
			logging.L().Warn("⚠️ Title generation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}()
}

func (s *Session) createTasks(ctx context.Context, t turn, calls *toolCalls) []models.Task {
	tasks, errs := calls.tasks(s.now())
	for _, err := range errs {
		logging.L().Warn("⚠️ Ignoring malformed task call", zap.Error(err))
	}
	var created []models.Task
	for _, task := range tasks {
		task.ConversationID = t.conversationID
		saved, err := s.backend.CreateTask(ctx, task)
		if err != nil {
			logging.L().Warn("⚠️ Failed to create task", zap.String("title", task.Title), zap.Error(err))
			s.sink.Notify(notice.FromError(err))
			continue
		}
		created = append(created, saved)
		s.sink.Notify(notice.Notice{Kind: notice.Info, Message: fmt.Sprintf("Task created: %s", saved.Title)})
	}
	return created
}

func taskConfirmation(tasks []models.Task) string {
	titles := make([]string, 0, len(tasks))
	for _, t := range tasks {
		titles = append(titles, fmt.Sprintf("%q", t.Title))
	}
	return "Done! I added " + strings.Join(titles, ", ") + " to your tasks."
}
