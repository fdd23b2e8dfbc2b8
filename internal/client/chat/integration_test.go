package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/pysugar/assistant/internal/client/authclient"
	"github.com/pysugar/assistant/internal/client/backend"
	"github.com/pysugar/assistant/internal/client/clienttest"
	"github.com/pysugar/assistant/internal/db/models"
)

func TestSession_AgainstServer(t *testing.T) {
	var titleCalls, streamCalls atomic.Int32
	upstream := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			titleCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Call Mom Reminder"}}]}`)
			return
		}
		streamCalls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, reminderStream)
	}
	srv := clienttest.NewServer(t, clienttest.Options{Upstream: upstream})
	user := srv.CreateUser(t, "alice@example.com", "secret123", "Alice")
	auth := authclient.New(srv.Requester(), "assistant-cli", clienttest.NewState(t))
	if _, err := auth.SignInWithPassword(context.Background(), "alice@example.com", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	s := NewSession(Deps{Backend: backend.New(srv.Requester(), auth), Auth: auth})
	if err := s.Send(context.Background(), "Remind me to call mom tomorrow"); err != nil {
		t.Fatalf("send: %v", err)
	}
	s.Wait()

	convID := s.ConversationID()
	var conv models.Conversation
	if err := srv.DB.Where("id = ? AND user_id = ?", convID, user.ID).First(&conv).Error; err != nil {
		t.Fatalf("conversation not stored: %v", err)
	}
	if conv.Title != "Call Mom Reminder" {
		t.Fatalf("expected generated title, got %q", conv.Title)
	}
	var msgs []models.Message
	srv.DB.Where("conversation_id = ?", convID).Order("id").Find(&msgs)
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected stored messages %+v", msgs)
	}
	if msgs[1].Content != "Sure, I'll remind you to call mom tomorrow." {
		t.Fatalf("unexpected assistant content %q", msgs[1].Content)
	}
	var tasks []models.Task
	srv.DB.Where("user_id = ?", user.ID).Find(&tasks)
	if len(tasks) != 1 || tasks[0].Title != "Call mom" || tasks[0].ConversationID != convID {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if titleCalls.Load() != 1 || streamCalls.Load() != 1 {
		t.Fatalf("expected one title and one stream call, got %d and %d", titleCalls.Load(), streamCalls.Load())
	}
}
