package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pysugar/assistant/internal/db/models"
	"github.com/pysugar/assistant/internal/upstream"
)

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// toolCalls accumulates streamed tool call fragments by index.
type toolCalls struct {
	calls map[int]*pendingCall
}

func newToolCalls() *toolCalls {
	return &toolCalls{calls: make(map[int]*pendingCall)}
}

func (t *toolCalls) add(deltas []upstream.ToolCallDelta) {
	for _, d := range deltas {
		call, ok := t.calls[d.Index]
		if !ok {
			call = &pendingCall{}
			t.calls[d.Index] = call
		}
		if d.ID != "" {
			call.id = d.ID
		}
		if d.Function.Name != "" {
			call.name = d.Function.Name
		}
		call.args.WriteString(d.Function.Arguments)
	}
}

// tasks returns the create_task calls in index order. Calls whose arguments
// do not parse are reported in errs and skipped.
func (t *toolCalls) tasks(now time.Time) (tasks []models.Task, errs []error) {
	indexes := make([]int, 0, len(t.calls))
	for i := range t.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		call := t.calls[i]
		if call.name != upstream.CreateTaskToolName {
			continue
		}
		var args upstream.CreateTaskArgs
		if err := json.Unmarshal([]byte(call.args.String()), &args); err != nil {
			errs = append(errs, fmt.Errorf("tool call %d: %w", i, err))
			continue
		}
		if strings.TrimSpace(args.Title) == "" {
			errs = append(errs, fmt.Errorf("tool call %d: empty title", i))
			continue
		}
		task := models.Task{
			Title:       strings.TrimSpace(args.Title),
			Description: strings.TrimSpace(args.Description),
			Priority:    args.Priority,
		}
		if due, ok := parseDue(args.DueAt, now); ok {
			task.DueAt = &due
		}
		tasks = append(tasks, task)
	}
	return tasks, errs
}

var dueLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDue accepts RFC 3339 and a few looser ISO-8601 forms. Times without a
// zone are read in now's location.
func parseDue(value string, now time.Time) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, value, now.Location()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
