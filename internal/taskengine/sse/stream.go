// Package sse implements the per-connection replay-then-live event
// stream, grounded on the teacher's SSE handler shape (Flusher-based
// writer, event:/id:/data: framing, context-cancellation teardown).
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/taskcast/taskcast/internal/broadcast"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/taskengine/filter"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// EventsSource is the subset of TaskEngine a StreamManager needs: current
// task status, history replay, and live subscription. Declared as an
// interface so tests can substitute a fake without pulling in the full
// engine.
type EventsSource interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error)
	Subscribe(taskID string, handler broadcast.Handler) (unsubscribe func())
}

// StreamManager writes the replay-then-live event stream for one task to
// an http.ResponseWriter. Construct one per connection.
type StreamManager struct {
	source EventsSource
	logger logging.Logger
}

// New constructs a StreamManager over source.
func New(source EventsSource) *StreamManager {
	return &StreamManager{
		source: source,
		logger: logging.NewComponentLogger("taskengine.sse"),
	}
}

// frameWriter serializes concurrent writes to one connection: replay
// runs synchronously before Subscribe is called, but the live phase
// dispatches broadcast handlers from whatever goroutine Publish runs on.
type frameWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (fw *frameWriter) writeFrame(event, id, data string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fmt.Fprintf(fw.w, "event: %s\n", event); err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(fw.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(fw.w, "data: %s\n\n", data); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}

// Stream replays the task's full stored history through filter f (whose
// Since cursor filter.ApplyFilteredIndex applies to filtered indices) then keeps
// the connection open for live events matching f, until the request
// context is cancelled or the task reaches a terminal status. It always
// ends the frame sequence with a taskcast.done event naming why the
// stream closed.
func (m *StreamManager) Stream(w http.ResponseWriter, r *http.Request, taskID string, f task.Filter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	fw := &frameWriter{w: w, flusher: flusher}
	ctx := r.Context()

	lastIndex, err := m.replay(ctx, fw, taskID, f)
	if err != nil {
		return err
	}

	// A task already terminal at replay time closes immediately without
	// ever subscribing live, per the replay-then-close contract.
	t, err := m.source.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("sse: load task: %w", err)
	}
	if t != nil && t.Status.IsTerminal() {
		_ = fw.writeFrame("taskcast.done", "", fmt.Sprintf(`{"reason":%q}`, t.Status))
		return nil
	}

	done := make(chan task.Status, 1)
	var filteredIndex int64 = lastIndex + 1

	unsubscribe := m.source.Subscribe(taskID, func(evt *task.TaskEvent) {
		// The terminal-status check is unconditional: a status event
		// that is filtered out of the stream still ends it.
		if evt.Type == task.StatusEventType {
			if status, ok := statusFromData(evt.Data); ok && status.IsTerminal() {
				if filter.MatchesFilter(evt, f) {
					if err := m.writeEventFrame(fw, filteredIndex, evt, f); err != nil {
						m.logger.Warn("sse: write frame failed for task %s: %v", taskID, err)
					} else {
						filteredIndex++
					}
				}
				select {
				case done <- status:
				default:
				}
				return
			}
		}

		if !filter.MatchesFilter(evt, f) {
			return
		}
		idx := filteredIndex
		filteredIndex++

		if err := m.writeEventFrame(fw, idx, evt, f); err != nil {
			m.logger.Warn("sse: write frame failed for task %s: %v", taskID, err)
		}
	})
	defer unsubscribe()

	var reason string
	select {
	case <-ctx.Done():
		reason = "client_disconnected"
	case status := <-done:
		reason = string(status)
	}

	_ = fw.writeFrame("taskcast.done", "", fmt.Sprintf(`{"reason":%q}`, reason))
	return nil
}

// replay writes every historical event matching f and returns the
// highest filtered index written, or -1 if none were.
func (m *StreamManager) replay(ctx context.Context, fw *frameWriter, taskID string, f task.Filter) (int64, error) {
	events, err := m.source.GetEvents(ctx, taskID, task.GetEventsOptions{})
	if err != nil {
		return -1, fmt.Errorf("sse: replay: %w", err)
	}

	indexed := filter.ApplyFilteredIndex(events, f)
	last := int64(-1)
	for _, row := range indexed {
		if err := m.writeEventFrame(fw, row.FilteredIndex, row.Event, f); err != nil {
			return last, err
		}
		last = row.FilteredIndex
	}
	return last, nil
}

func (m *StreamManager) writeEventFrame(fw *frameWriter, filteredIndex int64, evt *task.TaskEvent, f task.Filter) error {
	var payload any = evt
	if f.WrapOrDefault() {
		payload = task.NewEnvelope(filteredIndex, evt)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return fw.writeFrame("taskcast.event", evt.ID, string(data))
}

func statusFromData(data any) (task.Status, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	status, ok := m["status"]
	if !ok {
		return "", false
	}
	switch v := status.(type) {
	case task.Status:
		return v, true
	case string:
		return task.Status(v), true
	default:
		return "", false
	}
}
