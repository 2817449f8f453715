// Package longterm implements the LongTermStore port. Memory is a
// best-effort in-memory archive used by tests; Postgres is the
// production backend, grounded on the teacher's pgx-based store idioms.
package longterm

import (
	"context"
	"sync"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// Memory is an in-memory LongTermStore for tests. It is not meant for
// production use; it never expires or bounds its storage.
type Memory struct {
	mu     sync.RWMutex
	tasks  map[string]*task.Task
	events map[string][]*task.TaskEvent
	seen   map[string]bool // event id -> recorded, for conflict-ignore semantics
}

// NewMemory constructs an empty in-memory long-term store.
func NewMemory() *Memory {
	return &Memory{
		tasks:  make(map[string]*task.Task),
		events: make(map[string][]*task.TaskEvent),
		seen:   make(map[string]bool),
	}
}

func (m *Memory) SaveTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tasks[t.ID]
	if !ok {
		m.tasks[t.ID] = t.Clone()
		return nil
	}

	// Upsert: overwrite the mutable fields on conflict, per spec's
	// long-term tasks.id conflict policy.
	merged := existing.Clone()
	merged.Status = t.Status
	merged.Result = t.Result
	merged.Error = t.Error
	merged.Metadata = t.Metadata
	merged.UpdatedAt = t.UpdatedAt
	merged.CompletedAt = t.CompletedAt
	m.tasks[t.ID] = merged
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (m *Memory) SaveEvent(ctx context.Context, evt *task.TaskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[evt.ID] {
		return nil // conflict on event id is ignored
	}
	m.seen[evt.ID] = true
	m.events[evt.TaskID] = append(m.events[evt.TaskID], evt.Clone())
	return nil
}

func (m *Memory) GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error) {
	m.mu.RLock()
	snapshot := append([]*task.TaskEvent(nil), m.events[taskID]...)
	m.mu.RUnlock()

	filtered := applyCursorAnchoredAtMinusOne(snapshot, opts.Since)
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[len(filtered)-opts.Limit:]
	}
	return filtered, nil
}

// applyCursorAnchoredAtMinusOne mirrors ShortTermStore's cursor priority
// except a since.id that is not found anchors at index -1 (all events),
// matching the long-term store's resume contract.
func applyCursorAnchoredAtMinusOne(events []*task.TaskEvent, since task.Cursor) []*task.TaskEvent {
	if since.ID != "" {
		for i, evt := range events {
			if evt.ID == since.ID {
				return append([]*task.TaskEvent(nil), events[i+1:]...)
			}
		}
		return events
	}
	if since.Index != nil {
		var out []*task.TaskEvent
		for _, evt := range events {
			if evt.Index > *since.Index {
				out = append(out, evt)
			}
		}
		return out
	}
	if since.Timestamp != nil {
		var out []*task.TaskEvent
		for _, evt := range events {
			if evt.Timestamp > *since.Timestamp {
				out = append(out, evt)
			}
		}
		return out
	}
	return events
}

func (m *Memory) DeleteEvents(ctx context.Context, taskID string, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	remove := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		remove[id] = true
	}

	var kept []*task.TaskEvent
	for _, evt := range m.events[taskID] {
		if remove[evt.ID] {
			delete(m.seen, evt.ID)
			continue
		}
		kept = append(kept, evt)
	}
	m.events[taskID] = kept
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	delete(m.events, taskID)
	return nil
}
