// Package shortterm implements the ShortTermStore port. Memory is an
// in-process, single-instance backend grounded on the teacher's
// InMemoryTaskStore (functional options, TTL-based background eviction,
// copy-on-read snapshots). Redis is the multi-instance backend, keyed
// per spec's hot-store layout.
package shortterm

import (
	"context"
	"sync"
	"time"

	"github.com/taskcast/taskcast/internal/async"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

const (
	defaultEvictInterval = 5 * time.Minute
)

type entry struct {
	mu           sync.Mutex
	task         *task.Task
	events       []*task.TaskEvent
	counter      int64
	seriesLatest map[string]*task.TaskEvent
	expiresAt    *time.Time
}

// Memory is an in-memory ShortTermStore, correct for a single engine
// instance. Multi-instance deployments must use Redis instead, since the
// counter here lives only in this process.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  logging.Logger

	evictInterval time.Duration
	stopOnce      sync.Once
	stopCh        chan struct{}
}

// Option configures a Memory store.
type Option func(*Memory)

// WithEvictInterval overrides the default TTL-sweep interval.
func WithEvictInterval(d time.Duration) Option {
	return func(m *Memory) { m.evictInterval = d }
}

// WithLogger overrides the component logger used for eviction
// diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(m *Memory) { m.logger = logger }
}

// NewMemory builds an in-memory ShortTermStore and starts its background
// TTL eviction loop. Call Close to stop the loop.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries:       make(map[string]*entry),
		logger:        logging.NewComponentLogger("store.shortterm.memory"),
		evictInterval: defaultEvictInterval,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	async.GoLoop(contextForStop(m.stopCh), m.logger, "shortterm.memory.evict", m.evictInterval, func(ctx context.Context) {
		m.evictExpired()
	})
	return m
}

// contextForStop adapts a stop channel into a context so GoLoop can reuse
// the same cancellation-driven shape the rest of the module uses.
func contextForStop(stopCh <-chan struct{}) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stopCh
		cancel()
	}()
	return ctx
}

// Close stops the background eviction loop.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Memory) getOrCreateEntry(taskID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[taskID]
	if !ok {
		e = &entry{seriesLatest: make(map[string]*task.TaskEvent)}
		m.entries[taskID] = e
	}
	return e
}

func (m *Memory) getEntry(taskID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[taskID]
	return e, ok
}

func (m *Memory) SaveTask(ctx context.Context, t *task.Task) error {
	e := m.getOrCreateEntry(t.ID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task = t.Clone()
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*task.Task, error) {
	e, ok := m.getEntry(id)
	if !ok {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

func (m *Memory) NextIndex(ctx context.Context, taskID string) (int64, error) {
	e := m.getOrCreateEntry(taskID)
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.counter
	e.counter++
	return idx, nil
}

func (m *Memory) AppendEvent(ctx context.Context, taskID string, evt *task.TaskEvent) error {
	e := m.getOrCreateEntry(taskID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt.Clone())
	return nil
}

func (m *Memory) GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error) {
	e, ok := m.getEntry(taskID)
	if !ok {
		return nil, nil
	}
	e.mu.Lock()
	snapshot := append([]*task.TaskEvent(nil), e.events...)
	e.mu.Unlock()

	filtered := applyCursor(snapshot, opts.Since)
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[len(filtered)-opts.Limit:]
	}
	return filtered, nil
}

// applyCursor implements the ShortTermStore cursor priority: since.id
// (exclusive, falls back to the full list if not found), then
// since.index, then since.timestamp.
func applyCursor(events []*task.TaskEvent, since task.Cursor) []*task.TaskEvent {
	if since.ID != "" {
		for i, evt := range events {
			if evt.ID == since.ID {
				return append([]*task.TaskEvent(nil), events[i+1:]...)
			}
		}
		return events
	}
	if since.Index != nil {
		return filterAfterIndex(events, *since.Index)
	}
	if since.Timestamp != nil {
		return filterAfterTimestamp(events, *since.Timestamp)
	}
	return events
}

func filterAfterIndex(events []*task.TaskEvent, after int64) []*task.TaskEvent {
	var out []*task.TaskEvent
	for _, evt := range events {
		if evt.Index > after {
			out = append(out, evt)
		}
	}
	return out
}

func filterAfterTimestamp(events []*task.TaskEvent, after int64) []*task.TaskEvent {
	var out []*task.TaskEvent
	for _, evt := range events {
		if evt.Timestamp > after {
			out = append(out, evt)
		}
	}
	return out
}

func (m *Memory) SetTTL(ctx context.Context, taskID string, seconds int64) error {
	e := m.getOrCreateEntry(taskID)
	expires := time.Now().Add(time.Duration(seconds) * time.Second)
	e.mu.Lock()
	e.expiresAt = &expires
	e.mu.Unlock()
	return nil
}

func (m *Memory) GetSeriesLatest(ctx context.Context, taskID, seriesID string) (*task.TaskEvent, error) {
	e, ok := m.getEntry(taskID)
	if !ok {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seriesLatest[seriesID].Clone(), nil
}

func (m *Memory) SetSeriesLatest(ctx context.Context, taskID, seriesID string, evt *task.TaskEvent) error {
	e := m.getOrCreateEntry(taskID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seriesLatest[seriesID] = evt.Clone()
	return nil
}

func (m *Memory) ReplaceLastSeriesEvent(ctx context.Context, taskID, seriesID string, newEvent *task.TaskEvent) error {
	e := m.getOrCreateEntry(taskID)
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.seriesLatest[seriesID]
	replaced := false
	if prev != nil {
		for i := len(e.events) - 1; i >= 0; i-- {
			if e.events[i].ID == prev.ID {
				e.events[i] = newEvent.Clone()
				replaced = true
				break
			}
		}
	}
	if !replaced {
		e.events = append(e.events, newEvent.Clone())
	}
	e.seriesLatest[seriesID] = newEvent.Clone()
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, taskID)
	return nil
}

func (m *Memory) DeleteEvents(ctx context.Context, taskID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	e, ok := m.getEntry(taskID)
	if !ok {
		return nil
	}
	drop := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		drop[id] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.events[:0]
	for _, evt := range e.events {
		if !drop[evt.ID] {
			kept = append(kept, evt)
		}
	}
	e.events = kept
	return nil
}

// ListTerminalTasks returns every task currently in a terminal status, a
// capability the ShortTermStore port does not require since only the
// cleanup scheduler needs to enumerate tasks rather than address them by
// id.
func (m *Memory) ListTerminalTasks(ctx context.Context) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*task.Task
	for _, e := range m.entries {
		e.mu.Lock()
		t := e.task
		e.mu.Unlock()
		if t != nil && t.Status.IsTerminal() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *Memory) evictExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, e := range m.entries {
		e.mu.Lock()
		if e.expiresAt != nil && now.After(*e.expiresAt) {
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	for _, id := range expired {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Info("shortterm.memory: evicted %d expired tasks", len(expired))
	}
}
