// Package taskengine orchestrates the state machine, series processor,
// broadcast fabric, and short/long-term stores behind a
// small public surface: create/get/transition/publish/getEvents/
// subscribe. It is the sole mutator of tasks and the sole allocator of
// event indices.
package taskengine

import (
	"context"
	"fmt"
	"time"

	"github.com/taskcast/taskcast/internal/async"
	"github.com/taskcast/taskcast/internal/broadcast"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/observability"
	"github.com/taskcast/taskcast/internal/store"
	"github.com/taskcast/taskcast/internal/taskengine/series"
	"github.com/taskcast/taskcast/internal/taskengine/statemachine"
	"github.com/taskcast/taskcast/internal/taskengine/task"
	"github.com/taskcast/taskcast/internal/taskerr"
	"github.com/taskcast/taskcast/internal/taskid"
)

// Hooks are side-channel notifications fired after the request's
// critical path completes. They MUST NOT be awaited and MUST NOT block
// publish; the engine dispatches each one through internal/async so a
// panicking hook cannot take the process down.
type Hooks struct {
	OnTaskFailed    func(t *task.Task, err *task.TaskError)
	OnTaskTimeout   func(t *task.Task)
	OnEventDropped  func(evt *task.TaskEvent, reason string)
	OnUnhandledError func(err error, operation string, taskID string)
}

// CreateTaskInput is the argument to Engine.CreateTask.
type CreateTaskInput struct {
	ID         string
	Type       string
	Params     any
	Metadata   map[string]any
	TTL        *int64
	Webhooks   []task.WebhookConfig
	Cleanup    []task.CleanupRule
	AuthConfig *task.AuthConfig
}

// TransitionInput is the argument to Engine.TransitionTask.
type TransitionInput struct {
	Result any
	Error  *task.TaskError
}

// PublishInput is the argument to Engine.PublishEvent.
type PublishInput struct {
	Type       string
	Level      task.Level
	Data       any
	SeriesID   string
	SeriesMode task.SeriesMode
}

// Engine is the TaskEngine. Construct with New; it is safe for
// concurrent use by multiple callers and multiple engine instances
// sharing the same short-term store.
type Engine struct {
	shortTerm store.ShortTermStore
	longTerm  store.LongTermStore // nil when long-term archival is disabled
	broadcast broadcast.Provider
	hooks     Hooks
	logger    logging.Logger
	metrics   *observability.TaskMetrics
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLongTerm enables best-effort archival writes to a LongTermStore.
func WithLongTerm(longTerm store.LongTermStore) Option {
	return func(e *Engine) { e.longTerm = longTerm }
}

// WithHooks installs the side-channel notification callbacks.
func WithHooks(hooks Hooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithLogger overrides the engine's component logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches a Prometheus metrics recorder.
func WithMetrics(metrics *observability.TaskMetrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock overrides the engine's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs an Engine over shortTerm and the given broadcast
// provider.
func New(shortTerm store.ShortTermStore, provider broadcast.Provider, opts ...Option) *Engine {
	e := &Engine{
		shortTerm: shortTerm,
		broadcast: provider,
		logger:    logging.NewComponentLogger("taskengine"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) nowMs() int64 {
	return e.now().UnixMilli()
}

// CreateTask allocates an id if input.ID is empty, persists the task in
// pending status to short-term (then best-effort to long-term), applies
// TTL if provided, and returns it. No events are emitted on create.
func (e *Engine) CreateTask(ctx context.Context, input CreateTaskInput) (*task.Task, error) {
	id := input.ID
	if id == "" {
		id = taskid.New()
	}

	now := e.nowMs()
	t := &task.Task{
		ID:            id,
		Type:          input.Type,
		Status:        task.StatusPending,
		Params:        input.Params,
		Metadata:      input.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
		TTL:           input.TTL,
		Webhooks:      input.Webhooks,
		Cleanup:       input.Cleanup,
		AuthConfig:    input.AuthConfig,
		SchemaVersion: 1,
	}

	if err := e.shortTerm.SaveTask(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: create task: %v", taskerr.ErrStorageError, err)
	}

	if t.TTL != nil {
		if err := e.shortTerm.SetTTL(ctx, t.ID, *t.TTL); err != nil {
			e.logger.Warn("taskengine: set TTL failed for %s: %v", t.ID, err)
		}
	}

	e.saveLongTermBestEffort(ctx, t)

	if e.metrics != nil {
		e.metrics.RecordTaskCreated(t.Type)
	}

	return t, nil
}

// GetTask checks short-term first, falling back to long-term.
func (e *Engine) GetTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := e.shortTerm.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get task: %v", taskerr.ErrStorageError, err)
	}
	if t != nil {
		return t, nil
	}
	if e.longTerm == nil {
		return nil, nil
	}
	t, err = e.longTerm.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get task from long-term: %v", taskerr.ErrStorageError, err)
	}
	return t, nil
}

// TransitionTask moves the task to a new status, persists it, emits the
// reserved taskcast:status event, and fires lifecycle hooks.
func (e *Engine) TransitionTask(ctx context.Context, id string, to task.Status, input TransitionInput) (*task.Task, error) {
	t, err := e.shortTerm.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageError, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: task %s", taskerr.ErrNotFound, id)
	}

	if !statemachine.CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", taskerr.ErrInvalidTransition, t.Status, to)
	}

	now := e.nowMs()
	t.Status = to
	t.UpdatedAt = now
	if to.IsTerminal() {
		completedAt := now
		t.CompletedAt = &completedAt
	}
	if input.Result != nil {
		t.Result = input.Result
	}
	if input.Error != nil {
		t.Error = input.Error
	}

	if err := e.shortTerm.SaveTask(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: transition task: %v", taskerr.ErrStorageError, err)
	}
	e.saveLongTermBestEffort(ctx, t)

	if e.metrics != nil {
		e.metrics.RecordTransition(string(to))
	}

	statusData := map[string]any{"status": to}
	if t.Result != nil {
		statusData["result"] = t.Result
	}
	if t.Error != nil {
		statusData["error"] = t.Error
	}

	if _, err := e.emit(ctx, id, PublishInput{Type: task.StatusEventType, Level: task.LevelInfo, Data: statusData}); err != nil {
		return nil, err
	}

	e.dispatchTransitionHooks(t, to, input.Error)

	return t, nil
}

func (e *Engine) dispatchTransitionHooks(t *task.Task, to task.Status, err *task.TaskError) {
	if to == task.StatusFailed && err != nil && e.hooks.OnTaskFailed != nil {
		async.Go(e.logger, "taskengine.onTaskFailed", func() { e.hooks.OnTaskFailed(t, err) })
	}
	if to == task.StatusTimeout && e.hooks.OnTaskTimeout != nil {
		async.Go(e.logger, "taskengine.onTaskTimeout", func() { e.hooks.OnTaskTimeout(t) })
	}
}

// PublishEvent emits a user event against taskID, failing NotFound or
// Terminal as appropriate.
func (e *Engine) PublishEvent(ctx context.Context, id string, input PublishInput) (*task.TaskEvent, error) {
	t, err := e.shortTerm.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageError, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: task %s", taskerr.ErrNotFound, id)
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: task %s is %s", taskerr.ErrTerminalTask, id, t.Status)
	}

	return e.emit(ctx, id, input)
}

// emit is the private write-through path shared by PublishEvent and
// TransitionTask's status event. Exactly one write-through path exists
// per event: NextIndex, series transform, append-or-replace,
// broadcast, best-effort long-term save.
func (e *Engine) emit(ctx context.Context, taskID string, input PublishInput) (*task.TaskEvent, error) {
	index, err := e.shortTerm.NextIndex(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: next index: %v", taskerr.ErrStorageError, err)
	}

	evt := &task.TaskEvent{
		ID:         taskid.New(),
		TaskID:     taskID,
		Index:      index,
		Timestamp:  e.nowMs(),
		Type:       input.Type,
		Level:      input.Level,
		Data:       input.Data,
		SeriesID:   input.SeriesID,
		SeriesMode: input.SeriesMode,
	}

	result, err := series.Process(ctx, e.shortTerm, evt)
	if err != nil {
		return nil, fmt.Errorf("%w: series processing: %v", taskerr.ErrStorageError, err)
	}
	final := result.Event

	if result.NeedsAppend {
		if err := e.shortTerm.AppendEvent(ctx, taskID, final); err != nil {
			return nil, fmt.Errorf("%w: append event: %v", taskerr.ErrStorageError, err)
		}
	}

	if err := e.broadcast.Publish(ctx, taskID, final); err != nil {
		return nil, fmt.Errorf("%w: broadcast publish: %v", taskerr.ErrBroadcastError, err)
	}

	if e.metrics != nil {
		e.metrics.RecordEventPublished(final.Type)
	}

	e.saveEventLongTermBestEffort(ctx, final)

	return final, nil
}

func (e *Engine) saveLongTermBestEffort(ctx context.Context, t *task.Task) {
	if e.longTerm == nil {
		return
	}
	async.Go(e.logger, "taskengine.saveTaskLongTerm", func() {
		if err := e.longTerm.SaveTask(context.Background(), t); err != nil {
			e.logger.Warn("taskengine: long-term save task failed for %s: %v", t.ID, err)
			if e.hooks.OnUnhandledError != nil {
				e.hooks.OnUnhandledError(err, "saveTaskLongTerm", t.ID)
			}
		}
	})
}

func (e *Engine) saveEventLongTermBestEffort(ctx context.Context, evt *task.TaskEvent) {
	if e.longTerm == nil {
		return
	}
	async.Go(e.logger, "taskengine.saveEventLongTerm", func() {
		if err := e.longTerm.SaveEvent(context.Background(), evt); err != nil {
			if e.metrics != nil {
				e.metrics.RecordEventDropped("longterm_write_failed")
			}
			if e.hooks.OnEventDropped != nil {
				e.hooks.OnEventDropped(evt, err.Error())
			}
		}
	})
}

// GetEvents returns taskID's events via the short-term store.
func (e *Engine) GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error) {
	events, err := e.shortTerm.GetEvents(ctx, taskID, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: get events: %v", taskerr.ErrStorageError, err)
	}
	return events, nil
}

// Subscribe registers handler on taskID's broadcast channel and returns
// an unsubscribe function.
func (e *Engine) Subscribe(taskID string, handler broadcast.Handler) func() {
	if e.metrics != nil {
		e.metrics.SubscriberOpened()
	}
	unsubscribe := e.broadcast.Subscribe(taskID, handler)
	return func() {
		unsubscribe()
		if e.metrics != nil {
			e.metrics.SubscriberClosed()
		}
	}
}
