// Package http is Taskcast's JSON/SSE surface: task CRUD, event publish,
// history replay, and the live event stream, grounded on the teacher's
// APIHandler shape (functional-options construction, writeJSONError/
// writeMappedError, component logger) generalized to the task/event
// domain.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/taskcast/taskcast/internal/auth"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/taskengine"
	"github.com/taskcast/taskcast/internal/taskengine/sse"
	"github.com/taskcast/taskcast/internal/taskengine/task"
	"github.com/taskcast/taskcast/internal/taskerr"
	"github.com/taskcast/taskcast/internal/webhook"
)

const defaultMaxCreateTaskBodySize int64 = 1 << 20 // 1 MiB

// TaskHandler serves Taskcast's HTTP/JSON/SSE endpoints over one Engine.
type TaskHandler struct {
	engine      *taskengine.Engine
	streams     *sse.StreamManager
	resolver    *auth.Resolver
	dispatcher  *webhook.Dispatcher
	logger      logging.Logger
	maxBodySize int64
}

// HandlerOption configures a TaskHandler.
type HandlerOption func(*TaskHandler)

// WithWebhookDispatcher attaches a Dispatcher so created tasks with
// webhooks get delivered events.
func WithWebhookDispatcher(d *webhook.Dispatcher) HandlerOption {
	return func(h *TaskHandler) { h.dispatcher = d }
}

// WithLogger overrides the handler's component logger.
func WithLogger(logger logging.Logger) HandlerOption {
	return func(h *TaskHandler) { h.logger = logger }
}

// WithMaxCreateTaskBodySize overrides the request body size cap applied
// to POST /tasks and POST /tasks/{id}/events.
func WithMaxCreateTaskBodySize(n int64) HandlerOption {
	return func(h *TaskHandler) { h.maxBodySize = n }
}

// NewTaskHandler constructs a TaskHandler over engine, authorizing every
// request through resolver.
func NewTaskHandler(engine *taskengine.Engine, resolver *auth.Resolver, opts ...HandlerOption) *TaskHandler {
	h := &TaskHandler{
		engine:      engine,
		streams:     sse.New(engine),
		resolver:    resolver,
		logger:      logging.NewComponentLogger("api.http"),
		maxBodySize: defaultMaxCreateTaskBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TaskHandler) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

// authorize extracts the bearer credential, resolves it, and checks it
// against the scope the operation requires and taskID (empty for
// operations with no single task in scope, e.g. create).
func (h *TaskHandler) authorize(w http.ResponseWriter, r *http.Request, operation, taskID string) (auth.Context, bool) {
	ctx, err := h.resolver.Resolve(r.Header.Get("Authorization"))
	if err != nil {
		writeMappedError(w, h.logger, err, "unauthorized")
		return auth.Context{}, false
	}

	required, err := auth.RequiredScope(operation)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return auth.Context{}, false
	}

	if err := auth.Authorize(ctx, required, taskID); err != nil {
		writeMappedError(w, h.logger, err, "forbidden")
		return auth.Context{}, false
	}
	return ctx, true
}

// createTaskRequest is the JSON body of POST /tasks.
type createTaskRequest struct {
	ID         string               `json:"id,omitempty"`
	Type       string               `json:"type,omitempty"`
	Params     any                  `json:"params,omitempty"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
	TTL        *int64               `json:"ttl,omitempty"`
	Webhooks   []task.WebhookConfig `json:"webhooks,omitempty"`
	Cleanup    []task.CleanupRule   `json:"cleanup,omitempty"`
	AuthConfig *task.AuthConfig     `json:"authConfig,omitempty"`
}

// HandleCreateTask serves POST /tasks.
func (h *TaskHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, "create", ""); !ok {
		return
	}

	var req createTaskRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}

	t, err := h.engine.CreateTask(r.Context(), taskengine.CreateTaskInput{
		ID: req.ID, Type: req.Type, Params: req.Params, Metadata: req.Metadata,
		TTL: req.TTL, Webhooks: req.Webhooks, Cleanup: req.Cleanup, AuthConfig: req.AuthConfig,
	})
	if err != nil {
		writeMappedError(w, h.logger, err, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

// HandleGetTask serves GET /tasks/{id}.
func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, ok := h.authorize(w, r, "subscribe", taskID); !ok {
		return
	}

	t, err := h.engine.GetTask(r.Context(), taskID)
	if err != nil {
		writeMappedError(w, h.logger, err, "failed to load task")
		return
	}
	if t == nil {
		writeMappedError(w, h.logger, taskerr.ErrNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// patchStatusRequest is the JSON body of PATCH /tasks/{id}/status.
type patchStatusRequest struct {
	Status task.Status     `json:"status"`
	Result any             `json:"result,omitempty"`
	Error  *task.TaskError `json:"error,omitempty"`
}

// HandlePatchStatus serves PATCH /tasks/{id}/status.
func (h *TaskHandler) HandlePatchStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, ok := h.authorize(w, r, "manage", taskID); !ok {
		return
	}

	var req patchStatusRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeJSONError(w, http.StatusBadRequest, "status is required")
		return
	}

	t, err := h.engine.TransitionTask(r.Context(), taskID, req.Status, taskengine.TransitionInput{
		Result: req.Result, Error: req.Error,
	})
	if err != nil {
		writeMappedError(w, h.logger, err, "failed to transition task")
		return
	}

	h.dispatchWebhooksForStatus(t)
	writeJSON(w, http.StatusOK, t)
}

func (h *TaskHandler) dispatchWebhooksForStatus(t *task.Task) {
	if h.dispatcher == nil || len(t.Webhooks) == 0 {
		return
	}
	events, err := h.engine.GetEvents(context.Background(), t.ID, task.GetEventsOptions{Limit: 1})
	if err != nil || len(events) == 0 {
		return
	}
	last := events[len(events)-1]
	h.dispatcher.Dispatch(t.ID, t.Webhooks, last, last.Index)
}

// publishEventRequest is the JSON body of POST /tasks/{id}/events.
type publishEventRequest struct {
	Type       string          `json:"type"`
	Level      task.Level      `json:"level,omitempty"`
	Data       any             `json:"data,omitempty"`
	SeriesID   string          `json:"seriesId,omitempty"`
	SeriesMode task.SeriesMode `json:"seriesMode,omitempty"`
}

// HandlePublishEvent serves POST /tasks/{id}/events.
func (h *TaskHandler) HandlePublishEvent(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, ok := h.authorize(w, r, "publish", taskID); !ok {
		return
	}

	var req publishEventRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeJSONError(w, http.StatusBadRequest, "type is required")
		return
	}
	if req.Level == "" {
		req.Level = task.LevelInfo
	}

	evt, err := h.engine.PublishEvent(r.Context(), taskID, taskengine.PublishInput{
		Type: req.Type, Level: req.Level, Data: req.Data,
		SeriesID: req.SeriesID, SeriesMode: req.SeriesMode,
	})
	if err != nil {
		writeMappedError(w, h.logger, err, "failed to publish event")
		return
	}

	t, err := h.engine.GetTask(r.Context(), taskID)
	if err == nil && t != nil {
		h.dispatchWebhooks(t, evt)
	}

	writeJSON(w, http.StatusCreated, evt)
}

func (h *TaskHandler) dispatchWebhooks(t *task.Task, evt *task.TaskEvent) {
	if h.dispatcher == nil || len(t.Webhooks) == 0 {
		return
	}
	h.dispatcher.Dispatch(t.ID, t.Webhooks, evt, evt.Index)
}

// HandleGetHistory serves GET /tasks/{id}/events/history.
func (h *TaskHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, ok := h.authorize(w, r, "history", taskID); !ok {
		return
	}

	f := parseFilter(r.URL.Query())
	events, err := h.engine.GetEvents(r.Context(), taskID, task.GetEventsOptions{Since: f.Since})
	if err != nil {
		writeMappedError(w, h.logger, err, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, filterHistoryResponse(events, f))
}

// HandleStream serves GET /tasks/{id}/events (SSE).
func (h *TaskHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, ok := h.authorize(w, r, "subscribe", taskID); !ok {
		return
	}

	f := parseFilter(r.URL.Query())
	if err := h.streams.Stream(w, r, taskID, f); err != nil {
		h.logger.Warn("sse: stream for task %s ended with error: %v", taskID, err)
	}
}

// HandleHealth serves GET /health.
func (h *TaskHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
