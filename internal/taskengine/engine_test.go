package taskengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcast/taskcast/internal/broadcast"
	"github.com/taskcast/taskcast/internal/store/longterm"
	"github.com/taskcast/taskcast/internal/store/shortterm"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

func newTestEngine() *Engine {
	return New(shortterm.NewMemory(), broadcast.NewLocal())
}

func TestCreateTaskAllocatesIDAndPendingStatus(t *testing.T) {
	e := newTestEngine()
	tk, err := e.CreateTask(context.Background(), CreateTaskInput{Type: "ingest.file"})
	require.NoError(t, err)
	require.NotEmpty(t, tk.ID)
	require.Equal(t, task.StatusPending, tk.Status)
	require.Equal(t, "ingest.file", tk.Type)
}

func TestCreateTaskHonorsCallerSuppliedID(t *testing.T) {
	e := newTestEngine()
	tk, err := e.CreateTask(context.Background(), CreateTaskInput{ID: "explicit-1"})
	require.NoError(t, err)
	require.Equal(t, "explicit-1", tk.ID)
}

func TestGetTaskReturnsNilWhenAbsent(t *testing.T) {
	e := newTestEngine()
	got, err := e.GetTask(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTransitionTaskRejectsInvalidEdge(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)

	_, err = e.TransitionTask(ctx, tk.ID, task.StatusCompleted, TransitionInput{})
	require.Error(t, err)
}

func TestTransitionTaskEmitsStatusEvent(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)

	var mu sync.Mutex
	var received []*task.TaskEvent
	unsubscribe := e.Subscribe(tk.ID, func(evt *task.TaskEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt)
	})
	defer unsubscribe()

	updated, err := e.TransitionTask(ctx, tk.ID, task.StatusRunning, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, updated.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, task.StatusEventType, received[0].Type)
	require.Equal(t, int64(0), received[0].Index)
}

func TestTransitionTaskToTerminalSetsCompletedAt(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)

	_, err = e.TransitionTask(ctx, tk.ID, task.StatusRunning, TransitionInput{})
	require.NoError(t, err)

	result := map[string]any{"ok": true}
	updated, err := e.TransitionTask(ctx, tk.ID, task.StatusCompleted, TransitionInput{Result: result})
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)
	require.Equal(t, result, updated.Result)
}

func TestPublishEventRejectsUnknownTask(t *testing.T) {
	e := newTestEngine()
	_, err := e.PublishEvent(context.Background(), "missing", PublishInput{Type: "progress"})
	require.Error(t, err)
}

func TestPublishEventRejectsTerminalTask(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, tk.ID, task.StatusRunning, TransitionInput{})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, tk.ID, task.StatusCompleted, TransitionInput{})
	require.NoError(t, err)

	_, err = e.PublishEvent(ctx, tk.ID, PublishInput{Type: "progress"})
	require.Error(t, err)
}

func TestPublishEventIndicesAreMonotonic(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)

	evt1, err := e.PublishEvent(ctx, tk.ID, PublishInput{Type: "progress", Data: 1})
	require.NoError(t, err)
	evt2, err := e.PublishEvent(ctx, tk.ID, PublishInput{Type: "progress", Data: 2})
	require.NoError(t, err)

	require.Equal(t, int64(0), evt1.Index)
	require.Equal(t, int64(1), evt2.Index)
}

func TestPublishEventAccumulateSeriesMergesText(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)

	_, err = e.PublishEvent(ctx, tk.ID, PublishInput{
		Type: "llm.delta", SeriesID: "s1", SeriesMode: task.SeriesAccumulate,
		Data: map[string]any{"text": "a"},
	})
	require.NoError(t, err)
	evt2, err := e.PublishEvent(ctx, tk.ID, PublishInput{
		Type: "llm.delta", SeriesID: "s1", SeriesMode: task.SeriesAccumulate,
		Data: map[string]any{"text": "b"},
	})
	require.NoError(t, err)

	require.Equal(t, "ab", evt2.Data.(map[string]any)["text"])

	events, err := e.GetEvents(ctx, tk.ID, task.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestPublishEventLatestSeriesReplacesInPlace(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)

	_, err = e.PublishEvent(ctx, tk.ID, PublishInput{
		Type: "progress.percent", SeriesID: "p1", SeriesMode: task.SeriesLatest, Data: 10,
	})
	require.NoError(t, err)
	_, err = e.PublishEvent(ctx, tk.ID, PublishInput{
		Type: "progress.percent", SeriesID: "p1", SeriesMode: task.SeriesLatest, Data: 50,
	})
	require.NoError(t, err)

	events, err := e.GetEvents(ctx, tk.ID, task.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 50, events[0].Data)
}

func TestSubscribeDeliversPublishedEvents(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)

	delivered := make(chan *task.TaskEvent, 1)
	unsubscribe := e.Subscribe(tk.ID, func(evt *task.TaskEvent) {
		delivered <- evt
	})
	defer unsubscribe()

	_, err = e.PublishEvent(ctx, tk.ID, PublishInput{Type: "progress", Data: 42})
	require.NoError(t, err)

	select {
	case evt := <-delivered:
		require.Equal(t, "progress", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestTransitionHooksFireOnFailure(t *testing.T) {
	ctx := context.Background()
	failed := make(chan *task.Task, 1)

	e := New(shortterm.NewMemory(), broadcast.NewLocal(), WithHooks(Hooks{
		OnTaskFailed: func(t *task.Task, err *task.TaskError) { failed <- t },
	}))

	tk, err := e.CreateTask(ctx, CreateTaskInput{})
	require.NoError(t, err)
	_, err = e.TransitionTask(ctx, tk.ID, task.StatusRunning, TransitionInput{})
	require.NoError(t, err)

	_, err = e.TransitionTask(ctx, tk.ID, task.StatusFailed, TransitionInput{Error: &task.TaskError{Message: "boom"}})
	require.NoError(t, err)

	select {
	case got := <-failed:
		require.Equal(t, tk.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onTaskFailed")
	}
}

func TestCreateTaskBestEffortArchivesToLongTerm(t *testing.T) {
	ctx := context.Background()
	lt := longterm.NewMemory()
	e := New(shortterm.NewMemory(), broadcast.NewLocal(), WithLongTerm(lt))

	tk, err := e.CreateTask(ctx, CreateTaskInput{Type: "ingest.file"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := lt.GetTask(ctx, tk.ID)
		return err == nil && got != nil
	}, time.Second, 10*time.Millisecond)
}
