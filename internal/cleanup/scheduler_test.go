package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcast/taskcast/internal/store/shortterm"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

func TestSchedulerDeletesTaskMatchingGlobalRule(t *testing.T) {
	store := shortterm.NewMemory()
	defer store.Close()
	ctx := context.Background()

	completedAt := int64(1000)
	require.NoError(t, store.SaveTask(ctx, &task.Task{
		ID: "t1", Status: task.StatusCompleted, CompletedAt: &completedAt,
	}))

	afterMs := int64(500)
	rule := task.CleanupRule{
		Target:  task.CleanupTargetAll,
		Trigger: task.CleanupTrigger{AfterMs: &afterMs},
	}

	sched := NewScheduler(store, store,
		WithGlobalRules([]task.CleanupRule{rule}),
		WithClock(func() time.Time { return time.UnixMilli(completedAt + 1000) }),
	)
	sched.sweep(ctx)

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSchedulerSkipsTaskNotYetPastTrigger(t *testing.T) {
	store := shortterm.NewMemory()
	defer store.Close()
	ctx := context.Background()

	completedAt := int64(1000)
	require.NoError(t, store.SaveTask(ctx, &task.Task{
		ID: "t1", Status: task.StatusCompleted, CompletedAt: &completedAt,
	}))

	afterMs := int64(10_000)
	rule := task.CleanupRule{Target: task.CleanupTargetAll, Trigger: task.CleanupTrigger{AfterMs: &afterMs}}

	sched := NewScheduler(store, store,
		WithGlobalRules([]task.CleanupRule{rule}),
		WithClock(func() time.Time { return time.UnixMilli(completedAt + 1000) }),
	)
	sched.sweep(ctx)

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSchedulerDeletesOnlyMatchingEvents(t *testing.T) {
	store := shortterm.NewMemory()
	defer store.Close()
	ctx := context.Background()

	completedAt := int64(1000)
	require.NoError(t, store.SaveTask(ctx, &task.Task{
		ID: "t1", Status: task.StatusCompleted, CompletedAt: &completedAt,
	}))
	require.NoError(t, store.AppendEvent(ctx, "t1", &task.TaskEvent{ID: "e1", TaskID: "t1", Type: "progress"}))
	require.NoError(t, store.AppendEvent(ctx, "t1", &task.TaskEvent{ID: "e2", TaskID: "t1", Type: "taskcast:status"}))

	rule := task.CleanupRule{
		Target:      task.CleanupTargetEvents,
		EventFilter: &task.CleanupEventFilter{Types: []string{"progress"}},
	}

	sched := NewScheduler(store, store, WithGlobalRules([]task.CleanupRule{rule}))
	sched.sweep(ctx)

	events, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "e2", events[0].ID)
}

func TestSchedulerNoOpWithoutLister(t *testing.T) {
	store := shortterm.NewMemory()
	defer store.Close()

	sched := NewScheduler(store, nil)
	sched.Start(context.Background())
	sched.Stop()
}
