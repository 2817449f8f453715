package shortterm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

func TestMemoryNextIndexMonotonic(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		idx, err := store.NextIndex(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
}

func TestMemoryNextIndexConcurrentIsUnique(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	const n = 200
	indices := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			idx, err := store.NextIndex(ctx, "t1")
			require.NoError(t, err)
			indices[i] = idx
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, idx := range indices {
		require.False(t, seen[idx], "duplicate index %d", idx)
		seen[idx] = true
	}
	require.Len(t, seen, n)
}

func TestMemorySaveAndGetTask(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, &task.Task{ID: "t1", Status: task.StatusPending}))
	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, got.Status)

	missing, err := store.GetTask(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryGetTaskReturnsCopy(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, &task.Task{ID: "t1", Metadata: map[string]any{"k": "v"}}))
	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	got.Metadata["k"] = "mutated"

	got2, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "v", got2.Metadata["k"])
}

func seedEvents() []*task.TaskEvent {
	return []*task.TaskEvent{
		{ID: "e0", Index: 0, Timestamp: 100},
		{ID: "e1", Index: 1, Timestamp: 200},
		{ID: "e2", Index: 2, Timestamp: 300},
	}
}

func TestMemoryGetEventsCursorByID(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()
	for _, evt := range seedEvents() {
		require.NoError(t, store.AppendEvent(ctx, "t1", evt))
	}

	got, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{Since: task.Cursor{ID: "e0"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "e1", got[0].ID)
}

func TestMemoryGetEventsCursorByIDNotFoundReturnsAll(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()
	for _, evt := range seedEvents() {
		require.NoError(t, store.AppendEvent(ctx, "t1", evt))
	}

	got, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{Since: task.Cursor{ID: "missing"}})
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestMemoryGetEventsCursorByIndex(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()
	for _, evt := range seedEvents() {
		require.NoError(t, store.AppendEvent(ctx, "t1", evt))
	}

	idx := int64(0)
	got, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{Since: task.Cursor{Index: &idx}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "e1", got[0].ID)
}

func TestMemoryGetEventsCursorByTimestamp(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()
	for _, evt := range seedEvents() {
		require.NoError(t, store.AppendEvent(ctx, "t1", evt))
	}

	ts := int64(100)
	got, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{Since: task.Cursor{Timestamp: &ts}})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestMemoryGetEventsLimitTruncatesHead(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()
	for _, evt := range seedEvents() {
		require.NoError(t, store.AppendEvent(ctx, "t1", evt))
	}

	got, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e2", got[0].ID)
}

func TestMemorySeriesLatestRoundTrip(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SetSeriesLatest(ctx, "t1", "s1", &task.TaskEvent{ID: "e1", Data: "a"}))
	got, err := store.GetSeriesLatest(ctx, "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, "a", got.Data)
}

func TestMemoryReplaceLastSeriesEventAppendsWhenNoPrior(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.ReplaceLastSeriesEvent(ctx, "t1", "s1", &task.TaskEvent{ID: "e1", Index: 0, Data: "first"}))
	events, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestMemoryReplaceLastSeriesEventOverwritesInPlace(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, "t1", &task.TaskEvent{ID: "other", Index: 0}))
	require.NoError(t, store.ReplaceLastSeriesEvent(ctx, "t1", "s1", &task.TaskEvent{ID: "e1", Index: 1, Data: "first"}))
	require.NoError(t, store.ReplaceLastSeriesEvent(ctx, "t1", "s1", &task.TaskEvent{ID: "e2", Index: 1, Data: "second"}))

	events, err := store.GetEvents(ctx, "t1", task.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e2", events[1].ID)
	require.Equal(t, "second", events[1].Data)
}

func TestMemoryEvictsExpiredTasks(t *testing.T) {
	store := NewMemory(WithEvictInterval(5 * time.Millisecond))
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, &task.Task{ID: "t1"}))
	require.NoError(t, store.SetTTL(ctx, "t1", 0))

	require.Eventually(t, func() bool {
		got, err := store.GetTask(ctx, "t1")
		return err == nil && got == nil
	}, time.Second, 5*time.Millisecond)
}
