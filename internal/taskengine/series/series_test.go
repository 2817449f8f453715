package series

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// fakeStore is a minimal ShortTermStore stub covering only the series-
// related methods series.Process exercises.
type fakeStore struct {
	seriesLatest map[string]*task.TaskEvent
	events       []*task.TaskEvent
	replaceCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{seriesLatest: map[string]*task.TaskEvent{}}
}

func (f *fakeStore) key(taskID, seriesID string) string { return taskID + "/" + seriesID }

func (f *fakeStore) SaveTask(ctx context.Context, t *task.Task) error { return nil }
func (f *fakeStore) GetTask(ctx context.Context, id string) (*task.Task, error) { return nil, nil }
func (f *fakeStore) NextIndex(ctx context.Context, taskID string) (int64, error) { return 0, nil }
func (f *fakeStore) AppendEvent(ctx context.Context, taskID string, evt *task.TaskEvent) error {
	f.events = append(f.events, evt)
	return nil
}
func (f *fakeStore) GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error) {
	return f.events, nil
}
func (f *fakeStore) SetTTL(ctx context.Context, taskID string, seconds int64) error { return nil }

func (f *fakeStore) GetSeriesLatest(ctx context.Context, taskID, seriesID string) (*task.TaskEvent, error) {
	return f.seriesLatest[f.key(taskID, seriesID)], nil
}

func (f *fakeStore) SetSeriesLatest(ctx context.Context, taskID, seriesID string, evt *task.TaskEvent) error {
	f.seriesLatest[f.key(taskID, seriesID)] = evt
	return nil
}

func (f *fakeStore) ReplaceLastSeriesEvent(ctx context.Context, taskID, seriesID string, newEvent *task.TaskEvent) error {
	f.replaceCalls++
	defer func() { f.seriesLatest[f.key(taskID, seriesID)] = newEvent }()

	prev := f.seriesLatest[f.key(taskID, seriesID)]
	if prev == nil {
		f.events = append(f.events, newEvent)
		return nil
	}
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].ID == prev.ID {
			f.events[i] = newEvent
			return nil
		}
	}
	f.events = append(f.events, newEvent)
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) error { return nil }

func TestProcessIdentityWithoutSeries(t *testing.T) {
	store := newFakeStore()
	evt := &task.TaskEvent{ID: "e1", TaskID: "t1", Type: "llm.delta", Data: map[string]any{"text": "hi"}}

	result, err := Process(context.Background(), store, evt)
	require.NoError(t, err)
	require.True(t, result.NeedsAppend)
	require.Same(t, evt, result.Event)
}

func TestProcessKeepAllIsIdentity(t *testing.T) {
	store := newFakeStore()
	evt := &task.TaskEvent{ID: "e1", TaskID: "t1", SeriesID: "s1", SeriesMode: task.SeriesKeepAll, Data: map[string]any{"text": "hi"}}

	result, err := Process(context.Background(), store, evt)
	require.NoError(t, err)
	require.True(t, result.NeedsAppend)
	require.Same(t, evt, result.Event)
}

func TestProcessAccumulateRoundTrip(t *testing.T) {
	ctx := context.Background()
	fstore := newFakeStore()

	events := []*task.TaskEvent{
		{ID: "e1", TaskID: "t1", Index: 0, SeriesID: "msg-1", SeriesMode: task.SeriesAccumulate, Data: map[string]any{"text": "a"}},
		{ID: "e2", TaskID: "t1", Index: 1, SeriesID: "msg-1", SeriesMode: task.SeriesAccumulate, Data: map[string]any{"text": "b"}},
		{ID: "e3", TaskID: "t1", Index: 2, SeriesID: "msg-1", SeriesMode: task.SeriesAccumulate, Data: map[string]any{"text": "c"}},
	}

	for _, evt := range events {
		result, err := Process(ctx, fstore, evt)
		require.NoError(t, err)
		require.True(t, result.NeedsAppend)
		require.NoError(t, fstore.AppendEvent(ctx, "t1", result.Event))
	}

	latest, err := fstore.GetSeriesLatest(ctx, "t1", "msg-1")
	require.NoError(t, err)
	require.Equal(t, "abc", latest.Data.(map[string]any)["text"])
	require.Len(t, fstore.events, 3)
}

func TestProcessAccumulateNonTextDataUnchanged(t *testing.T) {
	ctx := context.Background()
	fstore := newFakeStore()

	first := &task.TaskEvent{ID: "e1", TaskID: "t1", SeriesID: "s1", SeriesMode: task.SeriesAccumulate, Data: map[string]any{"count": 1}}
	result, err := Process(ctx, fstore, first)
	require.NoError(t, err)
	require.Same(t, first, result.Event)
}

func TestProcessLatestKeepsSingleEventInPlace(t *testing.T) {
	ctx := context.Background()
	fstore := newFakeStore()

	events := []*task.TaskEvent{
		{ID: "e1", TaskID: "t1", Index: 0, SeriesID: "s1", SeriesMode: task.SeriesLatest, Data: "first"},
		{ID: "e2", TaskID: "t1", Index: 0, SeriesID: "s1", SeriesMode: task.SeriesLatest, Data: "second"},
		{ID: "e3", TaskID: "t1", Index: 0, SeriesID: "s1", SeriesMode: task.SeriesLatest, Data: "third"},
	}

	for _, evt := range events {
		result, err := Process(ctx, fstore, evt)
		require.NoError(t, err)
		require.False(t, result.NeedsAppend)
	}

	require.Len(t, fstore.events, 1)
	require.Equal(t, "e3", fstore.events[0].ID)
	require.Equal(t, "third", fstore.events[0].Data)
}

func TestProcessUnknownSeriesModeErrors(t *testing.T) {
	store := newFakeStore()
	evt := &task.TaskEvent{ID: "e1", TaskID: "t1", SeriesID: "s1", SeriesMode: "bogus"}

	_, err := Process(context.Background(), store, evt)
	require.Error(t, err)
}
