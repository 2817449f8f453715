package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

func TestMatchesTypeWildcards(t *testing.T) {
	assert.True(t, MatchesType("llm.delta.chunk", []string{"llm.*"}))
	assert.False(t, MatchesType("llm", []string{"llm.*"}))
	assert.True(t, MatchesType("x", []string{"*"}))
	assert.False(t, MatchesType("x", []string{}))
	assert.True(t, MatchesType("anything", nil))
	assert.True(t, MatchesType("llm.delta", []string{"llm.delta"}))
}

func falsePtr() *bool { b := false; return &b }

func TestMatchesFilterExcludesStatusWhenDisabled(t *testing.T) {
	evt := &task.TaskEvent{Type: task.StatusEventType, Level: task.LevelInfo}
	f := task.Filter{IncludeStatus: falsePtr()}
	assert.False(t, MatchesFilter(evt, f))
}

func TestMatchesFilterIncludesStatusByDefault(t *testing.T) {
	evt := &task.TaskEvent{Type: task.StatusEventType, Level: task.LevelInfo}
	assert.True(t, MatchesFilter(evt, task.Filter{}))
}

func TestMatchesFilterLevels(t *testing.T) {
	evt := &task.TaskEvent{Type: "llm.delta", Level: task.LevelDebug}
	assert.False(t, MatchesFilter(evt, task.Filter{Levels: []task.Level{task.LevelInfo}}))
	assert.True(t, MatchesFilter(evt, task.Filter{Levels: []task.Level{task.LevelDebug}}))
}

func events6() []*task.TaskEvent {
	types := []string{"llm.delta", "tool.call", "llm.delta", "tool.call", "llm.delta", "tool.call"}
	out := make([]*task.TaskEvent, len(types))
	for i, typ := range types {
		out[i] = &task.TaskEvent{ID: typ, Index: int64(i), Type: typ, Level: task.LevelInfo}
	}
	return out
}

func TestApplyFilteredIndexDeterministic(t *testing.T) {
	evts := events6()
	f := task.Filter{Types: []string{"llm.*"}}

	rows := ApplyFilteredIndex(evts, f)
	assert.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, int64(i), row.FilteredIndex)
	}
}

func TestApplyFilteredIndexSinceResume(t *testing.T) {
	evts := events6()
	f := task.Filter{Types: []string{"llm.*"}}

	full := ApplyFilteredIndex(evts, f)

	sinceOne := int64(1)
	resumed := ApplyFilteredIndex(evts, task.Filter{Types: []string{"llm.*"}, Since: task.Cursor{Index: &sinceOne}})

	var expected []IndexedEvent
	for _, row := range full {
		if row.FilteredIndex > sinceOne {
			expected = append(expected, row)
		}
	}

	assert.Equal(t, expected, resumed)
}

func TestApplyFilteredIndexEmptyPatternsRejectsAll(t *testing.T) {
	evts := events6()
	rows := ApplyFilteredIndex(evts, task.Filter{Types: []string{}})
	assert.Empty(t, rows)
}
