package cleanup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

func int64Ptr(v int64) *int64 { return &v }

func TestMatchesCleanupRuleSeedScenario(t *testing.T) {
	completedAt := int64(1000)
	tk := &task.Task{
		Type:        "llm.chat",
		Status:      task.StatusCompleted,
		CompletedAt: &completedAt,
	}
	rule := task.CleanupRule{
		Match:   task.CleanupMatch{TaskTypes: []string{"llm.*"}},
		Trigger: task.CleanupTrigger{AfterMs: int64Ptr(1500)},
		Target:  task.CleanupTargetAll,
	}

	assert.False(t, MatchesCleanupRule(tk, rule, 2000))
	assert.True(t, MatchesCleanupRule(tk, rule, 2600))
}

func TestMatchesCleanupRuleRejectsNonTerminal(t *testing.T) {
	tk := &task.Task{Type: "llm.chat", Status: task.StatusRunning}
	rule := task.CleanupRule{Target: task.CleanupTargetAll}
	assert.False(t, MatchesCleanupRule(tk, rule, 10_000))
}

func TestMatchesCleanupRuleStatusList(t *testing.T) {
	tk := &task.Task{Status: task.StatusFailed, UpdatedAt: 0}
	rule := task.CleanupRule{Match: task.CleanupMatch{Status: []task.Status{task.StatusCancelled}}, Target: task.CleanupTargetAll}
	assert.False(t, MatchesCleanupRule(tk, rule, 0))

	rule.Match.Status = []task.Status{task.StatusFailed}
	assert.True(t, MatchesCleanupRule(tk, rule, 0))
}

func TestFilterEventsForCleanupSeedScenario(t *testing.T) {
	completedAt := int64(1000)
	events := []*task.TaskEvent{
		{ID: "old", Timestamp: 300},
		{ID: "new", Timestamp: 500},
	}
	rule := task.CleanupRule{
		Target:      task.CleanupTargetEvents,
		EventFilter: &task.CleanupEventFilter{OlderThanMs: int64Ptr(600)},
	}

	kept := FilterEventsForCleanup(events, rule, &completedAt)
	assert.Len(t, kept, 1)
	assert.Equal(t, "old", kept[0].ID)
}

func TestFilterEventsForCleanupNoFilterKeepsAll(t *testing.T) {
	events := []*task.TaskEvent{{ID: "a"}, {ID: "b"}}
	rule := task.CleanupRule{Target: task.CleanupTargetAll}
	assert.Equal(t, events, FilterEventsForCleanup(events, rule, nil))
}

func TestFilterEventsForCleanupByTypeAndLevel(t *testing.T) {
	events := []*task.TaskEvent{
		{ID: "a", Type: "llm.delta", Level: task.LevelDebug},
		{ID: "b", Type: "tool.call", Level: task.LevelDebug},
		{ID: "c", Type: "llm.delta", Level: task.LevelError},
	}
	rule := task.CleanupRule{
		Target: task.CleanupTargetEvents,
		EventFilter: &task.CleanupEventFilter{
			Types:  []string{"llm.*"},
			Levels: []task.Level{task.LevelDebug},
		},
	}

	kept := FilterEventsForCleanup(events, rule, nil)
	assert.Len(t, kept, 1)
	assert.Equal(t, "a", kept[0].ID)
}
