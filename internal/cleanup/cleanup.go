// Package cleanup matches terminal tasks against user-supplied retention
// rules and filters their events down to the subset a rule's target
// selects for deletion, generalized from the teacher's TTL/eviction style
// of retention-by-duration checks. The matchers in this file are pure
// functions with no scanning or scheduling; Scheduler (scheduler.go)
// runs the periodic sweep that applies them.
package cleanup

import (
	"github.com/taskcast/taskcast/internal/taskengine/filter"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// MatchesCleanupRule reports whether rule applies to t as of now
// (milliseconds since epoch). A non-terminal task never matches.
func MatchesCleanupRule(t *task.Task, rule task.CleanupRule, now int64) bool {
	if !t.Status.IsTerminal() {
		return false
	}

	if len(rule.Match.Status) > 0 && !statusIn(t.Status, rule.Match.Status) {
		return false
	}

	if len(rule.Match.TaskTypes) > 0 {
		if t.Type == "" || !filter.MatchesType(t.Type, rule.Match.TaskTypes) {
			return false
		}
	}

	if rule.Trigger.AfterMs != nil {
		anchor := t.UpdatedAt
		if t.CompletedAt != nil {
			anchor = *t.CompletedAt
		}
		if now-anchor < *rule.Trigger.AfterMs {
			return false
		}
	}

	return true
}

func statusIn(s task.Status, statuses []task.Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// FilterEventsForCleanup returns the subset of events a rule's
// eventFilter selects for deletion. Without an eventFilter every event
// is kept for deletion.
func FilterEventsForCleanup(events []*task.TaskEvent, rule task.CleanupRule, completedAt *int64) []*task.TaskEvent {
	ef := rule.EventFilter
	if ef == nil {
		return events
	}

	var out []*task.TaskEvent
	for _, evt := range events {
		if ef.Types != nil && !filter.MatchesType(evt.Type, ef.Types) {
			continue
		}
		if ef.Levels != nil && !levelIn(evt.Level, ef.Levels) {
			continue
		}
		if ef.SeriesMode != nil && !seriesModeIn(evt.SeriesMode, ef.SeriesMode) {
			continue
		}
		if ef.OlderThanMs != nil && completedAt != nil {
			if evt.Timestamp >= *completedAt-*ef.OlderThanMs {
				continue
			}
		}
		out = append(out, evt)
	}
	return out
}

func levelIn(level task.Level, levels []task.Level) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func seriesModeIn(mode task.SeriesMode, modes []task.SeriesMode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
