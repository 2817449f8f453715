// Package filter evaluates subscribe-filters and computes the stable
// filtered-index over an event sequence. It is a pure function package
// with no I/O, generalized from the wildcard type-matching idiom used
// for dotted event-type constants elsewhere in the codebase.
package filter

import (
	"strings"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// MatchesType reports whether typ matches any pattern in patterns. A nil
// patterns slice accepts everything; an empty (non-nil) slice rejects
// everything. A pattern matches if it equals typ exactly, equals "*", or
// ends in ".*" and typ begins with the prefix followed by a literal dot.
func MatchesType(typ string, patterns []string) bool {
	if patterns == nil {
		return true
	}
	for _, pattern := range patterns {
		if pattern == "*" || pattern == typ {
			return true
		}
		if strings.HasSuffix(pattern, ".*") {
			prefix := strings.TrimSuffix(pattern, "*")
			if strings.HasPrefix(typ, prefix) {
				return true
			}
		}
	}
	return false
}

// MatchesFilter reports whether evt passes f: status events are rejected
// when f.IncludeStatus is explicitly false, then the type pattern is
// applied, then the level (when f.Levels is set).
func MatchesFilter(evt *task.TaskEvent, f task.Filter) bool {
	if evt.Type == task.StatusEventType && f.IncludeStatus != nil && !*f.IncludeStatus {
		return false
	}
	if !MatchesType(evt.Type, f.Types) {
		return false
	}
	if f.Levels != nil && !levelIn(evt.Level, f.Levels) {
		return false
	}
	return true
}

func levelIn(level task.Level, levels []task.Level) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// IndexedEvent is one output row of ApplyFilteredIndex.
type IndexedEvent struct {
	FilteredIndex int64
	RawIndex      int64
	Event         *task.TaskEvent
}

// ApplyFilteredIndex walks events in order, assigning each one that
// passes f the next integer starting from 0 (the filtered index),
// computed over the full input sequence so a client resuming with
// since.index = k deterministically sees exactly k+1, k+2, … regardless
// of how much of the raw history is retained upstream. When f.Since.Index
// is set, rows whose filtered index is <= that value are dropped from
// the result (but still counted).
func ApplyFilteredIndex(events []*task.TaskEvent, f task.Filter) []IndexedEvent {
	var out []IndexedEvent
	var next int64

	for _, evt := range events {
		if !MatchesFilter(evt, f) {
			continue
		}
		fi := next
		next++

		if f.Since.Index != nil && fi <= *f.Since.Index {
			continue
		}

		out = append(out, IndexedEvent{FilteredIndex: fi, RawIndex: evt.Index, Event: evt})
	}

	return out
}
