// Package statemachine is the pure validator of task status transitions.
// It holds no state and performs no I/O.
package statemachine

import (
	"fmt"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

var edges = map[task.Status]map[task.Status]bool{
	task.StatusPending: {
		task.StatusRunning:   true,
		task.StatusCancelled: true,
	},
	task.StatusRunning: {
		task.StatusCompleted: true,
		task.StatusFailed:    true,
		task.StatusTimeout:   true,
		task.StatusCancelled: true,
	},
}

// CanTransition reports whether the edge from -> to is listed in the
// fixed status graph. Same-state transitions are always rejected, and
// every terminal status is a sink.
func CanTransition(from, to task.Status) bool {
	if from == to {
		return false
	}
	targets, ok := edges[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether s is one of the four sink statuses.
func IsTerminal(s task.Status) bool {
	return s.IsTerminal()
}

// ApplyTransition returns to if the edge from -> to is legal, otherwise
// an error wrapping taskerr.ErrInvalidTransition-compatible text. Callers
// that need errors.Is matching should use taskengine's own wrapping,
// since this package intentionally has no dependency on taskerr to stay
// a leaf.
func ApplyTransition(from, to task.Status) (task.Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	return to, nil
}
