// Package store defines the ShortTermStore and LongTermStore contracts
// the task engine treats as black boxes, grounded on the teacher's
// ports-package convention of declaring store interfaces separately from
// their implementations.
package store

import (
	"context"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// ShortTermStore is the hot store: tasks, per-task ordered event lists,
// the per-task monotonic index counter, and the series-latest map. All
// correctness-critical state (the counter, the event list) must live
// here even under a multi-instance deployment.
type ShortTermStore interface {
	SaveTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// NextIndex atomically returns the next monotonic integer for taskID,
	// starting at 0. Under multi-instance deployment this must be a
	// globally atomic counter; no caller may cache its result.
	NextIndex(ctx context.Context, taskID string) (int64, error)

	AppendEvent(ctx context.Context, taskID string, evt *task.TaskEvent) error
	GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error)

	// SetTTL applies an expiry to the task key, the event list key, all
	// series-latest keys, and the series-id index. Backends without
	// expiry support may treat this as a no-op.
	SetTTL(ctx context.Context, taskID string, seconds int64) error

	GetSeriesLatest(ctx context.Context, taskID, seriesID string) (*task.TaskEvent, error)
	SetSeriesLatest(ctx context.Context, taskID, seriesID string, evt *task.TaskEvent) error

	// ReplaceLastSeriesEvent overwrites the prior series-latest entry in
	// the event list in place (by id, scanning from the tail) if one
	// exists, otherwise appends newEvent. It always updates series-latest.
	ReplaceLastSeriesEvent(ctx context.Context, taskID, seriesID string, newEvent *task.TaskEvent) error

	// DeleteTask removes a task and its associated keys, used by TTL
	// eviction and cleanup rule execution.
	DeleteTask(ctx context.Context, taskID string) error
}

// LongTermStore is the archival store for tasks and events. Writes are
// best-effort; failures are isolated from the client-visible hot path by
// the caller.
type LongTermStore interface {
	SaveTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// SaveEvent inserts evt; a conflict on event id is ignored (already
	// durable).
	SaveEvent(ctx context.Context, evt *task.TaskEvent) error

	// GetEvents has the same cursor semantics as ShortTermStore.GetEvents
	// except a since.id that is not found anchors at index -1 (i.e.
	// resolves to "all events"), rather than falling back to an
	// unconditional full scan.
	GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error)

	// DeleteEvents removes events matching ids, used by cleanup rule
	// execution.
	DeleteEvents(ctx context.Context, taskID string, eventIDs []string) error

	// DeleteTask removes a task row, used by cleanup rule execution.
	DeleteTask(ctx context.Context, taskID string) error
}
