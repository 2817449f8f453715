// Package series transforms a freshly-minted event per its series mode
// before the task engine persists and broadcasts it.
package series

import (
	"context"
	"fmt"

	"github.com/taskcast/taskcast/internal/store"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// Result is the outcome of processing one event: the final event to
// broadcast, and whether the engine still needs to append it to the
// event list (false when the series mode already wrote it in place).
type Result struct {
	Event       *task.TaskEvent
	NeedsAppend bool
}

// Process applies evt's series mode against the current series-latest
// state in shortTerm and returns the event as it should be persisted and
// broadcast.
func Process(ctx context.Context, shortTerm store.ShortTermStore, evt *task.TaskEvent) (Result, error) {
	if evt.SeriesID == "" || evt.SeriesMode == "" {
		return Result{Event: evt, NeedsAppend: true}, nil
	}

	switch evt.SeriesMode {
	case task.SeriesKeepAll:
		return Result{Event: evt, NeedsAppend: true}, nil

	case task.SeriesAccumulate:
		return processAccumulate(ctx, shortTerm, evt)

	case task.SeriesLatest:
		return processLatest(ctx, shortTerm, evt)

	default:
		return Result{}, fmt.Errorf("series: unknown series mode %q", evt.SeriesMode)
	}
}

func processAccumulate(ctx context.Context, shortTerm store.ShortTermStore, evt *task.TaskEvent) (Result, error) {
	prev, err := shortTerm.GetSeriesLatest(ctx, evt.TaskID, evt.SeriesID)
	if err != nil {
		return Result{}, err
	}

	merged := evt
	if prev != nil {
		if prevText, ok := textField(prev.Data); ok {
			if newText, ok := textField(evt.Data); ok {
				merged = evt.Clone()
				merged.Data = mergedData(evt.Data, prevText+newText)
			}
		}
	}

	if err := shortTerm.SetSeriesLatest(ctx, evt.TaskID, evt.SeriesID, merged); err != nil {
		return Result{}, err
	}
	return Result{Event: merged, NeedsAppend: true}, nil
}

func processLatest(ctx context.Context, shortTerm store.ShortTermStore, evt *task.TaskEvent) (Result, error) {
	// ReplaceLastSeriesEvent performs the full write-through path (list
	// mutation or append, plus series-latest update); no separate append
	// step follows.
	if err := shortTerm.ReplaceLastSeriesEvent(ctx, evt.TaskID, evt.SeriesID, evt); err != nil {
		return Result{}, err
	}
	return Result{Event: evt, NeedsAppend: false}, nil
}

// textField returns data's "text" field when data is a map with a string
// "text" value.
func textField(data any) (string, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := m["text"].(string)
	return text, ok
}

// mergedData returns a copy of data with its "text" field replaced.
func mergedData(data any, text string) any {
	m, ok := data.(map[string]any)
	if !ok {
		return data
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	out["text"] = text
	return out
}
