package http

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/taskcast/taskcast/internal/taskengine/filter"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// parseFilter builds a task.Filter from a request's query string, per
// the SSE/history contract: types, levels, includeStatus, wrap, and
// since.id/since.index/since.timestamp. Unset boolean fields are left
// nil so Filter's own Or-Default accessors apply the spec's defaults.
func parseFilter(q url.Values) task.Filter {
	var f task.Filter

	if types := q["types"]; len(types) > 0 {
		f.Types = splitCommaValues(types)
	}
	if levels := q["levels"]; len(levels) > 0 {
		for _, l := range splitCommaValues(levels) {
			f.Levels = append(f.Levels, task.Level(l))
		}
	}
	if v := q.Get("includeStatus"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.IncludeStatus = &b
		}
	}
	if v := q.Get("wrap"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Wrap = &b
		}
	}

	if v := q.Get("since.id"); v != "" {
		f.Since.ID = v
	}
	if v := q.Get("since.index"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Since.Index = &n
		}
	}
	if v := q.Get("since.timestamp"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Since.Timestamp = &n
		}
	}

	return f
}

// filterHistoryResponse applies f's filtered-index computation to events
// and shapes the result per f.WrapOrDefault, matching the same envelope
// wrapping the SSE stream and webhook dispatcher use.
func filterHistoryResponse(events []*task.TaskEvent, f task.Filter) []any {
	indexed := filter.ApplyFilteredIndex(events, f)
	out := make([]any, len(indexed))
	for i, row := range indexed {
		if f.WrapOrDefault() {
			out[i] = task.NewEnvelope(row.FilteredIndex, row.Event)
		} else {
			out[i] = row.Event
		}
	}
	return out
}

func splitCommaValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
