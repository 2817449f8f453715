package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

// Redis is the multi-instance ShortTermStore backend. Keys follow
// spec's hot-store layout: `<prefix>:task:<id>`, `<prefix>:events:<id>`
// (an ordered list), `<prefix>:series:<taskId>:<seriesId>`,
// `<prefix>:seriesIds:<taskId>` (a set), and
// `<prefix>:task:<id>:counter` (an integer incremented atomically for
// NextIndex).
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a Redis-backed ShortTermStore. prefix defaults to
// "taskcast" when empty.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "taskcast"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) taskKey(id string) string    { return fmt.Sprintf("%s:task:%s", r.prefix, id) }
func (r *Redis) eventsKey(id string) string  { return fmt.Sprintf("%s:events:%s", r.prefix, id) }
func (r *Redis) counterKey(id string) string { return fmt.Sprintf("%s:task:%s:counter", r.prefix, id) }
func (r *Redis) seriesKey(taskID, seriesID string) string {
	return fmt.Sprintf("%s:series:%s:%s", r.prefix, taskID, seriesID)
}
func (r *Redis) seriesIDsKey(taskID string) string { return fmt.Sprintf("%s:seriesIds:%s", r.prefix, taskID) }

func (r *Redis) SaveTask(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.taskKey(t.ID), data, 0).Err()
}

func (r *Redis) GetTask(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.client.Get(ctx, r.taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// NextIndex uses INCR, which is atomic on the Redis server regardless of
// which engine instance issues it, and returns n-1 so the sequence
// starts at 0 like the in-memory backend.
func (r *Redis) NextIndex(ctx context.Context, taskID string) (int64, error) {
	n, err := r.client.Incr(ctx, r.counterKey(taskID)).Result()
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

func (r *Redis) AppendEvent(ctx context.Context, taskID string, evt *task.TaskEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.eventsKey(taskID), data).Err()
}

func (r *Redis) GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error) {
	raw, err := r.client.LRange(ctx, r.eventsKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]*task.TaskEvent, 0, len(raw))
	for _, item := range raw {
		var evt task.TaskEvent
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, err
		}
		events = append(events, &evt)
	}

	filtered := applyCursor(events, opts.Since)
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[len(filtered)-opts.Limit:]
	}
	return filtered, nil
}

func (r *Redis) SetTTL(ctx context.Context, taskID string, seconds int64) error {
	pipe := r.client.TxPipeline()
	ttl := secondsToDuration(seconds)
	pipe.Expire(ctx, r.taskKey(taskID), ttl)
	pipe.Expire(ctx, r.eventsKey(taskID), ttl)
	pipe.Expire(ctx, r.counterKey(taskID), ttl)
	pipe.Expire(ctx, r.seriesIDsKey(taskID), ttl)

	seriesIDs, err := r.client.SMembers(ctx, r.seriesIDsKey(taskID)).Result()
	if err != nil {
		return err
	}
	for _, seriesID := range seriesIDs {
		pipe.Expire(ctx, r.seriesKey(taskID, seriesID), ttl)
	}

	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) GetSeriesLatest(ctx context.Context, taskID, seriesID string) (*task.TaskEvent, error) {
	data, err := r.client.Get(ctx, r.seriesKey(taskID, seriesID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var evt task.TaskEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *Redis) SetSeriesLatest(ctx context.Context, taskID, seriesID string, evt *task.TaskEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.seriesKey(taskID, seriesID), data, 0)
	pipe.SAdd(ctx, r.seriesIDsKey(taskID), seriesID)
	_, err = pipe.Exec(ctx)
	return err
}

// ReplaceLastSeriesEvent re-serializes the full event list under a Redis
// key lock equivalent (pipelined read-modify-write), since Redis lists
// do not support arbitrary-index mutation by value. This mirrors the
// design note that stores without list mutation should re-serialize the
// list rather than attempt an in-place LSET by unknown index.
func (r *Redis) ReplaceLastSeriesEvent(ctx context.Context, taskID, seriesID string, newEvent *task.TaskEvent) error {
	prev, err := r.GetSeriesLatest(ctx, taskID, seriesID)
	if err != nil {
		return err
	}

	if prev == nil {
		if err := r.AppendEvent(ctx, taskID, newEvent); err != nil {
			return err
		}
		return r.SetSeriesLatest(ctx, taskID, seriesID, newEvent)
	}

	raw, err := r.client.LRange(ctx, r.eventsKey(taskID), 0, -1).Result()
	if err != nil {
		return err
	}

	replaced := false
	rewritten := make([][]byte, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		rewritten[i] = []byte(raw[i])
		if replaced {
			continue
		}
		var evt task.TaskEvent
		if err := json.Unmarshal([]byte(raw[i]), &evt); err != nil {
			return err
		}
		if evt.ID == prev.ID {
			data, err := json.Marshal(newEvent)
			if err != nil {
				return err
			}
			rewritten[i] = data
			replaced = true
		}
	}

	if !replaced {
		if err := r.AppendEvent(ctx, taskID, newEvent); err != nil {
			return err
		}
		return r.SetSeriesLatest(ctx, taskID, seriesID, newEvent)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.eventsKey(taskID))
	if len(rewritten) > 0 {
		args := make([]any, len(rewritten))
		for i, v := range rewritten {
			args[i] = v
		}
		pipe.RPush(ctx, r.eventsKey(taskID), args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return r.SetSeriesLatest(ctx, taskID, seriesID, newEvent)
}

func (r *Redis) DeleteTask(ctx context.Context, taskID string) error {
	seriesIDs, err := r.client.SMembers(ctx, r.seriesIDsKey(taskID)).Result()
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.taskKey(taskID))
	pipe.Del(ctx, r.eventsKey(taskID))
	pipe.Del(ctx, r.counterKey(taskID))
	pipe.Del(ctx, r.seriesIDsKey(taskID))
	for _, seriesID := range seriesIDs {
		pipe.Del(ctx, r.seriesKey(taskID, seriesID))
	}
	_, err = pipe.Exec(ctx)
	return err
}
