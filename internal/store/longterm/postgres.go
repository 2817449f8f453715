package longterm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// PgxPool is the subset of *pgxpool.Pool's surface Postgres depends on.
// Declaring it as an interface (rather than taking *pgxpool.Pool
// directly) lets tests substitute github.com/pashagolub/pgxmock/v4's
// mock pool, which implements the same pgx.Tx/pgx.Row method shapes.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production LongTermStore backend, grounded on the
// teacher's pgxpool-based store idioms (EnsureSchema, upsert-by-conflict
// SaveTask, parameterized statements). Tables follow spec's relational
// layout: `<prefix>_tasks` and `<prefix>_events`.
type Postgres struct {
	pool   PgxPool
	prefix string
	logger logging.Logger
}

// NewPostgres constructs a Postgres-backed long-term store. prefix
// defaults to "taskcast" when empty.
func NewPostgres(pool PgxPool, prefix string) *Postgres {
	if prefix == "" {
		prefix = "taskcast"
	}
	return &Postgres{
		pool:   pool,
		prefix: prefix,
		logger: logging.NewComponentLogger("store.longterm.postgres"),
	}
}

func (p *Postgres) tasksTable() string  { return p.prefix + "_tasks" }
func (p *Postgres) eventsTable() string { return p.prefix + "_events" }

// EnsureSchema creates the tasks and events tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    type TEXT,
    status TEXT NOT NULL,
    params JSONB,
    result JSONB,
    error JSONB,
    metadata JSONB,
    auth_config JSONB,
    webhooks JSONB,
    cleanup JSONB,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    completed_at BIGINT,
    ttl BIGINT
);`, p.tasksTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL REFERENCES %s(id),
    idx BIGINT NOT NULL,
    timestamp BIGINT NOT NULL,
    type TEXT NOT NULL,
    level TEXT NOT NULL,
    data JSONB,
    series_id TEXT,
    series_mode TEXT
);`, p.eventsTable(), p.tasksTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_task_idx ON %s (task_id, idx);`, p.eventsTable(), p.eventsTable()),
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("longterm: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveTask upserts t, overwriting the mutable fields on conflict, per
// spec's tasks.id conflict policy.
func (p *Postgres) SaveTask(ctx context.Context, t *task.Task) error {
	params, err := marshalNullable(t.Params)
	if err != nil {
		return err
	}
	result, err := marshalNullable(t.Result)
	if err != nil {
		return err
	}
	taskErr, err := marshalNullable(t.Error)
	if err != nil {
		return err
	}
	metadata, err := marshalNullable(t.Metadata)
	if err != nil {
		return err
	}
	authConfig, err := marshalNullable(t.AuthConfig)
	if err != nil {
		return err
	}
	webhooks, err := marshalNullable(t.Webhooks)
	if err != nil {
		return err
	}
	cleanupRules, err := marshalNullable(t.Cleanup)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, type, status, params, result, error, metadata, auth_config, webhooks, cleanup, created_at, updated_at, completed_at, ttl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    result = EXCLUDED.result,
    error = EXCLUDED.error,
    metadata = EXCLUDED.metadata,
    updated_at = EXCLUDED.updated_at,
    completed_at = EXCLUDED.completed_at
`, p.tasksTable()),
		t.ID, t.Type, t.Status, params, result, taskErr, metadata, authConfig, webhooks, cleanupRules,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.TTL)
	if err != nil {
		return fmt.Errorf("longterm: save task: %w", err)
	}
	return nil
}

func (p *Postgres) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := p.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT id, type, status, params, result, error, metadata, auth_config, webhooks, cleanup, created_at, updated_at, completed_at, ttl
FROM %s WHERE id = $1
`, p.tasksTable()), id)

	var t task.Task
	var params, result, taskErr, metadata, authConfig, webhooks, cleanupRules []byte
	err := row.Scan(&t.ID, &t.Type, &t.Status, &params, &result, &taskErr, &metadata, &authConfig, &webhooks, &cleanupRules,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.TTL)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("longterm: get task: %w", err)
	}

	if err := unmarshalNullable(params, &t.Params); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(result, &t.Result); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(taskErr, &t.Error); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(metadata, &t.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(authConfig, &t.AuthConfig); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(webhooks, &t.Webhooks); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(cleanupRules, &t.Cleanup); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveEvent inserts evt; a conflict on event id is ignored since the
// event is already durable.
func (p *Postgres) SaveEvent(ctx context.Context, evt *task.TaskEvent) error {
	data, err := marshalNullable(evt.Data)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, task_id, idx, timestamp, type, level, data, series_id, series_mode)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING
`, p.eventsTable()),
		evt.ID, evt.TaskID, evt.Index, evt.Timestamp, evt.Type, evt.Level, data, nullableString(evt.SeriesID), nullableString(string(evt.SeriesMode)))
	if err != nil {
		return fmt.Errorf("longterm: save event: %w", err)
	}
	return nil
}

// GetEvents has the same cursor semantics as ShortTermStore.GetEvents
// except a since.id that is not found anchors at index -1 (all events),
// per spec's long-term resume contract.
func (p *Postgres) GetEvents(ctx context.Context, taskID string, opts task.GetEventsOptions) ([]*task.TaskEvent, error) {
	anchor, err := p.resolveAnchor(ctx, taskID, opts.Since)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT id, task_id, idx, timestamp, type, level, data, series_id, series_mode
FROM %s WHERE task_id = $1 AND idx > $2 ORDER BY idx ASC
`, p.eventsTable())
	args := []any{taskID, anchor}
	if opts.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, opts.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("longterm: get events: %w", err)
	}
	defer rows.Close()

	var out []*task.TaskEvent
	for rows.Next() {
		var evt task.TaskEvent
		var data []byte
		var seriesID, seriesMode *string
		if err := rows.Scan(&evt.ID, &evt.TaskID, &evt.Index, &evt.Timestamp, &evt.Type, &evt.Level, &data, &seriesID, &seriesMode); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(data, &evt.Data); err != nil {
			return nil, err
		}
		if seriesID != nil {
			evt.SeriesID = *seriesID
		}
		if seriesMode != nil {
			evt.SeriesMode = task.SeriesMode(*seriesMode)
		}
		out = append(out, &evt)
	}
	return out, rows.Err()
}

// resolveAnchor computes the idx boundary GetEvents filters on, applying
// the since.id / since.index / since.timestamp priority. A since.id not
// present in the table anchors at -1, returning all events.
func (p *Postgres) resolveAnchor(ctx context.Context, taskID string, since task.Cursor) (int64, error) {
	if since.ID != "" {
		var idx int64
		err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT idx FROM %s WHERE id = $1 AND task_id = $2`, p.eventsTable()), since.ID, taskID).Scan(&idx)
		if err == pgx.ErrNoRows {
			return -1, nil
		}
		if err != nil {
			return 0, err
		}
		return idx, nil
	}
	if since.Index != nil {
		return *since.Index, nil
	}
	if since.Timestamp != nil {
		var idx int64
		err := p.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT COALESCE(MAX(idx), -1) FROM %s WHERE task_id = $1 AND timestamp <= $2
`, p.eventsTable()), taskID, *since.Timestamp).Scan(&idx)
		if err != nil {
			return 0, err
		}
		return idx, nil
	}
	return -1, nil
}

func (p *Postgres) DeleteEvents(ctx context.Context, taskID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE task_id = $1 AND id = ANY($2)`, p.eventsTable()), taskID, eventIDs)
	if err != nil {
		return fmt.Errorf("longterm: delete events: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE task_id = $1`, p.eventsTable()), taskID); err != nil {
		return fmt.Errorf("longterm: delete task events: %w", err)
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.tasksTable()), taskID); err != nil {
		return fmt.Errorf("longterm: delete task: %w", err)
	}
	return nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
