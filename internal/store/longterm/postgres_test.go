package longterm

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

func TestPostgresSaveTaskUpsert(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewPostgres(pool, "taskcast")
	ctx := context.Background()

	tk := &task.Task{ID: "t1", Type: "llm.chat", Status: task.StatusPending, CreatedAt: 1, UpdatedAt: 1}

	pool.ExpectExec("INSERT INTO taskcast_tasks").
		WithArgs(tk.ID, tk.Type, tk.Status, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), tk.CreatedAt, tk.UpdatedAt, tk.CompletedAt, tk.TTL).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveTask(ctx, tk))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPostgresSaveEventIgnoresConflict(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewPostgres(pool, "taskcast")
	ctx := context.Background()

	evt := &task.TaskEvent{ID: "e1", TaskID: "t1", Index: 0, Timestamp: 100, Type: "llm.delta", Level: task.LevelInfo}

	pool.ExpectExec("INSERT INTO taskcast_events").
		WithArgs(evt.ID, evt.TaskID, evt.Index, evt.Timestamp, evt.Type, evt.Level, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveEvent(ctx, evt))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPostgresEnsureSchemaRunsAllStatements(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewPostgres(pool, "taskcast")

	pool.ExpectExec("CREATE TABLE IF NOT EXISTS taskcast_tasks").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectExec("CREATE TABLE IF NOT EXISTS taskcast_events").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectExec("CREATE INDEX IF NOT EXISTS idx_taskcast_events_task_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestPostgresDeleteTaskRemovesEventsThenTask(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := NewPostgres(pool, "taskcast")
	ctx := context.Background()

	pool.ExpectExec("DELETE FROM taskcast_events").WithArgs("t1").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	pool.ExpectExec("DELETE FROM taskcast_tasks").WithArgs("t1").WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.DeleteTask(ctx, "t1"))
	require.NoError(t, pool.ExpectationsWereMet())
}
