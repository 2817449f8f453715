// Package broadcast abstracts the pub/sub fabric the task engine uses to
// fan events out to SSE subscribers, keyed by task id. Local provides
// in-process dispatch for a single instance; Redis bridges multiple
// instances over github.com/redis/go-redis/v9, grounded on the teacher's
// SSEBroadcaster register/unregister contract generalized to a
// publish/subscribe port so the SSE layer never knows which is in use.
package broadcast

import (
	"context"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// Handler receives one delivered event. Handlers run in subscription
// order for a given channel; delivery is best-effort, so a handler must
// not block for long or it will hold up its peers.
type Handler func(evt *task.TaskEvent)

// Provider is the abstract pub/sub fabric. Publish delivers evt to every
// handler currently subscribed to channel (the task id), whether or not
// the subscriber shares a process with the publisher. Subscribe returns
// an unsubscribe function; calling it more than once is a no-op.
type Provider interface {
	Publish(ctx context.Context, channel string, evt *task.TaskEvent) error
	Subscribe(channel string, handler Handler) (unsubscribe func())
	Close() error
}
