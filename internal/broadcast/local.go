package broadcast

import (
	"context"
	"sync"

	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// Local is an in-process Provider: a single instance, no wire format, no
// external dependency. Handler sets per channel are guarded by a
// sync.RWMutex, matching the teacher's in-memory broadcaster texture.
type Local struct {
	mu       sync.RWMutex
	channels map[string][]*localSubscription
	seq      uint64
}

type localSubscription struct {
	id      uint64
	handler Handler
}

// NewLocal constructs an empty in-process broadcast provider.
func NewLocal() *Local {
	return &Local{channels: make(map[string][]*localSubscription)}
}

func (l *Local) Publish(ctx context.Context, channel string, evt *task.TaskEvent) error {
	l.mu.RLock()
	subs := append([]*localSubscription(nil), l.channels[channel]...)
	l.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(evt)
	}
	return nil
}

func (l *Local) Subscribe(channel string, handler Handler) func() {
	l.mu.Lock()
	l.seq++
	sub := &localSubscription{id: l.seq, handler: handler}
	l.channels[channel] = append(l.channels[channel], sub)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.unsubscribe(channel, sub.id) })
	}
}

func (l *Local) unsubscribe(channel string, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	subs := l.channels[channel]
	for i, sub := range subs {
		if sub.id == id {
			l.channels[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(l.channels[channel]) == 0 {
		delete(l.channels, channel)
	}
}

// SubscriberCount reports how many handlers are currently subscribed to
// channel, used by tests and diagnostics.
func (l *Local) SubscriberCount(channel string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.channels[channel])
}

func (l *Local) Close() error { return nil }
