package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/taskcast/taskcast/internal/async"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

// Redis bridges the Provider contract across instances over a single
// shared github.com/redis/go-redis/v9 PubSub connection. Channel names on
// the wire are prefixed, per spec's `<prefix>:task:<taskId>` pub/sub
// naming. A channel is subscribed on the underlying connection when its
// first local handler registers, and unsubscribed when its last handler
// departs — never per-handler.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	prefix string
	logger logging.Logger

	mu       sync.Mutex
	channels map[string][]*localSubscription
	seq      uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedis constructs a Redis-bridged broadcast provider. prefix is
// prepended to every wire channel name, defaulting to "taskcast" when
// empty.
func NewRedis(client *redis.Client, prefix string, logger logging.Logger) *Redis {
	if prefix == "" {
		prefix = "taskcast"
	}
	if logger == nil {
		logger = logging.NewComponentLogger("broadcast.redis")
	}

	r := &Redis{
		client:   client,
		prefix:   prefix,
		logger:   logger,
		channels: make(map[string][]*localSubscription),
		done:     make(chan struct{}),
	}
	r.pubsub = client.Subscribe(context.Background())
	async.Go(logger, "broadcast.redis.receive", r.receiveLoop)
	return r
}

func (r *Redis) wireChannel(channel string) string {
	return r.prefix + ":task:" + channel
}

func (r *Redis) Publish(ctx context.Context, channel string, evt *task.TaskEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.wireChannel(channel), payload).Err()
}

func (r *Redis) Subscribe(channel string, handler Handler) func() {
	r.mu.Lock()
	r.seq++
	sub := &localSubscription{id: r.seq, handler: handler}
	wasEmpty := len(r.channels[channel]) == 0
	r.channels[channel] = append(r.channels[channel], sub)
	r.mu.Unlock()

	if wasEmpty {
		if err := r.pubsub.Subscribe(context.Background(), r.wireChannel(channel)); err != nil {
			r.logger.Warn("broadcast: redis subscribe failed for %s: %v", channel, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(channel, sub.id) })
	}
}

func (r *Redis) unsubscribe(channel string, id uint64) {
	r.mu.Lock()
	subs := r.channels[channel]
	for i, sub := range subs {
		if sub.id == id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	r.channels[channel] = subs
	nowEmpty := len(subs) == 0
	if nowEmpty {
		delete(r.channels, channel)
	}
	r.mu.Unlock()

	if nowEmpty {
		if err := r.pubsub.Unsubscribe(context.Background(), r.wireChannel(channel)); err != nil {
			r.logger.Warn("broadcast: redis unsubscribe failed for %s: %v", channel, err)
		}
	}
}

func (r *Redis) receiveLoop() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.dispatch(msg)
		}
	}
}

func (r *Redis) dispatch(msg *redis.Message) {
	channel, ok := stripPrefix(msg.Channel, r.prefix+":task:")
	if !ok {
		return
	}

	var evt task.TaskEvent
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		// Malformed wire messages are silently dropped per the broadcast
		// fabric's best-effort contract.
		return
	}

	r.mu.Lock()
	subs := append([]*localSubscription(nil), r.channels[channel]...)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.handler(&evt)
	}
}

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func (r *Redis) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return r.pubsub.Close()
}
