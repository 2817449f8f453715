// Package webhook delivers task events to operator-configured HTTP
// endpoints: HMAC-signed, retried per the target's own backoff policy,
// with delivery failures surfaced only through onWebhookFailed, never as
// a Go error on the request's critical path.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/taskcast/taskcast/internal/async"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/taskengine/filter"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

const (
	headerEvent     = "X-Taskcast-Event"
	headerTimestamp = "X-Taskcast-Timestamp"
	headerSignature = "X-Taskcast-Signature"

	defaultRetries        = 3
	defaultInitialDelayMs = 200
	defaultMaxDelayMs     = 5000
	defaultTimeoutMs      = 10000
)

// OnWebhookFailed fires once a target's retry budget is exhausted.
type OnWebhookFailed func(cfg task.WebhookConfig, evt *task.TaskEvent, err error)

// Dispatcher delivers evt to every WebhookConfig attached to its task,
// filtering and wrapping per each target's own configuration.
type Dispatcher struct {
	client     *http.Client
	logger     logging.Logger
	onFailed   OnWebhookFailed
	filteredIx func(taskID string) int64
}

// New constructs a Dispatcher. onFailed may be nil.
func New(onFailed OnWebhookFailed) *Dispatcher {
	return &Dispatcher{
		client:   &http.Client{},
		logger:   logging.NewComponentLogger("webhook"),
		onFailed: onFailed,
	}
}

// Dispatch fires one goroutine per configured webhook so a slow target
// never delays its siblings; each goroutine is panic-isolated via
// internal/async.
func (d *Dispatcher) Dispatch(taskID string, webhooks []task.WebhookConfig, evt *task.TaskEvent, filteredIndex int64) {
	for _, cfg := range webhooks {
		cfg := cfg
		if cfg.Filter != nil && !filter.MatchesFilter(evt, *cfg.Filter) {
			continue
		}
		async.Go(d.logger, "webhook.deliver", func() {
			d.deliver(context.Background(), taskID, cfg, evt, filteredIndex)
		})
	}
}

func (d *Dispatcher) deliver(ctx context.Context, taskID string, cfg task.WebhookConfig, evt *task.TaskEvent, filteredIndex int64) {
	wrap := true
	if cfg.Wrap != nil {
		wrap = *cfg.Wrap
	}
	var payload any = evt
	if wrap {
		payload = task.NewEnvelope(filteredIndex, evt)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.fail(cfg, evt, fmt.Errorf("marshal payload: %w", err))
		return
	}

	retry := resolveRetry(cfg.Retry)
	b := newBackOff(retry)

	operation := func() (struct{}, error) {
		return struct{}{}, d.attempt(ctx, cfg, evt, body, time.Duration(retry.TimeoutMs)*time.Millisecond)
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retry.Retries+1)),
	)
	if err != nil {
		d.fail(cfg, evt, err)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, cfg task.WebhookConfig, evt *task.TaskEvent, body []byte, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, evt.Type)
	req.Header.Set(headerTimestamp, fmt.Sprintf("%d", time.Now().UnixMilli()))
	if cfg.Secret != "" {
		req.Header.Set(headerSignature, "sha256="+sign(cfg.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook target returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("webhook target returned %d", resp.StatusCode))
	}
	return nil
}

func (d *Dispatcher) fail(cfg task.WebhookConfig, evt *task.TaskEvent, err error) {
	d.logger.Warn("webhook: delivery to %s exhausted: %v", cfg.URL, err)
	if d.onFailed != nil {
		d.onFailed(cfg, evt, err)
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func resolveRetry(cfg *task.RetryConfig) task.RetryConfig {
	if cfg == nil {
		return task.RetryConfig{
			Retries:        defaultRetries,
			Backoff:        task.BackoffExponential,
			InitialDelayMs: defaultInitialDelayMs,
			MaxDelayMs:     defaultMaxDelayMs,
			TimeoutMs:      defaultTimeoutMs,
		}
	}
	resolved := *cfg
	if resolved.Retries == 0 {
		resolved.Retries = defaultRetries
	}
	if resolved.Backoff == "" {
		resolved.Backoff = task.BackoffExponential
	}
	if resolved.InitialDelayMs == 0 {
		resolved.InitialDelayMs = defaultInitialDelayMs
	}
	if resolved.MaxDelayMs == 0 {
		resolved.MaxDelayMs = defaultMaxDelayMs
	}
	if resolved.TimeoutMs == 0 {
		resolved.TimeoutMs = defaultTimeoutMs
	}
	return resolved
}

// newBackOff adapts retry.Backoff to a backoff.BackOff implementation.
// Fixed and exponential delegate to the library's own strategies; linear
// has no library equivalent so it is implemented directly.
func newBackOff(retry task.RetryConfig) backoff.BackOff {
	initial := time.Duration(retry.InitialDelayMs) * time.Millisecond
	max := time.Duration(retry.MaxDelayMs) * time.Millisecond

	switch retry.Backoff {
	case task.BackoffFixed:
		return &cappedBackOff{inner: backoff.NewConstantBackOff(initial), max: max}
	case task.BackoffLinear:
		return &linearBackOff{step: initial, max: max}
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initial
		eb.MaxInterval = max
		return eb
	}
}

// cappedBackOff clamps a library BackOff's output to max, since
// NewConstantBackOff has no max-interval knob of its own.
type cappedBackOff struct {
	inner backoff.BackOff
	max   time.Duration
}

func (c *cappedBackOff) NextBackOff() time.Duration {
	d := c.inner.NextBackOff()
	if d > c.max {
		return c.max
	}
	return d
}

// linearBackOff increases by a fixed step on every call, capped at max.
type linearBackOff struct {
	step    time.Duration
	max     time.Duration
	current time.Duration
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.current += l.step
	if l.current > l.max {
		l.current = l.max
	}
	return l.current
}
