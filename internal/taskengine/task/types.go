// Package task defines the Taskcast domain model shared by every
// component that needs to read or write a task or an event: the state
// machine, the series processor, the filter engine, the stores, the
// broadcast fabric, and the engine that orchestrates all of them.
package task

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether status is one of the four sink states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// Level is an event's severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// SeriesMode controls how events sharing a seriesId are merged before
// persistence and broadcast.
type SeriesMode string

const (
	SeriesKeepAll    SeriesMode = "keep-all"
	SeriesAccumulate SeriesMode = "accumulate"
	SeriesLatest     SeriesMode = "latest"
)

// StatusEventType is the reserved event type emitted by every transition.
const StatusEventType = "taskcast:status"

// TaskError is the optional error payload carried by a task or a status
// event.
type TaskError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RetryBackoff names the backoff strategy used for webhook redelivery.
type RetryBackoff string

const (
	BackoffFixed       RetryBackoff = "fixed"
	BackoffExponential RetryBackoff = "exponential"
	BackoffLinear      RetryBackoff = "linear"
)

// RetryConfig parameterizes WebhookDispatcher's retry loop.
type RetryConfig struct {
	Retries        int          `json:"retries,omitempty" yaml:"retries,omitempty"`
	Backoff        RetryBackoff `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	InitialDelayMs int64        `json:"initialDelayMs,omitempty" yaml:"initialDelayMs,omitempty"`
	MaxDelayMs     int64        `json:"maxDelayMs,omitempty" yaml:"maxDelayMs,omitempty"`
	TimeoutMs      int64        `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// WebhookConfig describes one outbound notification target attached to a
// task at creation time.
type WebhookConfig struct {
	URL    string  `json:"url"`
	Filter *Filter `json:"filter,omitempty"`
	Secret string  `json:"secret,omitempty"`
	Wrap   *bool   `json:"wrap,omitempty"`
	Retry  *RetryConfig `json:"retry,omitempty"`
}

// CleanupTarget selects what a CleanupRule deletes once it matches.
type CleanupTarget string

const (
	CleanupTargetAll    CleanupTarget = "all"
	CleanupTargetEvents CleanupTarget = "events"
	CleanupTargetTask   CleanupTarget = "task"
)

// CleanupMatch restricts which tasks a cleanup rule applies to.
type CleanupMatch struct {
	Status    []Status `json:"status,omitempty" yaml:"status,omitempty"`
	TaskTypes []string `json:"taskTypes,omitempty" yaml:"taskTypes,omitempty"`
}

// CleanupTrigger gates a cleanup rule on elapsed time since completion.
type CleanupTrigger struct {
	AfterMs *int64 `json:"afterMs,omitempty" yaml:"afterMs,omitempty"`
}

// CleanupEventFilter narrows which events a cleanup rule deletes when its
// target includes events.
type CleanupEventFilter struct {
	Types       []string     `json:"types,omitempty" yaml:"types,omitempty"`
	Levels      []Level      `json:"levels,omitempty" yaml:"levels,omitempty"`
	SeriesMode  []SeriesMode `json:"seriesMode,omitempty" yaml:"seriesMode,omitempty"`
	OlderThanMs *int64       `json:"olderThanMs,omitempty" yaml:"olderThanMs,omitempty"`
}

// CleanupRule is a user-supplied retention policy evaluated against
// terminal tasks.
type CleanupRule struct {
	Match       CleanupMatch        `json:"match,omitempty" yaml:"match,omitempty"`
	Trigger     CleanupTrigger      `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Target      CleanupTarget       `json:"target" yaml:"target"`
	EventFilter *CleanupEventFilter `json:"eventFilter,omitempty" yaml:"eventFilter,omitempty"`
}

// PermissionScope is a single capability an AuthContext can hold.
type PermissionScope string

const (
	ScopeAll             PermissionScope = "*"
	ScopeTaskCreate      PermissionScope = "task:create"
	ScopeTaskManage      PermissionScope = "task:manage"
	ScopeEventPublish    PermissionScope = "event:publish"
	ScopeEventSubscribe  PermissionScope = "event:subscribe"
	ScopeEventHistory    PermissionScope = "event:history"
)

// AuthConfig is an optional per-task override of the default authorization
// policy, stored alongside the task.
type AuthConfig struct {
	TaskIDs []string          `json:"taskIds,omitempty" yaml:"taskIds,omitempty"`
	Scope   []PermissionScope `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Task is the unified lifecycle record Taskcast tracks. It is mutated
// only by TaskEngine.transitionTask and destroyed by TTL expiry or a
// cleanup rule.
type Task struct {
	ID            string            `json:"id"`
	Type          string            `json:"type,omitempty"`
	Status        Status            `json:"status"`
	Params        any               `json:"params,omitempty"`
	Result        any               `json:"result,omitempty"`
	Error         *TaskError        `json:"error,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	CreatedAt     int64             `json:"createdAt"`
	UpdatedAt     int64             `json:"updatedAt"`
	CompletedAt   *int64            `json:"completedAt,omitempty"`
	TTL           *int64            `json:"ttl,omitempty"`
	AuthConfig    *AuthConfig       `json:"authConfig,omitempty"`
	Webhooks      []WebhookConfig   `json:"webhooks,omitempty"`
	Cleanup       []CleanupRule     `json:"cleanup,omitempty"`
	SchemaVersion int               `json:"schemaVersion"`
}

// Clone returns a deep-enough copy of t so callers holding a store's
// shared snapshot cannot mutate the stored record through it.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Error != nil {
		errCopy := *t.Error
		clone.Error = &errCopy
	}
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	if t.TTL != nil {
		ttl := *t.TTL
		clone.TTL = &ttl
	}
	if t.AuthConfig != nil {
		authCopy := *t.AuthConfig
		clone.AuthConfig = &authCopy
	}
	if t.Webhooks != nil {
		clone.Webhooks = append([]WebhookConfig(nil), t.Webhooks...)
	}
	if t.Cleanup != nil {
		clone.Cleanup = append([]CleanupRule(nil), t.Cleanup...)
	}
	return &clone
}

// TaskEvent is a single timestamped, indexed record attached to a task.
// Events are append-only with one exception: latest-mode events replace
// the prior event of the same series in place, preserving its index slot.
type TaskEvent struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"taskId"`
	Index      int64      `json:"index"`
	Timestamp  int64      `json:"timestamp"`
	Type       string     `json:"type"`
	Level      Level      `json:"level"`
	Data       any        `json:"data,omitempty"`
	SeriesID   string     `json:"seriesId,omitempty"`
	SeriesMode SeriesMode `json:"seriesMode,omitempty"`
}

// Clone returns a shallow copy of e; Data is not deep-copied since the
// engine treats event payloads as immutable once published.
func (e *TaskEvent) Clone() *TaskEvent {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// Cursor is the resume position a caller supplies to getEvents or a
// subscribe filter. Priority order when more than one field is set:
// ID, then Index, then Timestamp.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	Index     *int64 `json:"index,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Filter narrows which events a subscriber or webhook receives.
type Filter struct {
	Types         []string `json:"types,omitempty"`
	Levels        []Level  `json:"levels,omitempty"`
	IncludeStatus *bool    `json:"includeStatus,omitempty"`
	Wrap          *bool    `json:"wrap,omitempty"`
	Since         Cursor   `json:"since,omitempty"`
}

// IncludeStatusOrDefault returns the effective includeStatus value,
// defaulting to true when unset.
func (f Filter) IncludeStatusOrDefault() bool {
	if f.IncludeStatus == nil {
		return true
	}
	return *f.IncludeStatus
}

// WrapOrDefault returns the effective wrap value, defaulting to true.
func (f Filter) WrapOrDefault() bool {
	if f.Wrap == nil {
		return true
	}
	return *f.Wrap
}

// GetEventsOptions parameterizes ShortTermStore/LongTermStore.getEvents.
type GetEventsOptions struct {
	Since Cursor
	Limit int
}

// Envelope is the JSON shape written to an SSE frame or a webhook body
// when wrap=true.
type Envelope struct {
	FilteredIndex int64      `json:"filteredIndex"`
	RawIndex      int64      `json:"rawIndex"`
	EventID       string     `json:"eventId"`
	TaskID        string     `json:"taskId"`
	Type          string     `json:"type"`
	Timestamp     int64      `json:"timestamp"`
	Level         Level      `json:"level"`
	Data          any        `json:"data,omitempty"`
	SeriesID      string     `json:"seriesId,omitempty"`
	SeriesMode    SeriesMode `json:"seriesMode,omitempty"`
}

// NewEnvelope builds the wrapped representation of evt at the given
// filtered index.
func NewEnvelope(filteredIndex int64, evt *TaskEvent) Envelope {
	return Envelope{
		FilteredIndex: filteredIndex,
		RawIndex:      evt.Index,
		EventID:       evt.ID,
		TaskID:        evt.TaskID,
		Type:          evt.Type,
		Timestamp:     evt.Timestamp,
		Level:         evt.Level,
		Data:          evt.Data,
		SeriesID:      evt.SeriesID,
		SeriesMode:    evt.SeriesMode,
	}
}
