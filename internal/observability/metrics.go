package observability

import "github.com/prometheus/client_golang/prometheus"

// TaskMetrics carries the Prometheus instruments the task engine updates
// on every public operation. Tests construct one against a private
// registry with NewTaskMetricsWithRegisterer so assertions never collide
// with the process-wide default registry.
type TaskMetrics struct {
	tasksCreated       *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	eventsPublished    *prometheus.CounterVec
	eventsDropped      *prometheus.CounterVec
	subscribersActive  prometheus.Gauge
	transitionDuration prometheus.Histogram
}

// NewTaskMetrics registers the task engine's instruments on the default
// Prometheus registerer.
func NewTaskMetrics() *TaskMetrics {
	return NewTaskMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewTaskMetricsWithRegisterer registers the task engine's instruments on
// the given registerer, so callers (and tests) control isolation.
func NewTaskMetricsWithRegisterer(reg prometheus.Registerer) *TaskMetrics {
	m := &TaskMetrics{
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskcast_tasks_created_total",
			Help: "Tasks created, labeled by task type.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskcast_transitions_total",
			Help: "Status transitions, labeled by the resulting status.",
		}, []string{"status"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskcast_events_published_total",
			Help: "Events published, labeled by event type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskcast_events_dropped_total",
			Help: "Events that failed to persist to the long-term store.",
		}, []string{"reason"}),
		subscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskcast_sse_subscribers_active",
			Help: "Currently open SSE subscriptions.",
		}),
		transitionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskcast_transition_duration_seconds",
			Help:    "Wall time spent performing a single status transition.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.tasksCreated, m.transitions, m.eventsPublished, m.eventsDropped, m.subscribersActive, m.transitionDuration)
	}

	return m
}

func (m *TaskMetrics) RecordTaskCreated(taskType string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(taskType).Inc()
}

func (m *TaskMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *TaskMetrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *TaskMetrics) RecordEventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *TaskMetrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.subscribersActive.Inc()
}

func (m *TaskMetrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.subscribersActive.Dec()
}

func (m *TaskMetrics) ObserveTransitionDuration(seconds float64) {
	if m == nil {
		return
	}
	m.transitionDuration.Observe(seconds)
}
