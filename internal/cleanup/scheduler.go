package cleanup

import (
	"context"
	"time"

	"github.com/taskcast/taskcast/internal/async"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/store"
	"github.com/taskcast/taskcast/internal/taskengine/task"
)

const defaultSweepInterval = 5 * time.Minute

// TaskLister enumerates terminal tasks for the scheduler to evaluate. Not
// every ShortTermStore backend implements it (Redis's key space is not
// cheaply scannable); Scheduler treats a store without it as a no-op,
// matching the teacher's evictLoop/evictExpired pair that only ever ran
// against its own in-memory map.
type TaskLister interface {
	ListTerminalTasks(ctx context.Context) ([]*task.Task, error)
}

// Scheduler periodically evaluates GlobalRules plus each task's own
// Cleanup rules against every terminal task, deleting whatever a
// matching rule's target selects. Grounded on the teacher's
// InMemoryTaskStore.evictLoop (ticker + stop channel + panic-recovered
// tick), generalized from retention-by-duration to arbitrary
// user-supplied rules.
type Scheduler struct {
	shortTerm   store.ShortTermStore
	longTerm    store.LongTermStore // nil when archival is disabled
	lister      TaskLister
	globalRules []task.CleanupRule
	interval    time.Duration
	logger      logging.Logger
	now         func() time.Time

	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLongTerm also deletes from the archival store when a rule matches.
func WithLongTerm(longTerm store.LongTermStore) Option {
	return func(s *Scheduler) { s.longTerm = longTerm }
}

// WithGlobalRules sets the operator-configured rules applied to every
// task in addition to whatever rules the task itself carries.
func WithGlobalRules(rules []task.CleanupRule) Option {
	return func(s *Scheduler) { s.globalRules = rules }
}

// WithInterval overrides the default sweep interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithLogger overrides the scheduler's component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the scheduler's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler builds a Scheduler over shortTerm. lister is typically
// shortTerm itself asserted against TaskLister; pass nil if the backend
// cannot enumerate tasks, in which case Start is a no-op.
func NewScheduler(shortTerm store.ShortTermStore, lister TaskLister, opts ...Option) *Scheduler {
	s := &Scheduler{
		shortTerm: shortTerm,
		lister:    lister,
		interval:  defaultSweepInterval,
		logger:    logging.NewComponentLogger("cleanup.scheduler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep loop. Calling it more than once,
// or on a Scheduler with no lister, is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s.lister == nil || s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	async.GoLoop(ctx, s.logger, "cleanup.sweep", s.interval, func(ctx context.Context) {
		s.sweep(ctx)
	})
}

// Stop halts the background sweep loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	tasks, err := s.lister.ListTerminalTasks(ctx)
	if err != nil {
		s.logger.Warn("cleanup: list terminal tasks failed: %v", err)
		return
	}

	now := s.now().UnixMilli()
	for _, t := range tasks {
		s.evaluateTask(ctx, t, now)
	}
}

func (s *Scheduler) evaluateTask(ctx context.Context, t *task.Task, now int64) {
	rules := append(append([]task.CleanupRule(nil), s.globalRules...), t.Cleanup...)

	for _, rule := range rules {
		if !MatchesCleanupRule(t, rule, now) {
			continue
		}
		s.applyRule(ctx, t, rule)
		if rule.Target == task.CleanupTargetAll || rule.Target == task.CleanupTargetTask {
			// The task itself is gone; later rules in this pass have
			// nothing left to match against.
			return
		}
	}
}

func (s *Scheduler) applyRule(ctx context.Context, t *task.Task, rule task.CleanupRule) {
	switch rule.Target {
	case task.CleanupTargetTask, task.CleanupTargetAll:
		s.deleteTask(ctx, t.ID)
	case task.CleanupTargetEvents:
		s.deleteEvents(ctx, t, rule)
	}
}

func (s *Scheduler) deleteTask(ctx context.Context, taskID string) {
	if err := s.shortTerm.DeleteTask(ctx, taskID); err != nil {
		s.logger.Warn("cleanup: delete task %s from short-term failed: %v", taskID, err)
	}
	if s.longTerm != nil {
		if err := s.longTerm.DeleteTask(ctx, taskID); err != nil {
			s.logger.Warn("cleanup: delete task %s from long-term failed: %v", taskID, err)
		}
	}
}

type eventDeleter interface {
	DeleteEvents(ctx context.Context, taskID string, eventIDs []string) error
}

func (s *Scheduler) deleteEvents(ctx context.Context, t *task.Task, rule task.CleanupRule) {
	events, err := s.shortTerm.GetEvents(ctx, t.ID, task.GetEventsOptions{})
	if err != nil {
		s.logger.Warn("cleanup: list events for %s failed: %v", t.ID, err)
		return
	}

	doomed := FilterEventsForCleanup(events, rule, t.CompletedAt)
	if len(doomed) == 0 {
		return
	}
	ids := make([]string, len(doomed))
	for i, evt := range doomed {
		ids[i] = evt.ID
	}

	if deleter, ok := s.shortTerm.(eventDeleter); ok {
		if err := deleter.DeleteEvents(ctx, t.ID, ids); err != nil {
			s.logger.Warn("cleanup: delete events for %s from short-term failed: %v", t.ID, err)
		}
	}
	if s.longTerm != nil {
		if err := s.longTerm.DeleteEvents(ctx, t.ID, ids); err != nil {
			s.logger.Warn("cleanup: delete events for %s from long-term failed: %v", t.ID, err)
		}
	}
}
