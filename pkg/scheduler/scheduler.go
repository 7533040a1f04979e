package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/keylock"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
)

// DefaultDelay is the undo window used when a Mutation does not set one.
const DefaultDelay = 5 * time.Second

// Mutation describes one optimistic change and its deferred server commit.
type Mutation struct {
	// Label names the change in failure notifications (e.g. "Delete connection").
	Label string
	// ApplyOptimistic updates local state immediately. Optional.
	ApplyOptimistic func()
	// Commit performs the server call once the undo window closes. Required.
	Commit func(ctx context.Context) error
	// Rollback restores the state captured before ApplyOptimistic. Optional.
	Rollback func()
	// Delay overrides the scheduler's default undo window.
	Delay time.Duration
}

// Scheduler owns the deferred commit registry. Commits belong to the registry,
// keyed by entity, and not to whatever view scheduled them: closing a view
// never cancels a commit the user was promised.
//
// ApplyOptimistic and Rollback run serialized per entity key and must not call
// back into the scheduler for the same key.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*commit

	active int           // scheduled commits not yet terminal
	idle   chan struct{} // closed when active drops to zero

	ops     *keylock.Manager // serializes optimistic-state callbacks per key
	commits *keylock.Manager // serializes server calls per key

	delay         time.Duration
	commitTimeout time.Duration
	baseCtx       context.Context
	now           func() time.Time

	notifier ports.Notifier
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithDelay sets the default undo window.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithCommitTimeout bounds each Commit call. Zero means no bound.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.commitTimeout = d
	}
}

// WithNotifier sets the surface used to report failed commits.
func WithNotifier(n ports.Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// WithKeyLock replaces the manager that serializes commits per entity, e.g.
// with one backed by a distributed locker.
func WithKeyLock(m *keylock.Manager) Option {
	return func(s *Scheduler) {
		s.commits = m
	}
}

// WithBaseContext sets the parent context of commit calls. Commits are
// deliberately detached from the caller that scheduled them.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.baseCtx = ctx
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Scheduler) {
		s.hooks = hooks
	}
}

// WithLogger configures a logger for the Scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics records commit outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides the timestamp source used for ScheduledAt.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		pending: make(map[string]*commit),
		ops:     keylock.NewManager(),
		delay:   DefaultDelay,
		baseCtx: context.Background(),
		now:     time.Now,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.commits == nil {
		s.commits = keylock.NewManager(keylock.WithLogger(s.logger))
	}
	return s
}

// Schedule applies the mutation optimistically and commits it after its
// delay unless cancelled. A pending commit for the same entity is superseded
// first: it is cancelled and rolled back silently, so only the most recent
// schedule ever reaches the server.
func (s *Scheduler) Schedule(entityKey string, m Mutation) (*Handle, error) {
	if entityKey == "" {
		return nil, domain.Invalid(domain.KeyEntityKey, "required")
	}
	if m.Commit == nil {
		return nil, domain.Invalid("commit", "required")
	}
	delay := m.Delay
	if delay <= 0 {
		delay = s.delay
	}

	c := &commit{
		key:         entityKey,
		mutation:    m,
		delay:       delay,
		scheduledAt: s.now(),
		done:        make(chan struct{}),
	}
	h := &Handle{s: s, c: c}

	var prev *commit
	superseded := false
	_ = s.ops.WithLock(context.Background(), entityKey, func(context.Context) error {
		s.mu.Lock()
		prev = s.pending[entityKey]
		superseded = prev != nil && s.stopLocked(prev, StateCancelled)
		s.pending[entityKey] = c
		if s.active == 0 {
			s.idle = make(chan struct{})
		}
		s.active++
		s.metrics.SetPendingCommits(len(s.pending))
		s.mu.Unlock()

		if superseded && prev.mutation.Rollback != nil {
			prev.mutation.Rollback()
		}

		if m.ApplyOptimistic != nil {
			m.ApplyOptimistic()
		}

		// The undo window starts once the optimistic state is visible.
		s.mu.Lock()
		if c.state == StatePending {
			c.timer = time.AfterFunc(delay, func() { s.fire(c) })
		}
		s.mu.Unlock()
		return nil
	})

	if superseded {
		s.logger.Debug("deferred commit superseded", "entity_key", entityKey)
		s.finish(prev, domain.OutcomeSuperseded, nil)
	}
	s.logger.Debug("deferred commit scheduled", "entity_key", entityKey, "delay", delay)
	return h, nil
}

// Cancel cancels the pending commit for entityKey and rolls back its
// optimistic state. It reports whether anything was cancelled.
func (s *Scheduler) Cancel(entityKey string) bool {
	s.mu.Lock()
	c := s.pending[entityKey]
	s.mu.Unlock()
	if c == nil {
		return false
	}
	return s.cancel(c)
}

// Pending returns the entity keys whose undo window is still open, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.pending))
	for k, c := range s.pending {
		if c.state == StatePending {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Flush commits every pending mutation now instead of waiting for its delay,
// then waits for all in-flight commits to finish or ctx to end.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	var due []*commit
	for _, c := range s.pending {
		if c.state == StatePending {
			due = append(due, c)
		}
	}
	s.mu.Unlock()

	for _, c := range due {
		go s.fire(c)
	}
	return s.Wait(ctx)
}

// Wait blocks until every scheduled commit reached a terminal state or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.active == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset drops every pending commit without committing or rolling back.
// Dropped handles report OutcomeDropped and no lifecycle hook fires for them.
// Commits already in flight are left to finish. Meant for test isolation.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	var dropped []*commit
	for key, c := range s.pending {
		if s.stopLocked(c, StateCancelled) {
			dropped = append(dropped, c)
		}
		delete(s.pending, key)
	}
	s.metrics.SetPendingCommits(0)
	s.mu.Unlock()

	for _, c := range dropped {
		s.finish(c, domain.OutcomeDropped, nil)
	}
}

// cancel implements user-initiated cancellation. The state flip and the timer
// stop happen in one critical section; fire re-checks the state, so a timer
// that already started cannot commit after a successful cancel.
func (s *Scheduler) cancel(c *commit) bool {
	cancelled := false
	_ = s.ops.WithLock(context.Background(), c.key, func(context.Context) error {
		s.mu.Lock()
		cancelled = s.stopLocked(c, StateCancelled)
		if cancelled && s.pending[c.key] == c {
			delete(s.pending, c.key)
		}
		s.metrics.SetPendingCommits(len(s.pending))
		s.mu.Unlock()

		if cancelled && c.mutation.Rollback != nil {
			c.mutation.Rollback()
		}
		return nil
	})

	if cancelled {
		s.logger.Debug("deferred commit cancelled", "entity_key", c.key)
		s.finish(c, domain.OutcomeCancelled, nil)
	}
	return cancelled
}

// stopLocked moves a pending commit to state and stops its timer.
// It returns false if the commit already left StatePending. s.mu must be held.
func (s *Scheduler) stopLocked(c *commit, state State) bool {
	if c.state != StatePending {
		return false
	}
	c.state = state
	if c.timer != nil {
		c.timer.Stop()
	}
	return true
}

// fire runs the commit if it is still pending. It is the only path from
// StatePending to StateCommitting, which makes Commit at-most-once.
//
// The transition waits for the key's ops lock, so a Flush that races Schedule
// cannot commit before ApplyOptimistic has returned.
func (s *Scheduler) fire(c *commit) {
	started := false
	_ = s.ops.WithLock(context.Background(), c.key, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c.state != StatePending {
			return nil
		}
		c.state = StateCommitting
		if c.timer != nil {
			c.timer.Stop()
		}
		started = true
		return nil
	})
	if !started {
		return
	}

	ctx := s.baseCtx
	var cancel context.CancelFunc = func() {}
	if s.commitTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.commitTimeout)
	}
	defer cancel()

	err := s.commits.WithLock(ctx, c.key, func(ctx context.Context) error {
		return c.mutation.Commit(ctx)
	})

	switch domain.ClassifyError(err) {
	case domain.ClassNone:
		s.settle(c, StateCommitted)
		s.logger.Info("deferred commit completed", "entity_key", c.key)
		s.finish(c, domain.OutcomeCommitted, nil)

	case domain.ClassConflict:
		// The entity is already gone or changed server-side: the user's intent holds.
		s.settle(c, StateCommitted)
		s.logger.Info("deferred commit resolved as conflict", "entity_key", c.key, "err", err)
		s.finish(c, domain.OutcomeConflict, nil)

	default:
		_ = s.ops.WithLock(context.Background(), c.key, func(context.Context) error {
			if c.mutation.Rollback != nil {
				c.mutation.Rollback()
			}
			return nil
		})
		s.settle(c, StateRolledBack)
		s.logger.Error("deferred commit failed, rolled back", "entity_key", c.key, "err", err)
		if s.notifier != nil {
			s.notifier.Show(s.baseCtx, failureMessage(c.mutation.Label, err), ports.SeverityError)
		}
		s.finish(c, domain.OutcomeRolledBack, err)
	}
}

// settle records the terminal state and frees the registry slot if this
// commit still owns it.
func (s *Scheduler) settle(c *commit, state State) {
	s.mu.Lock()
	c.state = state
	if s.pending[c.key] == c {
		delete(s.pending, c.key)
	}
	s.metrics.SetPendingCommits(len(s.pending))
	s.mu.Unlock()
}

// finish publishes the outcome. It runs exactly once per commit.
func (s *Scheduler) finish(c *commit, outcome domain.CommitOutcome, err error) {
	c.err = err
	close(c.done)
	s.metrics.RecordCommit(string(outcome))

	event := &domain.CommitEvent{
		EventBase: domain.EventBase{Timestamp: s.now(), Type: domain.EventCommit},
		EntityKey: c.key,
		Outcome:   outcome,
		Err:       err,
	}
	switch outcome {
	case domain.OutcomeDropped:
	case domain.OutcomeCommitted, domain.OutcomeConflict:
		if s.hooks.OnCommit != nil {
			s.hooks.OnCommit(s.baseCtx, event)
		}
	default:
		event.Type = domain.EventRollback
		if s.hooks.OnRollback != nil {
			s.hooks.OnRollback(s.baseCtx, event)
		}
	}

	s.mu.Lock()
	s.active--
	if s.active == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

func failureMessage(label string, err error) string {
	if label == "" {
		label = "Change"
	}
	return fmt.Sprintf("%s failed: %v", label, err)
}
