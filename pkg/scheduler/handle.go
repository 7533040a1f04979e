package scheduler

import (
	"time"
)

// State is the position of a deferred commit in its state machine:
// Pending -> Cancelled, Pending -> Committing -> Committed, or
// Pending -> Committing -> RolledBack.
type State int

const (
	// StatePending means the optimistic state is applied and the undo window is open.
	StatePending State = iota
	StateCancelled
	StateCommitting
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "optimistic_applied"
	case StateCancelled:
		return "cancelled"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Terminal reports whether the commit can no longer change state.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateCommitted || s == StateRolledBack
}

type commit struct {
	key         string
	mutation    Mutation
	delay       time.Duration
	scheduledAt time.Time

	// Guarded by Scheduler.mu.
	state State
	timer *time.Timer

	// Written once before done is closed.
	err  error
	done chan struct{}
}

// Handle controls one scheduled commit.
type Handle struct {
	s *Scheduler
	c *commit
}

// Cancel stops the commit and rolls back its optimistic state if the undo
// window is still open. It is idempotent and reports whether this call took effect.
func (h *Handle) Cancel() bool {
	return h.s.cancel(h.c)
}

// Undo is Cancel without the result, suitable as a notifier undo callback.
func (h *Handle) Undo() {
	h.Cancel()
}

// State returns the current state.
func (h *Handle) State() State {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.c.state
}

// EntityKey is the key the commit was scheduled under.
func (h *Handle) EntityKey() string { return h.c.key }

// Delay is the undo window of this commit.
func (h *Handle) Delay() time.Duration { return h.c.delay }

// ScheduledAt is when the commit was scheduled.
func (h *Handle) ScheduledAt() time.Time { return h.c.scheduledAt }

// Done is closed once the commit reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.c.done }

// Err returns the commit error after Done is closed; nil otherwise.
func (h *Handle) Err() error {
	select {
	case <-h.c.done:
		return h.c.err
	default:
		return nil
	}
}
