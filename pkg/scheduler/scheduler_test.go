package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connections is a tiny optimistic view used by the tests.
type connections struct {
	mu    sync.Mutex
	items map[string]bool
}

func newConnections(ids ...string) *connections {
	c := &connections{items: make(map[string]bool)}
	for _, id := range ids {
		c.items[id] = true
	}
	return c
}

func (c *connections) set(id string, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = present
}

func (c *connections) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[id]
}

type counter struct{ n atomic.Int32 }

func (c *counter) inc()       { c.n.Add(1) }
func (c *counter) get() int32 { return c.n.Load() }

func deleteMutation(view *connections, id string, commits, rollbacks *counter, commitErr error) scheduler.Mutation {
	return scheduler.Mutation{
		Label:           "Delete connection",
		ApplyOptimistic: func() { view.set(id, false) },
		Commit: func(ctx context.Context) error {
			commits.inc()
			return commitErr
		},
		Rollback: func() {
			rollbacks.inc()
			view.set(id, true)
		},
	}
}

func waitDone(t *testing.T, h *scheduler.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("commit %s never settled (state %s)", h.EntityKey(), h.State())
	}
}

func TestSchedule_UndoBeforeDelay(t *testing.T) {
	view := newConnections("c1")
	var commits, rollbacks counter
	s := scheduler.New(scheduler.WithDelay(50 * time.Millisecond))

	h, err := s.Schedule("connection:c1", deleteMutation(view, "c1", &commits, &rollbacks, nil))
	require.NoError(t, err)
	assert.False(t, view.has("c1"), "optimistic state is applied immediately")
	assert.Equal(t, scheduler.StatePending, h.State())
	assert.Equal(t, []string{"connection:c1"}, s.Pending())

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel(), "cancel is idempotent")
	assert.False(t, s.Cancel("connection:c1"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), commits.get(), "cancelled commit never reaches the server")
	assert.Equal(t, int32(1), rollbacks.get())
	assert.True(t, view.has("c1"))
	assert.Equal(t, scheduler.StateCancelled, h.State())
	assert.Empty(t, s.Pending())
	assert.NoError(t, h.Err())
}

func TestSchedule_CommitsAfterDelay(t *testing.T) {
	view := newConnections("c1")
	var commits, rollbacks counter
	s := scheduler.New(scheduler.WithDelay(20 * time.Millisecond))

	h, err := s.Schedule("connection:c1", deleteMutation(view, "c1", &commits, &rollbacks, nil))
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, h.Delay())

	waitDone(t, h)
	assert.Equal(t, int32(1), commits.get())
	assert.Equal(t, int32(0), rollbacks.get())
	assert.False(t, view.has("c1"))
	assert.Equal(t, scheduler.StateCommitted, h.State())
	assert.False(t, h.Cancel(), "too late to undo")
	assert.Empty(t, s.Pending())
}

func TestSchedule_MutationDelayOverridesDefault(t *testing.T) {
	var commits, rollbacks counter
	s := scheduler.New(scheduler.WithDelay(time.Hour))

	m := deleteMutation(newConnections("c1"), "c1", &commits, &rollbacks, nil)
	m.Delay = 10 * time.Millisecond
	h, err := s.Schedule("connection:c1", m)
	require.NoError(t, err)

	waitDone(t, h)
	assert.Equal(t, int32(1), commits.get())
}

func TestSchedule_Supersedes(t *testing.T) {
	view := newConnections("c1")
	var firstCommits, firstRollbacks, secondCommits, secondRollbacks counter

	var mu sync.Mutex
	var outcomes []domain.CommitOutcome
	record := func(_ context.Context, e *domain.CommitEvent) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, e.Outcome)
	}
	s := scheduler.New(
		scheduler.WithDelay(30*time.Millisecond),
		scheduler.WithLifecycleHooks(domain.LifecycleHooks{OnCommit: record, OnRollback: record}),
	)

	first, err := s.Schedule("connection:c1", deleteMutation(view, "c1", &firstCommits, &firstRollbacks, nil))
	require.NoError(t, err)
	second, err := s.Schedule("connection:c1", deleteMutation(view, "c1", &secondCommits, &secondRollbacks, nil))
	require.NoError(t, err)

	waitDone(t, first)
	waitDone(t, second)
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, scheduler.StateCancelled, first.State())
	assert.Equal(t, int32(0), firstCommits.get())
	assert.Equal(t, int32(1), firstRollbacks.get())
	assert.Equal(t, int32(1), secondCommits.get())
	assert.Equal(t, int32(0), secondRollbacks.get())
	assert.False(t, view.has("c1"), "the newest optimistic state wins")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.CommitOutcome{domain.OutcomeSuperseded, domain.OutcomeCommitted}, outcomes)
}

func TestSchedule_NetworkFailureRollsBack(t *testing.T) {
	view := newConnections("c1")
	var commits, rollbacks counter
	notifier := memory.NewNotifier()
	s := scheduler.New(scheduler.WithDelay(10*time.Millisecond), scheduler.WithNotifier(notifier))

	netErr := &domain.NetworkError{Op: "DELETE /connections/c1", Err: errors.New("503")}
	h, err := s.Schedule("connection:c1", deleteMutation(view, "c1", &commits, &rollbacks, netErr))
	require.NoError(t, err)

	waitDone(t, h)
	assert.Equal(t, scheduler.StateRolledBack, h.State())
	assert.ErrorIs(t, h.Err(), domain.ErrNetwork)
	assert.Equal(t, int32(1), rollbacks.get())
	assert.True(t, view.has("c1"), "state restored after the failed commit")

	errs := notifier.BySeverity(ports.SeverityError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Delete connection failed")
}

func TestSchedule_UnknownErrorRollsBack(t *testing.T) {
	var commits, rollbacks counter
	s := scheduler.New(scheduler.WithDelay(5 * time.Millisecond))

	h, err := s.Schedule("k", deleteMutation(newConnections("c1"), "c1", &commits, &rollbacks, errors.New("weird")))
	require.NoError(t, err)

	waitDone(t, h)
	assert.Equal(t, scheduler.StateRolledBack, h.State())
	assert.Equal(t, int32(1), rollbacks.get())
}

func TestSchedule_ConflictIsSuccess(t *testing.T) {
	view := newConnections("c1")
	var commits, rollbacks counter
	notifier := memory.NewNotifier()
	s := scheduler.New(scheduler.WithDelay(10*time.Millisecond), scheduler.WithNotifier(notifier))

	conflict := &domain.ConflictError{EntityKey: "connection:c1", Err: errors.New("404")}
	h, err := s.Schedule("connection:c1", deleteMutation(view, "c1", &commits, &rollbacks, conflict))
	require.NoError(t, err)

	waitDone(t, h)
	assert.Equal(t, scheduler.StateCommitted, h.State())
	assert.NoError(t, h.Err())
	assert.Equal(t, int32(0), rollbacks.get())
	assert.False(t, view.has("c1"))
	assert.Empty(t, notifier.Notifications())
}

func TestSchedule_CommitTimeout(t *testing.T) {
	var rollbacks counter
	s := scheduler.New(
		scheduler.WithDelay(5*time.Millisecond),
		scheduler.WithCommitTimeout(20*time.Millisecond),
	)

	h, err := s.Schedule("slow", scheduler.Mutation{
		Commit: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Rollback: rollbacks.inc,
	})
	require.NoError(t, err)

	waitDone(t, h)
	assert.Equal(t, scheduler.StateRolledBack, h.State())
	assert.ErrorIs(t, h.Err(), context.DeadlineExceeded)
	assert.Equal(t, int32(1), rollbacks.get())
}

func TestSchedule_OutlivesCaller(t *testing.T) {
	var commits, rollbacks counter
	s := scheduler.New(scheduler.WithDelay(20 * time.Millisecond))

	// The view that scheduled the commit is gone before the delay elapses.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithCancel(context.Background())
		_, err := s.Schedule("connection:c1", deleteMutation(newConnections("c1"), "c1", &commits, &rollbacks, nil))
		assert.NoError(t, err)
		cancel()
		<-ctx.Done()
	}()
	wg.Wait()

	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, int32(1), commits.get())
}

func TestSchedule_Validation(t *testing.T) {
	s := scheduler.New()

	_, err := s.Schedule("", scheduler.Mutation{Commit: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Schedule("k", scheduler.Mutation{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, s.Pending())
}

func TestFlush_CommitsImmediately(t *testing.T) {
	var commitsA, commitsB, rollbacks counter
	s := scheduler.New(scheduler.WithDelay(time.Hour))

	a, err := s.Schedule("a", deleteMutation(newConnections("a"), "a", &commitsA, &rollbacks, nil))
	require.NoError(t, err)
	b, err := s.Schedule("b", deleteMutation(newConnections("b"), "b", &commitsB, &rollbacks, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))

	assert.Equal(t, scheduler.StateCommitted, a.State())
	assert.Equal(t, scheduler.StateCommitted, b.State())
	assert.Equal(t, int32(1), commitsA.get())
	assert.Equal(t, int32(1), commitsB.get())
	assert.Empty(t, s.Pending())
}

func TestFlush_WaitsForOptimisticState(t *testing.T) {
	s := scheduler.New(scheduler.WithDelay(time.Hour))

	var applied, committedEarly atomic.Bool
	var commits counter
	applying := make(chan struct{})
	release := make(chan struct{})
	scheduled := make(chan *scheduler.Handle, 1)
	go func() {
		h, err := s.Schedule("connection:c1", scheduler.Mutation{
			ApplyOptimistic: func() {
				close(applying)
				<-release
				applied.Store(true)
			},
			Commit: func(ctx context.Context) error {
				if !applied.Load() {
					committedEarly.Store(true)
				}
				commits.inc()
				return nil
			},
		})
		assert.NoError(t, err)
		scheduled <- h
	}()
	<-applying

	flushed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		flushed <- s.Flush(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-flushed)
	h := <-scheduled
	assert.False(t, committedEarly.Load(), "commit ran before the optimistic state was applied")
	assert.Equal(t, int32(1), commits.get())
	assert.Equal(t, scheduler.StateCommitted, h.State())
}

func TestWait_RespectsContext(t *testing.T) {
	var commits, rollbacks counter
	s := scheduler.New(scheduler.WithDelay(time.Hour))
	_, err := s.Schedule("a", deleteMutation(newConnections("a"), "a", &commits, &rollbacks, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	s.Reset()
}

func TestReset_DropsPending(t *testing.T) {
	view := newConnections("c1")
	var commits, rollbacks, hooks counter
	s := scheduler.New(
		scheduler.WithDelay(20*time.Millisecond),
		scheduler.WithLifecycleHooks(domain.LifecycleHooks{
			OnCommit:   func(context.Context, *domain.CommitEvent) { hooks.inc() },
			OnRollback: func(context.Context, *domain.CommitEvent) { hooks.inc() },
		}),
	)

	h, err := s.Schedule("connection:c1", deleteMutation(view, "c1", &commits, &rollbacks, nil))
	require.NoError(t, err)

	s.Reset()
	waitDone(t, h)
	time.Sleep(40 * time.Millisecond)

	assert.Empty(t, s.Pending())
	assert.Equal(t, int32(0), commits.get())
	assert.Equal(t, int32(0), rollbacks.get(), "reset neither commits nor rolls back")
	assert.Equal(t, int32(0), hooks.get(), "dropped commits fire no lifecycle hooks")
	assert.NoError(t, s.Wait(context.Background()))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "optimistic_applied", scheduler.StatePending.String())
	assert.Equal(t, "rolled_back", scheduler.StateRolledBack.String())
	assert.True(t, scheduler.StateCommitted.Terminal())
	assert.False(t, scheduler.StateCommitting.Terminal())
}
