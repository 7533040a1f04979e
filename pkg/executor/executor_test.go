package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/executor"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixture struct {
	exec     *executor.Executor
	notifier *memory.Notifier
	audit    *memory.AuditLog
	spans    *tracetest.SpanRecorder
}

func newFixture(t *testing.T, opts ...executor.Option) *fixture {
	t.Helper()
	f := &fixture{
		notifier: memory.NewNotifier(),
		audit:    memory.NewAuditLog(),
		spans:    tracetest.NewSpanRecorder(),
	}
	base := []executor.Option{
		executor.WithNotifier(f.notifier),
		executor.WithAuditSink(f.audit),
		executor.WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))),
	}
	f.exec = executor.New(append(base, opts...)...)
	return f
}

func renameConnection(action func(ctx context.Context) (any, error)) executor.Descriptor {
	return executor.Descriptor{
		Kind:          domain.KindRename,
		Label:         "Rename connection",
		Reversibility: domain.SystemManaged,
		Intent:        domain.Intent{domain.KeyEntityKey: "connection:c1", "name": "warehouse"},
		Action:        action,
	}
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(t)

	result, err := f.exec.Execute(context.Background(), renameConnection(func(ctx context.Context) (any, error) {
		return "renamed", nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "renamed", result)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusSucceeded, entries[0].Status)
	assert.Equal(t, "connection:c1", entries[0].EntityKey)
	assert.NotEmpty(t, entries[0].InteractionID)

	success := f.notifier.BySeverity(ports.SeveritySuccess)
	require.Len(t, success, 1)
	assert.Equal(t, "Rename connection", success[0].Message)

	spans := f.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "interaction.rename", spans[0].Name())
	assert.Empty(t, f.exec.InFlight())
}

func TestExecute_FailurePropagatesAndRollsBack(t *testing.T) {
	f := newFixture(t)
	rolledBack := false

	d := renameConnection(func(ctx context.Context) (any, error) {
		return nil, &domain.NetworkError{Op: "PATCH /connections/c1", Err: errors.New("connection refused")}
	})
	d.Rollback = func() { rolledBack = true }

	_, err := f.exec.Execute(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.True(t, rolledBack)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusFailed, entries[0].Status)
	assert.Equal(t, domain.ClassNetwork, entries[0].ErrorClass)

	errs := f.notifier.BySeverity(ports.SeverityError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "connection refused")
}

func TestExecute_SuppressedToastsStillPropagate(t *testing.T) {
	f := newFixture(t)

	d := renameConnection(func(ctx context.Context) (any, error) { return nil, errors.New("boom") })
	d.SuppressErrorToast = true
	_, err := f.exec.Execute(context.Background(), d)
	assert.EqualError(t, err, "boom")

	d = renameConnection(func(ctx context.Context) (any, error) { return 1, nil })
	d.SuppressSuccessToast = true
	_, err = f.exec.Execute(context.Background(), d)
	assert.NoError(t, err)

	assert.Empty(t, f.notifier.Notifications())
	assert.Len(t, f.audit.Entries(), 2, "audit is never suppressed")
}

func TestExecute_ValidationRunsBeforeMutation(t *testing.T) {
	f := newFixture(t)
	called, rolledBack := false, false

	d := renameConnection(func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	d.Rollback = func() { rolledBack = true }
	d.Validate = func(in domain.Intent) error {
		var intent struct {
			Name string `mapstructure:"name"`
		}
		if err := in.Decode(&intent); err != nil {
			return err
		}
		if len(intent.Name) < 20 {
			return errors.New("name too short")
		}
		return nil
	}

	_, err := f.exec.Execute(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.ClassValidation, domain.ClassifyError(err))
	assert.False(t, called)
	assert.False(t, rolledBack)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ClassValidation, entries[0].ErrorClass)
}

func TestExecute_ConflictIsSuccess(t *testing.T) {
	f := newFixture(t)
	rolledBack := false

	d := renameConnection(func(ctx context.Context) (any, error) {
		return nil, &domain.ConflictError{EntityKey: "connection:c1"}
	})
	d.Rollback = func() { rolledBack = true }

	_, err := f.exec.Execute(context.Background(), d)
	assert.NoError(t, err)
	assert.False(t, rolledBack)
	assert.Empty(t, f.notifier.BySeverity(ports.SeverityError))
}

func TestExecute_RejectsMalformedDescriptors(t *testing.T) {
	noop := func(ctx context.Context) (any, error) { return nil, nil }

	cases := map[string]executor.Descriptor{
		"missing kind": {Reversibility: domain.SystemManaged, Action: noop},
		"unknown reversibility": {Kind: domain.KindRun, Action: noop},
		"missing action": {Kind: domain.KindRun, Reversibility: domain.SystemManaged},
		"unconfirmed irreversible": {
			Kind: domain.KindDelete, Reversibility: domain.Irreversible, Action: noop,
		},
		"reversible without deferred": {
			Kind: domain.KindDelete, Reversibility: domain.FullyReversible,
			Intent: domain.Intent{domain.KeyEntityKey: "k"},
		},
		"reversible without entity key": {
			Kind: domain.KindDelete, Reversibility: domain.FullyReversible,
			Deferred: &scheduler.Mutation{Commit: func(context.Context) error { return nil }},
		},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.exec.Execute(context.Background(), d)
			assert.ErrorIs(t, err, domain.ErrValidation)

			entries := f.audit.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, domain.StatusFailed, entries[0].Status)
			assert.Equal(t, domain.ClassValidation, entries[0].ErrorClass)
			assert.Len(t, f.notifier.BySeverity(ports.SeverityError), 1)
			assert.Empty(t, f.exec.InFlight())
		})
	}
}

func TestExecute_ConfirmedIrreversible(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(context.Background(), executor.Descriptor{
		Kind:          domain.KindDelete,
		Label:         "Purge job history",
		Reversibility: domain.Irreversible,
		Confirmed:     true,
		Action:        func(ctx context.Context) (any, error) { return nil, nil },
	})
	assert.NoError(t, err)
}

func TestExecute_DeferredUndo(t *testing.T) {
	f := newFixture(t, executor.WithScheduler(scheduler.New(scheduler.WithDelay(50*time.Millisecond))))

	var mu sync.Mutex
	rows := map[string]bool{"conn-1": true}
	var deletes atomic.Int32

	result, err := f.exec.Execute(context.Background(), executor.Descriptor{
		Kind:          domain.KindDelete,
		Label:         "Connection deleted",
		Reversibility: domain.FullyReversible,
		Intent:        domain.Intent{domain.KeyEntityKey: "connection:conn-1"},
		Deferred: &scheduler.Mutation{
			ApplyOptimistic: func() { mu.Lock(); rows["conn-1"] = false; mu.Unlock() },
			Rollback:        func() { mu.Lock(); rows["conn-1"] = true; mu.Unlock() },
			Commit: func(ctx context.Context) error {
				deletes.Add(1)
				return nil
			},
		},
	})
	require.NoError(t, err)
	h, ok := result.(*scheduler.Handle)
	require.True(t, ok)

	mu.Lock()
	assert.False(t, rows["conn-1"], "removed immediately")
	mu.Unlock()

	undo, ok := f.notifier.LastUndo()
	require.True(t, ok, "the success notification carries the undo hook")
	assert.Equal(t, 50*time.Millisecond, f.notifier.Notifications()[0].Options.Duration)
	undo()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, scheduler.StateCancelled, h.State())
	assert.Equal(t, int32(0), deletes.Load(), "no delete call was ever issued")
	mu.Lock()
	assert.True(t, rows["conn-1"])
	mu.Unlock()
}

func TestExecute_BlocksNavigation(t *testing.T) {
	gate := executor.NewNavigationGate()
	router := memory.NewRouter("/jobs", gate)
	f := newFixture(t, executor.WithGate(gate))

	var navErr error
	d := renameConnection(func(ctx context.Context) (any, error) {
		assert.True(t, gate.Blocked())
		navErr = router.Navigate(ctx, "/reports")
		return nil, errors.New("export failed")
	})
	d.BlocksNavigation = true

	_, err := f.exec.Execute(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, navErr, domain.ErrNavigationBlocked)
	assert.False(t, gate.Blocked(), "the gate is released even on failure")
	assert.Equal(t, "/jobs", router.CurrentRoute())

	require.NoError(t, router.Navigate(context.Background(), "/reports"))
}

func TestExecute_Deduplicates(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	d := renameConnection(func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "same", nil
	})

	var wg sync.WaitGroup
	results := make([]any, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = f.exec.Execute(context.Background(), d)
	}()
	<-started
	assert.Len(t, f.exec.InFlight(), 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = f.exec.Execute(context.Background(), d)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []any{"same", "same"}, results)
	assert.Len(t, f.audit.Entries(), 1)
	assert.Len(t, f.notifier.Notifications(), 1, "one notification per underlying action")
}

func TestExecute_SharedCallerOutlivesFirstCancellation(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	d := renameConnection(func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return "renamed", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.exec.Execute(firstCtx, d)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		v   any
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		v, err := f.exec.Execute(context.Background(), d)
		second <- outcome{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "renamed", got.v)
	assert.Equal(t, int32(1), calls.Load())

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusSucceeded, entries[0].Status)
}

func TestExecute_DifferentEntitiesRunSeparately(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	action := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}

	a := renameConnection(action)
	b := renameConnection(action)
	b.Intent = domain.Intent{domain.KeyEntityKey: "connection:c2"}
	c := renameConnection(action)
	c.Kind = domain.KindUpdate

	for _, d := range []executor.Descriptor{a, b, c} {
		_, err := f.exec.Execute(context.Background(), d)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecute_HooksAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	var events []domain.EventType
	hooks := domain.LifecycleHooks{
		OnInteractionStart: func(_ context.Context, e *domain.InteractionEvent) {
			events = append(events, e.Type)
			assert.Equal(t, domain.StatusExecuting, e.Interaction.Status)
		},
		OnInteractionEnd: func(_ context.Context, e *domain.InteractionEvent) {
			events = append(events, e.Type)
			assert.Equal(t, domain.StatusSucceeded, e.Interaction.Status)
		},
	}
	f := newFixture(t, executor.WithLifecycleHooks(hooks), executor.WithMetrics(metrics))

	_, err = f.exec.Execute(context.Background(), renameConnection(func(ctx context.Context) (any, error) { return nil, nil }))
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventInteractionStart, domain.EventInteractionEnd}, events)

	count, err := testutil.GatherAndCount(reg, "tendril_executor_interactions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
