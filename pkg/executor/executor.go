package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Descriptor describes one mutating user action.
type Descriptor struct {
	Kind          domain.InteractionKind
	Label         string
	Reversibility domain.ReversibilityClass
	Intent        domain.Intent

	// SuccessMessage overrides the success notification text (defaults to Label).
	SuccessMessage       string
	SuppressSuccessToast bool
	SuppressErrorToast   bool
	// BlocksNavigation closes the navigation gate while the action runs.
	BlocksNavigation bool
	// Confirmed must be set for Irreversible interactions; the confirmation
	// dialog itself belongs to the caller.
	Confirmed bool

	// Validate checks the intent before anything is mutated. Its errors are
	// reported as validation errors.
	Validate func(domain.Intent) error

	// Action performs SystemManaged and Irreversible interactions.
	Action func(ctx context.Context) (any, error)
	// Rollback undoes local effects of Action when it fails after the server
	// was reached. Optional.
	Rollback func()

	// Deferred is the optimistic mutation of a FullyReversible interaction.
	// It is scheduled under the intent's entity key and the result of Execute
	// is its *scheduler.Handle.
	Deferred *scheduler.Mutation
}

func (d Descriptor) check() error {
	if d.Kind == "" {
		return domain.Invalid("kind", "required")
	}
	if !d.Reversibility.Valid() {
		return domain.Invalid("reversibility", fmt.Sprintf("unknown class %d", uint8(d.Reversibility)))
	}
	switch d.Reversibility {
	case domain.FullyReversible:
		if d.Deferred == nil {
			return domain.Invalid("deferred", "required for fully reversible interactions")
		}
		if d.Action != nil {
			return domain.Invalid("action", "fully reversible interactions commit through deferred")
		}
		if d.Intent.EntityKey() == "" {
			return domain.Invalid(domain.KeyEntityKey, "required for fully reversible interactions")
		}
	default:
		if d.Action == nil {
			return domain.Invalid("action", "required")
		}
		if d.Deferred != nil {
			return domain.Invalid("deferred", fmt.Sprintf("not allowed for %s interactions", d.Reversibility))
		}
	}
	if d.Reversibility == domain.Irreversible && !d.Confirmed {
		return domain.Invalid("confirmed", "irreversible interactions require confirmation")
	}
	return nil
}

func (d Descriptor) label() string {
	if d.Label != "" {
		return d.Label
	}
	return string(d.Kind)
}

// Executor runs Descriptors.
type Executor struct {
	flight singleflight.Group

	mu       sync.Mutex
	inflight map[string]domain.Interaction

	scheduler *scheduler.Scheduler
	gate      *NavigationGate
	notifier  ports.Notifier
	audit     ports.AuditSink
	tracer    trace.Tracer
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

// Option configures the Executor.
type Option func(*Executor)

// WithScheduler sets the scheduler used for FullyReversible interactions.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(e *Executor) {
		e.scheduler = s
	}
}

// WithGate shares a navigation gate with the router.
func WithGate(g *NavigationGate) Option {
	return func(e *Executor) {
		e.gate = g
	}
}

// WithNotifier sets the notification surface.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithAuditSink records every finished interaction.
func WithAuditSink(sink ports.AuditSink) Option {
	return func(e *Executor) {
		e.audit = sink
	}
}

// WithTracerProvider sets where interaction spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		e.tracer = observability.Tracer(tp)
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithLogger configures a logger for the Executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records interaction counts and durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithIDGenerator overrides interaction id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		e.newID = fn
	}
}

// New creates an Executor. Without WithScheduler it owns a scheduler that
// reports failed commits to the same notifier.
func New(opts ...Option) *Executor {
	e := &Executor{
		inflight: make(map[string]domain.Interaction),
		logger:   logging.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		e.gate = NewNavigationGate()
	}
	if e.tracer == nil {
		e.tracer = observability.Tracer(nil)
	}
	if e.scheduler == nil {
		e.scheduler = scheduler.New(
			scheduler.WithNotifier(e.notifier),
			scheduler.WithLogger(e.logger),
			scheduler.WithMetrics(e.metrics),
		)
	}
	return e
}

// Scheduler returns the scheduler deferred interactions are handed to.
func (e *Executor) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Gate returns the navigation gate.
func (e *Executor) Gate() *NavigationGate { return e.gate }

// Execute runs the interaction described by d and returns the action's
// result. Concurrent calls sharing (Kind, entity key) while one is executing
// share that execution: the action runs once and every caller receives the
// same result and error.
//
// A shared execution is detached from any single caller's cancellation; a
// caller whose ctx ends stops waiting and gets ctx.Err().
//
// Errors always propagate; the suppress flags only silence notifications.
// Malformed descriptors fail as validation errors and are audited like any
// other failure.
func (e *Executor) Execute(ctx context.Context, d Descriptor) (any, error) {
	key := d.Intent.EntityKey()
	if key == "" {
		return e.run(ctx, d)
	}

	flightKey := string(d.Kind) + "/" + key
	detached := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(flightKey, func() (any, error) {
		return e.run(detached, d)
	})

	select {
	case res := <-ch:
		if res.Shared {
			e.logger.Debug("interaction deduplicated", "kind", d.Kind, "entity_key", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the interactions currently executing, oldest first.
func (e *Executor) InFlight() []domain.Interaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Interaction, 0, len(e.inflight))
	for _, in := range e.inflight {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (e *Executor) run(ctx context.Context, d Descriptor) (result any, err error) {
	in := domain.Interaction{
		ID:            e.newID(),
		Kind:          d.Kind,
		Label:         d.label(),
		Reversibility: d.Reversibility,
		Intent:        d.Intent.Clone(),
		Status:        domain.StatusIdle,
	}
	if err := in.Begin(e.now()); err != nil {
		return nil, err
	}
	e.track(in)
	defer e.untrack(in.ID)

	if e.hooks.OnInteractionStart != nil {
		e.hooks.OnInteractionStart(ctx, &domain.InteractionEvent{
			EventBase:   domain.EventBase{Timestamp: in.StartedAt, Type: domain.EventInteractionStart},
			Interaction: in,
		})
	}

	ctx, finishSpan := observability.TrackOperation(ctx, e.tracer, "interaction."+string(d.Kind),
		attribute.String("interaction.id", in.ID),
		attribute.String("interaction.label", in.Label),
		attribute.String("interaction.reversibility", d.Reversibility.String()),
		attribute.String("interaction.entity_key", in.Intent.EntityKey()),
	)

	if d.BlocksNavigation {
		e.gate.Enter()
		defer e.gate.Leave()
	}

	result, err = e.perform(ctx, d)

	status := domain.StatusSucceeded
	if err != nil {
		status = domain.StatusFailed
	}
	if ferr := in.Finish(status, e.now()); ferr != nil {
		e.logger.Error("interaction finished twice", "id", in.ID, "err", ferr)
	}

	e.record(ctx, in, err)
	e.notify(ctx, d, result, err)
	finishSpan(err)
	e.metrics.RecordInteraction(string(d.Kind), string(status), in.Duration())

	if err != nil {
		e.logger.Info("interaction failed", "id", in.ID, "kind", d.Kind, "class", domain.ClassifyError(err), "err", err)
	} else {
		e.logger.Info("interaction succeeded", "id", in.ID, "kind", d.Kind)
	}

	if e.hooks.OnInteractionEnd != nil {
		e.hooks.OnInteractionEnd(ctx, &domain.InteractionEvent{
			EventBase:   domain.EventBase{Timestamp: in.EndedAt, Type: domain.EventInteractionEnd},
			Interaction: in,
			Err:         err,
		})
	}
	return result, err
}

func (e *Executor) perform(ctx context.Context, d Descriptor) (any, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if d.Validate != nil {
		if err := d.Validate(d.Intent); err != nil {
			if !errors.Is(err, domain.ErrValidation) {
				err = &domain.ValidationError{Field: "intent", Reason: err.Error()}
			}
			return nil, err
		}
	}

	if d.Deferred != nil {
		mutation := *d.Deferred
		if mutation.Label == "" {
			mutation.Label = d.label()
		}
		h, err := e.scheduler.Schedule(d.Intent.EntityKey(), mutation)
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	result, err := d.Action(ctx)
	switch domain.ClassifyError(err) {
	case domain.ClassNone:
		return result, nil
	case domain.ClassConflict:
		// Already applied server-side.
		e.logger.Info("interaction resolved as conflict", "kind", d.Kind, "err", err)
		return result, nil
	case domain.ClassValidation:
		return nil, err
	default:
		if d.Rollback != nil {
			d.Rollback()
		}
		return nil, err
	}
}

func (e *Executor) record(ctx context.Context, in domain.Interaction, err error) {
	if e.audit == nil {
		return
	}
	if aerr := e.audit.Record(ctx, domain.NewAuditEntry(in, err)); aerr != nil {
		e.logger.Warn("audit record failed", "id", in.ID, "err", aerr)
	}
}

func (e *Executor) notify(ctx context.Context, d Descriptor, result any, err error) {
	if e.notifier == nil {
		return
	}
	if err != nil {
		if !d.SuppressErrorToast {
			e.notifier.Show(ctx, fmt.Sprintf("%s failed: %v", d.label(), err), ports.SeverityError)
		}
		return
	}
	if d.SuppressSuccessToast {
		return
	}
	message := d.SuccessMessage
	if message == "" {
		message = d.label()
	}
	if h, ok := result.(*scheduler.Handle); ok {
		e.notifier.ShowWithUndo(ctx, message, h.Undo, ports.UndoOptions{Duration: h.Delay()})
		return
	}
	e.notifier.Show(ctx, message, ports.SeveritySuccess)
}

func (e *Executor) track(in domain.Interaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight[in.ID] = in
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}
