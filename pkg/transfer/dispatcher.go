package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/capability"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
)

// DefaultReadyTimeout bounds how long Deliver waits for an unmounted target
// to subscribe after navigating to it.
const DefaultReadyTimeout = 3 * time.Second

// Handler turns a delivered artifact into local feature state.
type Handler func(ctx context.Context, d domain.Delivery) error

// Handlers maps each transfer action a feature supports to its handler.
type Handlers map[domain.TransferAction]Handler

// ArtifactSource resolves artifact ids. *outputs.Registry implements it.
type ArtifactSource interface {
	Get(ctx context.Context, id string) (domain.OutputArtifact, error)
}

type subscription struct {
	feature  domain.Feature
	handlers Handlers
}

// Dispatcher routes artifacts between features. At most one subscription is
// active per feature; the newest registration wins.
type Dispatcher struct {
	mu    sync.Mutex
	subs  map[domain.Feature]*subscription
	ready map[domain.Feature]chan struct{} // closed on the next subscribe

	caps      *capability.Map
	routes    capability.RouteTable
	artifacts ArtifactSource
	router    ports.Router

	readyTimeout time.Duration
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithRoutes sets the feature route table used for navigation.
func WithRoutes(routes capability.RouteTable) Option {
	return func(d *Dispatcher) {
		d.routes = routes
	}
}

// WithReadyTimeout sets how long Deliver waits for a target to mount.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.readyTimeout = timeout
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(d *Dispatcher) {
		d.hooks = hooks
	}
}

// WithLogger configures a logger for the Dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a Dispatcher over the capability map, the artifact
// source and the router collaborator.
func NewDispatcher(caps *capability.Map, artifacts ArtifactSource, router ports.Router, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:         make(map[domain.Feature]*subscription),
		ready:        make(map[domain.Feature]chan struct{}),
		caps:         caps,
		routes:       capability.DefaultRoutes(),
		artifacts:    artifacts,
		router:       router,
		readyTimeout: DefaultReadyTimeout,
		logger:       logging.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe makes handlers the active listener for feature and returns its
// unsubscribe function. A previous subscription for the same feature is
// superseded; its unsubscribe becomes a no-op.
func (d *Dispatcher) Subscribe(feature domain.Feature, handlers Handlers) (func(), error) {
	if !feature.Valid() {
		return nil, fmt.Errorf("subscribe %q: %w", feature, domain.ErrUnknownFeature)
	}
	copied := make(Handlers, len(handlers))
	for action, h := range handlers {
		if h == nil {
			continue
		}
		copied[action] = h
	}
	sub := &subscription{feature: feature, handlers: copied}

	d.mu.Lock()
	_, replaced := d.subs[feature]
	d.subs[feature] = sub
	if ch, ok := d.ready[feature]; ok {
		close(ch)
		delete(d.ready, feature)
	}
	d.mu.Unlock()

	d.logger.Debug("transfer listener subscribed", "feature", feature, "replaced", replaced)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.subs[feature] == sub {
				delete(d.subs, feature)
				d.logger.Debug("transfer listener unsubscribed", "feature", feature)
			}
		})
	}, nil
}

// Subscribed reports whether feature currently has an active listener.
func (d *Dispatcher) Subscribed(feature domain.Feature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.subs[feature]
	return ok
}

// EligibleTargets resolves the artifact and lists the features that accept it.
func (d *Dispatcher) EligibleTargets(ctx context.Context, artifactID string) ([]domain.TransferTarget, error) {
	artifact, err := d.artifacts.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	return d.caps.EligibleTargets(artifact), nil
}

// Deliver hands the artifact to the target's listener. If the target is not
// subscribed, Deliver navigates to its route and waits up to the ready
// timeout for it to subscribe, then delivers once. A target that never
// subscribes yields a *domain.DeliveryTimeoutError.
//
// An artifact is only ever handed to a feature whose capability entry
// accepts its type. An empty action falls back to the target's default.
func (d *Dispatcher) Deliver(ctx context.Context, req domain.TransferRequest) (err error) {
	navigated := false
	defer func() {
		d.metrics.RecordTransfer(req.Target.String(), deliveryOutcome(err))
		if d.hooks.OnDeliver != nil {
			d.hooks.OnDeliver(ctx, &domain.DeliverEvent{
				EventBase: domain.EventBase{Timestamp: d.now(), Type: domain.EventDeliver},
				Request:   req,
				Navigated: navigated,
				Err:       err,
			})
		}
	}()

	delivery, err := d.resolve(ctx, &req)
	if err != nil {
		return err
	}

	sub, ready := d.lookup(req.Target)
	if sub == nil {
		path, ok := d.routes.Route(req.Target)
		if !ok {
			return fmt.Errorf("no route for %s: %w", req.Target, domain.ErrUnknownFeature)
		}
		d.logger.Debug("transfer target not mounted, navigating", "target", req.Target, "path", path)
		if err := d.router.Navigate(ctx, path); err != nil {
			return fmt.Errorf("navigate to %s: %w", path, err)
		}
		navigated = true

		sub, err = d.awaitSubscription(ctx, req.Target, ready)
		if err != nil {
			return err
		}
	}

	handler, ok := sub.handlers[req.Action]
	if !ok {
		return fmt.Errorf("%s cannot %s: %w", req.Target, req.Action, domain.ErrNoHandler)
	}
	if err := handler(ctx, delivery); err != nil {
		return fmt.Errorf("deliver to %s: %w", req.Target, err)
	}
	d.logger.Info("artifact delivered", "artifact_id", delivery.Artifact.ID, "source", req.Source, "target", req.Target, "action", req.Action)
	return nil
}

// resolve validates the request against the artifact and the capability map
// and fills in defaults. Nothing is delivered when it fails.
func (d *Dispatcher) resolve(ctx context.Context, req *domain.TransferRequest) (domain.Delivery, error) {
	if !req.Target.Valid() {
		return domain.Delivery{}, fmt.Errorf("target %q: %w", req.Target, domain.ErrUnknownFeature)
	}
	if req.ArtifactID == "" {
		return domain.Delivery{}, domain.Invalid("artifact_id", "required")
	}
	artifact, err := d.artifacts.Get(ctx, req.ArtifactID)
	if err != nil {
		return domain.Delivery{}, err
	}

	if req.Source == domain.FeatureUnknown {
		req.Source = artifact.Producer
	}
	if req.Source != artifact.Producer {
		return domain.Delivery{}, domain.Invalid("source_feature", fmt.Sprintf("artifact %s was produced by %s", artifact.ID, artifact.Producer))
	}
	if req.Source == req.Target {
		return domain.Delivery{}, domain.Invalid("target_feature", "an artifact cannot be transferred to its producer")
	}
	if !d.caps.CanAccept(req.Target, artifact.Type) {
		return domain.Delivery{}, fmt.Errorf("%s does not accept %s: %w", req.Target, artifact.Type, domain.ErrNotAccepted)
	}
	if req.Action == domain.ActionNone {
		entry, _ := d.caps.Entry(req.Target)
		req.Action = entry.DefaultAction
	}

	return domain.Delivery{Source: req.Source, Action: req.Action, Artifact: artifact}, nil
}

// lookup returns the active subscription, or the channel closed on the next
// subscribe if there is none. Ready channels are shared by every waiter on a
// feature and removed only by Subscribe.
func (d *Dispatcher) lookup(feature domain.Feature) (*subscription, chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.subs[feature]; ok {
		return sub, nil
	}
	ch, ok := d.ready[feature]
	if !ok {
		ch = make(chan struct{})
		d.ready[feature] = ch
	}
	return nil, ch
}

func (d *Dispatcher) awaitSubscription(ctx context.Context, feature domain.Feature, ready chan struct{}) (*subscription, error) {
	timer := time.NewTimer(d.readyTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ready:
		case <-timer.C:
			d.logger.Warn("transfer target never became ready", "target", feature, "timeout", d.readyTimeout)
			return nil, &domain.DeliveryTimeoutError{Target: feature, Timeout: d.readyTimeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// The listener may have unsubscribed again before we looked.
		var sub *subscription
		sub, ready = d.lookup(feature)
		if sub != nil {
			return sub, nil
		}
	}
}

func deliveryOutcome(err error) string {
	switch domain.ClassifyError(err) {
	case domain.ClassNone:
		return "delivered"
	case domain.ClassTimeout:
		return "timeout"
	case domain.ClassValidation:
		return "rejected"
	default:
		return "failed"
	}
}
