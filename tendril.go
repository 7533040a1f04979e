package tendril

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/tendril/pkg/adapters/redis"
	"github.com/aretw0/tendril/pkg/capability"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/executor"
	"github.com/aretw0/tendril/pkg/keylock"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/outputs"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/aretw0/tendril/pkg/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// Version is the release of the tendril core.
const Version = "0.4.0"

// Core is the explicit context object of the console's interaction layer. It
// owns one instance of each registry and wires them together; nothing in the
// packages below it is global.
type Core struct {
	caps   *capability.Map
	routes capability.RouteTable

	gate     *executor.NavigationGate
	router   ports.Router
	notifier ports.Notifier
	audit    ports.AuditSink

	outputs    *outputs.Registry
	scheduler  *scheduler.Scheduler
	executor   *executor.Executor
	dispatcher *transfer.Dispatcher

	registry *prometheus.Registry
	metrics  *observability.Metrics

	logger *slog.Logger
}

type settings struct {
	delay          time.Duration
	commitTimeout  time.Duration
	capacity       int
	readyTimeout   time.Duration
	routeOverrides map[string]string
	initialRoute   string
	encryption     *middleware.EncryptionConfig
	maskKeys       []string

	redis       *goredis.Client
	redisPrefix string

	notifier       ports.Notifier
	router         ports.Router
	tracerProvider trace.TracerProvider
	hooks          domain.LifecycleHooks
	logger         *slog.Logger
}

// Option defines a functional option for configuring the Core.
type Option func(*settings)

// WithDelay sets the default undo window of deferred commits.
func WithDelay(d time.Duration) Option {
	return func(s *settings) {
		s.delay = d
	}
}

// WithCommitTimeout bounds each server commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.commitTimeout = d
	}
}

// WithOutputCapacity sets how many outputs are kept per producing feature.
func WithOutputCapacity(n int) Option {
	return func(s *settings) {
		s.capacity = n
	}
}

// WithReadyTimeout bounds how long a transfer waits for its target to mount.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.readyTimeout = d
	}
}

// WithRouteOverrides remaps feature routes, keyed by feature name.
func WithRouteOverrides(overrides map[string]string) Option {
	return func(s *settings) {
		s.routeOverrides = overrides
	}
}

// WithInitialRoute sets the starting route of the built-in router.
func WithInitialRoute(path string) Option {
	return func(s *settings) {
		s.initialRoute = path
	}
}

// WithPayloadEncryption encrypts artifact payloads at rest.
func WithPayloadEncryption(config middleware.EncryptionConfig) Option {
	return func(s *settings) {
		s.encryption = &config
	}
}

// WithPayloadMasking masks payload values whose keys match any of the
// patterns before artifacts are stored.
func WithPayloadMasking(patterns ...string) Option {
	return func(s *settings) {
		s.maskKeys = patterns
	}
}

// WithRedis moves outputs, the audit log and commit locks to redis.
// The client stays owned by the caller.
func WithRedis(client *goredis.Client, prefix string) Option {
	return func(s *settings) {
		s.redis = client
		s.redisPrefix = prefix
	}
}

// WithNotifier sets the toast surface. Defaults to a recording memory notifier.
func WithNotifier(n ports.Notifier) Option {
	return func(s *settings) {
		s.notifier = n
	}
}

// WithRouter replaces the built-in router. Custom routers should consult
// Core.Gate before navigating.
func WithRouter(r ports.Router) Option {
	return func(s *settings) {
		s.router = r
	}
}

// WithTracerProvider sets the provider for interaction spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		s.tracerProvider = tp
	}
}

// WithLifecycleHooks registers observability hooks on every component.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *settings) {
		s.hooks = hooks
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// New wires a Core.
func New(opts ...Option) (*Core, error) {
	cfg := settings{
		delay:        scheduler.DefaultDelay,
		capacity:     outputs.DefaultCapacity,
		readyTimeout: transfer.DefaultReadyTimeout,
		initialRoute: "/",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNop()
	}

	c := &Core{
		caps:   capability.Default(),
		logger: cfg.logger,
	}

	routes, err := capability.DefaultRoutes().WithOverrides(cfg.routeOverrides)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	c.routes = routes

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(collectors.NewGoCollector())
	if c.metrics, err = observability.NewMetrics(c.registry); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	c.gate = executor.NewNavigationGate()
	c.router = cfg.router
	if c.router == nil {
		c.router = memory.NewRouter(cfg.initialRoute, c.gate)
	}
	c.notifier = cfg.notifier
	if c.notifier == nil {
		c.notifier = memory.NewNotifier()
	}

	var store ports.OutputStore = memory.NewStore()
	var locks []keylock.Option
	c.audit = memory.NewAuditLog()
	if cfg.redis != nil {
		prefix := redisAdapter.WithPrefix(cfg.redisPrefix)
		store = redisAdapter.NewStore(cfg.redis, prefix)
		c.audit = redisAdapter.NewAuditLog(cfg.redis, prefix)
		locks = append(locks, keylock.WithLocker(redisAdapter.NewLocker(cfg.redis, prefix)))
		if cfg.commitTimeout > 0 {
			locks = append(locks, keylock.WithTTL(2*cfg.commitTimeout))
		}
	}
	locks = append(locks, keylock.WithLogger(c.logger))

	var mws []middleware.Middleware
	if len(cfg.maskKeys) > 0 {
		mw, err := middleware.NewPIIMiddleware(cfg.maskKeys)
		if err != nil {
			return nil, fmt.Errorf("payload masking: %w", err)
		}
		mws = append(mws, mw)
	}
	if cfg.encryption != nil {
		mw, err := middleware.NewEncryptionMiddleware(*cfg.encryption)
		if err != nil {
			return nil, fmt.Errorf("payload encryption: %w", err)
		}
		mws = append(mws, mw)
	}
	store = middleware.Chain(store, mws...)

	c.outputs = outputs.NewRegistry(
		outputs.WithStore(store),
		outputs.WithCapacity(cfg.capacity),
		outputs.WithLogger(c.logger),
		outputs.WithMetrics(c.metrics),
	)

	c.scheduler = scheduler.New(
		scheduler.WithDelay(cfg.delay),
		scheduler.WithCommitTimeout(cfg.commitTimeout),
		scheduler.WithNotifier(c.notifier),
		scheduler.WithKeyLock(keylock.NewManager(locks...)),
		scheduler.WithLifecycleHooks(cfg.hooks),
		scheduler.WithLogger(c.logger),
		scheduler.WithMetrics(c.metrics),
	)

	execOpts := []executor.Option{
		executor.WithScheduler(c.scheduler),
		executor.WithGate(c.gate),
		executor.WithNotifier(c.notifier),
		executor.WithAuditSink(c.audit),
		executor.WithLifecycleHooks(cfg.hooks),
		executor.WithLogger(c.logger),
		executor.WithMetrics(c.metrics),
	}
	if cfg.tracerProvider != nil {
		execOpts = append(execOpts, executor.WithTracerProvider(cfg.tracerProvider))
	}
	c.executor = executor.New(execOpts...)

	c.dispatcher = transfer.NewDispatcher(c.caps, c.outputs, c.router,
		transfer.WithRoutes(c.routes),
		transfer.WithReadyTimeout(cfg.readyTimeout),
		transfer.WithLifecycleHooks(cfg.hooks),
		transfer.WithLogger(c.logger),
		transfer.WithMetrics(c.metrics),
	)

	c.logger.Debug("core initialized", "redis", cfg.redis != nil, "delay", cfg.delay)
	return c, nil
}

// Capabilities returns the capability map.
func (c *Core) Capabilities() *capability.Map { return c.caps }

// Routes returns the route table.
func (c *Core) Routes() capability.RouteTable { return c.routes }

// Gate returns the navigation gate shared by the executor and the router.
func (c *Core) Gate() *executor.NavigationGate { return c.gate }

// Router returns the navigation collaborator.
func (c *Core) Router() ports.Router { return c.router }

// Notifier returns the toast surface.
func (c *Core) Notifier() ports.Notifier { return c.notifier }

// Audit returns the sink interactions are recorded to.
func (c *Core) Audit() ports.AuditSink { return c.audit }

// Outputs returns the output registry.
func (c *Core) Outputs() *outputs.Registry { return c.outputs }

// Scheduler returns the deferred commit scheduler.
func (c *Core) Scheduler() *scheduler.Scheduler { return c.scheduler }

// Executor returns the interaction executor.
func (c *Core) Executor() *executor.Executor { return c.executor }

// Dispatcher returns the transfer dispatcher.
func (c *Core) Dispatcher() *transfer.Dispatcher { return c.dispatcher }

// Gatherer exposes the core's metrics registry.
func (c *Core) Gatherer() prometheus.Gatherer { return c.registry }

// Execute runs an interaction through the executor.
func (c *Core) Execute(ctx context.Context, d executor.Descriptor) (any, error) {
	return c.executor.Execute(ctx, d)
}

// Deliver transfers an artifact to a feature.
func (c *Core) Deliver(ctx context.Context, req domain.TransferRequest) error {
	return c.dispatcher.Deliver(ctx, req)
}

// Reset drops pending commits and stored outputs. It does not commit or roll
// back anything and is meant for test isolation.
func (c *Core) Reset(ctx context.Context) error {
	c.scheduler.Reset()
	if n, ok := c.notifier.(interface{ Reset() }); ok {
		n.Reset()
	}
	return c.outputs.Reset(ctx)
}

// Shutdown commits every pending deferred commit now, so promised changes are
// not lost, and waits for them to settle.
func (c *Core) Shutdown(ctx context.Context) error {
	pending := len(c.scheduler.Pending())
	if err := c.scheduler.Flush(ctx); err != nil {
		return fmt.Errorf("flush pending commits: %w", err)
	}
	c.logger.Info("core shut down", "flushed", pending)
	return nil
}
