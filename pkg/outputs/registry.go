package outputs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/google/uuid"
)

// DefaultCapacity is how many artifacts are kept per producing feature.
const DefaultCapacity = 20

// Registry stores recently produced artifacts per producing feature.
type Registry struct {
	store    ports.OutputStore
	capacity int
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures the Registry.
type Option func(*Registry)

// WithStore replaces the default in-memory store.
func WithStore(store ports.OutputStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithCapacity sets the ring size per producer.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithIDGenerator overrides artifact id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		r.newID = fn
	}
}

// WithLogger configures a logger for the Registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics records registrations.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an output registry. Without WithStore it keeps artifacts in memory.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		capacity: DefaultCapacity,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = memory.NewStore()
	}
	return r
}

// Register assigns an id and timestamp to the draft and appends it to the
// producer's ring, evicting the oldest artifact on overflow.
func (r *Registry) Register(ctx context.Context, producer domain.Feature, draft domain.ArtifactDraft) (domain.OutputArtifact, error) {
	if !producer.Valid() {
		return domain.OutputArtifact{}, domain.ErrUnknownFeature
	}
	if err := draft.Validate(); err != nil {
		return domain.OutputArtifact{}, err
	}

	artifact := domain.OutputArtifact{
		ID:        r.newID(),
		Producer:  producer,
		Type:      draft.Type,
		Title:     draft.Title,
		Summary:   draft.Summary,
		Payload:   draft.Payload,
		Format:    draft.Format,
		CreatedAt: r.now().UTC(),
	}

	if err := r.store.Append(ctx, artifact, r.capacity); err != nil {
		return domain.OutputArtifact{}, fmt.Errorf("failed to store output: %w", err)
	}

	r.metrics.RecordOutput(producer.String(), artifact.Type.String())
	r.logger.DebugContext(ctx, "output registered",
		"artifact_id", artifact.ID,
		"producer", producer.String(),
		"type", artifact.Type.String(),
	)
	return artifact, nil
}

// List returns the producer's artifacts, most recent first.
func (r *Registry) List(ctx context.Context, producer domain.Feature) ([]domain.OutputArtifact, error) {
	if !producer.Valid() {
		return nil, domain.ErrUnknownFeature
	}
	return r.store.List(ctx, producer)
}

// Latest returns the most recent artifact of the producer.
func (r *Registry) Latest(ctx context.Context, producer domain.Feature) (domain.OutputArtifact, bool, error) {
	list, err := r.List(ctx, producer)
	if err != nil || len(list) == 0 {
		return domain.OutputArtifact{}, false, err
	}
	return list[0], true, nil
}

// Get retrieves an artifact by id.
func (r *Registry) Get(ctx context.Context, id string) (domain.OutputArtifact, error) {
	if id == "" {
		return domain.OutputArtifact{}, domain.Invalid("artifact_id", "required")
	}
	return r.store.Get(ctx, id)
}

// Capacity is the ring size per producer.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Reset drops every stored artifact.
func (r *Registry) Reset(ctx context.Context) error {
	return r.store.Clear(ctx)
}
