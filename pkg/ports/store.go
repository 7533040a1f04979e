package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// OutputStore persists registered artifacts as a bounded ring per producing feature.
type OutputStore interface {
	// Append stores the artifact at the head of its producer's ring and evicts
	// the oldest entries beyond capacity.
	Append(ctx context.Context, artifact domain.OutputArtifact, capacity int) error

	// List returns the producer's artifacts, most recent first.
	List(ctx context.Context, producer domain.Feature) ([]domain.OutputArtifact, error)

	// Get retrieves an artifact by id.
	// Returns domain.ErrArtifactNotFound if it was never stored or has been evicted.
	Get(ctx context.Context, id string) (domain.OutputArtifact, error)

	// Clear removes every stored artifact.
	Clear(ctx context.Context) error
}
