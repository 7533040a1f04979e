package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
)

// Store implements ports.OutputStore in memory as one ring buffer per producer.
// Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	rings map[domain.Feature][]domain.OutputArtifact // most recent first
	byID  map[string]domain.OutputArtifact
}

// NewStore creates a new in-memory output store.
func NewStore() *Store {
	return &Store{
		rings: make(map[domain.Feature][]domain.OutputArtifact),
		byID:  make(map[string]domain.OutputArtifact),
	}
}

// Append puts a copy of the artifact at the head of its producer's ring.
// The head insert, the eviction and the index update happen under one lock,
// so readers never observe a ring and index that disagree.
func (s *Store) Append(ctx context.Context, artifact domain.OutputArtifact, capacity int) error {
	if capacity <= 0 {
		capacity = 1
	}
	artifact = artifact.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	ring := s.rings[artifact.Producer]
	next := make([]domain.OutputArtifact, 0, min(len(ring)+1, capacity))
	next = append(next, artifact)
	for _, existing := range ring {
		if len(next) == capacity {
			delete(s.byID, existing.ID)
			continue
		}
		next = append(next, existing)
	}
	s.rings[artifact.Producer] = next
	s.byID[artifact.ID] = artifact
	return nil
}

// List returns copies of the producer's artifacts, most recent first.
func (s *Store) List(ctx context.Context, producer domain.Feature) ([]domain.OutputArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.rings[producer]
	out := make([]domain.OutputArtifact, len(ring))
	for i, a := range ring {
		out[i] = a.Clone()
	}
	return out, nil
}

// Get retrieves an artifact by id.
func (s *Store) Get(ctx context.Context, id string) (domain.OutputArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return domain.OutputArtifact{}, domain.ErrArtifactNotFound
	}
	return a.Clone(), nil
}

// Clear removes everything.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rings = make(map[domain.Feature][]domain.OutputArtifact)
	s.byID = make(map[string]domain.OutputArtifact)
	return nil
}
