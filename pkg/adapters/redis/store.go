package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// appendScript pushes the id on the producer's ring, stores the artifact and
// deletes whatever falls off the tail, in one atomic step.
//
// KEYS[1] ring, KEYS[2] artifact key; ARGV[1] id, ARGV[2] json,
// ARGV[3] capacity, ARGV[4] artifact key prefix.
var appendScript = backend.NewScript(`
redis.call("SET", KEYS[2], ARGV[2])
redis.call("LPUSH", KEYS[1], ARGV[1])
local capacity = tonumber(ARGV[3])
local evicted = redis.call("LRANGE", KEYS[1], capacity, -1)
for _, id in ipairs(evicted) do
	redis.call("DEL", ARGV[4] .. id)
end
redis.call("LTRIM", KEYS[1], 0, capacity - 1)
return #evicted
`)

// Store implements ports.OutputStore using Redis: a list of ids per producer
// and one JSON string per artifact.
type Store struct {
	client *backend.Client
	prefix string
}

// NewStore creates a store over an existing client.
func NewStore(client *backend.Client, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{client: client, prefix: o.prefix}
}

func (s *Store) ringKey(f domain.Feature) string {
	return s.prefix + "outputs:ring:" + f.String()
}

func (s *Store) artifactPrefix() string {
	return s.prefix + "outputs:artifact:"
}

func (s *Store) artifactKey(id string) string {
	return s.artifactPrefix() + id
}

// Append stores the artifact and trims its producer's ring to capacity.
func (s *Store) Append(ctx context.Context, artifact domain.OutputArtifact, capacity int) error {
	if capacity <= 0 {
		capacity = 1
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	keys := []string{s.ringKey(artifact.Producer), s.artifactKey(artifact.ID)}
	if err := appendScript.Run(ctx, s.client, keys, artifact.ID, data, capacity, s.artifactPrefix()).Err(); err != nil {
		return fmt.Errorf("failed to append artifact to redis: %w", err)
	}
	return nil
}

// List returns the producer's artifacts, most recent first.
func (s *Store) List(ctx context.Context, producer domain.Feature) ([]domain.OutputArtifact, error) {
	ids, err := s.client.LRange(ctx, s.ringKey(producer), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.OutputArtifact{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.artifactKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load outputs: %w", err)
	}

	out := make([]domain.OutputArtifact, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // evicted between LRANGE and MGET
		}
		var a domain.OutputArtifact
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Get retrieves an artifact by id.
func (s *Store) Get(ctx context.Context, id string) (domain.OutputArtifact, error) {
	val, err := s.client.Get(ctx, s.artifactKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.OutputArtifact{}, domain.ErrArtifactNotFound
		}
		return domain.OutputArtifact{}, fmt.Errorf("failed to get artifact from redis: %w", err)
	}

	var a domain.OutputArtifact
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		return domain.OutputArtifact{}, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return a, nil
}

// Clear deletes every ring and artifact under the prefix.
func (s *Store) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"outputs:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan outputs: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
