package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Mask replaces the values of masked keys.
const Mask = "***"

type piiMiddleware struct {
	next     ports.OutputStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks payload values whose keys
// match one of the patterns before the artifact is stored. Masking is one
// way: readers only ever see the masked payload.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("mask pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.OutputStore) ports.OutputStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Append(ctx context.Context, artifact domain.OutputArtifact, capacity int) error {
	if artifact.Payload != nil {
		// A JSON round trip deep-copies the payload and turns structs into
		// maps the masker can walk.
		raw, err := json.Marshal(artifact.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		var cloned any
		if err := json.Unmarshal(raw, &cloned); err != nil {
			return fmt.Errorf("failed to copy payload: %w", err)
		}
		artifact.Payload = mask(cloned, m.patterns)
	}
	return m.next.Append(ctx, artifact, capacity)
}

func (m *piiMiddleware) List(ctx context.Context, producer domain.Feature) ([]domain.OutputArtifact, error) {
	return m.next.List(ctx, producer)
}

func (m *piiMiddleware) Get(ctx context.Context, id string) (domain.OutputArtifact, error) {
	return m.next.Get(ctx, id)
}

func (m *piiMiddleware) Clear(ctx context.Context) error {
	return m.next.Clear(ctx)
}

// Helpers

func mask(v any, patterns []*regexp.Regexp) any {
	switch v := v.(type) {
	case map[string]any:
		for k, sub := range v {
			if matchesAny(k, patterns) {
				v[k] = Mask
				continue
			}
			v[k] = mask(sub, patterns)
		}
		return v
	case []any:
		for i, sub := range v {
			v[i] = mask(sub, patterns)
		}
		return v
	default:
		return v
	}
}

func matchesAny(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
