package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunOutputStoreContract runs a suite of tests to verify that an OutputStore implementation
// adheres to the defined interface contract. The store is cleared before each subtest.
func RunOutputStoreContract(t *testing.T, store OutputStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	artifact := func(producer domain.Feature, n int) domain.OutputArtifact {
		return domain.OutputArtifact{
			ID:        fmt.Sprintf("%s-%d", producer, n),
			Producer:  producer,
			Type:      domain.OutputTable,
			Title:     fmt.Sprintf("Output %d", n),
			Format:    "csv",
			Payload:   map[string]any{"rows": "a,b"},
			CreatedAt: base.Add(time.Duration(n) * time.Second),
		}
	}

	t.Run("Append and Get", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))

		a := artifact(domain.FeatureEnrichment, 1)
		require.NoError(t, store.Append(ctx, a, 5))

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, a.Producer, got.Producer)
		assert.Equal(t, a.Type, got.Type)
		assert.Equal(t, a.Title, got.Title)
		assert.True(t, a.CreatedAt.Equal(got.CreatedAt))
		assert.NotNil(t, got.Payload)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
	})

	t.Run("List Most Recent First", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))
		for i := 1; i <= 3; i++ {
			require.NoError(t, store.Append(ctx, artifact(domain.FeatureEnrichment, i), 5))
		}
		require.NoError(t, store.Append(ctx, artifact(domain.FeatureReports, 9), 5))

		list, err := store.List(ctx, domain.FeatureEnrichment)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "enrichment-3", list[0].ID)
		assert.Equal(t, "enrichment-1", list[2].ID)

		empty, err := store.List(ctx, domain.FeatureDocQA)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Evicts Oldest Beyond Capacity", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))
		for i := 1; i <= 4; i++ {
			require.NoError(t, store.Append(ctx, artifact(domain.FeatureVisualization, i), 2))
		}

		list, err := store.List(ctx, domain.FeatureVisualization)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "visualization-4", list[0].ID)
		assert.Equal(t, "visualization-3", list[1].ID)

		_, err = store.Get(ctx, "visualization-1")
		assert.ErrorIs(t, err, domain.ErrArtifactNotFound, "evicted artifacts are unreachable")
	})

	t.Run("Payload Is Not Shared", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))

		payload := map[string]any{"rows": "3"}
		a := artifact(domain.FeatureEnrichment, 1)
		a.Payload = payload
		require.NoError(t, store.Append(ctx, a, 5))
		payload["rows"] = "999"

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		stored, ok := got.Payload.(map[string]any)
		require.True(t, ok, "payload type %T", got.Payload)
		assert.Equal(t, "3", stored["rows"], "producer mutations do not reach the store")

		stored["rows"] = "-1"
		again, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "3", again.Payload.(map[string]any)["rows"], "reader mutations do not reach the store")

		list, err := store.List(ctx, domain.FeatureEnrichment)
		require.NoError(t, err)
		require.Len(t, list, 1)
		list[0].Payload.(map[string]any)["rows"] = "-2"
		again, err = store.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "3", again.Payload.(map[string]any)["rows"])
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, artifact(domain.FeatureJobs, 1), 5))
		require.NoError(t, store.Clear(ctx))

		list, err := store.List(ctx, domain.FeatureJobs)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}
