package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/persistence/middleware"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contact struct {
	Name     string `json:"name"`
	Password string `json:"user_password"`
}

func TestPIIMiddleware_Contract(t *testing.T) {
	mw, err := middleware.NewPIIMiddleware([]string{"password"})
	require.NoError(t, err)
	ports.RunOutputStoreContract(t, mw(memory.NewStore()))
}

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := memory.NewStore()
	// Mask keys containing "password" or "ssn"
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	require.NoError(t, err)
	secureStore := mw(underlyingStore)
	ctx := context.Background()

	payload := map[string]any{
		"username":      "jdoe",
		"user_password": "secret123",
		"details": map[string]any{
			"address":    "123 St",
			"ssn_number": "999-99-9999",
		},
		"contacts": []contact{{Name: "Ann", Password: "hunter2"}},
	}
	require.NoError(t, secureStore.Append(ctx, domain.OutputArtifact{
		ID: "out-1", Producer: domain.FeatureEnrichment, Type: domain.OutputDataset, Title: "Users", Payload: payload,
	}, 5))

	assert.Equal(t, "secret123", payload["user_password"], "the caller's payload is not modified")

	stored, err := underlyingStore.Get(ctx, "out-1")
	require.NoError(t, err)
	masked := stored.Payload.(map[string]any)
	assert.Equal(t, "jdoe", masked["username"])
	assert.Equal(t, middleware.Mask, masked["user_password"])
	assert.Equal(t, middleware.Mask, masked["details"].(map[string]any)["ssn_number"])
	assert.Equal(t, "123 St", masked["details"].(map[string]any)["address"])

	contacts := masked["contacts"].([]any)
	assert.Equal(t, middleware.Mask, contacts[0].(map[string]any)["user_password"])
	assert.Equal(t, "Ann", contacts[0].(map[string]any)["name"])
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain_MasksBeforeEncrypting(t *testing.T) {
	underlyingStore := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"token"})
	require.NoError(t, err)
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	require.NoError(t, err)

	store := middleware.Chain(underlyingStore, pii, enc)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, domain.OutputArtifact{
		ID: "out-1", Producer: domain.FeatureJobs, Type: domain.OutputReport, Title: "Run",
		Payload: map[string]any{"api_token": "abc", "rows": 3.0},
	}, 5))

	got, err := store.Get(ctx, "out-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"api_token": middleware.Mask, "rows": 3.0}, got.Payload)
}
