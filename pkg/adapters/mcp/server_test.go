package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/capability"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/outputs"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/aretw0/tendril/pkg/transfer"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *transfer.Dispatcher, *scheduler.Scheduler) {
	t.Helper()
	reg := outputs.NewRegistry()
	sched := scheduler.New(scheduler.WithDelay(time.Hour))
	t.Cleanup(sched.Reset)
	dispatcher := transfer.NewDispatcher(capability.Default(), reg, memory.NewRouter("/", nil),
		transfer.WithReadyTimeout(50*time.Millisecond))

	s := NewServer(Deps{
		Version:      "test",
		Capabilities: capability.Default(),
		Routes:       capability.DefaultRoutes(),
		Outputs:      reg,
		Dispatcher:   dispatcher,
		Scheduler:    sched,
	})
	return s, dispatcher, sched
}

func TestListCapabilities(t *testing.T) {
	s, _, _ := newTestServer(t)

	res, err := s.handleListCapabilities(context.Background(), mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	require.Len(t, res.Capabilities, len(domain.Features()))
	assert.Equal(t, "spreadsheets", res.Capabilities[0].Feature)
}

func TestRegisterAndDeliver(t *testing.T) {
	s, dispatcher, _ := newTestServer(t)
	ctx := context.Background()

	artifact, err := s.handleRegisterOutput(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"feature": "enrichment",
		"type":    "TABLE",
		"title":   "Leads",
		"payload": `[["name"],["acme"]]`,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FeatureEnrichment, artifact.Producer)
	assert.NotNil(t, artifact.Payload)

	outs, err := s.handleListOutputs(ctx, mcp.CallToolRequest{}, map[string]interface{}{"feature": "enrichment"})
	require.NoError(t, err)
	require.Len(t, outs.Outputs, 1)

	targets, err := s.handleEligibleTargets(ctx, mcp.CallToolRequest{}, map[string]interface{}{"artifact_id": artifact.ID})
	require.NoError(t, err)
	require.NotEmpty(t, targets.Targets)
	assert.Equal(t, domain.FeatureSpreadsheets, targets.Targets[0].Feature)

	inbox := transfer.NewInbox(domain.FeatureSpreadsheets, domain.ActionOpenIn)
	require.NoError(t, inbox.Mount(dispatcher))
	defer inbox.Unmount()

	res, err := s.handleDeliver(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"artifact_id":    artifact.ID,
		"target_feature": "spreadsheets",
	})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, "/spreadsheets", res.Route)

	got := inbox.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, artifact.ID, got[0].Artifact.ID)
	assert.Equal(t, domain.ActionOpenIn, got[0].Action)
}

func TestDeliver_Rejections(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleDeliver(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"artifact_id":    "missing",
		"target_feature": "billing",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownFeature)

	_, err = s.handleDeliver(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"artifact_id":    "missing",
		"target_feature": "spreadsheets",
	})
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)

	_, err = s.handleRegisterOutput(ctx, mcp.CallToolRequest{}, map[string]interface{}{
		"feature": "jobs",
		"type":    "REPORT",
		"title":   "run",
		"payload": "{not json",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCommits(t *testing.T) {
	s, _, sched := newTestServer(t)
	ctx := context.Background()

	_, err := sched.Schedule("conn-1", scheduler.Mutation{
		Label:  "Delete connection",
		Commit: func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)

	res, err := s.handlePendingCommits(ctx, mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-1"}, res.Pending)

	res, err = s.handleCancelCommit(ctx, mcp.CallToolRequest{}, map[string]interface{}{"entity_key": "conn-1"})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Pending)

	_, err = s.handleCancelCommit(ctx, mcp.CallToolRequest{}, map[string]interface{}{"entity_key": "conn-1"})
	assert.Error(t, err)
}
