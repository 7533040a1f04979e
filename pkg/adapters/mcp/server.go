package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/capability"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/outputs"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/aretw0/tendril/pkg/transfer"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Deps are the core components exposed as tools.
type Deps struct {
	Version      string
	Capabilities *capability.Map
	Routes       capability.RouteTable
	Outputs      *outputs.Registry
	Dispatcher   *transfer.Dispatcher
	Scheduler    *scheduler.Scheduler
	Logger       *slog.Logger
}

// CapabilitiesResponse is the output of list_capabilities.
type CapabilitiesResponse struct {
	Capabilities []capability.Row `json:"capabilities" jsonschema_description:"Every feature with its route and accepted output types"`
}

// OutputsResponse is the output of list_outputs.
type OutputsResponse struct {
	Outputs []domain.OutputArtifact `json:"outputs" jsonschema_description:"Recent outputs of the feature, newest first"`
}

// TargetsResponse is the output of eligible_targets.
type TargetsResponse struct {
	Targets []domain.TransferTarget `json:"targets" jsonschema_description:"Features that accept the artifact, in capability map order"`
}

// DeliveryResponse is the output of deliver_artifact.
type DeliveryResponse struct {
	Delivered bool   `json:"delivered"`
	Target    string `json:"target_feature"`
	Route     string `json:"route,omitempty" jsonschema_description:"Route of the target feature"`
}

// CommitsResponse is the output of pending_commits and cancel_commit.
type CommitsResponse struct {
	Pending   []string `json:"pending" jsonschema_description:"Entity keys with a deferred commit still waiting"`
	Cancelled bool     `json:"cancelled,omitempty"`
}

// Server exposes the core as an MCP server.
type Server struct {
	deps      Deps
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		logger:    deps.Logger,
		mcpServer: server.NewMCPServer("tendril-mcp", deps.Version),
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Baggage, Sentry-Trace")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_capabilities",
		mcp.WithDescription("List every feature, its route and the output types it accepts."),
		mcp.WithOutputSchema[CapabilitiesResponse](),
	), mcp.NewStructuredToolHandler(s.handleListCapabilities))

	s.mcpServer.AddTool(mcp.NewTool("list_outputs",
		mcp.WithDescription("List the recent outputs a feature produced, newest first."),
		mcp.WithString("feature", mcp.Required(), mcp.Description("Producing feature, e.g. enrichment")),
		mcp.WithOutputSchema[OutputsResponse](),
	), mcp.NewStructuredToolHandler(s.handleListOutputs))

	s.mcpServer.AddTool(mcp.NewTool("register_output",
		mcp.WithDescription("Register an output artifact on behalf of a feature."),
		mcp.WithString("feature", mcp.Required(), mcp.Description("Producing feature")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Output type: TABLE, DATASET, TEXT, CHART or REPORT")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Human readable title")),
		mcp.WithString("summary", mcp.Description("Short description (optional)")),
		mcp.WithString("format", mcp.Description("Payload format hint (optional)")),
		mcp.WithString("payload", mcp.Description("JSON payload (optional)")),
		mcp.WithOutputSchema[domain.OutputArtifact](),
	), mcp.NewStructuredToolHandler(s.handleRegisterOutput))

	s.mcpServer.AddTool(mcp.NewTool("eligible_targets",
		mcp.WithDescription("List the features an artifact can be sent to."),
		mcp.WithString("artifact_id", mcp.Required(), mcp.Description("Artifact ID")),
		mcp.WithOutputSchema[TargetsResponse](),
	), mcp.NewStructuredToolHandler(s.handleEligibleTargets))

	s.mcpServer.AddTool(mcp.NewTool("deliver_artifact",
		mcp.WithDescription("Send an artifact to a feature. Navigates to the feature and waits for it to mount if needed."),
		mcp.WithString("artifact_id", mcp.Required(), mcp.Description("Artifact ID")),
		mcp.WithString("target_feature", mcp.Required(), mcp.Description("Receiving feature")),
		mcp.WithString("action", mcp.Description("Transfer action (optional, defaults to the target's default action)")),
		mcp.WithString("source_feature", mcp.Description("Producing feature (optional)")),
		mcp.WithOutputSchema[DeliveryResponse](),
	), mcp.NewStructuredToolHandler(s.handleDeliver))

	s.mcpServer.AddTool(mcp.NewTool("pending_commits",
		mcp.WithDescription("List entity keys whose deferred commit can still be undone."),
		mcp.WithOutputSchema[CommitsResponse](),
	), mcp.NewStructuredToolHandler(s.handlePendingCommits))

	s.mcpServer.AddTool(mcp.NewTool("cancel_commit",
		mcp.WithDescription("Undo the pending deferred commit for an entity key."),
		mcp.WithString("entity_key", mcp.Required(), mcp.Description("Entity key of the pending commit")),
		mcp.WithOutputSchema[CommitsResponse](),
	), mcp.NewStructuredToolHandler(s.handleCancelCommit))
}

// Handler methods for structured tools

func (s *Server) handleListCapabilities(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CapabilitiesResponse, error) {
	return CapabilitiesResponse{Capabilities: capability.Rows(s.deps.Capabilities, s.deps.Routes)}, nil
}

func (s *Server) handleListOutputs(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (OutputsResponse, error) {
	name, _ := args["feature"].(string)
	feature, err := domain.ParseFeature(name)
	if err != nil {
		return OutputsResponse{}, err
	}
	list, err := s.deps.Outputs.List(ctx, feature)
	if err != nil {
		return OutputsResponse{}, fmt.Errorf("list outputs: %w", err)
	}
	if list == nil {
		list = []domain.OutputArtifact{}
	}
	return OutputsResponse{Outputs: list}, nil
}

func (s *Server) handleRegisterOutput(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.OutputArtifact, error) {
	name, _ := args["feature"].(string)
	feature, err := domain.ParseFeature(name)
	if err != nil {
		return domain.OutputArtifact{}, err
	}
	typeName, _ := args["type"].(string)
	outputType, err := domain.ParseOutputType(typeName)
	if err != nil {
		return domain.OutputArtifact{}, err
	}

	draft := domain.ArtifactDraft{Type: outputType}
	draft.Title, _ = args["title"].(string)
	draft.Summary, _ = args["summary"].(string)
	draft.Format, _ = args["format"].(string)
	if raw, ok := args["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &draft.Payload); err != nil {
			return domain.OutputArtifact{}, domain.Invalid("payload", err.Error())
		}
	}
	return s.deps.Outputs.Register(ctx, feature, draft)
}

func (s *Server) handleEligibleTargets(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TargetsResponse, error) {
	id, _ := args["artifact_id"].(string)
	targets, err := s.deps.Dispatcher.EligibleTargets(ctx, id)
	if err != nil {
		return TargetsResponse{}, err
	}
	if targets == nil {
		targets = []domain.TransferTarget{}
	}
	return TargetsResponse{Targets: targets}, nil
}

func (s *Server) handleDeliver(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (DeliveryResponse, error) {
	req := domain.TransferRequest{}
	req.ArtifactID, _ = args["artifact_id"].(string)

	var err error
	target, _ := args["target_feature"].(string)
	if req.Target, err = domain.ParseFeature(target); err != nil {
		return DeliveryResponse{}, err
	}
	if source, _ := args["source_feature"].(string); source != "" {
		if req.Source, err = domain.ParseFeature(source); err != nil {
			return DeliveryResponse{}, err
		}
	}
	action, _ := args["action"].(string)
	if req.Action, err = domain.ParseTransferAction(action); err != nil {
		return DeliveryResponse{}, err
	}

	if err := s.deps.Dispatcher.Deliver(ctx, req); err != nil {
		s.logger.Warn("MCP deliver_artifact failed", "target", req.Target, "artifact", req.ArtifactID, "err", err)
		return DeliveryResponse{}, fmt.Errorf("delivery failed: %w", err)
	}
	path, _ := s.deps.Routes.Route(req.Target)
	return DeliveryResponse{Delivered: true, Target: req.Target.String(), Route: path}, nil
}

func (s *Server) handlePendingCommits(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CommitsResponse, error) {
	return CommitsResponse{Pending: s.pending()}, nil
}

func (s *Server) handleCancelCommit(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (CommitsResponse, error) {
	key, _ := args["entity_key"].(string)
	if key == "" {
		return CommitsResponse{}, domain.Invalid("entity_key", "required")
	}
	if !s.deps.Scheduler.Cancel(key) {
		return CommitsResponse{}, fmt.Errorf("no pending commit for %q", key)
	}
	return CommitsResponse{Pending: s.pending(), Cancelled: true}, nil
}

func (s *Server) pending() []string {
	keys := s.deps.Scheduler.Pending()
	if keys == nil {
		keys = []string{}
	}
	return keys
}

func (s *Server) registerResources() {
	// EXPOSE: tendril://capabilities
	s.mcpServer.AddResource(mcp.NewResource("tendril://capabilities", "Capability Map",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(capability.Rows(s.deps.Capabilities, s.deps.Routes))
		if err != nil {
			return nil, fmt.Errorf("failed to encode capabilities: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "tendril://capabilities",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
