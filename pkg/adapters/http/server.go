package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/capability"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/outputs"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/aretw0/tendril/pkg/transfer"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the core components the bridge exposes.
type Deps struct {
	Version      string
	Capabilities *capability.Map
	Routes       capability.RouteTable
	Outputs      *outputs.Registry
	Dispatcher   *transfer.Dispatcher
	Scheduler    *scheduler.Scheduler
	Router       ports.Router
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the HTTP bridge. Remote feature views mount themselves by
// holding an inbox stream open.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates the HTTP handler for the core.
func NewHandler(deps Deps) http.Handler {
	s := &Server{deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/capabilities", s.ListCapabilities)
	r.Get("/outputs/{feature}", s.ListOutputs)
	r.Post("/outputs/{feature}", s.RegisterOutput)
	r.Get("/artifacts/{id}", s.GetArtifact)
	r.Get("/artifacts/{id}/targets", s.EligibleTargets)
	r.Get("/artifacts/{id}/graph", s.ArtifactGraph)
	r.Post("/transfers", s.Deliver)
	r.Get("/features/{feature}/inbox", s.SubscribeInbox)
	r.Get("/commits", s.ListCommits)
	r.Delete("/commits/{key}", s.CancelCommit)
	r.Get("/route", s.GetRoute)
	r.Post("/route", s.Navigate)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "tendril-http",
		"version": s.deps.Version,
	})
}

// ListCapabilities handles GET /capabilities.
func (s *Server) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, capability.Rows(s.deps.Capabilities, s.deps.Routes))
}

// ListOutputs handles GET /outputs/{feature}.
func (s *Server) ListOutputs(w http.ResponseWriter, r *http.Request) {
	feature, err := domain.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	list, err := s.deps.Outputs.List(r.Context(), feature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// RegisterOutput handles POST /outputs/{feature}.
func (s *Server) RegisterOutput(w http.ResponseWriter, r *http.Request) {
	feature, err := domain.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var draft domain.ArtifactDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		s.writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	artifact, err := s.deps.Outputs.Register(r.Context(), feature, draft)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, artifact)
}

// GetArtifact handles GET /artifacts/{id}.
func (s *Server) GetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.deps.Outputs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, artifact)
}

// EligibleTargets handles GET /artifacts/{id}/targets.
func (s *Server) EligibleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.deps.Dispatcher.EligibleTargets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if targets == nil {
		targets = []domain.TransferTarget{}
	}
	s.writeJSON(w, http.StatusOK, targets)
}

// ArtifactGraph handles GET /artifacts/{id}/graph: the capability map as a
// Mermaid flowchart with the artifact's eligible targets highlighted.
func (s *Server) ArtifactGraph(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.deps.Outputs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(s.deps.Capabilities, s.deps.Routes, &graph.GraphOverlay{Artifact: artifact}))
}

// TransferBody is the POST /transfers payload. Source and action are optional.
type TransferBody struct {
	Source     string `json:"source_feature,omitempty"`
	Target     string `json:"target_feature"`
	Action     string `json:"action,omitempty"`
	ArtifactID string `json:"artifact_id"`
}

// Request parses the body into a transfer request.
func (b TransferBody) Request() (domain.TransferRequest, error) {
	req := domain.TransferRequest{ArtifactID: b.ArtifactID}
	var err error
	if req.Target, err = domain.ParseFeature(b.Target); err != nil {
		return req, err
	}
	if b.Source != "" {
		if req.Source, err = domain.ParseFeature(b.Source); err != nil {
			return req, err
		}
	}
	if req.Action, err = domain.ParseTransferAction(b.Action); err != nil {
		return req, err
	}
	return req, nil
}

// Deliver handles POST /transfers. It blocks until the target received the
// artifact or the ready timeout expired.
func (s *Server) Deliver(w http.ResponseWriter, r *http.Request) {
	var body TransferBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	req, err := body.Request()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Dispatcher.Deliver(r.Context(), req); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeInbox handles GET /features/{feature}/inbox (SSE). While the
// stream is open the caller is the feature's mounted listener; deliveries
// arrive as "delivery" events.
func (s *Server) SubscribeInbox(w http.ResponseWriter, r *http.Request) {
	feature, err := domain.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeInbox: Streaming not supported")
		return
	}

	inbox := transfer.NewInbox(feature, domain.TransferActions()...)
	if err := inbox.Mount(s.deps.Dispatcher); err != nil {
		s.writeError(w, err)
		return
	}
	defer inbox.Unmount()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logger.Info("SSE: inbox mounted", "feature", feature)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		d, err := inbox.Next(r.Context())
		if err != nil {
			s.logger.Info("SSE: inbox unmounted", "feature", feature)
			return
		}
		data, err := json.Marshal(d)
		if err != nil {
			s.logger.Error("SSE: delivery encode failed", "feature", feature, "err", err)
			continue
		}
		fmt.Fprintf(w, "event: delivery\ndata: %s\n\n", data)
		flusher.Flush()
	}
}

// ListCommits handles GET /commits.
func (s *Server) ListCommits(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"pending": s.deps.Scheduler.Pending()})
}

// CancelCommit handles DELETE /commits/{key}: the undo button of remote views.
func (s *Server) CancelCommit(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Scheduler.Cancel(chi.URLParam(r, "key")) {
		http.Error(w, "no pending commit", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRoute handles GET /route.
func (s *Server) GetRoute(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"route": s.deps.Router.CurrentRoute()})
}

// Navigate handles POST /route.
func (s *Server) Navigate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		s.writeError(w, domain.Invalid("path", "required"))
		return
	}
	if err := s.deps.Router.Navigate(r.Context(), body.Path); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"route": s.deps.Router.CurrentRoute()})
}

// -- Helpers --

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNavigationBlocked), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDeliveryTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	} else {
		s.logger.Warn("request rejected", "err", err, "status", status)
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"class": string(domain.ClassifyError(err)),
	})
}

// ListenAndServe serves handler on addr until ctx ends, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Open inbox streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
