package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/events"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/metrics"
	"github.com/dockhand/dockhand/pkg/orchestrator"
	"github.com/dockhand/dockhand/pkg/registry"
	"github.com/dockhand/dockhand/pkg/types"
)

// CloudFactory builds a provider bundle scoped to one request's cloud
// context.
type CloudFactory func(ctx context.Context, cc types.CloudContext) (cloud.Provider, error)

// Registry is the store surface the API needs: the orchestrator's write
// side plus listing for the console.
type Registry interface {
	orchestrator.Registry
	List() ([]*registry.Record, error)
}

// Config wires the API server.
type Config struct {
	Factory  CloudFactory
	Registry Registry

	// Orchestration is the template orchestrator configuration; its
	// cloud handles are filled in per request.
	Orchestration orchestrator.Config

	Version string
}

// Server is the deployment console HTTP surface: the synchronous deploy
// endpoint, the SSE progress stream, instance listing/termination,
// metadata, and health/metrics.
type Server struct {
	cfg  Config
	mux  *http.ServeMux
	http *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /api/deploy", s.instrument("/api/deploy", s.deployHandler))
	s.mux.HandleFunc("GET /api/deploy/stream", s.streamHandler)
	s.mux.HandleFunc("GET /api/instances", s.instrument("/api/instances", s.instancesHandler))
	s.mux.HandleFunc("POST /api/instances/{id}/terminate", s.instrument("/api/instances/terminate", s.terminateHandler))
	s.mux.HandleFunc("GET /api/metadata", s.instrument("/api/metadata", s.metadataHandler))
	s.mux.HandleFunc("GET /api/history", s.instrument("/api/history", s.historyHandler))
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 10 * time.Second,
		// No write timeout: SSE connections stay open for the whole
		// multi-minute deployment.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("API server listening")
	return s.http.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// orchestratorFor builds a per-request orchestrator over the provider.
func (s *Server) orchestratorFor(provider cloud.Provider) *orchestrator.Orchestrator {
	cfg := s.cfg.Orchestration
	cfg.Compute = provider
	cfg.Commands = provider
	cfg.RegistryAuth = provider
	cfg.Registry = s.cfg.Registry
	return orchestrator.New(cfg)
}

// cloudContextFrom assembles the per-request credential bundle. The
// identity collaborator supplies credentials as opaque headers; region and
// account come from the deployment request itself.
func cloudContextFrom(r *http.Request, region, accountID string) types.CloudContext {
	return types.CloudContext{
		Region:          region,
		AccountID:       accountID,
		AccessKeyID:     r.Header.Get("X-Access-Key-Id"),
		SecretAccessKey: r.Header.Get("X-Secret-Access-Key"),
		SessionToken:    r.Header.Get("X-Session-Token"),
	}
}

// deployHandler is the non-streaming variant: it runs the orchestration to
// its terminal outcome and returns only that.
func (s *Server) deployHandler(w http.ResponseWriter, r *http.Request) {
	var req types.DeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	provider, err := s.cfg.Factory(r.Context(), cloudContextFrom(r, req.Region, req.AccountID))
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("cloud provider unavailable: %v", err))
		return
	}

	// The orchestration runs on a background context: a client that gives
	// up does not cancel the deployment it started.
	stream := events.NewStream(256)
	go drainDiscard(stream)
	session := s.orchestratorFor(provider).Run(context.Background(), &req, stream)

	if session.Phase == types.PhaseSucceeded {
		writeJSON(w, http.StatusOK, session)
		return
	}
	writeJSON(w, http.StatusInternalServerError, session)
}

// streamHandler runs a deployment and forwards its event stream as SSE.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by transport")
		return
	}

	req, err := requestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	provider, err := s.cfg.Factory(r.Context(), cloudContextFrom(r, req.Region, req.AccountID))
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("cloud provider unavailable: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.WithComponent("api")
	sse := NewSSEWriter(w, flusher, logger)
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	stream := events.NewStream(256)
	go func() {
		// Background context: the client connection does not own the
		// orchestration's lifetime.
		s.orchestratorFor(provider).Run(context.Background(), req, stream)
	}()

	// Forward in emission order. A failed delivery is logged and counted
	// but never aborts the run; the stream is drained to its terminal
	// event regardless so the session completes.
	clientGone := false
	for ev := range stream.Events() {
		if clientGone {
			continue
		}
		if err := forwardEvent(sse, ev); err != nil {
			metrics.StreamDeliveryFailures.Inc()
			logger.Warn().Err(err).Msg("Client gone, continuing deployment without stream")
			clientGone = true
		}
	}
	sse.Close()
}

// forwardEvent maps one orchestrator event onto the wire vocabulary.
func forwardEvent(sse *SSEWriter, ev *events.Event) error {
	switch ev.Kind {
	case events.KindLog:
		return sse.Send("log", ev.Message)
	case events.KindProgress:
		return sse.Send("progress", ev.Percent)
	case events.KindComplete:
		return sse.Send("complete", ev.Instance)
	case events.KindError:
		return sse.Send("error", ev.Error)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func (s *Server) instancesHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Registry == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"instances": []interface{}{}})
		return
	}
	records, err := s.cfg.Registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"instances": records})
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	store, ok := s.cfg.Registry.(interface {
		ListHistory() ([]*types.Session, error)
	})
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": []interface{}{}})
		return
	}
	sessions, err := store.ListHistory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) terminateHandler(w http.ResponseWriter, r *http.Request) {
	instanceID := r.PathValue("id")
	region := r.URL.Query().Get("region")
	if region == "" {
		writeError(w, http.StatusUnprocessableEntity, "region query parameter is required")
		return
	}

	provider, err := s.cfg.Factory(r.Context(), cloudContextFrom(r, region, r.URL.Query().Get("accountId")))
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("cloud provider unavailable: %v", err))
		return
	}

	if err := provider.TerminateInstance(r.Context(), instanceID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminating", "instanceId": instanceID})
}

func (s *Server) metadataHandler(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		writeError(w, http.StatusUnprocessableEntity, "region query parameter is required")
		return
	}

	provider, err := s.cfg.Factory(r.Context(), cloudContextFrom(r, region, r.URL.Query().Get("accountId")))
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("cloud provider unavailable: %v", err))
		return
	}

	repos, err := provider.ListRepositories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := map[string]interface{}{"repositories": repos}
	if name := s.cfg.Orchestration.PolicyName; name != "" {
		if policy, err := provider.FindSecurityPolicy(r.Context(), name); err == nil && policy != nil {
			payload["securityPolicy"] = policy
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// requestFromQuery builds a DeploymentRequest from stream query params.
func requestFromQuery(r *http.Request) (*types.DeploymentRequest, error) {
	q := r.URL.Query()

	sizeGiB := 0
	if raw := q.Get("storageSizeGiB"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid storageSizeGiB: %v", err)
		}
		sizeGiB = parsed
	}

	req := &types.DeploymentRequest{
		Region:               q.Get("region"),
		AccountID:            q.Get("accountId"),
		Repository:           q.Get("repository"),
		ImageTag:             q.Get("imageTag"),
		InstanceClass:        q.Get("instanceClass"),
		Storage:              types.StorageSpec{SizeGiB: sizeGiB, Class: q.Get("storageClass")},
		MachineImageOverride: q.Get("machineImageOverride"),
	}
	if req.ImageTag == "" {
		req.ImageTag = "latest"
	}
	if zone, subnet := q.Get("zone"), q.Get("subnetId"); zone != "" || subnet != "" {
		req.Placement = &types.Placement{Zone: zone, SubnetID: subnet}
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// drainDiscard consumes a stream nobody is watching.
func drainDiscard(s *events.Stream) {
	for range s.Events() {
	}
}

// instrument wraps a handler with request counting by path and status.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
