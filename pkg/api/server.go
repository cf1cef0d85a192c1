package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/yashab-cyber/lewis-core/pkg/audit"
	"github.com/yashab-cyber/lewis-core/pkg/contracts"
	"github.com/yashab-cyber/lewis-core/pkg/extension"
	"github.com/yashab-cyber/lewis-core/pkg/orchestrator"
	"github.com/yashab-cyber/lewis-core/pkg/tools"
)

// Server mounts the core's HTTP surface.
type Server struct {
	orch     *orchestrator.Orchestrator
	recorder *audit.Recorder
	registry *extension.Registry
	logger   *slog.Logger
}

// NewServer builds the handler set.
func NewServer(orch *orchestrator.Orchestrator, recorder *audit.Recorder, registry *extension.Registry) *Server {
	return &Server{
		orch:     orch,
		recorder: recorder,
		registry: registry,
		logger:   slog.Default().With("component", "api"),
	}
}

// Handler assembles the route table with auth and rate limiting applied.
func (s *Server) Handler(validator *JWTValidator, limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.HandleFunc("POST /v1/invocations", s.handleSubmit)
	mux.HandleFunc("GET /v1/invocations/{id}", s.handlePoll)
	mux.HandleFunc("DELETE /v1/invocations/{id}", s.handleCancel)
	mux.HandleFunc("GET /v1/audit", s.handleAuditQuery)
	mux.HandleFunc("GET /v1/extensions", s.handleExtensions)
	mux.HandleFunc("POST /v1/extensions/{name}/reload", s.handleExtensionReload)
	mux.HandleFunc("GET /v1/tools", s.handleTools)

	var h http.Handler = mux
	h = AuthMiddleware(validator)(h)
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	h = LoggingMiddleware(s.logger)(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness verifies the audit chain head is reachable; a core
// that cannot audit must not receive traffic.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if _, err := s.recorder.Query(r.Context(), audit.Filter{Limit: 1}); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "Not Ready", "audit store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	Command       string            `json:"command"`
	Arguments     map[string]string `json:"arguments,omitempty"`
	ArgumentOrder []string          `json:"argument_order,omitempty"`
	Targets       []string          `json:"targets,omitempty"`
	Async         bool              `json:"async,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	req := &contracts.InvocationRequest{
		Requester:     requester,
		CommandName:   body.Command,
		Arguments:     body.Arguments,
		ArgumentOrder: body.ArgumentOrder,
		Targets:       body.Targets,
		RequestedAt:   time.Now().UTC(),
	}

	if body.Async {
		id, err := s.orch.SubmitAsync(r.Context(), req)
		if err != nil {
			s.writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"invocation_id": id,
			"status_url":    "/v1/invocations/" + id,
		})
		return
	}

	outcome, err := s.orch.Submit(r.Context(), req)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, statusForOutcome(outcome), outcome)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrShutdown):
		WriteError(w, http.StatusServiceUnavailable, "Shutting Down", err.Error())
	default:
		WriteBadRequest(w, err.Error())
	}
}

// statusForOutcome maps pipeline outcomes onto HTTP codes: rate-limit
// denials are 429, other denials 403, audit failures 500, everything
// else 200 with the status in the body.
func statusForOutcome(out *orchestrator.Outcome) int {
	if !out.Decision.Allowed {
		if out.Decision.Reason == contracts.ReasonRateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusForbidden
	}
	if out.Result != nil && out.Result.Status == contracts.StatusAuditFailure {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Poll(r.PathValue("id"))
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Cancel(id); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownInvocation) {
			WriteNotFound(w, err.Error())
			return
		}
		WriteError(w, http.StatusConflict, "Not Cancellable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"invocation_id": id, "status": "cancelling"})
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		RequesterID:  q.Get("requester"),
		CommandName:  q.Get("command"),
		InvocationID: q.Get("invocation_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "from: expected RFC3339 timestamp")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "to: expected RFC3339 timestamp")
			return
		}
		f.To = t
	}
	f.Limit = 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			WriteBadRequest(w, "limit: expected 1..1000")
			return
		}
		f.Limit = n
	}

	recs, err := s.recorder.Query(r.Context(), f)
	if err != nil {
		WriteInternalError(w, err.Error())
		return
	}
	if recs == nil {
		recs = []*contracts.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Server) handleExtensions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"extensions": s.registry.Status()})
}

func (s *Server) handleExtensionReload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.registry.Reload(r.Context(), name); err != nil {
		if errors.Is(err, extension.ErrUnknownExtension) {
			WriteNotFound(w, err.Error())
			return
		}
		WriteError(w, http.StatusConflict, "Reload Failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"extension": name, "status": "reloaded"})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools.ProbeAll(r.Context())})
}
