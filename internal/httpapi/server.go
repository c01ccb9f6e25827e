// Package httpapi exposes the engine over HTTP: task lifecycle endpoints
// plus a WebSocket event stream. Tenant identity arrives in headers; all
// enforcement happens in the layers below.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gianmatteo-arcana/engine-lever/internal/engine"
	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

// Server serves the task API.
type Server struct {
	engine *engine.Engine
	mux    *http.ServeMux
	http   *http.Server
}

// NewServer creates a Server bound to addr.
func NewServer(addr string, eng *engine.Engine) *Server {
	s := &Server{
		engine: eng,
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams stay open
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/events", s.handleGetEvents)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/requests", s.handleGetRequests)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.handleCancelTask)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/annotations", s.handleAnnotate)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/stream", s.handleStream)

	s.mux.HandleFunc("POST /api/v1/responses", s.handleSubmitResponse)
	s.mux.HandleFunc("POST /api/v1/resume", s.handleResume)
}

// Handler returns the route handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("[httpapi] listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createTaskRequest is the task creation body.
type createTaskRequest struct {
	TaskType    string         `json:"task_type"`
	InitialData map[string]any `json:"initial_data,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var body createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err))
		return
	}
	if body.TaskType == "" {
		writeError(w, fmt.Errorf("%w: task_type is required", models.ErrValidation))
		return
	}

	proj, err := s.engine.CreateTask(r.Context(), tc, body.TaskType, body.InitialData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	proj, err := s.engine.GetState(r.Context(), tc, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, fmt.Errorf("%w: since must be a non-negative integer", models.ErrValidation))
			return
		}
		since = parsed
	}

	events, err := s.engine.Events(r.Context(), tc, r.PathValue("id"), since)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*models.ContextEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	pending, err := s.engine.PendingRequests(r.Context(), tc, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []*models.UIAugmentationRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": pending})
}

// cancelRequest is the cancellation body.
type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var body cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err))
			return
		}
	}

	proj, err := s.engine.Cancel(r.Context(), tc, r.PathValue("id"), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// annotateRequest is the audit annotation body.
type annotateRequest struct {
	Note string         `json:"note"`
	Data map[string]any `json:"data,omitempty"`
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var body annotateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err))
		return
	}

	seq, err := s.engine.Annotate(r.Context(), tc, r.PathValue("id"), body.Note, body.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sequence_number": seq})
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var body models.UIAugmentationResponse
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err))
		return
	}
	if body.RespondedBy == "" {
		body.RespondedBy = tc.SessionUserID
	}

	req, err := s.engine.SubmitUIResponse(r.Context(), tc, &body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// resumeRequest is the resume redemption body.
type resumeRequest struct {
	Token      string         `json:"token"`
	ResumeData map[string]any `json:"resume_data,omitempty"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var body resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err))
		return
	}
	if body.Token == "" {
		writeError(w, fmt.Errorf("%w: token is required", models.ErrValidation))
		return
	}

	token, err := s.engine.Resume(r.Context(), tc, body.Token, body.ResumeData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":      token.TaskID,
		"execution_id": token.ExecutionID,
		"phase":        token.Phase,
	})
}

// tenantFromRequest builds the tenant context from request headers. A
// missing business ID fails the request immediately.
func tenantFromRequest(w http.ResponseWriter, r *http.Request) (*models.TenantContext, bool) {
	businessID := r.Header.Get("X-Business-ID")
	userID := r.Header.Get("X-User-ID")
	if businessID == "" || userID == "" {
		writeError(w, fmt.Errorf("%w: X-Business-ID and X-User-ID headers are required", models.ErrForbidden))
		return nil, false
	}

	tc := &models.TenantContext{
		BusinessID:    businessID,
		SessionUserID: userID,
		DataScope:     models.ScopeBusiness,
	}

	if scope := r.Header.Get("X-Data-Scope"); scope != "" {
		tc.DataScope = models.DataScope(scope)
	}
	if level := r.Header.Get("X-Isolation-Level"); level != "" {
		tc.IsolationLevel = models.IsolationLevel(level)
	}
	if allowed := r.Header.Get("X-Allowed-Agents"); allowed != "" {
		for _, role := range strings.Split(allowed, ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				tc.AllowedAgents = append(tc.AllowedAgents, models.AgentRole(role))
			}
		}
	}

	return tc, true
}

// writeJSON encodes a response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[httpapi] encoding response: %v", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrExpired):
		status = http.StatusGone
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
