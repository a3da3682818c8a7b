// Package httpapi exposes the chat application over plain HTTP with JSON
// bodies. Turn submission responds with an NDJSON event stream; everything
// else is request/response.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/agentrt"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/auditlog"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/chat"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/monitor"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
)

const (
	maxJSONBodyBytes = 1 << 20
	// Turn submissions carry base64 attachments inline.
	maxTurnBodyBytes = 64 << 20
)

type Options struct {
	Logger  *slog.Logger
	Store   *store.Store
	Chat    *chat.Service
	Monitor *monitor.Service
	Audit   *auditlog.Store
	Version string
}

type Server struct {
	log     *slog.Logger
	store   *store.Store
	chat    *chat.Service
	monitor *monitor.Service
	audit   *auditlog.Store
	version string
}

func NewHandler(opts Options) (http.Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("missing store")
	}
	if opts.Chat == nil {
		return nil, errors.New("missing chat service")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		log:     logger,
		store:   opts.Store,
		chat:    opts.Chat,
		monitor: opts.Monitor,
		audit:   opts.Audit,
		version: opts.Version,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{id}", s.handleRenameSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSubmitTurn)

	mux.HandleFunc("GET /api/sessions/{id}/workspace", s.handleGetWorkspace)
	mux.HandleFunc("PUT /api/sessions/{id}/workspace", s.handleSetWorkspace)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/audit", s.handleListAudit)

	return requestLog(logger, mux), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring disabled")
		return
	}
	snap := s.monitor.Snapshot(r.Context(), r.URL.Query().Get("sortBy"))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	sess, err := s.chat.CreateSession(r.Context(), req.Title)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	id := r.PathValue("id")
	if err := s.store.RenameSession(r.Context(), id, req.Title); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil || sess == nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)
	var req chat.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.chat.SubmitTurn(r.Context(), r.PathValue("id"), req, w); err != nil {
		s.fail(w, r, err)
	}
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workspaceDir": sess.WorkspaceDir})
}

type setWorkspaceRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleSetWorkspace(w http.ResponseWriter, r *http.Request) {
	var req setWorkspaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.chat.SetWorkspace(r.Context(), r.PathValue("id"), req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.chat.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req chat.Settings
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.chat.UpdateSettings(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	settings, err := s.chat.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log disabled")
		return
	}
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.audit.List(limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// fail maps service errors to an HTTP status and logs server-side faults.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		writeError(w, http.StatusInternalServerError, "internal server error")
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chat.ErrInvalidSubmission):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrTurnActive):
		writeError(w, http.StatusConflict, "a turn is already running for this session")
	case errors.Is(err, agentrt.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
