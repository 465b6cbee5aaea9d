// Package server exposes the HTTP surface: planning board CRUD, the
// chat relay, and the idea session endpoints.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sprintplanner/internal/aiclient"
	"sprintplanner/internal/app"
	"sprintplanner/internal/identity"
	"sprintplanner/internal/ratelimit"
	"sprintplanner/internal/relay"
	"sprintplanner/internal/util"
	"sprintplanner/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                    *app.App
	Verifier               *identity.Verifier
	Relay                  *relay.Relay
	AI                     *aiclient.Client
	RedisAddr              string
	RedisPassword          string
	CookieSecure           bool
	ChatRateLimitPerMinute int
}

// Server exposes HTTP endpoints for the planner backend.
type Server struct {
	app          *app.App
	verifier     *identity.Verifier
	relay        *relay.Relay
	ai           *aiclient.Client
	mux          *http.ServeMux
	cookieSecure bool
	chatLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	chatLimit := cfg.ChatRateLimitPerMinute
	if chatLimit <= 0 {
		chatLimit = 30
	}
	chatLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "sprintplanner:ratelimit:chat", chatLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init chat limiter: %w", err)
	}
	s := &Server{
		app:          cfg.App,
		verifier:     cfg.Verifier,
		relay:        cfg.Relay,
		ai:           cfg.AI,
		mux:          http.NewServeMux(),
		cookieSecure: cfg.CookieSecure,
		chatLimiter:  chatLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// board & tasks (auth required)
	s.mux.Handle("/api/projects", s.authenticated(s.handleProjects))
	s.mux.Handle("/api/projects/", s.authenticated(s.handleProjectSub))
	s.mux.Handle("/api/tasks/", s.authenticated(s.handleTaskSub))
	s.mux.Handle("/api/testdata/board", s.authenticated(s.handleBoardMock))

	// chat & idea session (session cookie, no login required)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/ai/message", s.handleAIMessage)
	s.mux.HandleFunc("/api/session/clear", s.handleSessionClear)
	s.mux.HandleFunc("/api/session/state", s.handleSessionState)
	s.mux.HandleFunc("/api/session/messages", s.handleSessionMessages)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "planner.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.audit(r, "planner.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "planner.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.audit(r, "planner.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	user, err := s.app.EnsureUser(claims.Subject, claims.Email, claims.Name)
	if err != nil {
		s.audit(r, "planner.token.verify", "fail", "reason", "provision_failed")
		return domain.User{}, false
	}
	return user, true
}

// /api/projects
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.app.ListProjects(user)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": projects,
			"count": len(projects),
		})
	case http.MethodPost:
		var req app.CreateProjectParams
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		project, err := s.app.CreateProject(user, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)
	default:
		methodNotAllowed(w)
	}
}

// /api/projects/{id}/board and /api/projects/{id}/tasks
func (s *Server) handleProjectSub(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if !util.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteProject(user, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	switch parts[1] {
	case "board":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		board, err := s.app.Board(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
	case "tasks":
		s.handleProjectTasks(w, r, user, id)
	case "documents":
		s.handleProjectDocuments(w, r, user, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleProjectDocuments(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments(user, projectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	case http.MethodPost:
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		doc, err := s.app.AddDocument(user, projectID, req.Title, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectTasks(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		tasks, deps, err := s.app.TasksByProject(user, projectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":        tasks,
			"count":        len(tasks),
			"dependencies": deps,
		})
	case http.MethodPost:
		var req app.CreateTaskParams
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		task, err := s.app.CreateTask(user, projectID, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	default:
		methodNotAllowed(w)
	}
}

// /api/tasks/{id}, /api/tasks/{id}/status, /api/tasks/{id}/dependencies,
// /api/tasks/{id}/comments
func (s *Server) handleTaskSub(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if !util.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if len(parts) == 1 {
		s.handleTaskByID(w, r, id)
		return
	}
	switch parts[1] {
	case "status":
		s.handleTaskStatus(w, r, id)
	case "dependencies":
		s.handleTaskDependencies(w, r, id)
	case "comments":
		s.handleTaskComments(w, r, user, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPatch:
		var req app.UpdateTaskParams
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		task, err := s.app.UpdateTask(id, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := s.app.DeleteTask(id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := s.app.UpdateSubtaskStatus(id, domain.TaskStatus(req.Status))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskDependencies(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		DependsOnID string `json:"dependsOnId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dep, err := s.app.AddDependency(id, req.DependsOnID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleTaskComments(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		comments, err := s.app.ListComments(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": comments,
			"count": len(comments),
		})
	case http.MethodPost:
		var req struct {
			Role string `json:"role"`
			Body string `json:"body"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		comment, err := s.app.AddComment(user, id, req.Role, req.Body)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		methodNotAllowed(w)
	}
}

// /api/testdata/board
func (s *Server) handleBoardMock(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	board, err := s.app.SeedBoardMock(user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrTaskProtected):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrProjectNotFound), errors.Is(err, app.ErrTaskNotFound), errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrDependencyCycle):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	log := util.LoggerFromContext(r.Context())
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		log.Info("security_event", logAttrs...)
		return
	}
	log.Warn("security_event", logAttrs...)
}
