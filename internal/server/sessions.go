package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"sprintplanner/internal/aiclient"
	"sprintplanner/internal/app"
	"sprintplanner/internal/util"
)

const sessionCookieName = "sprint-planner-session-id"

// How much of the session log rides along on a JSON chat turn.
const aiContextMessages = 20

// Five years, matching the long-lived idea session the frontend keeps.
const sessionCookieMaxAge = 5 * 365 * 24 * 60 * 60

// ensureSession returns the session id from the request cookie, minting
// and setting a fresh one when the cookie is absent or malformed. The
// cookie is readable by frontend scripts on purpose, so HttpOnly stays
// off.
func (s *Server) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && util.ValidID(c.Value) {
		return c.Value
	}
	id := app.NewSessionID()
	s.setSessionCookie(w, id)
	return id
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		HttpOnly: false,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// optionalUser attaches a user when a valid bearer token rides along;
// the idea session flow works without a login.
func (s *Server) optionalUser(r *http.Request) string {
	token, ok := bearerToken(r)
	if !ok {
		return ""
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return ""
	}
	user, err := s.app.EnsureUser(claims.Subject, claims.Email, claims.Name)
	if err != nil {
		return ""
	}
	return user.ID
}

// /api/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sessionID := s.ensureSession(w, r)
	if !s.chatLimiter.Allow(sessionID) {
		s.audit(r, "planner.chat", "rate_limited", "session_id", sessionID)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many chat requests")
		return
	}
	s.relay.Stream(w, r)
}

// /api/ai/message runs a single JSON round trip with the AI backend.
// The session chat log feeds the request and records both sides of the
// exchange; the streamed variant lives at /api/chat.
func (s *Server) handleAIMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sessionID := s.ensureSession(w, r)
	if !s.chatLimiter.Allow(sessionID) {
		s.audit(r, "planner.ai.message", "rate_limited", "session_id", sessionID)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many chat requests")
		return
	}
	var req struct {
		Message        string                   `json:"message"`
		RequestType    string                   `json:"requestType,omitempty"`
		FrontendAction *aiclient.FrontendAction `json:"frontendAction,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	stage, err := s.app.SessionStage(sessionID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	history, err := s.app.ChatHistory(sessionID, aiContextMessages)
	if err != nil {
		writeAppError(w, err)
		return
	}

	// The backend distinguishes a session's first turn from the rest.
	requestType := req.RequestType
	switch requestType {
	case "":
		if len(history) == 0 {
			requestType = aiclient.RequestTypeSessionStarted
		} else {
			requestType = aiclient.RequestTypeSessionOngoing
		}
	case aiclient.RequestTypeSessionStarted, aiclient.RequestTypeSessionOngoing:
	default:
		writeError(w, http.StatusBadRequest, "invalid requestType")
		return
	}

	messages := make([]aiclient.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, aiclient.Message{Role: m.Role, Content: m.Content, Metadata: m.Metadata})
	}
	messages = append(messages, aiclient.Message{Role: "user", Content: req.Message})

	userID := s.optionalUser(r)
	reply, err := s.ai.Streaming(r.Context(), aiclient.StreamingRequest{
		RequestType:    requestType,
		SessionID:      sessionID,
		UserID:         userID,
		Messages:       messages,
		FrontendAction: req.FrontendAction,
		IdeaStateStage: stage,
	})
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("ai message upstream", "error", err)
		writeError(w, http.StatusBadGateway, "ai backend unavailable")
		return
	}

	if _, err := s.app.AppendChatMessage(sessionID, userID, "user", req.Message, nil, stage); err != nil {
		writeAppError(w, err)
		return
	}
	if reply.Response != "" {
		if _, err := s.app.AppendChatMessage(sessionID, userID, "assistant", reply.Response, nil, stage); err != nil {
			writeAppError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":        sessionID,
		"connectionStatus": reply.ConnectionStatus,
		"response":         reply.Response,
		"frontendAction":   reply.FrontendAction,
		"stage":            stage,
	})
}

// /api/session/clear
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	oldID := ""
	if c, err := r.Cookie(sessionCookieName); err == nil && util.ValidID(c.Value) {
		oldID = c.Value
	}
	newID, err := s.app.ClearSession(oldID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.setSessionCookie(w, newID)
	s.audit(r, "planner.session.clear", "success", "session_id", newID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": newID,
		"message":   "session cleared",
	})
}

// /api/session/state
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := s.ensureSession(w, r)
	switch r.Method {
	case http.MethodGet:
		state, ok, err := s.app.IdeaState(sessionID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		stage, err := s.app.SessionStage(sessionID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		resp := map[string]any{
			"sessionId": sessionID,
			"stage":     stage,
			"state":     nil,
		}
		if ok {
			resp["state"] = json.RawMessage(state.Payload)
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPut:
		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		state, err := s.app.SaveIdeaState(sessionID, payload)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": sessionID,
			"state":     json.RawMessage(state.Payload),
		})
	default:
		methodNotAllowed(w)
	}
}

// /api/session/messages
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := s.ensureSession(w, r)
	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}
		messages, err := s.app.ChatHistory(sessionID, limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": messages,
			"count": len(messages),
		})
	case http.MethodPost:
		var req struct {
			Role     string            `json:"role"`
			Content  string            `json:"content"`
			Stage    int               `json:"stage"`
			Metadata map[string]string `json:"metadata,omitempty"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		userID := s.optionalUser(r)
		msg, err := s.app.AppendChatMessage(sessionID, userID, req.Role, req.Content, req.Metadata, req.Stage)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}
