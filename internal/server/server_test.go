package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"sprintplanner/internal/aiclient"
	"sprintplanner/internal/app"
	"sprintplanner/internal/identity"
	"sprintplanner/internal/relay"
	"sprintplanner/pkg/domain"
	"sprintplanner/pkg/store"
)

type testEnv struct {
	ts    *httptest.Server
	token string
	app   *app.App
	store *store.MemoryStore
}

func newTestEnv(t *testing.T, upstreamURL string, chatLimit int) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jwk := map[string]string{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{jwk}})
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := identity.NewVerifier(identity.Config{
		JWKSURL:  jwksServer.URL,
		Issuer:   "issuer-test",
		Audience: "planner-test",
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	memStore := store.NewMemoryStore()
	appCore, err := app.New(app.Config{Store: memStore, RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	if upstreamURL == "" {
		upstreamURL = "http://127.0.0.1:1"
	}
	srv, err := New(Config{
		App:                    appCore,
		Verifier:               verifier,
		Relay:                  relay.New(upstreamURL, 5*time.Second),
		AI:                     aiclient.NewClient(upstreamURL),
		RedisAddr:              mr.Addr(),
		ChatRateLimitPerMinute: chatLimit,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	claims := jwt.MapClaims{
		"iss":   "issuer-test",
		"aud":   "planner-test",
		"sub":   "ext-user-1",
		"email": "lead@example.com",
		"name":  "Lead User",
		"exp":   time.Now().Add(time.Minute).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return &testEnv{ts: ts, token: signed, app: appCore, store: memStore}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newTestEnv(t, "", 0)
	resp, err := http.Get(env.ts.URL + "/api/projects")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, "", 0)

	resp, data := env.do(t, http.MethodPost, "/api/projects", `{"name":"Launch","key":"lch","description":"launch prep"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", resp.StatusCode, data)
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	if project.Key != "LCH" {
		t.Fatalf("project key = %q", project.Key)
	}

	resp, data = env.do(t, http.MethodPost, "/api/projects/"+project.ID+"/tasks",
		`{"title":"Draft press release","description":"first cut","priority":"high","dueDate":"2026-10-01T00:00:00Z"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", resp.StatusCode, data)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Key != "LCH-1" {
		t.Fatalf("task key = %q", task.Key)
	}
	if task.Priority != "High" {
		t.Fatalf("stored priority = %q", task.Priority)
	}

	// Partial update touches only the supplied field.
	resp, data = env.do(t, http.MethodPatch, "/api/tasks/"+task.ID, `{"status":"in_progress"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: %d %s", resp.StatusCode, data)
	}
	var updated domain.Task
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if updated.Status != domain.StatusInProgress {
		t.Fatalf("status = %q", updated.Status)
	}
	if updated.Title != task.Title || updated.Description != task.Description || updated.DueDate == nil {
		t.Fatalf("partial update touched other fields: %+v", updated)
	}

	// Explicit null clears the description; absence leaves it alone.
	resp, data = env.do(t, http.MethodPatch, "/api/tasks/"+task.ID, `{"description":null}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch null: %d %s", resp.StatusCode, data)
	}
	updated = domain.Task{}
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Description != "" {
		t.Fatalf("description not cleared: %q", updated.Description)
	}
	if updated.Status != domain.StatusInProgress {
		t.Fatalf("status regressed: %q", updated.Status)
	}

	resp, data = env.do(t, http.MethodDelete, "/api/tasks/"+task.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d %s", resp.StatusCode, data)
	}
	resp, _ = env.do(t, http.MethodDelete, "/api/tasks/"+task.ID, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing: %d", resp.StatusCode)
	}
}

func TestDeleteAIGeneratedTaskForbidden(t *testing.T) {
	env := newTestEnv(t, "", 0)

	resp, data := env.do(t, http.MethodPost, "/api/projects", `{"name":"Demo","key":"dm"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", resp.StatusCode, data)
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	aiTask := domain.Task{
		ID:          "11111111-1111-1111-1111-111111111111",
		ProjectID:   project.ID,
		Key:         "DM-99",
		Title:       "AI suggested follow-up",
		Status:      domain.StatusTodo,
		Priority:    "Medium",
		GeneratedBy: domain.GeneratedByAI,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := env.store.SaveTask(aiTask); err != nil {
		t.Fatalf("seed ai task: %v", err)
	}

	resp, data = env.do(t, http.MethodDelete, "/api/tasks/"+aiTask.ID, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("delete ai task: %d %s", resp.StatusCode, data)
	}
}

func TestInvalidProjectIDRejected(t *testing.T) {
	env := newTestEnv(t, "", 0)
	resp, data := env.do(t, http.MethodGet, "/api/projects/not-a-uuid/board", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d %s", resp.StatusCode, data)
	}
}

func TestBoardMockSeedAndFetch(t *testing.T) {
	env := newTestEnv(t, "", 0)

	resp, data := env.do(t, http.MethodPost, "/api/testdata/board", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed: %d %s", resp.StatusCode, data)
	}
	var board domain.Board
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if len(board.Entries) == 0 {
		t.Fatalf("board has no top-level tasks")
	}
	for _, entry := range board.Entries {
		if entry.Task.ParentTaskID != "" {
			t.Fatalf("subtask surfaced at top level: %+v", entry.Task)
		}
		if entry.Subtasks == nil {
			t.Fatalf("subtasks must be non-nil")
		}
	}
	if board.Dependencies == nil {
		t.Fatalf("dependencies must be non-nil")
	}

	resp, data = env.do(t, http.MethodGet, "/api/projects/"+board.ProjectID+"/board", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch board: %d %s", resp.StatusCode, data)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t, "", 0)

	resp, data := env.do(t, http.MethodPost, "/api/projects", `{"name":"Graph","key":"gr"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", resp.StatusCode, data)
	}
	var project domain.Project
	_ = json.Unmarshal(data, &project)

	mkTask := func(title string) domain.Task {
		resp, data := env.do(t, http.MethodPost, "/api/projects/"+project.ID+"/tasks", fmt.Sprintf(`{"title":%q}`, title))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create task: %d %s", resp.StatusCode, data)
		}
		var task domain.Task
		_ = json.Unmarshal(data, &task)
		return task
	}
	a := mkTask("a")
	b := mkTask("b")

	resp, data = env.do(t, http.MethodPost, "/api/tasks/"+a.ID+"/dependencies", fmt.Sprintf(`{"dependsOnId":%q}`, b.ID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add dependency: %d %s", resp.StatusCode, data)
	}
	resp, data = env.do(t, http.MethodPost, "/api/tasks/"+b.ID+"/dependencies", fmt.Sprintf(`{"dependsOnId":%q}`, a.ID))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("cycle must be rejected: %d %s", resp.StatusCode, data)
	}
}

func sessionClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func TestSessionClearReissuesID(t *testing.T) {
	env := newTestEnv(t, "", 0)
	client := sessionClient(t)

	clear := func() string {
		resp, err := client.Post(env.ts.URL+"/api/session/clear", "application/json", nil)
		if err != nil {
			t.Fatalf("clear: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("clear status = %d", resp.StatusCode)
		}
		var body struct {
			Success   bool   `json:"success"`
			SessionID string `json:"sessionId"`
			Message   string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode clear: %v", err)
		}
		if !body.Success || body.SessionID == "" {
			t.Fatalf("unexpected clear response: %+v", body)
		}
		return body.SessionID
	}

	first := clear()
	second := clear()
	if first == second {
		t.Fatalf("session id must change on clear")
	}
}

func TestSessionStateRoundTrip(t *testing.T) {
	env := newTestEnv(t, "", 0)
	client := sessionClient(t)

	req, _ := http.NewRequest(http.MethodPut, env.ts.URL+"/api/session/state", strings.NewReader(`{"idea":"meal kit for climbers","stage":2}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("put state: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	resp, err = client.Get(env.ts.URL + "/api/session/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		SessionID string          `json:"sessionId"`
		Stage     int             `json:"stage"`
		State     json.RawMessage `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if body.SessionID == "" || body.Stage != 1 {
		t.Fatalf("unexpected state envelope: %+v", body)
	}
	if !strings.Contains(string(body.State), "meal kit for climbers") {
		t.Fatalf("state payload lost: %s", body.State)
	}
}

func TestSessionMessagesAdvanceStage(t *testing.T) {
	env := newTestEnv(t, "", 0)
	client := sessionClient(t)

	resp, err := client.Post(env.ts.URL+"/api/session/messages", "application/json",
		strings.NewReader(`{"role":"user","content":"refine the idea","stage":3}`))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d", resp.StatusCode)
	}

	resp, err = client.Get(env.ts.URL + "/api/session/messages")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	var list struct {
		Items []domain.ChatMessage `json:"items"`
		Count int                  `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	resp.Body.Close()
	if list.Count != 1 || list.Items[0].Content != "refine the idea" || list.Items[0].Stage != 3 {
		t.Fatalf("unexpected messages: %+v", list)
	}

	resp, err = client.Get(env.ts.URL + "/api/session/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	var state struct {
		Stage int `json:"stage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if state.Stage != 3 {
		t.Fatalf("stage = %d", state.Stage)
	}

	resp, err = client.Post(env.ts.URL+"/api/session/messages", "application/json",
		strings.NewReader(`{"role":"user","content":"too far","stage":12}`))
	if err != nil {
		t.Fatalf("post out-of-range: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range stage: %d", resp.StatusCode)
	}
}

func TestChatRelayAndRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: streamed reply\n\n")
	}))
	defer upstream.Close()

	env := newTestEnv(t, upstream.URL, 1)
	client := sessionClient(t)

	resp, err := client.Post(env.ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"hello"}`))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d %s", resp.StatusCode, body)
	}
	if string(body) != "data: streamed reply\n\n" {
		t.Fatalf("chat body = %q", body)
	}

	resp, err = client.Post(env.ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"again"}`))
	if err != nil {
		t.Fatalf("chat 2: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.StatusCode)
	}
}

func TestAIMessageRoundTrip(t *testing.T) {
	var requestTypes []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ai/streaming" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		var req aiclient.StreamingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode upstream request: %v", err)
		}
		requestTypes = append(requestTypes, req.RequestType)
		if req.SessionID == "" || req.IdeaStateStage != 1 {
			t.Errorf("unexpected upstream request: %+v", req)
		}
		if n := len(req.Messages); n == 0 || req.Messages[n-1].Content != "what market first?" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(aiclient.StreamingResponse{
			ConnectionStatus: "ok",
			Response:         "Start with indie climbers.",
		})
	}))
	defer upstream.Close()

	env := newTestEnv(t, upstream.URL, 0)
	client := sessionClient(t)

	resp, err := client.Post(env.ts.URL+"/api/ai/message", "application/json",
		strings.NewReader(`{"message":"what market first?"}`))
	if err != nil {
		t.Fatalf("ai message: %v", err)
	}
	var body struct {
		SessionID string `json:"sessionId"`
		Response  string `json:"response"`
		Stage     int    `json:"stage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Response != "Start with indie climbers." || body.SessionID == "" {
		t.Fatalf("body = %+v", body)
	}

	// Both sides of the exchange land in the session log.
	resp, err = client.Get(env.ts.URL + "/api/session/messages")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	var list struct {
		Items []domain.ChatMessage `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	resp.Body.Close()
	if len(list.Items) != 2 || list.Items[0].Role != "user" || list.Items[1].Role != "assistant" {
		t.Fatalf("log = %+v", list.Items)
	}

	// First turn announces a new session, later turns continue it.
	resp, err = client.Post(env.ts.URL+"/api/ai/message", "application/json",
		strings.NewReader(`{"message":"what market first?"}`))
	if err != nil {
		t.Fatalf("second ai message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second status = %d", resp.StatusCode)
	}
	want := []string{aiclient.RequestTypeSessionStarted, aiclient.RequestTypeSessionOngoing}
	if len(requestTypes) != 2 || requestTypes[0] != want[0] || requestTypes[1] != want[1] {
		t.Fatalf("request types = %v, want %v", requestTypes, want)
	}
}

func TestAIMessageRejectsUnknownRequestType(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1", 0)
	client := sessionClient(t)

	resp, err := client.Post(env.ts.URL+"/api/ai/message", "application/json",
		strings.NewReader(`{"message":"hi","requestType":"chat"}`))
	if err != nil {
		t.Fatalf("ai message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestChatRelayBackendError(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1", 0)
	client := sessionClient(t)

	resp, err := client.Post(env.ts.URL+"/api/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(body) != "Backend error" {
		t.Fatalf("body = %q", body)
	}
}
