// Package aiclient calls the AI planning backend over HTTP.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Client talks to the AI server's JSON endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an AI server error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an AI server client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Request types understood by the backend.
const (
	RequestTypeSessionStarted = "session_started"
	RequestTypeSessionOngoing = "session_ongoing"
)

// Message is one turn of the conversation sent to the backend.
type Message struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FrontendAction is a tool invocation the backend asks the frontend to run.
type FrontendAction struct {
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
}

// StreamingRequest is the payload for /api/ai/streaming.
type StreamingRequest struct {
	RequestType    string          `json:"request_type"`
	SessionID      string          `json:"session_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Messages       []Message       `json:"messages"`
	FrontendAction *FrontendAction `json:"frontend_action,omitempty"`
	IdeaStateStage int             `json:"idea_state_stage"`
}

// StreamingResponse is the backend's reply.
type StreamingResponse struct {
	ConnectionStatus string          `json:"connection_status"`
	Messages         []Message       `json:"messages"`
	Response         string          `json:"response"`
	FrontendAction   *FrontendAction `json:"frontend_action,omitempty"`
}

// Streaming posts a conversation turn and returns the backend's reply.
func (c *Client) Streaming(ctx context.Context, payload StreamingRequest) (StreamingResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return StreamingResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ai/streaming", bytes.NewReader(data))
	if err != nil {
		return StreamingResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out StreamingResponse
	if err := c.do(req, &out); err != nil {
		return StreamingResponse{}, err
	}
	return out, nil
}

// Healthy reports whether the backend answers its health probe.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
