package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStreamingRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ai/streaming" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			RequestType    string         `json:"request_type"`
			IdeaStateStage int            `json:"idea_state_stage"`
			Messages       []Message      `json:"messages"`
			FrontendAction map[string]any `json:"frontend_action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.RequestType != RequestTypeSessionOngoing || req.IdeaStateStage != 2 {
			t.Errorf("request = %+v", req)
		}
		if req.FrontendAction["tool_name"] != "open_board" {
			t.Errorf("frontend_action = %v", req.FrontendAction)
		}
		if len(req.Messages) != 1 || req.Messages[0].Metadata["source"] != "board" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(StreamingResponse{
			ConnectionStatus: "active",
			Response:         "noted",
			FrontendAction:   &FrontendAction{ToolName: "show_tasks"},
		})
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL)
	resp, err := c.Streaming(context.Background(), StreamingRequest{
		RequestType:    RequestTypeSessionOngoing,
		SessionID:      "s1",
		Messages:       []Message{{Role: "user", Content: "hello", Metadata: map[string]string{"source": "board"}}},
		FrontendAction: &FrontendAction{ToolName: "open_board", Args: map[string]any{"project": "p1"}},
		IdeaStateStage: 2,
	})
	if err != nil {
		t.Fatalf("streaming: %v", err)
	}
	if resp.ConnectionStatus != "active" || resp.Response != "noted" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.FrontendAction == nil || resp.FrontendAction.ToolName != "show_tasks" {
		t.Fatalf("frontend action = %+v", resp.FrontendAction)
	}
}

func TestStreamingErrorMapping(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model warming up"})
	}))
	defer upstream.Close()

	c := NewClient(upstream.URL)
	_, err := c.Streaming(context.Background(), StreamingRequest{RequestType: RequestTypeSessionStarted})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "model warming up" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}
