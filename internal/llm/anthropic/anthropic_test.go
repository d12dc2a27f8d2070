package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ralph-dev/ralph/internal/llm"
)

func TestChatParsesTextAndToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "be helpful" {
			t.Fatalf("expected system prompt extracted, got %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "hi there"},
				{"type": "tool_use", "id": "t1", "name": "search", "input": {"query": "go"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	a := New("test-key", "claude-x", nil).WithBaseURL(srv.URL)
	resp, err := a.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "find something"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["query"] != "go" {
		t.Fatalf("unexpected tool args: %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Fatalf("unexpected finish reason: %v", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 10 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestChatMalformedToolInputCoercedToEmptyMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "tool_use", "name": "broken", "input": "not-an-object"}],
			"stop_reason": "tool_use"
		}`))
	}))
	defer srv.Close()

	a := New("k", "m", nil).WithBaseURL(srv.URL)
	resp, err := a.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Arguments == nil || len(resp.ToolCalls[0].Arguments) != 0 {
		t.Fatalf("expected empty map, got %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestChatNon2xxSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	a := New("k", "m", nil).WithBaseURL(srv.URL)
	_, err := a.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*llm.APIError)
	if !ok {
		t.Fatalf("expected *llm.APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status code: %d", apiErr.StatusCode)
	}
}

func TestNewFallsBackToEnvAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	a := New("", "m", nil)
	if a.apiKey != "env-key" {
		t.Fatalf("expected env fallback, got %q", a.apiKey)
	}
}
