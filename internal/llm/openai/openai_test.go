package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ralph-dev/ralph/internal/llm"
)

func TestChatParsesContentAndToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("expected system message preserved in place, got %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{"id": "c1", "type": "function", "function": {"name": "search", "arguments": "{\"query\":\"go\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 8, "completion_tokens": 3}
		}`))
	}))
	defer srv.Close()

	a := New("key", "gpt-x", nil).WithBaseURL(srv.URL)
	resp, err := a.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "find something"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["query"] != "go" {
		t.Fatalf("unexpected args: %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Fatalf("unexpected finish reason: %v", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 8 || resp.Usage.OutputTokens != 3 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestChatMalformedArgumentsCoercedToEmptyMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {"tool_calls": [{"function": {"name": "broken", "arguments": "not-json"}}]},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer srv.Close()

	a := New("key", "gpt-x", nil).WithBaseURL(srv.URL)
	resp, err := a.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || len(resp.ToolCalls[0].Arguments) != 0 {
		t.Fatalf("expected empty args map, got %+v", resp.ToolCalls)
	}
}

func TestChatNon2xxSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	a := New("key", "gpt-x", nil).WithBaseURL(srv.URL)
	_, err := a.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}, nil)
	apiErr, ok := err.(*llm.APIError)
	if !ok {
		t.Fatalf("expected *llm.APIError, got %T (%v)", err, err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestNewFallsBackToEnvAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	a := New("", "m", nil)
	if a.apiKey != "env-key" {
		t.Fatalf("expected env fallback, got %q", a.apiKey)
	}
}
