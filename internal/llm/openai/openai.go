// Package openai implements llm.Provider against the OpenAI chat
// completions API, grounded on the same request-construction idiom as
// internal/llm/anthropic (itself grounded on
// internal/matrix/http_sender.go).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ralph-dev/ralph/internal/llm"
)

const defaultBaseURL = "https://api.openai.com"

// Adapter implements llm.Provider against /v1/chat/completions.
type Adapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// New constructs an Adapter. apiKey falls back to the OPENAI_API_KEY
// environment variable per §4.8's credential rule when empty.
func New(apiKey, model string, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if strings.TrimSpace(apiKey) == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return &Adapter{client: client, baseURL: defaultBaseURL, apiKey: apiKey, model: model}
}

// WithBaseURL overrides the API origin, for tests and gateways.
func (a *Adapter) WithBaseURL(url string) *Adapter {
	a.baseURL = strings.TrimRight(url, "/")
	return a
}

var _ llm.Provider = (*Adapter)(nil)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded string, per OpenAI's wire format
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireResponseMessage struct {
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls"`
}

type wireChoice struct {
	Message      wireResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

// Chat implements llm.Provider. OpenAI keeps system messages inline in
// the messages array (unlike Anthropic), so message order is preserved
// verbatim.
func (a *Adapter) Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.Response, error) {
	req := wireRequest{Model: a.model}
	for _, m := range messages {
		req.Messages = append(req.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.Response{}, &llm.APIError{StatusCode: resp.StatusCode, Body: string(out)}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return llm.Response{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai: response had no choices")
	}

	return toResponse(wire), nil
}

func toResponse(wire wireResponse) llm.Response {
	choice := wire.Choices[0]
	out := llm.Response{Content: choice.Message.Content}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil || args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: tc.Function.Name, Arguments: args})
	}

	switch choice.FinishReason {
	case "tool_calls":
		out.FinishReason = llm.FinishToolCalls
	case "length":
		out.FinishReason = llm.FinishLength
	case "stop":
		out.FinishReason = llm.FinishStop
	default:
		out.FinishReason = llm.FinishStop
	}

	out.Usage = &llm.Usage{InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens}
	return out
}
