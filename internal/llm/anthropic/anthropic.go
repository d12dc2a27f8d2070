// Package anthropic implements llm.Provider against the Anthropic
// Messages API, grounded on internal/matrix/http_sender.go's request
// construction idiom (explicit *http.Client, context-scoped requests,
// status-code checking, capped-read error bodies).
package anthropic

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

const defaultBaseURL = "https://api.anthropic.com"
const defaultAPIVersion = "2023-06-01"
const defaultMaxTokens = 4096

// Adapter implements llm.Provider against /v1/messages.
type Adapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string

	maxTokens int
}

// New constructs an Adapter. apiKey falls back to the
// ANTHROPIC_API_KEY environment variable per §4.8's credential rule
// when empty.
func New(apiKey, model string, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if strings.TrimSpace(apiKey) == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &Adapter{
		client:    client,
		baseURL:   defaultBaseURL,
		apiKey:    apiKey,
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// WithBaseURL overrides the API origin, for tests and self-hosted gateways.
func (a *Adapter) WithBaseURL(url string) *Adapter {
	a.baseURL = strings.TrimRight(url, "/")
	return a
}

var _ llm.Provider = (*Adapter)(nil)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type wireContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	Content    []wireContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      wireUsage          `json:"usage"`
}

// Chat implements llm.Provider. Anthropic's wire format pulls the
// system prompt out of the messages array into a top-level field, so
// the first RoleSystem message (if any) is extracted; any others are
// folded into the user/assistant sequence with their role preserved.
func (a *Adapter) Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.Response, error) {
	req := wireRequest{Model: a.model, MaxTokens: a.maxTokens}

	for _, m := range messages {
		if m.Role == llm.RoleSystem && req.System == "" {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", defaultAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.Response{}, &llm.APIError{StatusCode: resp.StatusCode, Body: string(out)}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: decode response: %w", err)
	}

	return toResponse(wire), nil
}

func toResponse(wire wireResponse) llm.Response {
	var out llm.Response
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			var args map[string]any
			if err := json.Unmarshal(block.Input, &args); err != nil || args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: block.Name, Arguments: args})
		}
	}

	switch wire.StopReason {
	case "tool_use":
		out.FinishReason = llm.FinishToolCalls
	case "max_tokens":
		out.FinishReason = llm.FinishLength
	case "end_turn", "stop_sequence":
		out.FinishReason = llm.FinishStop
	default:
		out.FinishReason = llm.FinishStop
	}

	out.Usage = &llm.Usage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens}
	return out
}
