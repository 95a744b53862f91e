package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// AnthropicConfig configures the bare-passthrough adapter, grounded on the
// teacher's internal/providers/anthropic.go (a no-op Transform). Unlike the
// teacher, this gateway's Provider port is shaped around OpenAI-style
// requests and responses, so a literal passthrough is impossible: this
// adapter instead reconstructs a Claude request from the backend-shape one
// C3 produced, calls the real Claude Messages API, and reshapes the Claude
// reply back into backend shape so C4/C5 can translate it forward again
// exactly like every other vendor. The client sees the same Claude wire
// format when provider = "anthropic"; image blocks are not forwarded (see
// backendToClaudeRequest).
type AnthropicConfig struct {
	APIKey        string
	BaseURL       string // defaults to https://api.anthropic.com
	AnthropicBeta string // optional anthropic-beta header value
	Timeout       time.Duration
}

type AnthropicProvider struct {
	cfg    AnthropicConfig
	client *http.Client
	reg    *registry
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	return &AnthropicProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), reg: newRegistry()}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
}

func (p *AnthropicProvider) applyAuth(req *http.Request) {
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	if p.cfg.AnthropicBeta != "" {
		req.Header.Set("anthropic-beta", p.cfg.AnthropicBeta)
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *model.BackendRequest, requestID string) (*model.BackendResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.reg.register(requestID, cancel)
	defer p.reg.unregister(requestID)

	claudeReq := backendToClaudeRequest(req)
	claudeReq.Stream = false

	body, err := json.Marshal(claudeReq)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	p.applyAuth(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, translateTransportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := decodeBody(resp)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerErrorFromResponse(p.Name(), resp.StatusCode, raw)
	}

	var claudeResp model.ClaudeResponse
	if err := json.Unmarshal(raw, &claudeResp); err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: fmt.Sprintf("decode claude response: %v", err)}
	}

	backendResp := claudeResponseToBackend(&claudeResp)

	return &backendResp, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req *model.BackendRequest, requestID string) (<-chan translate.Line, error) {
	ctx, cancel := context.WithCancel(ctx)

	p.reg.register(requestID, cancel)

	claudeReq := backendToClaudeRequest(req)
	claudeReq.Stream = true

	body, err := json.Marshal(claudeReq)
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	p.applyAuth(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, translateTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := decodeBody(resp)
		resp.Body.Close()
		cancel()
		p.reg.unregister(requestID)

		return nil, providerErrorFromResponse(p.Name(), resp.StatusCode, raw)
	}

	out := make(chan translate.Line, 16)

	go func() {
		defer close(out)
		defer cancel()
		defer p.reg.unregister(requestID)
		defer resp.Body.Close()

		reshapeClaudeStream(ctx, resp.Body, out)
	}()

	return out, nil
}

func (p *AnthropicProvider) Cancel(requestID string) bool {
	return p.reg.cancel(requestID)
}

// backendToClaudeRequest reverses C3's translation so a backend-shape
// request produced for any vendor can be replayed against the real Claude
// Messages API. Image content is not round-tripped: contentText keeps only
// the text parts of a message, so the image_url parts C3 emits for base64
// images are dropped from the rebuilt Claude request.
func backendToClaudeRequest(req *model.BackendRequest) model.ClaudeRequest {
	out := model.ClaudeRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}

	var systemParts []string

	var messages []model.ClaudeMessage

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if text := contentText(m.Content); text != "" {
				systemParts = append(systemParts, text)
			}
		case "user":
			text := contentText(m.Content)
			messages = append(messages, model.ClaudeMessage{Role: "user", Content: model.MessageContent{Text: &text}})
		case "assistant":
			var blocks []model.ContentBlock

			if text := contentText(m.Content); text != "" {
				blocks = append(blocks, model.ContentBlock{Type: model.BlockText, Text: text})
			}

			for _, tc := range m.ToolCalls {
				input := map[string]any{}
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}

				blocks = append(blocks, model.ContentBlock{
					Type: model.BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name, ToolInput: input,
				})
			}

			messages = append(messages, model.ClaudeMessage{Role: "assistant", Content: model.MessageContent{Blocks: blocks}})
		case "tool":
			text := contentText(m.Content)
			block := model.ContentBlock{
				Type: model.BlockToolResult, ToolUseResultID: m.ToolCallID, ToolResult: model.ToolResultContent{Str: &text},
			}
			messages = append(messages, model.ClaudeMessage{Role: "user", Content: model.MessageContent{Blocks: []model.ContentBlock{block}}})
		}
	}

	if len(systemParts) > 0 {
		out.System = &model.SystemContent{Text: strings.Join(systemParts, "\n\n")}
	}

	out.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]model.ToolDef, 0, len(req.Tools))

		for _, t := range req.Tools {
			tools = append(tools, model.ToolDef{
				Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters,
			})
		}

		out.Tools = tools
	}

	if len(req.ToolChoice) > 0 {
		out.ToolChoice = req.ToolChoice
	}

	return out
}

func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var texts []string

	for _, p := range parts {
		if t, ok := p["text"].(string); ok {
			texts = append(texts, t)
		}
	}

	return strings.Join(texts, "")
}

// claudeResponseToBackend reshapes a non-streaming Claude response back
// into backend (OpenAI) shape so C4 can translate it forward like any
// other vendor's reply.
func claudeResponseToBackend(resp *model.ClaudeResponse) model.BackendResponse {
	var textParts []string

	var toolCalls []model.BackendToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case model.BlockText:
			textParts = append(textParts, block.Text)
		case model.BlockToolUse:
			args, err := json.Marshal(block.ToolInput)
			if err != nil {
				args = []byte("{}")
			}

			toolCalls = append(toolCalls, model.BackendToolCall{
				ID: block.ToolUseID, Type: "function",
				Function: model.BackendToolCallFunction{Name: block.ToolName, Arguments: string(args)},
			})
		}
	}

	content, _ := json.Marshal(strings.Join(textParts, ""))

	finish := "stop"

	switch resp.StopReason {
	case "max_tokens":
		finish = "length"
	case "tool_use":
		finish = "tool_calls"
	}

	return model.BackendResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []model.BackendChoice{{
			Index:        0,
			FinishReason: finish,
			Message: model.BackendMessage{
				Role: "assistant", Content: content, ToolCalls: toolCalls,
			},
		}},
		Usage: &model.BackendUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// reshapeClaudeStream reads native Claude SSE events and re-emits each as an
// OpenAI-shape "data: {...}" line, so the resulting stream can re-enter the
// shared translator (C5) and come back out as valid Claude SSE again. This
// keeps C5 vendor-agnostic: it never learns that its input originated from
// Claude's own wire format.
func reshapeClaudeStream(ctx context.Context, body io.Reader, out chan<- translate.Line) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var toolIdx = -1

	toolIDs := map[int]string{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event map[string]any
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		eventType, _ := event["type"].(string)

		var chunk map[string]any

		switch eventType {
		case "content_block_start":
			block, _ := event["content_block"].(map[string]any)
			if block != nil && block["type"] == "tool_use" {
				toolIdx++
				id, _ := block["id"].(string)
				name, _ := block["name"].(string)
				toolIDs[toolIdx] = id

				chunk = deltaChunk(map[string]any{
					"tool_calls": []any{map[string]any{
						"index": toolIdx,
						"id":    id,
						"type":  "function",
						"function": map[string]any{
							"name": name, "arguments": "",
						},
					}},
				})
			}
		case "content_block_delta":
			delta, _ := event["delta"].(map[string]any)
			if delta == nil {
				continue
			}

			switch delta["type"] {
			case "text_delta":
				chunk = deltaChunk(map[string]any{"content": delta["text"]})
			case "input_json_delta":
				chunk = deltaChunk(map[string]any{
					"tool_calls": []any{map[string]any{
						"index": toolIdx,
						"function": map[string]any{
							"arguments": delta["partial_json"],
						},
					}},
				})
			}
		case "message_delta":
			delta, _ := event["delta"].(map[string]any)
			stopReason, _ := delta["stop_reason"].(string)

			finish := "stop"

			switch stopReason {
			case "max_tokens":
				finish = "length"
			case "tool_use":
				finish = "tool_calls"
			}

			chunk = map[string]any{
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{}, "finish_reason": finish}},
			}

			if usageRaw, ok := event["usage"].(map[string]any); ok {
				chunk["usage"] = map[string]any{
					"prompt_tokens":     usageRaw["input_tokens"],
					"completion_tokens": usageRaw["output_tokens"],
				}
			}
		case "message_stop":
			select {
			case out <- translate.Line{Text: "data: [DONE]"}:
			case <-ctx.Done():
			}

			return
		}

		if chunk == nil {
			continue
		}

		b, err := json.Marshal(chunk)
		if err != nil {
			continue
		}

		select {
		case out <- translate.Line{Text: "data: " + string(b)}:
		case <-ctx.Done():
			return
		}
	}
}

func deltaChunk(delta map[string]any) map[string]any {
	return map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": delta}},
	}
}
