package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestAnthropicProvider_Name(t *testing.T) {
	assert.Equal(t, "anthropic", NewAnthropicProvider(AnthropicConfig{}).Name())
}

func TestBackendToClaudeRequest_SystemAndToolRoundTrip(t *testing.T) {
	req := &model.BackendRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []model.BackendMessage{
			{Role: "system", Content: rawString("be concise")},
			{Role: "user", Content: rawString("what's the weather")},
			{
				Role:    "assistant",
				Content: rawString(""),
				ToolCalls: []model.BackendToolCall{
					{ID: "call_1", Type: "function", Function: model.BackendToolCallFunction{Name: "get_weather", Arguments: `{"city":"NYC"}`}},
				},
			},
			{Role: "tool", ToolCallID: "call_1", Content: rawString("72F and sunny")},
		},
	}

	out := backendToClaudeRequest(req)

	require.NotNil(t, out.System)
	assert.Equal(t, "be concise", out.System.Text)
	require.Len(t, out.Messages, 3)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "assistant", out.Messages[1].Role)
	require.Len(t, out.Messages[1].Content.Blocks, 1)
	assert.Equal(t, model.BlockToolUse, out.Messages[1].Content.Blocks[0].Type)
	assert.Equal(t, "NYC", out.Messages[1].Content.Blocks[0].ToolInput["city"])
	assert.Equal(t, "user", out.Messages[2].Role, "tool results become a user turn for the Claude API")
	require.Len(t, out.Messages[2].Content.Blocks, 1)
	assert.Equal(t, model.BlockToolResult, out.Messages[2].Content.Blocks[0].Type)
}

func TestContentText_StringAndBlockShapes(t *testing.T) {
	assert.Equal(t, "hello", contentText(rawString("hello")))

	blocks, _ := json.Marshal([]map[string]any{{"type": "text", "text": "a"}, {"type": "text", "text": "b"}})
	assert.Equal(t, "ab", contentText(blocks))

	assert.Equal(t, "", contentText(nil))
}

func TestClaudeResponseToBackend_TextAndToolUse(t *testing.T) {
	resp := &model.ClaudeResponse{
		ID:         "msg_1",
		Model:      "claude-3-5-sonnet-20241022",
		StopReason: "tool_use",
		Content: []model.ContentBlock{
			{Type: model.BlockText, Text: "checking"},
			{Type: model.BlockToolUse, ToolUseID: "call_1", ToolName: "get_weather", ToolInput: map[string]any{"city": "NYC"}},
		},
		Usage: model.ClaudeUsage{InputTokens: 12, OutputTokens: 4},
	}

	out := claudeResponseToBackend(resp)

	require.Len(t, out.Choices, 1)
	assert.Equal(t, "tool_calls", out.Choices[0].FinishReason)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.Choices[0].Message.ToolCalls[0].Function.Name)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 12, out.Usage.PromptTokens)
	assert.Equal(t, 4, out.Usage.CompletionTokens)
}

func TestDeltaChunk(t *testing.T) {
	chunk := deltaChunk(map[string]any{"content": "hi"})

	choices, ok := chunk["choices"].([]any)
	require.True(t, ok)
	require.Len(t, choices, 1)

	delta := choices[0].(map[string]any)["delta"].(map[string]any)
	assert.Equal(t, "hi", delta["content"])
}

func TestReshapeClaudeStream_TextAndToolUse(t *testing.T) {
	raw := `data: {"type":"content_block_start","content_block":{"type":"tool_use","id":"call_1","name":"get_weather"}}

data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{}"}}

data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":5,"output_tokens":2}}

data: {"type":"message_stop"}

`

	out := make(chan translate.Line, 16)
	reshapeClaudeStream(context.Background(), bytes.NewBufferString(raw), out)
	close(out)

	var lines []string
	for ln := range out {
		lines = append(lines, ln.Text)
	}

	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"name":"get_weather"`)
	assert.Contains(t, lines[1], `"arguments":"{}"`)
	assert.Contains(t, lines[2], `"finish_reason":"tool_calls"`)
	assert.Equal(t, "data: [DONE]", lines[3])
}

func TestAnthropicProvider_Complete_Auth(t *testing.T) {
	var gotKey, gotVersion, gotBeta, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		gotBeta = r.Header.Get("anthropic-beta")
		gotPath = r.URL.Path

		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "ak-test", BaseURL: srv.URL, AnthropicBeta: "tools-2024"})

	_, err := p.Complete(context.Background(), &model.BackendRequest{Model: "claude-3-5-sonnet-20241022"}, "req-1")
	require.NoError(t, err)

	assert.Equal(t, "ak-test", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "tools-2024", gotBeta)
	assert.Equal(t, "/v1/messages", gotPath)
}
