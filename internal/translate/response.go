package translate

import (
	"encoding/json"

	"github.com/Davincible/claude-gateway-go/internal/model"
)

// ToClaudeResponse converts a non-streaming backend response into a Claude
// response (C4, spec §4.3). originalModel is echoed back verbatim so the
// client sees the name it asked for, not the mapped backend name.
func ToClaudeResponse(resp *model.BackendResponse, originalModel string) model.ClaudeResponse {
	out := model.ClaudeResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: originalModel,
	}

	if len(resp.Choices) == 0 {
		out.Content = []model.ContentBlock{{Type: model.BlockText, Text: ""}}
		out.StopReason = "end_turn"

		return out
	}

	choice := resp.Choices[0]

	var content []model.ContentBlock

	if text := rawString(choice.Message.Content); text != "" {
		content = append(content, model.ContentBlock{Type: model.BlockText, Text: text})
	}

	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			input = map[string]any{}
		}

		content = append(content, model.ContentBlock{
			Type:      model.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: input,
		})
	}

	if len(content) == 0 {
		content = []model.ContentBlock{{Type: model.BlockText, Text: ""}}
	}

	out.Content = content
	out.StopReason = ConvertFinishReason(choice.FinishReason)

	if resp.Usage != nil {
		out.Usage = model.ClaudeUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out
}

// ConvertFinishReason maps an OpenAI-shape finish_reason to a Claude stop_reason
// (spec §4.3 / §4.4 step 8 / §8 property 11).
func ConvertFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// rawString unwraps a JSON-encoded message content value if it is a plain
// string; any other shape (array, null, absent) yields "".
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}

	return s
}
