// Package translate implements the bidirectional mapping between the Claude
// Messages wire format and the OpenAI-style chat completions wire format
// (C3, C4, C5 of the gateway design).
package translate

import (
	"encoding/json"
	"strings"

	"github.com/Davincible/claude-gateway-go/internal/model"
)

// Limits bounds max_tokens clamping (spec §4.2 step 7).
type Limits struct {
	MinTokens uint
	MaxTokens uint
}

// ToBackendRequest converts a Claude request into an OpenAI-shape backend
// request (C3, spec §4.2).
func ToBackendRequest(req *model.ClaudeRequest, targets model.ModelTargets, limits Limits) model.BackendRequest {
	out := model.BackendRequest{
		Model:       model.MapModel(req.Model, targets),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	temp := req.Temp()
	out.Temperature = &temp

	out.MaxTokens = clamp(req.MaxTokens, limits.MinTokens, limits.MaxTokens)

	var messages []model.BackendMessage

	if sys := flattenSystem(req.System); sys != "" {
		messages = append(messages, model.BackendMessage{
			Role:    "system",
			Content: mustJSON(sys),
		})
	}

	claudeMsgs := req.Messages
	for i := 0; i < len(claudeMsgs); i++ {
		msg := claudeMsgs[i]

		switch msg.Role {
		case "user":
			messages = append(messages, convertUserMessage(msg))
		case "assistant":
			messages = append(messages, convertAssistantMessage(msg))

			if i+1 < len(claudeMsgs) {
				next := claudeMsgs[i+1]
				if next.Role == "user" && hasToolResults(next) {
					messages = append(messages, convertToolResults(next)...)
					i++
				}
			}
		}
	}

	out.Messages = messages

	if len(req.Tools) > 0 {
		tools := make([]model.BackendTool, 0, len(req.Tools))

		for _, t := range req.Tools {
			if strings.TrimSpace(t.Name) == "" {
				continue
			}

			tools = append(tools, model.BackendTool{
				Type: "function",
				Function: model.BackendFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			})
		}

		if len(tools) > 0 {
			out.Tools = tools
		}
	}

	if len(req.ToolChoice) > 0 {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	return out
}

// clamp bounds v to [min, max] (spec §4.2 step 7 / §8 property 2).
func clamp(v, min, max uint) uint {
	if v < min {
		return min
	}

	if v > max {
		return max
	}

	return v
}

// flattenSystem materializes the system prompt into a single trimmed string,
// joining block form with "\n\n" (spec §4.2 step 2).
func flattenSystem(sys *model.SystemContent) string {
	if sys == nil {
		return ""
	}

	if sys.Blocks == nil {
		return strings.TrimSpace(sys.Text)
	}

	var parts []string

	for _, b := range sys.Blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func convertUserMessage(msg model.ClaudeMessage) model.BackendMessage {
	if msg.Content.IsString() {
		return model.BackendMessage{Role: "user", Content: mustJSON(*msg.Content.Text)}
	}

	var parts []map[string]any

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case model.BlockText:
			parts = append(parts, map[string]any{"type": "text", "text": block.Text})
		case model.BlockImage:
			srcType, _ := block.ImageSource["type"].(string)
			mediaType, _ := block.ImageSource["media_type"].(string)
			data, _ := block.ImageSource["data"].(string)

			if srcType == "base64" && mediaType != "" && data != "" {
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": "data:" + mediaType + ";base64," + data,
					},
				})
			}
		}
	}

	// Collapse rule: a single bare text part becomes a plain string (spec §4.2 step 4).
	if len(parts) == 1 {
		if parts[0]["type"] == "text" {
			return model.BackendMessage{Role: "user", Content: mustJSON(parts[0]["text"])}
		}
	}

	return model.BackendMessage{Role: "user", Content: mustJSON(parts)}
}

func convertAssistantMessage(msg model.ClaudeMessage) model.BackendMessage {
	out := model.BackendMessage{Role: "assistant"}

	if msg.Content.IsString() {
		out.Content = mustJSON(*msg.Content.Text)
		return out
	}

	var textParts []string

	var toolCalls []model.BackendToolCall

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case model.BlockText:
			textParts = append(textParts, block.Text)
		case model.BlockToolUse:
			args, err := json.Marshal(block.ToolInput)
			if err != nil {
				args = []byte("{}")
			}

			toolCalls = append(toolCalls, model.BackendToolCall{
				ID:   block.ToolUseID,
				Type: "function",
				Function: model.BackendToolCallFunction{
					Name:      block.ToolName,
					Arguments: string(args),
				},
			})
		}
	}

	if len(textParts) > 0 {
		out.Content = mustJSON(strings.Join(textParts, ""))
	}

	if len(toolCalls) > 0 {
		out.ToolCalls = toolCalls
	}

	return out
}

func hasToolResults(msg model.ClaudeMessage) bool {
	for _, b := range msg.Content.Blocks {
		if b.Type == model.BlockToolResult {
			return true
		}
	}

	return false
}

func convertToolResults(msg model.ClaudeMessage) []model.BackendMessage {
	var out []model.BackendMessage

	for _, b := range msg.Content.Blocks {
		if b.Type != model.BlockToolResult {
			continue
		}

		out = append(out, model.BackendMessage{
			Role:       "tool",
			Content:    mustJSON(normalizeToolResult(b.ToolResult)),
			ToolCallID: b.ToolUseResultID,
		})
	}

	return out
}

// normalizeToolResult implements spec §4.2 step 6.
func normalizeToolResult(content model.ToolResultContent) string {
	switch {
	case content.Str != nil:
		return *content.Str
	case content.Array != nil:
		parts := make([]string, 0, len(content.Array))

		for _, item := range content.Array {
			if t, ok := item["type"].(string); ok && t == "text" {
				if text, ok := item["text"].(string); ok {
					parts = append(parts, text)
					continue
				}
			}

			if text, ok := item["text"].(string); ok {
				parts = append(parts, text)
				continue
			}

			if b, err := json.Marshal(item); err == nil {
				parts = append(parts, string(b))
			}
		}

		return strings.TrimSpace(strings.Join(parts, "\n"))
	default:
		if t, ok := content.Obj["type"].(string); ok && t == "text" {
			if text, ok := content.Obj["text"].(string); ok {
				return text
			}
		}

		b, err := json.Marshal(content.Obj)
		if err != nil {
			return "{}"
		}

		return string(b)
	}
}

func convertToolChoice(raw json.RawMessage) json.RawMessage {
	var choice map[string]any
	if err := json.Unmarshal(raw, &choice); err != nil {
		return mustJSON("auto")
	}

	choiceType, _ := choice["type"].(string)

	switch choiceType {
	case "auto", "any":
		return mustJSON("auto")
	case "tool":
		if name, ok := choice["name"].(string); ok && name != "" {
			return mustJSON(map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			})
		}

		return mustJSON("auto")
	default:
		return mustJSON("auto")
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}

	return b
}
