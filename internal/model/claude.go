// Package model holds the wire types for the Claude Messages API and the
// OpenAI-style chat completions API this gateway translates to and from.
package model

import (
	"encoding/json"
	"fmt"
)

// ClaudeRequest is the body of a POST /v1/messages request.
type ClaudeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     uint            `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Thinking      json.RawMessage `json:"thinking,omitempty"`
	System        *SystemContent  `json:"system,omitempty"`
	Messages      []ClaudeMessage `json:"messages"`
	Tools         []ToolDef       `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
}

// Temp returns the request temperature, defaulting to 1.0 per spec §3.
func (r *ClaudeRequest) Temp() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}

	return 1.0
}

// ClaudeTokenCountRequest is the body of POST /v1/messages/count_tokens.
type ClaudeTokenCountRequest struct {
	Model    string          `json:"model"`
	System   *SystemContent  `json:"system,omitempty"`
	Messages []ClaudeMessage `json:"messages"`
}

// ClaudeMessage is one turn in the conversation.
type ClaudeMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// ToolDef is a tool declaration offered to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// SystemContent is either a plain string or an ordered sequence of text blocks.
type SystemContent struct {
	Text   string
	Blocks []SystemBlock
}

// SystemBlock is one block of a block-form system prompt.
type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *SystemContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		return nil
	}

	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system content must be a string or block array: %w", err)
	}

	s.Blocks = blocks

	return nil
}

func (s SystemContent) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}

	return json.Marshal(s.Text)
}

// MessageContent is either a plain string or an ordered sequence of content blocks.
type MessageContent struct {
	Text   *string
	Blocks []ContentBlock
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		c.Text = &str
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("message content must be a string or block array: %w", err)
	}

	blocks := make([]ContentBlock, 0, len(raw))

	for _, r := range raw {
		var block ContentBlock
		if err := block.UnmarshalJSON(r); err != nil {
			return err
		}

		blocks = append(blocks, block)
	}

	c.Blocks = blocks

	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}

	return json.Marshal(c.Blocks)
}

// IsString reports whether the content was supplied in plain-string form.
func (c MessageContent) IsString() bool {
	return c.Text != nil
}

// ContentBlockType enumerates the content block variants in spec §3.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockImage      ContentBlockType = "image"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is a tagged union over the content block variants.
type ContentBlock struct {
	Type ContentBlockType

	// text
	Text string

	// image
	ImageSource map[string]any

	// tool_use
	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any

	// tool_result
	ToolUseResultID string
	ToolResult      ToolResultContent
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("content block missing type: %w", err)
	}

	b.Type = ContentBlockType(head.Type)

	switch b.Type {
	case BlockText:
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		b.Text = v.Text
	case BlockImage:
		var v struct {
			Source map[string]any `json:"source"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		b.ImageSource = v.Source
	case BlockToolUse:
		var v struct {
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		b.ToolUseID, b.ToolName, b.ToolInput = v.ID, v.Name, v.Input
	case BlockToolResult:
		var v struct {
			ToolUseID string          `json:"tool_use_id"`
			Content   ToolResultContent `json:"content"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		b.ToolUseResultID, b.ToolResult = v.ToolUseID, v.Content
	default:
		// Unknown/future block variant: keep the type tag, drop the payload.
	}

	return nil
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(map[string]any{"type": "text", "text": b.Text})
	case BlockImage:
		return json.Marshal(map[string]any{"type": "image", "source": b.ImageSource})
	case BlockToolUse:
		return json.Marshal(map[string]any{
			"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": b.ToolInput,
		})
	case BlockToolResult:
		return json.Marshal(map[string]any{
			"type": "tool_result", "tool_use_id": b.ToolUseResultID, "content": b.ToolResult,
		})
	default:
		return json.Marshal(map[string]any{"type": string(b.Type)})
	}
}

// ToolResultContent is string | array-of-objects | single object (spec §3).
type ToolResultContent struct {
	Str   *string
	Array []map[string]any
	Obj   map[string]any
}

func (t *ToolResultContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Str = &s
		return nil
	}

	var arr []map[string]any
	if err := json.Unmarshal(data, &arr); err == nil {
		t.Array = arr
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("tool_result content must be string, array, or object: %w", err)
	}

	t.Obj = obj

	return nil
}

func (t ToolResultContent) MarshalJSON() ([]byte, error) {
	switch {
	case t.Str != nil:
		return json.Marshal(*t.Str)
	case t.Array != nil:
		return json.Marshal(t.Array)
	default:
		return json.Marshal(t.Obj)
	}
}

// ClaudeResponse is the JSON body of a non-streaming /v1/messages reply (C4 output).
type ClaudeResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        ClaudeUsage    `json:"usage"`
}

// ClaudeUsage mirrors spec §3's usage record.
type ClaudeUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// ClaudeError is the envelope in spec §6/§7 for every error reaching the client.
type ClaudeError struct {
	Type  string           `json:"type"`
	Error ClaudeErrorBody  `json:"error"`
}

type ClaudeErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewClaudeError builds the standard `{type:"error", error:{type, message}}` envelope.
func NewClaudeError(message string) ClaudeError {
	return ClaudeError{
		Type: "error",
		Error: ClaudeErrorBody{
			Type:    "api_error",
			Message: message,
		},
	}
}
