package translate

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Davincible/claude-gateway-go/internal/model"
)

// Line is one line of a backend's raw SSE body, or a terminal transport
// failure (C6's streaming contract, spec §4.5).
type Line struct {
	Text string
	Err  error
}

// Run drives the streaming translator (C5): it consumes backend SSE lines
// and produces well-formed Claude SSE frames on the returned channel. The
// channel is closed once the postlude has been emitted. Cancelling ctx
// aborts the translation early and still emits the postlude while the
// output channel has buffer room for it (a frame that finds the buffer full
// after cancellation is dropped), which is how this gateway resolves
// SPEC_FULL's Open Question (c): context cancellation is the
// client-disconnect signal, not an unflipped flag.
func Run(ctx context.Context, logger *slog.Logger, claudeModel string, lines <-chan Line) <-chan []byte {
	out := make(chan []byte, 16)

	go func() {
		defer close(out)

		st := newStreamState(claudeModel)

		emit := func(frames ...[]byte) bool {
			for _, f := range frames {
				// Prefer delivery whenever the buffer has room, so a
				// cancelled ctx does not race away frames that fit.
				select {
				case out <- f:
					continue
				default:
				}

				select {
				case out <- f:
				case <-ctx.Done():
					return false
				}
			}

			return true
		}

		if !emit(st.prelude()...) {
			return
		}

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case ln, ok := <-lines:
				if !ok {
					break loop
				}

				if ln.Err != nil {
					emit(errorFrame(ln.Err))
					break loop
				}

				frames, done := st.handleLine(logger, ln.Text)
				if !emit(frames...) {
					return
				}

				if done {
					break loop
				}
			}
		}

		emit(st.postlude()...)
	}()

	return out
}

// toolCallState is the per-tool-call scratch record (spec §3 "Streaming
// scratch entities").
type toolCallState struct {
	id        string
	name      string
	argsBuf   strings.Builder
	started   bool
	jsonSent  bool
	claudeIdx int
}

type streamState struct {
	model           string
	messageID       string
	toolCounter     int
	slots           map[int]*toolCallState
	order           []int // backend indices, in the order their start condition became true
	finalStopReason string
	usage           model.ClaudeUsage
}

func newStreamState(claudeModel string) *streamState {
	return &streamState{
		model:           claudeModel,
		slots:           make(map[int]*toolCallState),
		finalStopReason: "end_turn",
	}
}

func (s *streamState) prelude() [][]byte {
	s.messageID = genMessageID()

	messageStart := map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            s.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	}

	blockStart := map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "text", "text": ""},
	}

	ping := map[string]any{"type": "ping"}

	return [][]byte{
		sse("message_start", messageStart),
		sse("content_block_start", blockStart),
		sse("ping", ping),
	}
}

// handleLine processes one input line and returns the frames it produced,
// plus whether the main loop should stop (spec §4.4 "Main loop").
func (s *streamState) handleLine(logger *slog.Logger, line string) ([][]byte, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}

	if !strings.HasPrefix(trimmed, "data: ") {
		return nil, false
	}

	suffix := strings.TrimSpace(trimmed[len("data: "):])
	if suffix == "[DONE]" {
		return nil, true
	}

	var chunk map[string]any
	if err := json.Unmarshal([]byte(suffix), &chunk); err != nil {
		if logger != nil {
			logger.Warn("skipping unparseable stream chunk", "error", err)
		}

		return nil, false
	}

	var frames [][]byte

	if usageRaw, ok := chunk["usage"].(map[string]any); ok {
		s.usage = model.ClaudeUsage{
			InputTokens:  asInt(usageRaw["prompt_tokens"]),
			OutputTokens: asInt(usageRaw["completion_tokens"]),
		}

		if details, ok := usageRaw["prompt_tokens_details"].(map[string]any); ok {
			s.usage.CacheReadInputTokens = asInt(details["cached_tokens"])
		}
	}

	choicesRaw, ok := chunk["choices"].([]any)
	if !ok || len(choicesRaw) == 0 {
		return frames, false
	}

	choice, ok := choicesRaw[0].(map[string]any)
	if !ok {
		return frames, false
	}

	delta, _ := choice["delta"].(map[string]any)

	if delta != nil {
		if content, ok := delta["content"].(string); ok && content != "" {
			frames = append(frames, sse("content_block_delta", map[string]any{
				"type": "content_block_delta", "index": 0,
				"delta": map[string]any{"type": "text_delta", "text": content},
			}))
		}

		if toolCalls, ok := delta["tool_calls"].([]any); ok {
			frames = append(frames, s.handleToolCalls(toolCalls)...)
		}
	}

	if fr, ok := choice["finish_reason"]; ok && fr != nil {
		if reason, ok := fr.(string); ok {
			s.finalStopReason = ConvertFinishReason(reason)
			return frames, true
		}
	}

	return frames, false
}

func (s *streamState) handleToolCalls(toolCalls []any) [][]byte {
	var frames [][]byte

	for _, raw := range toolCalls {
		tc, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		k := asInt(tc["index"])

		slot, exists := s.slots[k]
		if !exists {
			slot = &toolCallState{}
			s.slots[k] = slot
		}

		if id, ok := tc["id"].(string); ok {
			slot.id = id
		}

		fn, _ := tc["function"].(map[string]any)
		if fn != nil {
			if name, ok := fn["name"].(string); ok {
				slot.name = name
			}
		}

		if !slot.started && slot.id != "" && slot.name != "" {
			s.toolCounter++
			slot.claudeIdx = s.toolCounter
			slot.started = true
			s.order = append(s.order, k)

			frames = append(frames, sse("content_block_start", map[string]any{
				"type": "content_block_start", "index": slot.claudeIdx,
				"content_block": map[string]any{
					"type": "tool_use", "id": slot.id, "name": slot.name, "input": map[string]any{},
				},
			}))
		}

		if fn != nil && slot.started {
			if args, ok := fn["arguments"].(string); ok && args != "" {
				slot.argsBuf.WriteString(args)

				var parsed any
				if err := json.Unmarshal([]byte(slot.argsBuf.String()), &parsed); err == nil && !slot.jsonSent {
					frames = append(frames, sse("content_block_delta", map[string]any{
						"type": "content_block_delta", "index": slot.claudeIdx,
						"delta": map[string]any{
							"type": "input_json_delta", "partial_json": slot.argsBuf.String(),
						},
					}))
					slot.jsonSent = true
				}
			}
		}
	}

	return frames
}

func (s *streamState) postlude() [][]byte {
	frames := [][]byte{
		sse("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}),
	}

	for _, k := range s.order {
		slot := s.slots[k]
		frames = append(frames, sse("content_block_stop", map[string]any{
			"type": "content_block_stop", "index": slot.claudeIdx,
		}))
	}

	usage := map[string]any{
		"input_tokens": s.usage.InputTokens, "output_tokens": s.usage.OutputTokens,
	}
	if s.usage.CacheReadInputTokens > 0 {
		usage["cache_read_input_tokens"] = s.usage.CacheReadInputTokens
	}

	frames = append(frames,
		sse("message_delta", map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason": s.finalStopReason, "stop_sequence": nil,
			},
			"usage": usage,
		}),
		sse("message_stop", map[string]any{"type": "message_stop"}),
	)

	return frames
}

func sse(name string, data map[string]any) []byte {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte("{}")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, b))
}

func errorFrame(err error) []byte {
	b, marshalErr := json.Marshal(model.NewClaudeError(err.Error()))
	if marshalErr != nil {
		b = []byte(`{"type":"error","error":{"type":"api_error","message":"unknown error"}}`)
	}

	return []byte(fmt.Sprintf("event: error\ndata: %s\n\n", b))
}

func genMessageID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "msg_000000000000000000000000"
	}

	return "msg_" + fmt.Sprintf("%x", buf)
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
