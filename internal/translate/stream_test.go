package translate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectEvents parses the raw SSE frame stream into (event name, data) pairs
// in emission order.
func collectEvents(t *testing.T, raw []byte) []string {
	t.Helper()

	var names []string

	for _, frame := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n\n") {
		if frame == "" {
			continue
		}

		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2, "frame=%q", frame)
		require.True(t, strings.HasPrefix(lines[0], "event: "))
		names = append(names, strings.TrimPrefix(lines[0], "event: "))
	}

	return names
}

func runStream(t *testing.T, rawLines []string) []byte {
	t.Helper()

	lines := make(chan Line, len(rawLines)+1)
	for _, l := range rawLines {
		lines <- Line{Text: l}
	}
	close(lines)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := Run(ctx, nil, "claude-3-5-sonnet-20241022", lines)

	var all []byte
	for frame := range out {
		all = append(all, frame...)
	}

	return all
}

func TestRun_SimpleTextCompletion(t *testing.T) {
	raw := runStream(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"choices":[{"delta":{"content":" world"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})

	events := collectEvents(t, raw)
	assert.Equal(t, []string{
		"message_start", "content_block_start", "ping",
		"content_block_delta", "content_block_delta",
		"content_block_stop", "message_delta", "message_stop",
	}, events)

	assert.Contains(t, string(raw), `"text":"Hello"`)
	assert.Contains(t, string(raw), `"text":" world"`)
	assert.Contains(t, string(raw), `"stop_reason":"end_turn"`)
}

func TestRun_ToolCallLifecycle(t *testing.T) {
	raw := runStream(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"NYC\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	})

	events := collectEvents(t, raw)
	assert.Equal(t, []string{
		"message_start", "content_block_start", "ping",
		"content_block_start", "content_block_delta",
		"content_block_stop", "content_block_stop",
		"message_delta", "message_stop",
	}, events, "a tool call's own start/delta interleave before both blocks close")

	assert.Contains(t, string(raw), `"name":"get_weather"`)
	assert.Contains(t, string(raw), `"stop_reason":"tool_use"`)
}

func TestRun_MultipleToolCallsPreserveInsertionOrder(t *testing.T) {
	raw := runStream(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":2,"id":"call_b","function":{"name":"tool_b","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"tool_a","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	})

	str := string(raw)
	bIdx := strings.Index(str, `"id":"call_b"`)
	aIdx := strings.Index(str, `"id":"call_a"`)

	require.NotEqual(t, -1, bIdx)
	require.NotEqual(t, -1, aIdx)
	assert.Less(t, bIdx, aIdx, "slots start in the order their id+name became known, not backend index order")
}

func TestRun_UsagePropagatesToMessageDelta(t *testing.T) {
	raw := runStream(t, []string{
		`data: {"choices":[{"delta":{"content":"hi"}}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})

	assert.Contains(t, string(raw), `"input_tokens":7`)
	assert.Contains(t, string(raw), `"output_tokens":3`)
}

func TestRun_TransportErrorEmitsErrorFrame(t *testing.T) {
	lines := make(chan Line, 1)
	lines <- Line{Err: errors.New("connection reset")}
	close(lines)

	out := Run(context.Background(), nil, "claude-3-5-sonnet-20241022", lines)

	var all []byte
	for frame := range out {
		all = append(all, frame...)
	}

	events := collectEvents(t, all)
	assert.Contains(t, events, "error")
	assert.Contains(t, string(all), "connection reset")
}

func TestRun_UnparseableChunkIsSkipped(t *testing.T) {
	raw := runStream(t, []string{
		`data: not json at all`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	})

	assert.Contains(t, string(raw), `"text":"ok"`)
}

func TestRun_ContextCancellationTerminatesChannel(t *testing.T) {
	lines := make(chan Line)

	ctx, cancel := context.WithCancel(context.Background())
	out := Run(ctx, nil, "claude-3-5-sonnet-20241022", lines)

	cancel()

	done := make(chan struct{})

	go func() {
		for range out {
		}

		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not close its output channel after context cancellation")
	}
}

func TestConvertFinishReason_UsedDuringStreaming(t *testing.T) {
	var chunk map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"finish_reason":"length"}`), &chunk))
	assert.Equal(t, "max_tokens", ConvertFinishReason(chunk["finish_reason"].(string)))
}
