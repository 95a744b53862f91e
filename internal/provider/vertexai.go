package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// VertexAIConfig configures the Vertex AI (Gemini) adapter, grounded on the
// Rust VertexAIConfig (project_id/location/access_token) and the teacher's
// internal/providers/gemini.go shape conversions.
type VertexAIConfig struct {
	ProjectID   string
	Location    string
	AccessToken string
	Timeout     time.Duration
}

// VertexAIProvider speaks Google's Vertex AI generateContent wire format.
// Unlike the OpenAI-shape adapters it never sends or receives OpenAI-shape JSON on
// the wire: it converts a BackendRequest into Gemini's contents/parts shape
// on the way out, and reshapes Gemini's response (and, for streaming, every
// chunk of it) back into OpenAI shape on the way in, so the rest of the
// gateway — C4/C5 — never has to learn Gemini's wire format (spec §4.5
// "Vertex shape conversion").
type VertexAIProvider struct {
	cfg    VertexAIConfig
	client *http.Client
	reg    *registry
}

func NewVertexAIProvider(cfg VertexAIConfig) *VertexAIProvider {
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	return &VertexAIProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), reg: newRegistry()}
}

func (p *VertexAIProvider) Name() string { return "vertexai" }

func (p *VertexAIProvider) endpoint(modelName string, streaming bool) string {
	host := fmt.Sprintf("https://%s-aiplatform.googleapis.com", p.cfg.Location)
	path := fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/google/models/%s",
		p.cfg.ProjectID, p.cfg.Location, modelName)

	if streaming {
		return host + path + ":streamGenerateContent?alt=sse"
	}

	return host + path + ":generateContent"
}

func (p *VertexAIProvider) applyAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
}

func (p *VertexAIProvider) Complete(ctx context.Context, req *model.BackendRequest, requestID string) (*model.BackendResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.reg.register(requestID, cancel)
	defer p.reg.unregister(requestID)

	body, err := json.Marshal(backendToGeminiRequest(req))
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(req.Model, false), bytes.NewReader(body))
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

	var geminiResp geminiResponse
	if err := json.Unmarshal(raw, &geminiResp); err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: fmt.Sprintf("decode gemini response: %v", err)}
	}

	backendResp := geminiResponseToBackend(&geminiResp, req.Model)

	return &backendResp, nil
}

func (p *VertexAIProvider) Stream(ctx context.Context, req *model.BackendRequest, requestID string) (<-chan translate.Line, error) {
	ctx, cancel := context.WithCancel(ctx)

	p.reg.register(requestID, cancel)

	body, err := json.Marshal(backendToGeminiRequest(req))
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	lines, err := doStream(ctx, p.client, p.Name(), p.endpoint(req.Model, true), body, p.applyAuth, reshapeGeminiLine)
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, err
	}

	out := make(chan translate.Line, 16)

	go func() {
		defer close(out)
		defer cancel()
		defer p.reg.unregister(requestID)

		for ln := range lines {
			out <- ln
		}
	}()

	return out, nil
}

func (p *VertexAIProvider) Cancel(requestID string) bool {
	return p.reg.cancel(requestID)
}

// --- Gemini wire shapes, grounded on the teacher's gemini.go structs ---

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	GenerationConfig  map[string]any    `json:"generationConfig,omitempty"`
	Tools             []map[string]any  `json:"tools,omitempty"`
	SafetySettings    []map[string]any  `json:"safetySettings,omitempty"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts,omitempty"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
}

type geminiError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var safetySettings = []map[string]any{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
}

// backendToGeminiRequest converts an OpenAI-shape backend request (as C3
// produced) into Vertex's contents/parts shape.
func backendToGeminiRequest(req *model.BackendRequest) geminiRequest {
	out := geminiRequest{SafetySettings: safetySettings}

	genConfig := make(map[string]any)

	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}

	if req.Temperature != nil {
		genConfig["temperature"] = *req.Temperature
	}

	if req.TopP != nil {
		genConfig["topP"] = *req.TopP
	}

	if len(genConfig) > 0 {
		out.GenerationConfig = genConfig
	}

	var contents []geminiContent

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			text := contentText(m.Content)
			out.SystemInstruction = &geminiContent{Role: "user", Parts: []geminiPart{{Text: text}}}
		case "user":
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: contentText(m.Content)}}})
		case "assistant":
			var parts []geminiPart

			if text := contentText(m.Content); text != "" {
				parts = append(parts, geminiPart{Text: text})
			}

			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]any{}
				}

				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Function.Name, Args: args}})
			}

			contents = append(contents, geminiContent{Role: "model", Parts: parts})
		case "tool":
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{
				FunctionResponse: &geminiFunctionResponse{
					Name:     m.ToolCallID,
					Response: map[string]any{"content": contentText(m.Content)},
				},
			}}})
		}
	}

	out.Contents = contents

	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))

		for _, t := range req.Tools {
			decl := map[string]any{"name": t.Function.Name}

			if t.Function.Description != "" {
				decl["description"] = t.Function.Description
			}

			if len(t.Function.Parameters) > 0 {
				var schema any
				if err := json.Unmarshal(t.Function.Parameters, &schema); err == nil {
					decl["parameters"] = schema
				}
			}

			declarations = append(declarations, decl)
		}

		out.Tools = []map[string]any{{"functionDeclarations": declarations}}
	}

	return out
}

var geminiFinishReasons = map[string]string{
	"STOP":                      "stop",
	"MAX_TOKENS":                "length",
	"SAFETY":                    "stop",
	"RECITATION":                "stop",
	"OTHER":                     "stop",
	"MALFORMED_FUNCTION_CALL":   "tool_calls",
	"FINISH_REASON_UNSPECIFIED": "stop",
}

func geminiFinishToOpenAI(reason string) string {
	if mapped, ok := geminiFinishReasons[reason]; ok {
		return mapped
	}

	return "stop"
}

// geminiResponseToBackend reshapes a non-streaming Gemini response into
// OpenAI (backend) shape so C4 can translate it forward exactly as it does
// for every other vendor.
func geminiResponseToBackend(resp *geminiResponse, requestedModel string) model.BackendResponse {
	modelName := resp.ModelVersion
	if modelName == "" {
		modelName = requestedModel
	}

	out := model.BackendResponse{ID: resp.ResponseID, Model: modelName}

	if len(resp.Candidates) == 0 {
		content, _ := json.Marshal("")
		out.Choices = []model.BackendChoice{{FinishReason: "stop", Message: model.BackendMessage{Role: "assistant", Content: content}}}

		return out
	}

	candidate := resp.Candidates[0]

	var textParts []string

	var toolCalls []model.BackendToolCall

	var toolCounter int

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}

			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}

				toolCounter++
				toolCalls = append(toolCalls, model.BackendToolCall{
					ID:   fmt.Sprintf("toolu_vertex_%d", toolCounter),
					Type: "function",
					Function: model.BackendToolCallFunction{
						Name: part.FunctionCall.Name, Arguments: string(args),
					},
				})
			}
		}
	}

	content, _ := json.Marshal(strings.Join(textParts, ""))

	out.Choices = []model.BackendChoice{{
		FinishReason: geminiFinishToOpenAI(candidate.FinishReason),
		Message:      model.BackendMessage{Role: "assistant", Content: content, ToolCalls: toolCalls},
	}}

	if resp.UsageMetadata != nil {
		out.Usage = &model.BackendUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.PromptTokenCount + resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	return out
}

// reshapeGeminiLine rewrites one line of a Vertex streamGenerateContent SSE
// body (already OpenAI-shape-incompatible Gemini JSON) into an OpenAI-shape
// "data: {...}" line, so it can re-enter the shared streaming translator
// (C5) untouched (spec §9 Open Question (a)).
func reshapeGeminiLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "data:") {
		return line
	}

	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if payload == "" || payload == "[DONE]" {
		return line
	}

	var chunk geminiResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return line
	}

	if len(chunk.Candidates) == 0 {
		return "data: {}"
	}

	candidate := chunk.Candidates[0]

	delta := map[string]any{}

	var textParts []string

	var toolCalls []any

	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}

			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}

				toolCalls = append(toolCalls, map[string]any{
					"index": i,
					"id":    fmt.Sprintf("toolu_vertex_%d", i),
					"type":  "function",
					"function": map[string]any{
						"name": part.FunctionCall.Name, "arguments": string(args),
					},
				})
			}
		}
	}

	if len(textParts) > 0 {
		delta["content"] = strings.Join(textParts, "")
	}

	if len(toolCalls) > 0 {
		delta["tool_calls"] = toolCalls
	}

	openaiChunk := map[string]any{
		"choices": []any{map[string]any{"index": 0, "delta": delta}},
	}

	if candidate.FinishReason != "" {
		openaiChunk["choices"].([]any)[0].(map[string]any)["finish_reason"] = geminiFinishToOpenAI(candidate.FinishReason)
	}

	if chunk.UsageMetadata != nil {
		openaiChunk["usage"] = map[string]any{
			"prompt_tokens":     chunk.UsageMetadata.PromptTokenCount,
			"completion_tokens": chunk.UsageMetadata.CandidatesTokenCount,
		}
	}

	b, err := json.Marshal(openaiChunk)
	if err != nil {
		return line
	}

	return "data: " + string(b)
}
