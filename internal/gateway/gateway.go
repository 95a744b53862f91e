// Package gateway implements C7, the orchestrator that sits between the
// HTTP surface and the C3/C4/C5 translators and C6 provider port. Grounded
// on the Rust api/endpoints.rs handlers and the teacher's
// internal/handlers/proxy.go ServeHTTP idiom.
package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/claude-gateway-go/internal/config"
	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/provider"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// Gateway owns the single active Provider and dispatches every /v1/messages
// request through C3 (request translation), the provider call, and C4/C5
// (response translation), mirroring the Rust AppState/create_message split.
type Gateway struct {
	config   *config.Manager
	provider provider.Provider
	logger   *slog.Logger
}

func New(cfg *config.Manager, p provider.Provider, logger *slog.Logger) *Gateway {
	return &Gateway{config: cfg, provider: p, logger: logger}
}

func (g *Gateway) modelTargets() model.ModelTargets {
	m := g.config.Get().Models

	return model.ModelTargets{Big: m.BigModel, Middle: m.MiddleModel, Small: m.SmallModel}
}

func (g *Gateway) limits() translate.Limits {
	r := g.config.Get().Request

	return translate.Limits{MinTokens: r.MinTokensLimit, MaxTokens: r.MaxTokensLimit}
}

func (g *Gateway) clientAPIKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return ""
}

func (g *Gateway) authorize(w http.ResponseWriter, r *http.Request) bool {
	cfg := g.config.Get()

	if cfg.ValidateClientAPIKey(g.clientAPIKey(r)) {
		return true
	}

	g.logger.Warn("rejected request with invalid client API key", "remote_addr", r.RemoteAddr)
	g.writeError(w, http.StatusUnauthorized, "invalid API key")

	return false
}

// ServeMessages handles POST /v1/messages (spec §6).
func (g *Gateway) ServeMessages(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var claudeReq model.ClaudeRequest
	if err := json.Unmarshal(body, &claudeReq); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	requestID := uuid.NewString()

	g.truncateMessages(&claudeReq)

	backendReq := translate.ToBackendRequest(&claudeReq, g.modelTargets(), g.limits())

	g.logger.Info("incoming message request",
		"request_id", requestID, "model", claudeReq.Model, "stream", claudeReq.Stream, "messages", len(claudeReq.Messages))

	if claudeReq.Stream {
		g.serveStreaming(w, r, &backendReq, claudeReq.Model, requestID)
		return
	}

	g.serveUnary(w, r, &backendReq, claudeReq.Model, requestID)
}

// truncateMessages drops the oldest messages beyond max_messages_limit,
// grounded on the Rust create_message truncation branch.
func (g *Gateway) truncateMessages(req *model.ClaudeRequest) {
	limit := g.config.Get().Request.MaxMessagesLimit
	if limit <= 0 || len(req.Messages) <= limit {
		return
	}

	original := len(req.Messages)
	req.Messages = req.Messages[original-limit:]

	g.logger.Warn("context truncated",
		"original_messages", original, "kept_messages", len(req.Messages), "removed", original-len(req.Messages))
}

func (g *Gateway) serveUnary(w http.ResponseWriter, r *http.Request, backendReq *model.BackendRequest, originalModel, requestID string) {
	resp, err := g.provider.Complete(r.Context(), backendReq, requestID)
	if err != nil {
		g.logger.Error("provider completion error", "request_id", requestID, "error", err)
		g.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	claudeResp := translate.ToClaudeResponse(resp, originalModel)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(claudeResp)
}

func (g *Gateway) serveStreaming(w http.ResponseWriter, r *http.Request, backendReq *model.BackendRequest, originalModel, requestID string) {
	lines, err := g.provider.Stream(r.Context(), backendReq, requestID)
	if err != nil {
		g.logger.Error("provider streaming error", "request_id", requestID, "error", err)
		g.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, http.StatusInternalServerError, "streaming not supported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames := translate.Run(r.Context(), g.logger, originalModel, lines)

	for frame := range frames {
		if _, err := w.Write(frame); err != nil {
			g.logger.Warn("client disconnected mid-stream", "request_id", requestID, "error", err)
			g.provider.Cancel(requestID)

			return
		}

		flusher.Flush()
	}
}

// ServeCountTokens handles POST /v1/messages/count_tokens (spec §4.7/§6).
func (g *Gateway) ServeCountTokens(w http.ResponseWriter, r *http.Request) {
	if !g.authorize(w, r) {
		return
	}

	var req model.ClaudeTokenCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	estimate := EstimateTokens(&req)

	logDiagnosticTokenCount(g.logger, req.Model, estimate*4, estimate)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"input_tokens": estimate})
}

// ServeRoot handles GET / (spec §6).
func (g *Gateway) ServeRoot(w http.ResponseWriter, r *http.Request) {
	cfg := g.config.Get()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message": "Claude-to-OpenAI gateway",
		"status":  "running",
		"config": map[string]any{
			"provider":                  cfg.Provider,
			"max_tokens_limit":          cfg.Request.MaxTokensLimit,
			"client_api_key_validation": cfg.AnthropicAPIKey != "",
			"big_model":                 cfg.Models.BigModel,
			"middle_model":              cfg.Models.MiddleModel,
			"small_model":               cfg.Models.SmallModel,
		},
		"endpoints": map[string]string{
			"messages":         "/v1/messages",
			"count_tokens":     "/v1/messages/count_tokens",
			"health":           "/health",
			"test_connection":  "/test-connection",
		},
	})
}

// ServeHealth handles GET /health (spec §6).
func (g *Gateway) ServeHealth(w http.ResponseWriter, r *http.Request) {
	cfg := g.config.Get()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":                    "healthy",
		"timestamp":                 time.Now().UTC().Format(time.RFC3339),
		"openai_api_configured":     cfg.OpenAI.APIKey != "",
		"api_key_valid":             cfg.ValidateAPIKey(),
		"client_api_key_validation": cfg.AnthropicAPIKey != "",
	})
}

// ServeTestConnection handles GET /test-connection (spec §6): it issues a
// tiny real completion against the small model to confirm connectivity.
func (g *Gateway) ServeTestConnection(w http.ResponseWriter, r *http.Request) {
	cfg := g.config.Get()

	maxTokens := uint(5)
	temp := 1.0

	testReq := &model.BackendRequest{
		Model:       cfg.Models.SmallModel,
		Messages:    []model.BackendMessage{{Role: "user", Content: json.RawMessage(`"Hello"`)}},
		MaxTokens:   maxTokens,
		Temperature: &temp,
	}

	resp, err := g.provider.Complete(r.Context(), testReq, "")

	w.Header().Set("Content-Type", "application/json")

	if err != nil {
		g.logger.Error("connectivity test failed", "error", err)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "failed",
			"message":   err.Error(),
			"provider":  g.provider.Name(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"suggestions": []string{
				"check your API key is valid",
				"verify your API key has the necessary permissions",
				"check if you have reached rate limits",
			},
		})

		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"status":      "success",
		"message":     "successfully connected to " + g.provider.Name(),
		"provider":    g.provider.Name(),
		"model_used":  cfg.Models.SmallModel,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"response_id": resp.ID,
	})
}

// writeError emits the standard Claude error envelope (spec §6/§7). Every
// provider failure surfaces as HTTP 500 here: the client-visible status
// code intentionally does not mirror the upstream failure's own status.
func (g *Gateway) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.NewClaudeError(message))
}
