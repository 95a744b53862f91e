package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-gateway-go/internal/config"
	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// fakeProvider is a test double implementing provider.Provider without any
// network calls.
type fakeProvider struct {
	name         string
	completeResp *model.BackendResponse
	completeErr  error
	streamLines  []translate.Line
	streamErr    error
	cancelled    []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, _ *model.BackendRequest, _ string) (*model.BackendResponse, error) {
	return f.completeResp, f.completeErr
}

func (f *fakeProvider) Stream(_ context.Context, _ *model.BackendRequest, _ string) (<-chan translate.Line, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}

	out := make(chan translate.Line, len(f.streamLines))
	for _, l := range f.streamLines {
		out <- l
	}
	close(out)

	return out, nil
}

func (f *fakeProvider) Cancel(requestID string) bool {
	f.cancelled = append(f.cancelled, requestID)
	return true
}

func testManager(t *testing.T, cfg *config.Config) *config.Manager {
	t.Helper()

	path := t.TempDir() + "/config.toml"
	mgr := config.NewManager(path)
	require.NoError(t, mgr.Save(cfg))

	return mgr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestServeMessages_Unary(t *testing.T) {
	fp := &fakeProvider{
		name: "fake",
		completeResp: &model.BackendResponse{
			ID:      "chatcmpl-1",
			Choices: []model.BackendChoice{{Message: model.BackendMessage{Role: "assistant", Content: json.RawMessage(`"hi"`)}, FinishReason: "stop"}},
		},
	}

	mgr := testManager(t, &config.Config{Models: config.ModelConfig{BigModel: "gpt-4o", MiddleModel: "gpt-4o", SmallModel: "gpt-4o-mini"}})
	gw := New(mgr, fp, testLogger())

	body := `{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	gw.ServeMessages(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var out model.ClaudeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "claude-3-5-sonnet-20241022", out.Model)
	assert.Equal(t, "end_turn", out.StopReason)
}

func TestServeMessages_RejectsInvalidAPIKey(t *testing.T) {
	mgr := testManager(t, &config.Config{AnthropicAPIKey: "expected-key"})
	gw := New(mgr, &fakeProvider{name: "fake"}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	req.Header.Set("x-api-key", "wrong-key")
	rec := httptest.NewRecorder()

	gw.ServeMessages(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeMessages_AcceptsCorrectAPIKey(t *testing.T) {
	fp := &fakeProvider{completeResp: &model.BackendResponse{Choices: []model.BackendChoice{{Message: model.BackendMessage{Content: json.RawMessage(`"ok"`)}, FinishReason: "stop"}}}}

	mgr := testManager(t, &config.Config{AnthropicAPIKey: "expected-key", Models: config.ModelConfig{BigModel: "gpt-4o"}})
	gw := New(mgr, fp, testLogger())

	body := `{"model":"claude-3-5-sonnet-20241022","max_tokens":50,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("x-api-key", "expected-key")
	rec := httptest.NewRecorder()

	gw.ServeMessages(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeMessages_TruncatesExcessMessages(t *testing.T) {
	var gotMessageCount int

	fp := &fakeCapturingProvider{
		onComplete: func(req *model.BackendRequest) {
			gotMessageCount = len(req.Messages)
		},
		resp: &model.BackendResponse{Choices: []model.BackendChoice{{Message: model.BackendMessage{Content: json.RawMessage(`"ok"`)}, FinishReason: "stop"}}},
	}

	mgr := testManager(t, &config.Config{
		Models:  config.ModelConfig{BigModel: "gpt-4o"},
		Request: config.RequestConfig{MaxMessagesLimit: 2},
	})
	gw := New(mgr, fp, testLogger())

	body := `{"model":"claude-3-5-sonnet-20241022","max_tokens":50,"messages":[
		{"role":"user","content":"one"},
		{"role":"assistant","content":"two"},
		{"role":"user","content":"three"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	gw.ServeMessages(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, gotMessageCount, "oldest message beyond the limit is dropped")
}

func TestServeMessages_Streaming(t *testing.T) {
	fp := &fakeProvider{
		streamLines: []translate.Line{
			{Text: `data: {"choices":[{"delta":{"content":"hi"}}]}`},
			{Text: `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`},
			{Text: "data: [DONE]"},
		},
	}

	mgr := testManager(t, &config.Config{Models: config.ModelConfig{BigModel: "gpt-4o"}})
	gw := New(mgr, fp, testLogger())

	body := `{"model":"claude-3-5-sonnet-20241022","max_tokens":50,"stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	gw.ServeMessages(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "message_start")
	assert.Contains(t, rec.Body.String(), "message_stop")
}

func TestServeCountTokens(t *testing.T) {
	mgr := testManager(t, &config.Config{})
	gw := New(mgr, &fakeProvider{}, testLogger())

	body := `{"model":"claude-3-5-sonnet-20241022","messages":[{"role":"user","content":"01234567"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	rec := httptest.NewRecorder()

	gw.ServeCountTokens(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 2, out["input_tokens"])
}

func TestServeHealth(t *testing.T) {
	mgr := testManager(t, &config.Config{Provider: "openai", OpenAI: config.OpenAIConfig{APIKey: "sk-test"}})
	gw := New(mgr, &fakeProvider{}, testLogger())

	rec := httptest.NewRecorder()
	gw.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, true, out["openai_api_configured"])
	assert.Equal(t, true, out["api_key_valid"])
}

func TestServeHealth_OpenAINotConfigured(t *testing.T) {
	mgr := testManager(t, &config.Config{Provider: "vertexai", VertexAI: config.VertexAIConfig{ProjectID: "p", AccessToken: "t"}})
	gw := New(mgr, &fakeProvider{}, testLogger())

	rec := httptest.NewRecorder()
	gw.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, false, out["openai_api_configured"])
}

func TestServeRoot(t *testing.T) {
	mgr := testManager(t, &config.Config{Provider: "openai"})
	gw := New(mgr, &fakeProvider{}, testLogger())

	rec := httptest.NewRecorder()
	gw.ServeRoot(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Claude-to-OpenAI gateway")
}

func TestServeTestConnection_Success(t *testing.T) {
	fp := &fakeProvider{name: "openai", completeResp: &model.BackendResponse{ID: "chatcmpl-9"}}
	mgr := testManager(t, &config.Config{Models: config.ModelConfig{SmallModel: "gpt-4o-mini"}})
	gw := New(mgr, fp, testLogger())

	rec := httptest.NewRecorder()
	gw.ServeTestConnection(rec, httptest.NewRequest(http.MethodGet, "/test-connection", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "success", out["status"])
}

func TestServeTestConnection_Failure(t *testing.T) {
	fp := &fakeProvider{name: "openai", completeErr: assertError("boom")}
	mgr := testManager(t, &config.Config{Models: config.ModelConfig{SmallModel: "gpt-4o-mini"}})
	gw := New(mgr, fp, testLogger())

	rec := httptest.NewRecorder()
	gw.ServeTestConnection(rec, httptest.NewRequest(http.MethodGet, "/test-connection", nil))

	assert.Equal(t, http.StatusOK, rec.Code, "failure is reported in the JSON body, not the HTTP status")

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "failed", out["status"])
}

type assertError string

func (e assertError) Error() string { return string(e) }

// fakeCapturingProvider records the BackendRequest it receives so tests can
// assert on post-translation shape (e.g. truncation) without duplicating
// fakeProvider's simpler fields.
type fakeCapturingProvider struct {
	onComplete func(*model.BackendRequest)
	resp       *model.BackendResponse
}

func (f *fakeCapturingProvider) Name() string { return "capturing" }

func (f *fakeCapturingProvider) Complete(_ context.Context, req *model.BackendRequest, _ string) (*model.BackendResponse, error) {
	if f.onComplete != nil {
		f.onComplete(req)
	}

	return f.resp, nil
}

func (f *fakeCapturingProvider) Stream(_ context.Context, _ *model.BackendRequest, _ string) (<-chan translate.Line, error) {
	out := make(chan translate.Line)
	close(out)

	return out, nil
}

func (f *fakeCapturingProvider) Cancel(string) bool { return false }
