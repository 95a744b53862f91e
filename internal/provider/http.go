package provider

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// newHTTPClient returns a connection-pooling client long-lived for the life
// of a provider instance (spec §5 "Resource lifecycle").
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// decodeBody transparently handles gzip/brotli-encoded backend responses,
// grounded on the teacher's proxy.go decompression branch.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		defer gz.Close()

		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	return io.ReadAll(reader)
}

// statusToKind implements spec §4.5's error-mapping table.
func statusToKind(vendor string, status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden && vendor == "vertexai":
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status == http.StatusNotFound && vendor == "vertexai":
		return KindBadRequest
	case status == http.StatusPaymentRequired && vendor == "openrouter":
		return KindBadRequest
	default:
		return KindAPIError
	}
}

// classifyMessage substring-matches well-known backend error strings and
// rewrites them into actionable operator messages (spec §4.5); the body is
// returned verbatim if nothing matches.
func classifyMessage(body string) string {
	switch {
	case strings.Contains(body, "unsupported_country_region_territory"):
		return "backend API is not available in your region; consider a different provider or a VPN"
	case strings.Contains(body, "invalid_api_key") || strings.Contains(body, "Incorrect API key"):
		return "invalid API key; double-check the configured credentials"
	case strings.Contains(body, "insufficient_quota") || strings.Contains(body, "billing"):
		return "billing issue: insufficient quota or an expired payment method"
	case strings.Contains(body, "rate_limit") || strings.Contains(body, "rate limit"):
		return "rate limit exceeded; slow down or upgrade your plan"
	case strings.Contains(body, "model_not_found") || strings.Contains(body, "does not exist"):
		return "the requested model was not found for this provider"
	default:
		return body
	}
}

// providerErrorFromResponse builds a typed Error from a non-2xx HTTP response.
func providerErrorFromResponse(vendor string, status int, rawBody []byte) error {
	message := classifyMessage(string(rawBody))

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(rawBody, &parsed); err == nil && parsed.Error.Message != "" {
		message = classifyMessage(parsed.Error.Message)
	}

	return &Error{Kind: statusToKind(vendor, status), Status: status, Message: message}
}

// translateTransportError maps context cancellation and other transport
// failures into the taxonomy's Cancelled/Unexpected kinds.
func translateTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &Error{Kind: KindCancelled, Message: "request cancelled by client"}
	}

	return &Error{Kind: KindUnexpected, Message: err.Error()}
}

// doComplete performs one non-streaming OpenAI-shape request/response cycle.
func doComplete(ctx context.Context, client *http.Client, vendor, url string, body []byte, applyHeaders func(*http.Request)) (*model.BackendResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	applyHeaders(httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, translateTransportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := decodeBody(resp)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerErrorFromResponse(vendor, resp.StatusCode, raw)
	}

	var backendResp model.BackendResponse
	if err := json.Unmarshal(raw, &backendResp); err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: fmt.Sprintf("decode backend response: %v", err)}
	}

	return &backendResp, nil
}

// doStream performs one streaming OpenAI-shape request and returns the raw
// response body split into lines (spec §4.5's streaming contract). reshape,
// if non-nil, rewrites each raw line before it reaches the translator (used
// by the Vertex adapter to convert Gemini-shape chunks into OpenAI-shape
// ones without teaching C5 about Vertex).
func doStream(ctx context.Context, client *http.Client, vendor, url string, body []byte, applyHeaders func(*http.Request), reshape func(string) string) (<-chan translate.Line, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	applyHeaders(httpReq)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, translateTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := decodeBody(resp)
		resp.Body.Close()

		return nil, providerErrorFromResponse(vendor, resp.StatusCode, raw)
	}

	lines := make(chan translate.Line, 16)

	go func() {
		defer close(lines)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			text := scanner.Text()
			if reshape != nil {
				text = reshape(text)
			}

			select {
			case lines <- translate.Line{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case lines <- translate.Line{Err: translateTransportError(ctx, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return lines, nil
}

// encodeStreamingRequest marshals req with stream=true and a default
// stream_options.include_usage, per spec §4.5's streaming contract.
func encodeStreamingRequest(req *model.BackendRequest) ([]byte, error) {
	clone := *req
	clone.Stream = true

	if clone.StreamOptions == nil {
		clone.StreamOptions = &model.StreamOptions{IncludeUsage: true}
	}

	return json.Marshal(clone)
}
