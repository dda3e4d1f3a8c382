// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider implements the ProviderGateway: a uniform interface
// over the handful of LLM backends the inference gateway is willing to
// call on a journal entry's behalf.
//
// Every backend speaks the same shape: a system prompt plus a block of
// plaintext in, a single blocking text response out. There is no
// streaming and no tool use — each task in internal/taskregistry
// consumes a complete response before returning it to the orchestrator
// for re-encryption, so partial results have no caller.
//
// Adapted from lib/llm/provider.go, narrowed from that package's full
// streaming-and-tool-use surface to the gateway's single Complete
// operation.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Request is a single completion request sent to a backend.
type Request struct {
	// Model is the backend-specific model identifier, e.g.
	// "claude-sonnet-4-5" or "gpt-4o-mini".
	Model string

	// System is the task's system prompt. Never contains user
	// plaintext — only the fixed instruction text for the task kind.
	System string

	// Input is the decrypted journal plaintext (plus any task-specific
	// framing) that forms the sole user turn.
	Input string

	// MaxTokens bounds the response length.
	MaxTokens int

	// Temperature is optional; nil means use the backend's default.
	Temperature *float64
}

// Response is a backend's completed answer.
type Response struct {
	// Text is the model's complete text output.
	Text string

	// Model is the model identifier the backend actually served,
	// which may differ from Request.Model for aliased model names.
	Model string

	// StopReason classifies why generation stopped.
	StopReason StopReason

	// Usage reports token accounting for cost and quota diagnostics.
	Usage Usage
}

// StopReason classifies why a backend stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonOther     StopReason = "other"
)

// Usage reports token counts for a single completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Provider is the interface every LLM backend implements. Unlike
// lib/llm's teacher-shape interface, there is no Stream method — the
// gateway's tasks are all single-shot.
type Provider interface {
	// Name identifies the backend for logging and the provider-info
	// endpoint, e.g. "anthropic", "openai", "google".
	Name() string

	// Complete sends a request and blocks until the full response is
	// available.
	Complete(ctx context.Context, request Request) (*Response, error)
}

// ProviderError is returned when a backend responds with an error, or
// when the transport itself fails.
type ProviderError struct {
	// StatusCode is the HTTP status code, or 0 for a transport-level
	// failure that never reached the backend (DNS, dial, timeout).
	StatusCode int

	// Type is the backend-specific error type string, when the backend
	// supplies one (e.g. "invalid_request_error", "rate_limit_error").
	Type string

	// Message is the human-readable error description.
	Message string

	// Cause is the underlying transport error, if any.
	Cause error
}

func (err *ProviderError) Error() string {
	if err.StatusCode == 0 {
		return fmt.Sprintf("provider: transport error: %v", err.Cause)
	}
	if err.Type != "" {
		return fmt.Sprintf("provider: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("provider: HTTP %d: %s", err.StatusCode, err.Message)
}

func (err *ProviderError) Unwrap() error { return err.Cause }

// IsRateLimited reports whether the backend is throttling the caller.
func (err *ProviderError) IsRateLimited() bool { return err.StatusCode == 429 }

// IsOverloaded reports whether the backend is temporarily out of
// capacity, distinct from a hard rate limit.
func (err *ProviderError) IsOverloaded() bool {
	return err.StatusCode == 529 || err.StatusCode == 503
}

// IsUnauthorized reports whether the configured credential was
// rejected.
func (err *ProviderError) IsUnauthorized() bool {
	return err.StatusCode == 401 || err.StatusCode == 403
}

// IsBadRequest reports whether the request itself was malformed —
// never retryable without changing the request.
func (err *ProviderError) IsBadRequest() bool { return err.StatusCode == 400 }

// IsTransport reports whether the request never reached the backend at
// all — network failure, DNS, TLS, or context cancellation.
func (err *ProviderError) IsTransport() bool { return err.StatusCode == 0 }

// doProviderRequest marshals wireRequest as JSON, sends it to endpoint
// via httpClient with the given headers, and returns the HTTP response.
// Returns a *ProviderError for non-200 status codes and for transport
// failures. On success the caller must close the response body.
func doProviderRequest(ctx context.Context, httpClient *http.Client, method, endpoint string, wireRequest any, headers map[string]string, prefix string) (*http.Response, error) {
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling request: %w", prefix, err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", prefix, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		httpRequest.Header.Set(key, value)
	}

	httpResponse, err := httpClient.Do(httpRequest)
	if err != nil {
		return nil, &ProviderError{Cause: fmt.Errorf("%s: sending request: %w", prefix, err)}
	}

	if httpResponse.StatusCode != http.StatusOK {
		defer httpResponse.Body.Close()
		return nil, readProviderError(httpResponse)
	}

	return httpResponse, nil
}

// wireResponse is implemented by pointer-to-struct types that convert
// themselves from a backend's JSON wire format to the common Response.
type wireResponse[T any] interface {
	*T
	toResponse() *Response
}

// decodeResponse reads an HTTP response body as JSON into a
// backend-specific wire type and converts it to the common Response.
// The body is closed when this function returns.
func decodeResponse[T any, P wireResponse[T]](httpResponse *http.Response, prefix string) (*Response, error) {
	defer httpResponse.Body.Close()

	wireResp := P(new(T))
	if err := json.NewDecoder(httpResponse.Body).Decode(wireResp); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", prefix, err)
	}

	return wireResp.toResponse(), nil
}

// readProviderError parses an error body in the common shape used by
// Anthropic, OpenAI, and compatible APIs:
// {"error":{"type":"...","message":"..."}}. Fields not in this shape
// (Google's error envelope differs) fall back to raw body text.
func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		errorType := wireError.Error.Type
		if errorType == "" {
			errorType = wireError.Error.Status
		}
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       errorType,
			Message:    wireError.Error.Message,
		}
	}

	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    string(body),
	}
}
