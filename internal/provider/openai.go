// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"net/http"
)

const openaiEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAI implements [Provider] for the OpenAI Chat Completions API.
// This is also the wire format used by Azure OpenAI, OpenRouter, and
// most self-hosted inference servers, but the gateway only ever
// targets api.openai.com: the endpoint is a constant and is not
// configurable.
type OpenAI struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func NewOpenAI(httpClient *http.Client, apiKey, model string) *OpenAI {
	return &OpenAI{httpClient: httpClient, apiKey: apiKey, model: model}
}

func (backend *OpenAI) Name() string { return "openai" }

func (backend *OpenAI) Complete(ctx context.Context, request Request) (*Response, error) {
	wireRequest := openaiRequest{
		Model:     backend.model,
		MaxTokens: request.MaxTokens,
		Messages: []openaiMessage{
			{Role: "system", Content: request.System},
			{Role: "user", Content: request.Input},
		},
		Temperature: request.Temperature,
	}
	if wireRequest.Model == "" {
		wireRequest.Model = request.Model
	}

	headers := map[string]string{
		"Authorization": "Bearer " + backend.apiKey,
	}

	httpResponse, err := doProviderRequest(ctx, backend.httpClient, http.MethodPost,
		openaiEndpoint, wireRequest, headers, "provider/openai")
	if err != nil {
		return nil, err
	}

	return decodeResponse[openaiResponse](httpResponse, "provider/openai")
}

type openaiRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_completion_tokens,omitempty"`
	Messages    []openaiMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (wire *openaiResponse) toResponse() *Response {
	response := &Response{Model: wire.Model, StopReason: StopReasonOther}
	if len(wire.Choices) > 0 {
		response.Text = wire.Choices[0].Message.Content
		response.StopReason = mapOpenAIStopReason(wire.Choices[0].FinishReason)
	}
	response.Usage = Usage{
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}
	return response
}

func mapOpenAIStopReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopReasonEndTurn
	case "length":
		return StopReasonMaxTokens
	default:
		return StopReasonOther
	}
}
