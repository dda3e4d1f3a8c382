// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"net/http"
)

var anthropicEndpoint = "https://api.anthropic.com/v1/messages"

// Anthropic implements [Provider] for the Anthropic Messages API.
type Anthropic struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

// NewAnthropic creates an Anthropic provider bound to a single model.
// apiKey is sent on every request as the x-api-key header; it is never
// logged.
func NewAnthropic(httpClient *http.Client, apiKey, model string) *Anthropic {
	return &Anthropic{httpClient: httpClient, apiKey: apiKey, model: model}
}

func (backend *Anthropic) Name() string { return "anthropic" }

func (backend *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	wireRequest := anthropicRequest{
		Model:     backend.model,
		MaxTokens: request.MaxTokens,
		System:    request.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: request.Input},
		},
		Temperature: request.Temperature,
	}
	if wireRequest.Model == "" {
		wireRequest.Model = request.Model
	}

	headers := map[string]string{
		"x-api-key":         backend.apiKey,
		"anthropic-version": "2023-06-01",
	}

	httpResponse, err := doProviderRequest(ctx, backend.httpClient, http.MethodPost,
		anthropicEndpoint, wireRequest, headers, "provider/anthropic")
	if err != nil {
		return nil, err
	}

	return decodeResponse[anthropicResponse](httpResponse, "provider/anthropic")
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (wire *anthropicResponse) toResponse() *Response {
	var text string
	for _, block := range wire.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &Response{
		Text:       text,
		Model:      wire.Model,
		StopReason: mapAnthropicStopReason(wire.StopReason),
		Usage: Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}
}

func mapAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopReasonEndTurn
	case "max_tokens":
		return StopReasonMaxTokens
	default:
		return StopReasonOther
	}
}
