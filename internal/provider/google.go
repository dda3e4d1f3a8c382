// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"fmt"
	"net/http"
)

// Google implements [Provider] for the Gemini generateContent API. The
// original inference service preferred Gemini first when multiple
// providers were configured — this backend exists so that ordering
// preference has a real implementation behind it, not just Anthropic
// and OpenAI.
type Google struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func NewGoogle(httpClient *http.Client, apiKey, model string) *Google {
	return &Google{httpClient: httpClient, apiKey: apiKey, model: model}
}

func (backend *Google) Name() string { return "google" }

func (backend *Google) Complete(ctx context.Context, request Request) (*Response, error) {
	model := backend.model
	if model == "" {
		model = request.Model
	}

	wireRequest := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: request.Input}}},
		},
	}
	if request.System != "" {
		wireRequest.SystemInstruction = &googleContent{
			Parts: []googlePart{{Text: request.System}},
		}
	}
	if request.MaxTokens > 0 {
		wireRequest.GenerationConfig = &googleGenerationConfig{
			MaxOutputTokens: request.MaxTokens,
			Temperature:     request.Temperature,
		}
	}

	endpoint := fmt.Sprintf(
		"https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent",
		model,
	)
	headers := map[string]string{"x-goog-api-key": backend.apiKey}

	httpResponse, err := doProviderRequest(ctx, backend.httpClient, http.MethodPost,
		endpoint, wireRequest, headers, "provider/google")
	if err != nil {
		return nil, err
	}

	response, err := decodeResponse[googleResponse](httpResponse, "provider/google")
	if err != nil {
		return nil, err
	}
	if response.Model == "" {
		response.Model = model
	}
	return response, nil
}

type googleRequest struct {
	Contents          []googleContent         `json:"contents"`
	SystemInstruction *googleContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type googleResponse struct {
	Candidates    []googleCandidate   `json:"candidates"`
	UsageMetadata googleUsageMetadata `json:"usageMetadata"`
	ModelVersion  string              `json:"modelVersion"`
}

type googleCandidate struct {
	Content      googleContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type googleUsageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
}

func (wire *googleResponse) toResponse() *Response {
	response := &Response{Model: wire.ModelVersion, StopReason: StopReasonOther}
	if len(wire.Candidates) > 0 {
		candidate := wire.Candidates[0]
		for _, part := range candidate.Content.Parts {
			response.Text += part.Text
		}
		response.StopReason = mapGoogleStopReason(candidate.FinishReason)
	}
	response.Usage = Usage{
		InputTokens:  wire.UsageMetadata.PromptTokenCount,
		OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
	}
	return response
}

func mapGoogleStopReason(reason string) StopReason {
	switch reason {
	case "STOP":
		return StopReasonEndTurn
	case "MAX_TOKENS":
		return StopReasonMaxTokens
	default:
		return StopReasonOther
	}
}
