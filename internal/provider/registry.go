// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import "fmt"

// ErrNoProviderConfigured is returned by [Registry.Select] when no
// backend has credentials configured.
var ErrNoProviderConfigured = fmt.Errorf("provider: no LLM provider configured")

// Registry holds the set of backends the gateway was configured with
// and selects among them in a fixed preference order.
//
// Preference order is Google, then OpenAI, then Anthropic, matching
// the original service's _ensure_provider: Gemini is cheapest per
// token for the gateway's short extraction tasks, OpenAI is the
// fallback with the widest availability, and Anthropic is the last
// resort. Order is fixed rather than configurable — the gateway does
// not do cost-based routing.
type Registry struct {
	google    Provider
	openai    Provider
	anthropic Provider
}

// NewRegistry builds a Registry from whichever backends are non-nil.
// Callers construct backends only for the providers they have API keys
// for; a nil argument means that backend is unavailable.
func NewRegistry(google, openai, anthropic Provider) *Registry {
	return &Registry{google: google, openai: openai, anthropic: anthropic}
}

// Select returns the highest-preference configured backend.
func (registry *Registry) Select() (Provider, error) {
	for _, candidate := range []Provider{registry.google, registry.openai, registry.anthropic} {
		if candidate != nil {
			return candidate, nil
		}
	}
	return nil, ErrNoProviderConfigured
}
