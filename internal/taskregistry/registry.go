// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package taskregistry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SamplingParams are the fixed generation parameters applied to every
// task, per spec §4.5. No task or caller may override them.
type SamplingParams struct {
	MaxTokens   int
	Temperature float64
}

// FixedSampling is the one sampling configuration used across every
// task dispatch.
var FixedSampling = SamplingParams{MaxTokens: 1024, Temperature: 0.3}

// Descriptor is a statically registered analysis: its prompts and how
// to parse a model's raw text response into a Result.
type Descriptor struct {
	Tag Tag

	// systemPrompt renders the system prompt for a dispatch. Most
	// tasks return a fixed string; CaptureMetadata injects the current
	// time.
	systemPrompt func(now time.Time) string

	// userPrompt wraps the decrypted plaintext into the user turn.
	userPrompt func(plaintext string) string

	// parse decodes a fence-stripped JSON response body into a Result.
	parse func(body []byte) (Result, error)
}

// Registry is the closed, statically initialized table of supported
// tasks. There is no dynamic registration API — grounded on the
// teacher's enum-to-behavior dispatch tables in lib/schema, which are
// built once at init and never mutated.
type Registry struct {
	descriptors map[Tag]Descriptor
}

// ErrUnknownTask is returned by Lookup for a tag outside the closed
// set.
var ErrUnknownTask = fmt.Errorf("taskregistry: unknown task")

// ErrMalformedOutput is returned by Parse when the model's response
// cannot be decoded into the task's result shape, or fails a
// normative validation rule.
var ErrMalformedOutput = fmt.Errorf("taskregistry: malformed model output")

// New builds the registry with the three spec-defined core tasks plus
// the supplemental capture_metadata task.
func New() *Registry {
	descriptors := map[Tag]Descriptor{
		MemoryDistillation: memoryDistillationDescriptor(),
		Tagging:            taggingDescriptor(),
		InsightExtraction:  insightExtractionDescriptor(),
		CaptureMetadata:    captureMetadataDescriptor(),
	}
	return &Registry{descriptors: descriptors}
}

// Lookup resolves a task tag to its descriptor.
func (registry *Registry) Lookup(tag Tag) (Descriptor, error) {
	descriptor, ok := registry.descriptors[tag]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownTask, tag)
	}
	return descriptor, nil
}

// Format renders the system and user prompt text for a dispatch of
// descriptor against plaintext, evaluated at now.
func (registry *Registry) Format(descriptor Descriptor, plaintext string, now time.Time) (system, user string) {
	return descriptor.systemPrompt(now), descriptor.userPrompt(plaintext)
}

// Parse strips the model's optional Markdown code fence and decodes
// the remaining JSON body into a Result, applying the descriptor's
// normative validation rules. Any failure returns ErrMalformedOutput
// wrapped with context — the caller (internal/orchestrator) maps this
// to the MalformedOutput error kind and never surfaces the raw
// model text.
func (registry *Registry) Parse(descriptor Descriptor, modelOutput string) (Result, error) {
	stripped := stripCodeFence(modelOutput)
	result, err := descriptor.parse([]byte(stripped))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return result, nil
}

// stripCodeFence removes a leading/trailing Markdown code fence,
// mirroring original_source/app/inference/tasks.py's _call_llm: a
// "```json" prefix is stripped first, falling back to a bare "```"
// prefix, then any trailing "```" is stripped, and the remainder is
// trimmed of surrounding whitespace.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, "```json"):
		trimmed = trimmed[len("```json"):]
	case strings.HasPrefix(trimmed, "```"):
		trimmed = trimmed[len("```"):]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func validateConfidence(confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", confidence)
	}
	return nil
}

func memoryDistillationDescriptor() Descriptor {
	const system = `You are analyzing a private journal entry to extract durable memories worth remembering long-term.

Extract discrete memories from the entry below. Each memory must have:
- "kind": one of "commitment", "fact", "insight", "pattern", "preference"
- "content": a single, self-contained sentence describing the memory
- "confidence": your confidence in this extraction, from 0.0 to 1.0

Return strictly the following JSON shape and nothing else:
{"memories": [{"kind": "...", "content": "...", "confidence": 0.0}], "confidence": 0.0}

If the entry contains no memories worth keeping, return {"memories": [], "confidence": 1.0}.`

	return Descriptor{
		Tag:          MemoryDistillation,
		systemPrompt: fixedPrompt(system),
		userPrompt:   wrapEntry,
		parse: func(body []byte) (Result, error) {
			var payload MemoryDistillationResult
			if err := json.Unmarshal(body, &payload); err != nil {
				return Result{}, err
			}
			if err := validateConfidence(payload.Confidence); err != nil {
				return Result{}, err
			}
			for index, memory := range payload.Memories {
				if !memory.Kind.valid() {
					return Result{}, fmt.Errorf("memories[%d]: invalid kind %q", index, memory.Kind)
				}
				if strings.TrimSpace(memory.Content) == "" {
					return Result{}, fmt.Errorf("memories[%d]: empty content", index)
				}
				if err := validateConfidence(memory.Confidence); err != nil {
					return Result{}, fmt.Errorf("memories[%d]: %w", index, err)
				}
			}
			return Result{Kind: MemoryDistillation, MemoryDistillation: &payload}, nil
		},
	}
}

func taggingDescriptor() Descriptor {
	const system = `You are analyzing a private journal entry to suggest organizational tags.

Suggest concise, lowercase, single-or-hyphenated-word tags that capture the entry's topics, people, and themes. Each tag must have:
- "tag": a short lowercase label (use hyphens for multi-word tags, e.g. "career-change")
- "confidence": your confidence in this tag's relevance, from 0.0 to 1.0

Return strictly the following JSON shape and nothing else:
{"tags": [{"tag": "...", "confidence": 0.0}], "confidence": 0.0}

If no tags apply, return {"tags": [], "confidence": 1.0}.`

	return Descriptor{
		Tag:          Tagging,
		systemPrompt: fixedPrompt(system),
		userPrompt:   wrapEntry,
		parse: func(body []byte) (Result, error) {
			var payload TaggingResult
			if err := json.Unmarshal(body, &payload); err != nil {
				return Result{}, err
			}
			if err := validateConfidence(payload.Confidence); err != nil {
				return Result{}, err
			}
			for index, entry := range payload.Tags {
				if strings.TrimSpace(entry.Tag) == "" {
					return Result{}, fmt.Errorf("tags[%d]: empty tag", index)
				}
				if entry.Tag != strings.ToLower(entry.Tag) {
					return Result{}, fmt.Errorf("tags[%d]: tag %q not lowercase", index, entry.Tag)
				}
				if err := validateConfidence(entry.Confidence); err != nil {
					return Result{}, fmt.Errorf("tags[%d]: %w", index, err)
				}
			}
			return Result{Kind: Tagging, Tagging: &payload}, nil
		},
	}
}

func insightExtractionDescriptor() Descriptor {
	const system = `You are analyzing a private journal entry to surface higher-level insights about the writer's life, thinking, or behavior.

Extract insights as complete, self-contained sentences. An insight goes beyond restating what happened -- it names a pattern, tension, or realization implicit in the entry.

Return strictly the following JSON shape and nothing else:
{"insights": ["..."], "confidence": 0.0}

If the entry yields no insight, return {"insights": [], "confidence": 1.0}.`

	return Descriptor{
		Tag:          InsightExtraction,
		systemPrompt: fixedPrompt(system),
		userPrompt:   wrapEntry,
		parse: func(body []byte) (Result, error) {
			var payload InsightExtractionResult
			if err := json.Unmarshal(body, &payload); err != nil {
				return Result{}, err
			}
			if err := validateConfidence(payload.Confidence); err != nil {
				return Result{}, err
			}
			for index, insight := range payload.Insights {
				if strings.TrimSpace(insight) == "" {
					return Result{}, fmt.Errorf("insights[%d]: empty insight", index)
				}
			}
			return Result{Kind: InsightExtraction, InsightExtraction: &payload}, nil
		},
	}
}

func captureMetadataDescriptor() Descriptor {
	const systemTemplate = `You are classifying a single private journal capture as it is written, to help route it correctly.

The current time is %s (%s), for resolving relative time references like "tomorrow" or "next week".

Classify the capture's primary intent as one of: "question", "reminder", "task", "note", "reflection", "quote", "idea".

Return strictly the following JSON shape and nothing else:
{
  "intent": "...",
  "extractedQuestion": null,
  "extractedTask": null,
  "inferredReminderTime": null,
  "extractedEntities": [],
  "suggestedTags": [],
  "confidence": 0.0,
  "requiresResponse": false
}

Populate "extractedQuestion" only when intent is "question", "extractedTask" only when intent is "task", and "inferredReminderTime" (an ISO-8601 timestamp) only when intent is "reminder" and a time can be resolved. Leave the others null.`

	return Descriptor{
		Tag: CaptureMetadata,
		systemPrompt: func(now time.Time) string {
			utc := now.UTC()
			return fmt.Sprintf(systemTemplate, utc.Format(time.RFC3339), utc.Weekday().String())
		},
		userPrompt: wrapEntry,
		parse: func(body []byte) (Result, error) {
			var payload CaptureMetadataResult
			if err := json.Unmarshal(body, &payload); err != nil {
				return Result{}, err
			}
			if !payload.Intent.valid() {
				return Result{}, fmt.Errorf("invalid intent %q", payload.Intent)
			}
			if err := validateConfidence(payload.Confidence); err != nil {
				return Result{}, err
			}
			return Result{Kind: CaptureMetadata, CaptureMetadata: &payload}, nil
		},
	}
}

// CanonicalJSON re-serializes result's populated payload, discarding
// any incidental formatting (whitespace, key order, code fences) the
// model's raw output carried. This is the byte sequence
// internal/orchestrator seals and returns to the client.
func (result Result) CanonicalJSON() ([]byte, error) {
	switch result.Kind {
	case MemoryDistillation:
		return json.Marshal(result.MemoryDistillation)
	case Tagging:
		return json.Marshal(result.Tagging)
	case InsightExtraction:
		return json.Marshal(result.InsightExtraction)
	case CaptureMetadata:
		return json.Marshal(result.CaptureMetadata)
	default:
		return nil, fmt.Errorf("taskregistry: cannot serialize result of unknown kind %q", result.Kind)
	}
}

func fixedPrompt(text string) func(time.Time) string {
	return func(time.Time) string { return text }
}

func wrapEntry(plaintext string) string {
	return fmt.Sprintf("Journal entry:\n\n%s", plaintext)
}
