// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskregistry statically defines the set of supported
// journal analyses and isolates prompt engineering from the core
// orchestration pipeline.
//
// Grounded on the teacher's static-table dispatch style
// (lib/schema/events_machine.go's enum-to-behavior tables) for lookup,
// and on original_source/app/inference/tasks.py for the prompt copy
// and schema shapes — adapted to spec's normative field names (e.g.
// "kind" rather than the original's "type" for memory entries) and to
// strict-fail validation rather than the original's fall-back-to-empty
// leniency, per spec §4.4.
package taskregistry

// Tag identifies a supported analysis. The set is closed and
// registered once at process start.
type Tag string

const (
	MemoryDistillation Tag = "memory_distillation"
	Tagging            Tag = "tagging"
	InsightExtraction  Tag = "insight_extraction"

	// CaptureMetadata is a supplemental task carried over from
	// original_source/app/inference/tasks.py's _capture_metadata,
	// exercising the "extensible" clause in the TaskDescriptor
	// definition. Not in spec.md's original three; not excluded by
	// any Non-goal either.
	CaptureMetadata Tag = "capture_metadata"
)

// MemoryKind enumerates the allowed values for a distilled memory's
// kind field.
type MemoryKind string

const (
	MemoryCommitment MemoryKind = "commitment"
	MemoryFact       MemoryKind = "fact"
	MemoryInsight    MemoryKind = "insight"
	MemoryPattern    MemoryKind = "pattern"
	MemoryPreference MemoryKind = "preference"
)

func (kind MemoryKind) valid() bool {
	switch kind {
	case MemoryCommitment, MemoryFact, MemoryInsight, MemoryPattern, MemoryPreference:
		return true
	default:
		return false
	}
}

// Memory is one extracted memory.
type Memory struct {
	Kind       MemoryKind `json:"kind"`
	Content    string     `json:"content"`
	Confidence float64    `json:"confidence"`
}

// MemoryDistillationResult is the TaskResult payload for
// MemoryDistillation.
type MemoryDistillationResult struct {
	Memories   []Memory `json:"memories"`
	Confidence float64  `json:"confidence"`
}

// TagEntry is one extracted tag.
type TagEntry struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

// TaggingResult is the TaskResult payload for Tagging.
type TaggingResult struct {
	Tags       []TagEntry `json:"tags"`
	Confidence float64    `json:"confidence"`
}

// InsightExtractionResult is the TaskResult payload for
// InsightExtraction.
type InsightExtractionResult struct {
	Insights   []string `json:"insights"`
	Confidence float64  `json:"confidence"`
}

// CaptureIntent enumerates the primary intent classification for the
// capture_metadata task.
type CaptureIntent string

const (
	IntentQuestion   CaptureIntent = "question"
	IntentReminder   CaptureIntent = "reminder"
	IntentTask       CaptureIntent = "task"
	IntentNote       CaptureIntent = "note"
	IntentReflection CaptureIntent = "reflection"
	IntentQuote      CaptureIntent = "quote"
	IntentIdea       CaptureIntent = "idea"
)

func (intent CaptureIntent) valid() bool {
	switch intent {
	case IntentQuestion, IntentReminder, IntentTask, IntentNote, IntentReflection, IntentQuote, IntentIdea:
		return true
	default:
		return false
	}
}

// CaptureMetadataResult is the TaskResult payload for CaptureMetadata,
// mirroring the client-side capture-metadata schema field names
// (camelCase) from original_source so a client written against the
// original service's wire shape needs no translation layer.
type CaptureMetadataResult struct {
	Intent               CaptureIntent `json:"intent"`
	ExtractedQuestion    *string       `json:"extractedQuestion"`
	ExtractedTask        *string       `json:"extractedTask"`
	InferredReminderTime *string       `json:"inferredReminderTime"`
	ExtractedEntities    []string      `json:"extractedEntities"`
	SuggestedTags        []string      `json:"suggestedTags"`
	Confidence           float64       `json:"confidence"`
	RequiresResponse     bool          `json:"requiresResponse"`
}

// Result is the TaskResult sum type: exactly one of the payload
// fields is populated, selected by Kind. Modeled as a
// discriminator-plus-payload struct rather than an interface, matching
// the teacher's discriminated-union style in lib/schema.
type Result struct {
	Kind Tag

	MemoryDistillation *MemoryDistillationResult
	Tagging            *TaggingResult
	InsightExtraction  *InsightExtractionResult
	CaptureMetadata    *CaptureMetadataResult
}
