// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package taskregistry

import (
	"strings"
	"testing"
	"time"
)

func TestLookupUnknownTask(t *testing.T) {
	registry := New()
	if _, err := registry.Lookup("not_a_real_task"); err == nil {
		t.Fatal("Lookup(unknown) = nil error, want ErrUnknownTask")
	}
}

func TestLookupKnownTasks(t *testing.T) {
	registry := New()
	for _, tag := range []Tag{MemoryDistillation, Tagging, InsightExtraction, CaptureMetadata} {
		if _, err := registry.Lookup(tag); err != nil {
			t.Errorf("Lookup(%q): %v", tag, err)
		}
	}
}

func TestFormatIncludesPlaintext(t *testing.T) {
	registry := New()
	descriptor, err := registry.Lookup(Tagging)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	system, user := registry.Format(descriptor, "I went for a run today.", time.Now())
	if !strings.Contains(user, "I went for a run today.") {
		t.Errorf("user prompt missing plaintext: %q", user)
	}
	if strings.Contains(system, "I went for a run today.") {
		t.Error("system prompt must never contain caller plaintext")
	}
}

func TestCaptureMetadataSystemPromptInjectsTime(t *testing.T) {
	registry := New()
	descriptor, err := registry.Lookup(CaptureMetadata)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	system, _ := registry.Format(descriptor, "remind me to call mom", now)
	if !strings.Contains(system, "2026-03-05T14:30:00Z") {
		t.Errorf("system prompt missing injected timestamp: %q", system)
	}
	if !strings.Contains(system, "Thursday") {
		t.Errorf("system prompt missing injected weekday: %q", system)
	}
}

func TestParseStripsJSONFence(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(InsightExtraction)

	raw := "```json\n{\"insights\": [\"the writer avoids conflict\"], \"confidence\": 0.8}\n```"
	result, err := registry.Parse(descriptor, raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.InsightExtraction.Insights) != 1 {
		t.Fatalf("Insights = %v, want 1 entry", result.InsightExtraction.Insights)
	}
}

func TestParseStripsBareFence(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(InsightExtraction)

	raw := "```\n{\"insights\": [], \"confidence\": 1.0}\n```"
	if _, err := registry.Parse(descriptor, raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseNoFenceStillWorks(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(InsightExtraction)

	raw := `{"insights": [], "confidence": 1.0}`
	if _, err := registry.Parse(descriptor, raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseMemoryDistillationValid(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(MemoryDistillation)

	raw := `{"memories": [{"kind": "commitment", "content": "call Ada tomorrow", "confidence": 0.9}], "confidence": 0.9}`
	result, err := registry.Parse(descriptor, raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Kind != MemoryDistillation {
		t.Errorf("Kind = %q, want %q", result.Kind, MemoryDistillation)
	}
	if len(result.MemoryDistillation.Memories) != 1 {
		t.Fatalf("Memories = %v, want 1 entry", result.MemoryDistillation.Memories)
	}
}

func TestParseMemoryDistillationRejectsInvalidKind(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(MemoryDistillation)

	raw := `{"memories": [{"kind": "opinion", "content": "x", "confidence": 0.5}], "confidence": 0.5}`
	if _, err := registry.Parse(descriptor, raw); err == nil {
		t.Fatal("Parse() = nil error, want rejection of invalid kind")
	}
}

func TestParseMemoryDistillationRejectsEmptyContent(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(MemoryDistillation)

	raw := `{"memories": [{"kind": "fact", "content": "  ", "confidence": 0.5}], "confidence": 0.5}`
	if _, err := registry.Parse(descriptor, raw); err == nil {
		t.Fatal("Parse() = nil error, want rejection of empty content")
	}
}

func TestParseMemoryDistillationRejectsOutOfRangeConfidence(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(MemoryDistillation)

	raw := `{"memories": [], "confidence": 1.5}`
	if _, err := registry.Parse(descriptor, raw); err == nil {
		t.Fatal("Parse() = nil error, want rejection of confidence > 1")
	}
}

func TestParseTaggingRejectsUppercaseTag(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(Tagging)

	raw := `{"tags": [{"tag": "Career", "confidence": 0.7}], "confidence": 0.7}`
	if _, err := registry.Parse(descriptor, raw); err == nil {
		t.Fatal("Parse() = nil error, want rejection of non-lowercase tag")
	}
}

func TestParseTaggingAcceptsHyphenatedLowercaseTag(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(Tagging)

	raw := `{"tags": [{"tag": "career-change", "confidence": 0.7}], "confidence": 0.7}`
	result, err := registry.Parse(descriptor, raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Tagging.Tags[0].Tag != "career-change" {
		t.Errorf("Tag = %q, want %q", result.Tagging.Tags[0].Tag, "career-change")
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(InsightExtraction)

	if _, err := registry.Parse(descriptor, "not json at all"); err == nil {
		t.Fatal("Parse() = nil error, want rejection of non-JSON output")
	}
}

func TestParseCaptureMetadataRejectsInvalidIntent(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(CaptureMetadata)

	raw := `{"intent": "rant", "extractedQuestion": null, "extractedTask": null, "inferredReminderTime": null, "extractedEntities": [], "suggestedTags": [], "confidence": 0.5, "requiresResponse": false}`
	if _, err := registry.Parse(descriptor, raw); err == nil {
		t.Fatal("Parse() = nil error, want rejection of invalid intent")
	}
}

func TestParseCaptureMetadataValid(t *testing.T) {
	registry := New()
	descriptor, _ := registry.Lookup(CaptureMetadata)

	raw := `{"intent": "reminder", "extractedQuestion": null, "extractedTask": null, "inferredReminderTime": "2026-03-06T09:00:00Z", "extractedEntities": ["mom"], "suggestedTags": ["family"], "confidence": 0.85, "requiresResponse": true}`
	result, err := registry.Parse(descriptor, raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.CaptureMetadata.Intent != IntentReminder {
		t.Errorf("Intent = %q, want %q", result.CaptureMetadata.Intent, IntentReminder)
	}
	if result.CaptureMetadata.InferredReminderTime == nil || *result.CaptureMetadata.InferredReminderTime != "2026-03-06T09:00:00Z" {
		t.Errorf("InferredReminderTime = %v, want set", result.CaptureMetadata.InferredReminderTime)
	}
}

func TestFixedSamplingParams(t *testing.T) {
	if FixedSampling.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", FixedSampling.MaxTokens)
	}
	if FixedSampling.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", FixedSampling.Temperature)
	}
}
