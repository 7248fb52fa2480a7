// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generator turns an interpretation input snapshot into narrative
// sections by prompting the external completion service.
//
// The generator owns three things: the prompt contract (closed citation
// vocabulary, banded lexicon, tonality, strict JSON shape), the retry
// policy around the completion call, and the defensive parsing of the raw
// response. It does not judge content quality; that is the heuristics gate.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/pkg/retry"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/tonality"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/llm"
)

const (
	// generationTemperature keeps output close to the fact sheet.
	generationTemperature float32 = 0.4

	// maxCompletionTokens bounds one attempt's output budget.
	maxCompletionTokens = 2048
)

// Output is one successful generation attempt.
type Output struct {
	Sections []datatypes.GeneratedSection
	Model    string
	Usage    llm.TokenUsage
}

// Generator builds prompts and invokes the completion service.
type Generator struct {
	client      llm.CompletionClient
	retryConfig retry.Config
}

// New creates a Generator. Panics on nil client, fail-fast for wiring
// errors.
func New(client llm.CompletionClient) *Generator {
	if client == nil {
		panic("generator.New: client must not be nil")
	}
	return &Generator{
		client:      client,
		retryConfig: retry.DefaultConfig(),
	}
}

// NewWithRetryConfig creates a Generator with a custom retry policy,
// used by tests to avoid real backoff waits.
func NewWithRetryConfig(client llm.CompletionClient, cfg retry.Config) *Generator {
	g := New(client)
	g.retryConfig = cfg
	return g
}

// Generate runs one generation attempt: prompt, completion call behind
// bounded retry, defensive parse into the pillar's fixed section set.
//
// Transient completion failures (429/5xx-class, network) are retried with
// exponential backoff inside this call; other failures propagate
// immediately. A structurally invalid response (bad JSON, wrong section
// set) is a hard error for the attempt, never silently repaired.
func (g *Generator) Generate(ctx context.Context, input *datatypes.InterpretationInput, pillar *datatypes.PillarConfig, tone tonality.Tonality) (*Output, error) {
	system := buildSystemPrompt(pillar, tone)
	prompt := buildUserPrompt(input, pillar)

	params := llm.GenerationParams{}
	temp := generationTemperature
	maxTokens := maxCompletionTokens
	params.Temperature = &temp
	params.MaxTokens = &maxTokens

	var completion llm.Completion
	_, err := retry.Do(ctx, g.retryConfig, llm.IsRetryable, func(ctx context.Context, attempt int) error {
		var callErr error
		completion, callErr = g.client.Complete(ctx, system, prompt, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("completion call failed: %w", err)
	}

	sections, err := parseSections(completion.Text, pillar)
	if err != nil {
		return nil, err
	}

	return &Output{
		Sections: sections,
		Model:    completion.Model,
		Usage:    completion.Usage,
	}, nil
}

// =============================================================================
// Prompt Construction
// =============================================================================

// toneInstructions translates the selected tonality into authoring guidance.
var toneInstructions = map[tonality.Tonality]string{
	tonality.Celebrate: "Write with confidence. Frame findings as optimization opportunities on top of a strong foundation.",
	tonality.Refine:    "Write constructively. Acknowledge what works, then focus on targeted improvements.",
	tonality.Urgent:    "Write directively. Critical failures exist; lead with them and be explicit about consequences of inaction.",
	tonality.Remediate: "Write supportively. The function is early in its journey; lay out concrete first steps without judgment.",
}

func buildSystemPrompt(pillar *datatypes.PillarConfig, tone tonality.Tonality) string {
	var b strings.Builder
	b.WriteString("You are a senior finance-transformation advisor writing the narrative interpretation of a ")
	b.WriteString(pillar.Name)
	b.WriteString(" assessment.\n\n")

	b.WriteString("Hard rules:\n")
	b.WriteString("1. Cite every factual claim with an evidence tag in the exact form [EV:token], using only tokens from the EVIDENCE list in the user message. Never invent tokens.\n")
	b.WriteString("2. Never state a number that is not present in the DATA block.\n")
	fmt.Fprintf(&b, "3. For capabilities scoring %.0f or above use vocabulary such as: %s. Below that use: %s.\n",
		pillar.LexiconBandThreshold,
		strings.Join(pillar.UpperBandVocabulary, ", "),
		strings.Join(pillar.LowerBandVocabulary, ", "))
	if len(pillar.ForbiddenPhrases) > 0 {
		fmt.Fprintf(&b, "4. Never use any of these phrases: %s.\n", strings.Join(pillar.ForbiddenPhrases, "; "))
	}
	b.WriteString("5. ")
	b.WriteString(toneInstructions[tone])
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Respond with a raw JSON array of exactly %d objects, in this order, each shaped {\"id\": string, \"title\": string, \"content\": string}:\n", len(pillar.Sections))
	for i, s := range pillar.Sections {
		fmt.Fprintf(&b, "%d. id=%q title=%q (max %d words): %s\n", i+1, s.ID, s.Title, s.MaxWords, s.Guidance)
	}
	b.WriteString("Do not wrap the array in markdown fences or add any prose outside the JSON.")
	return b.String()
}

func buildUserPrompt(input *datatypes.InterpretationInput, pillar *datatypes.PillarConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organization: %s", input.OrganizationName)
	if input.Industry != "" {
		fmt.Fprintf(&b, " (industry: %s)", input.Industry)
	}
	b.WriteString("\n\nDATA:\n")
	fmt.Fprintf(&b, "- overall score: %.1f/100 [EV:overall_score]\n", input.OverallScore)
	fmt.Fprintf(&b, "- maturity: level %d (%s) [EV:maturity_level]", input.MaturityLevel, input.MaturityName)
	if input.Capped {
		fmt.Fprintf(&b, " - capped by: %s", strings.Join(input.CappingBlockers, ", "))
	}
	b.WriteString("\n- objectives:\n")
	for _, obj := range input.Objectives {
		fmt.Fprintf(&b, "  - %s: score %.1f, importance %d/5", obj.Name, obj.Score, obj.Importance)
		if obj.HasCriticalFailure {
			b.WriteString(", HAS CRITICAL FAILURE")
		}
		fmt.Fprintf(&b, " [EV:obj:%s]\n", obj.ID)
	}
	if len(input.CriticalFailures) > 0 {
		b.WriteString("- critical failures:\n")
		for _, cf := range input.CriticalFailures {
			fmt.Fprintf(&b, "  - %s (objective: %s) [EV:cf:%s]\n", cf.Title, cf.ObjectiveName, cf.QuestionID)
		}
	}
	if len(input.FailedGates) > 0 {
		b.WriteString("- failed maturity gates:\n")
		for _, gate := range input.FailedGates {
			fmt.Fprintf(&b, "  - level %d blocked by questions %s [EV:gate:%s]\n",
				gate.Level, strings.Join(gate.QuestionIDs, ", "), strconv.Itoa(gate.Level))
		}
	}
	if len(input.PriorityMisalignments) > 0 {
		b.WriteString("- priority misalignments (high importance, low score):\n")
		for _, mis := range input.PriorityMisalignments {
			fmt.Fprintf(&b, "  - %s: importance %d/5 but score %.1f [EV:misalignment:%s]\n",
				mis.ObjectiveName, mis.Importance, mis.Score, mis.ObjectiveID)
		}
	}

	b.WriteString("\nEVIDENCE (the only citation tokens you may use):\n")
	for _, id := range input.EvidenceIDs {
		b.WriteString("- ")
		b.WriteString(id)
		b.WriteByte('\n')
	}
	return b.String()
}

// =============================================================================
// Response Parsing
// =============================================================================

// rawSection is the wire shape the model is instructed to return.
type rawSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// parseSections maps the raw completion text onto the pillar's fixed
// section set. It tolerates a wrapping markdown code fence (models add one
// despite instructions) but nothing else: invalid JSON, a wrong count, or
// out-of-order ids fail the attempt.
func parseSections(text string, pillar *datatypes.PillarConfig) ([]datatypes.GeneratedSection, error) {
	trimmed := stripCodeFence(strings.TrimSpace(text))

	var raw []rawSection
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("response is not a valid JSON section array: %w", err)
	}

	if len(raw) != len(pillar.Sections) {
		return nil, fmt.Errorf("response has %d sections, pillar %q requires %d", len(raw), pillar.ID, len(pillar.Sections))
	}

	sections := make([]datatypes.GeneratedSection, len(raw))
	for i, r := range raw {
		want := pillar.Sections[i]
		if r.ID != want.ID {
			return nil, fmt.Errorf("section %d has id %q, want %q", i, r.ID, want.ID)
		}
		// Titles are contractual; the configured title wins over whatever
		// the model echoed back.
		sections[i] = datatypes.GeneratedSection{
			ID:      want.ID,
			Title:   want.Title,
			Content: strings.TrimSpace(r.Content),
		}
	}
	return sections, nil
}

// stripCodeFence removes one wrapping markdown fence, with or without a
// language tag.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		// Drop the fence line itself ("```json" or bare "```").
		body = body[idx+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
