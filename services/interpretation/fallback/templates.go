// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fallback produces deterministic, template-driven narrative
// sections when generation or validation cannot be trusted.
//
// The engine must never fail and never touch the network: it is the
// guarantee that report generation always leaves the caller with output.
// Template output carries the same [EV:...] citations as generated text,
// so downstream consumers cannot tell the two apart structurally.
package fallback

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
)

// TemplateFunc renders one section from a valid input snapshot, returning
// the content and the evidence tokens it relied on. Implementations must be
// pure and total over valid inputs.
type TemplateFunc func(input *datatypes.InterpretationInput) (content string, evidence []string)

// Engine renders the full fixed section set for a pillar.
type Engine struct {
	templates map[string]map[string]TemplateFunc
}

// NewEngine returns an Engine loaded with the built-in pillar templates.
func NewEngine() *Engine {
	return &Engine{
		templates: map[string]map[string]TemplateFunc{
			"finance": financeTemplates(),
		},
	}
}

// Register installs or replaces the template for one pillar section.
func (e *Engine) Register(pillarID, sectionID string, fn TemplateFunc) {
	if e.templates[pillarID] == nil {
		e.templates[pillarID] = make(map[string]TemplateFunc)
	}
	e.templates[pillarID][sectionID] = fn
}

// Render produces the complete section set for the pillar from a valid
// input snapshot. Sections without a registered template fall back to a
// generic score summary, so the configured count is always honored.
func (e *Engine) Render(input *datatypes.InterpretationInput, pillar *datatypes.PillarConfig) []datatypes.GeneratedSection {
	pillarTemplates := e.templates[pillar.ID]
	sections := make([]datatypes.GeneratedSection, 0, len(pillar.Sections))

	for _, config := range pillar.Sections {
		fn := pillarTemplates[config.ID]
		if fn == nil {
			fn = genericTemplate
		}
		content, evidence := fn(input)
		sections = append(sections, datatypes.GeneratedSection{
			ID:      config.ID,
			Title:   config.Title,
			Content: appendCitations(content, evidence),
		})
	}
	return sections
}

// Degenerate produces the data-free placeholder set used only when
// precompute failed and no valid input exists. This is the one output path
// without citations: there are no facts to cite.
func Degenerate(pillar *datatypes.PillarConfig) []datatypes.GeneratedSection {
	sections := make([]datatypes.GeneratedSection, 0, len(pillar.Sections))
	for _, config := range pillar.Sections {
		sections = append(sections, datatypes.GeneratedSection{
			ID:      config.ID,
			Title:   config.Title,
			Content: "This interpretation is temporarily unavailable because the underlying assessment data could not be loaded. The scored results remain valid; re-run generation once the data issue is resolved.",
		})
	}
	return sections
}

// appendCitations attaches the used evidence tokens in the shared citation
// form, deduplicated, preserving first-use order.
func appendCitations(content string, evidence []string) string {
	if len(evidence) == 0 {
		return content
	}
	seen := make(map[string]struct{}, len(evidence))
	tags := make([]string, 0, len(evidence))
	for _, id := range evidence {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tags = append(tags, datatypes.FormatEvidenceTag(id))
	}
	return content + " " + strings.Join(tags, " ")
}

// genericTemplate grounds an otherwise-untemplated section in the overall
// score, the only fact guaranteed to exist on every valid input.
func genericTemplate(input *datatypes.InterpretationInput) (string, []string) {
	return fmt.Sprintf("The %s assessment scored %.0f out of 100 at maturity level %d (%s). A detailed narrative for this section could not be generated; the figures above reflect the validated assessment results.",
			input.OrganizationName, input.OverallScore, input.MaturityLevel, input.MaturityName),
		[]string{"overall_score", "maturity_level"}
}

// =============================================================================
// Finance Pillar Templates
// =============================================================================

func financeTemplates() map[string]TemplateFunc {
	return map[string]TemplateFunc{
		"executive_summary": financeExecutiveSummary,
		"strengths":         financeStrengths,
		"gaps_and_risks":    financeGapsAndRisks,
		"priority_actions":  financePriorityActions,
		"maturity_outlook":  financeMaturityOutlook,
	}
}

func financeExecutiveSummary(input *datatypes.InterpretationInput) (string, []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s's finance function scored %.0f out of 100, placing it at maturity level %d (%s).",
		input.OrganizationName, input.OverallScore, input.MaturityLevel, input.MaturityName)
	evidence := []string{"overall_score", "maturity_level"}

	if len(input.CriticalFailures) > 0 {
		fmt.Fprintf(&b, " The assessment surfaced %d critical finding(s) that require attention before other improvements.", len(input.CriticalFailures))
		evidence = append(evidence, "cf:"+input.CriticalFailures[0].QuestionID)
	} else {
		b.WriteString(" No critical failures were identified.")
	}
	return b.String(), evidence
}

func financeStrengths(input *datatypes.InterpretationInput) (string, []string) {
	best, found := strongestObjective(input.Objectives)
	if !found {
		return genericTemplate(input)
	}
	content := fmt.Sprintf("The strongest capability is %s with a score of %.0f. Results in this area are consistent enough to build on while lower-scoring capabilities are addressed.",
		best.Name, best.Score)
	return content, []string{"obj:" + best.ID}
}

func financeGapsAndRisks(input *datatypes.InterpretationInput) (string, []string) {
	var b strings.Builder
	var evidence []string

	if len(input.CriticalFailures) > 0 {
		b.WriteString("Critical failures: ")
		names := make([]string, 0, len(input.CriticalFailures))
		for _, cf := range input.CriticalFailures {
			names = append(names, fmt.Sprintf("%s (under %s)", cf.Title, cf.ObjectiveName))
			evidence = append(evidence, "cf:"+cf.QuestionID)
		}
		b.WriteString(strings.Join(names, "; "))
		b.WriteString(".")
	}

	if weakest, found := weakestObjective(input.Objectives); found {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "The weakest capability is %s at %.0f, which should anchor the remediation plan.", weakest.Name, weakest.Score)
		evidence = append(evidence, "obj:"+weakest.ID)
	}

	if b.Len() == 0 {
		return genericTemplate(input)
	}
	return b.String(), evidence
}

func financePriorityActions(input *datatypes.InterpretationInput) (string, []string) {
	if len(input.PriorityMisalignments) > 0 {
		mis := input.PriorityMisalignments[0]
		content := fmt.Sprintf("Start where stakeholder priority and current performance diverge most: %s is rated importance %d of 5 but scored %.0f. Close this gap first, then revisit the remaining objectives in importance order.",
			mis.ObjectiveName, mis.Importance, mis.Score)
		return content, []string{"misalignment:" + mis.ObjectiveID}
	}

	if weakest, found := weakestObjective(input.Objectives); found {
		content := fmt.Sprintf("Stakeholder priorities and scores are broadly aligned. Begin with the lowest-scoring capability, %s at %.0f, and work upward.",
			weakest.Name, weakest.Score)
		return content, []string{"obj:" + weakest.ID}
	}
	return genericTemplate(input)
}

func financeMaturityOutlook(input *datatypes.InterpretationInput) (string, []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "The function currently operates at maturity level %d (%s).", input.MaturityLevel, input.MaturityName)
	evidence := []string{"maturity_level"}

	if len(input.FailedGates) > 0 {
		gate := input.FailedGates[0]
		fmt.Fprintf(&b, " Advancement to level %d is blocked by %d unresolved gate question(s).", gate.Level, len(gate.QuestionIDs))
		evidence = append(evidence, "gate:"+strconv.Itoa(gate.Level))
	} else if input.Capped && len(input.CappingBlockers) > 0 {
		fmt.Fprintf(&b, " The level is currently capped by: %s.", strings.Join(input.CappingBlockers, ", "))
	} else {
		b.WriteString(" No maturity gates are currently blocking advancement.")
	}
	return b.String(), evidence
}

func strongestObjective(objectives []datatypes.ObjectiveResult) (datatypes.ObjectiveResult, bool) {
	if len(objectives) == 0 {
		return datatypes.ObjectiveResult{}, false
	}
	best := objectives[0]
	for _, obj := range objectives[1:] {
		if obj.Score > best.Score {
			best = obj
		}
	}
	return best, true
}

func weakestObjective(objectives []datatypes.ObjectiveResult) (datatypes.ObjectiveResult, bool) {
	if len(objectives) == 0 {
		return datatypes.ObjectiveResult{}, false
	}
	worst := objectives[0]
	for _, obj := range objectives[1:] {
		if obj.Score < worst.Score {
			worst = obj
		}
	}
	return worst, true
}
