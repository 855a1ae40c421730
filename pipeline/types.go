package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ResultKind tags the payload shape of a step result.
type ResultKind string

const (
	KindText       ResultKind = "text"
	KindList       ResultKind = "list"
	KindStructured ResultKind = "structured"
)

// StepResult is the uniform envelope every step returns. It decouples the
// orchestrator from each step's concrete output type. A retry produces a new
// instance, never a mutation.
type StepResult struct {
	StepName string         `json:"step_name"`
	Kind     ResultKind     `json:"result_kind"`
	Payload  any            `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AnonymizedQuestion is the anonymization operation's output: the question
// with named entities replaced by placeholder variables, plus the mapping
// back to the original entities.
type AnonymizedQuestion struct {
	AnonymizedText string            `json:"anonymized_question"`
	Mapping        map[string]string `json:"mapping"`
	Rationale      string            `json:"explanation"`
}

// Validate enforces the anonymization invariants: non-empty text, and no
// literal entity string from the mapping left in the anonymized question.
func (a *AnonymizedQuestion) Validate() error {
	if strings.TrimSpace(a.AnonymizedText) == "" {
		return fmt.Errorf("anonymized question is empty")
	}
	for placeholder, entity := range a.Mapping {
		if strings.TrimSpace(entity) == "" {
			return fmt.Errorf("placeholder %q maps to an empty entity", placeholder)
		}
		if strings.Contains(a.AnonymizedText, entity) {
			return fmt.Errorf("entity %q leaked into the anonymized question", entity)
		}
	}
	return nil
}

// Plan is an ordered sequence of research steps. After deanonymization every
// placeholder is replaced with its original entity and the plan is treated as
// immutable.
type Plan struct {
	Steps []string `json:"steps"`
}

// Validate rejects empty plans.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i, step := range p.Steps {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("plan step %d is empty", i+1)
		}
	}
	return nil
}

// Deanonymize returns a copy of the plan with every standalone placeholder
// token replaced by its mapped entity. Structured mutation on the plan object;
// no inference call is involved.
func (p *Plan) Deanonymize(mapping map[string]string) *Plan {
	grounded := &Plan{Steps: make([]string, len(p.Steps))}
	copy(grounded.Steps, p.Steps)
	for placeholder, entity := range mapping {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(placeholder) + `\b`)
		if err != nil {
			continue
		}
		for i, step := range grounded.Steps {
			grounded.Steps[i] = re.ReplaceAllString(step, entity)
		}
	}
	return grounded
}

// GeneratedQueries is the query-generation operation's output.
type GeneratedQueries struct {
	Queries []string `json:"queries"`
}

// Validate rejects an empty query set.
func (g *GeneratedQueries) Validate() error {
	if len(g.Queries) == 0 {
		return fmt.Errorf("no queries generated")
	}
	return nil
}

// Normalize applies set semantics: duplicates collapse and the remaining
// queries are sorted for stable downstream ordering.
func (g *GeneratedQueries) Normalize() {
	seen := make(map[string]struct{}, len(g.Queries))
	out := make([]string, 0, len(g.Queries))
	for _, q := range g.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	sort.Strings(out)
	g.Queries = out
}

// Answer is the synthesis operation's output: the consistency judgment, its
// explanation, and the verbatim evidence quotes backing it.
type Answer struct {
	DoesMatch   bool     `json:"does_match"`
	Explanation string   `json:"explanation"`
	Evidence    []string `json:"evidence"`
}

// Validate requires an explanation; an empty evidence list is acceptable
// when the context was insufficient.
func (a *Answer) Validate() error {
	if strings.TrimSpace(a.Explanation) == "" {
		return fmt.Errorf("answer explanation is empty")
	}
	return nil
}
