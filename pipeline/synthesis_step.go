package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/inference"
	"github.com/sweetpotato0/partirag/pkg/logging"
	"github.com/sweetpotato0/partirag/prompt"
	"github.com/sweetpotato0/partirag/retrieval"
)

// OpGenerateFinalResponse is the synthesis step's single named operation.
const OpGenerateFinalResponse = "generate_final_response"

// TokenCounter reports the model-token length of a text. Used to budget the
// synthesis context.
type TokenCounter interface {
	CountTokens(text string) int
}

// SynthesisStep produces the final consistency judgment from the retrieved
// documents, the grounded plan, the original question and the generated
// queries. Evidence quotes in the answer are passed through exactly as the
// model returned them; this step never rewrites the evidence field.
type SynthesisStep struct {
	name      string
	query     string
	plan      *Plan
	queries   []string
	documents []retrieval.Document

	style          string
	includeSources bool
	tokenizer      TokenCounter
	tokenBudget    int
	corr           *corrections
	runner         *opRunner
	logger         *slog.Logger
}

// NewSynthesisStep constructs the default final-response step.
func NewSynthesisStep(svc *inference.Service, query, style string, includeSources bool) *SynthesisStep {
	corr := newCorrections()
	if style == "" {
		style = "comprehensive"
	}
	return &SynthesisStep{
		name:           StageFinalResponse,
		query:          query,
		style:          style,
		includeSources: includeSources,
		corr:           corr,
		runner:         newOpRunner(svc, corr),
		logger:         logging.WithComponent("synthesis_step"),
	}
}

func (s *SynthesisStep) Name() string { return s.name }

// SetPlan supplies the grounded plan.
func (s *SynthesisStep) SetPlan(plan *Plan) { s.plan = plan }

// SetQueries supplies the generated queries.
func (s *SynthesisStep) SetQueries(queries []string) { s.queries = queries }

// SetDocuments supplies the deduplicated document set.
func (s *SynthesisStep) SetDocuments(docs []retrieval.Document) { s.documents = docs }

// SetTokenBudget enables token-based context budgeting: documents are dropped
// from the tail until the context fits the budget.
func (s *SynthesisStep) SetTokenBudget(counter TokenCounter, budget int) {
	s.tokenizer = counter
	s.tokenBudget = budget
}

// Execute generates the final judgment.
func (s *SynthesisStep) Execute(ctx context.Context) (*StepResult, error) {
	if strings.TrimSpace(s.query) == "" || s.plan == nil {
		return nil, errs.Step(s.name, "", errs.ErrValidation)
	}

	docs := s.budgetDocuments(s.documents)
	contextBlock := formatDocuments(docs)
	var instructions []string
	if len(docs) == 0 {
		instructions = append(instructions, `No documents were retrieved. State explicitly that the available context is insufficient to judge consistency; "insufficient context" is an acceptable answer.`)
	}
	if s.includeSources {
		instructions = append(instructions, "Name the source pool of each evidence quote in the explanation.")
	}

	var out Answer
	err := s.runner.run(ctx, OpGenerateFinalResponse, prompt.TemplateFinalAnalysis, map[string]any{
		"original_question": s.query,
		"plan":              strings.Join(s.plan.Steps, "\n"),
		"generated_queries": strings.Join(s.queries, "\n"),
		"context":           contextBlock,
		"response_style":    s.style,
		"instruction":       strings.Join(instructions, "\n"),
	}, &out)
	if err != nil {
		return nil, errs.Step(s.name, OpGenerateFinalResponse, err)
	}

	s.logger.Info("final response generated",
		"does_match", out.DoesMatch,
		"evidence_count", len(out.Evidence),
		"documents_used", len(docs),
	)

	return &StepResult{
		StepName: s.name,
		Kind:     KindStructured,
		Payload:  &out,
		Metadata: map[string]any{
			"documents_used":    len(docs),
			"documents_dropped": len(s.documents) - len(docs),
			"style":             s.style,
		},
	}, nil
}

// Retry re-invokes Execute with the same inputs.
func (s *SynthesisStep) Retry(ctx context.Context) (*StepResult, error) {
	s.logger.Info("retrying synthesis step")
	return s.Execute(ctx)
}

// RegisterCorrection stores feedback for a named sub-operation.
func (s *SynthesisStep) RegisterCorrection(operation, feedback string) {
	s.corr.set(operation, feedback)
}

// RerunWithCorrection registers the correction and re-executes.
func (s *SynthesisStep) RerunWithCorrection(ctx context.Context, operation, feedback string) (*StepResult, error) {
	s.RegisterCorrection(operation, feedback)
	s.logger.Info("rerunning synthesis step with correction", "operation", operation)
	return s.Execute(ctx)
}

// budgetDocuments drops whole documents from the tail once the accumulated
// context exceeds the token budget. Without a tokenizer the set is untouched.
func (s *SynthesisStep) budgetDocuments(docs []retrieval.Document) []retrieval.Document {
	if s.tokenizer == nil || s.tokenBudget <= 0 {
		return docs
	}
	total := 0
	for i, doc := range docs {
		total += s.tokenizer.CountTokens(doc.Content)
		if total > s.tokenBudget {
			s.logger.Warn("context over token budget, dropping tail documents",
				"kept", i,
				"dropped", len(docs)-i,
				"budget", s.tokenBudget,
			)
			return docs[:i]
		}
	}
	return docs
}

func formatDocuments(docs []retrieval.Document) string {
	if len(docs) == 0 {
		return "(no documents retrieved)"
	}
	var b strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d pool:%s query:%s]\n%s\n---\n", i+1, doc.Pool, doc.OriginQuery, doc.Content)
	}
	return b.String()
}
