package pipeline

import (
	"context"
	"log/slog"
	"strings"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/inference"
	"github.com/sweetpotato0/partirag/pkg/logging"
	"github.com/sweetpotato0/partirag/prompt"
)

// OpGenerateQueries is the query-generation step's single named operation.
const OpGenerateQueries = "generate_queries"

// QueryGenerationStep turns a grounded plan into a set of search queries.
// The result has set semantics: duplicates collapse and order is stable.
type QueryGenerationStep struct {
	name       string
	query      string
	plan       *Plan
	numQueries int

	corr   *corrections
	runner *opRunner
	logger *slog.Logger
}

// NewQueryGenerationStep constructs the default query-generation step.
func NewQueryGenerationStep(svc *inference.Service, query string, numQueries int) *QueryGenerationStep {
	corr := newCorrections()
	if numQueries <= 0 {
		numQueries = 3
	}
	return &QueryGenerationStep{
		name:       StageQueryGeneration,
		query:      query,
		numQueries: numQueries,
		corr:       corr,
		runner:     newOpRunner(svc, corr),
		logger:     logging.WithComponent("query_generation_step"),
	}
}

func (s *QueryGenerationStep) Name() string { return s.name }

// SetPlan supplies the upstream plan. The plan is read, never mutated.
func (s *QueryGenerationStep) SetPlan(plan *Plan) { s.plan = plan }

// Execute generates queries from the plan.
func (s *QueryGenerationStep) Execute(ctx context.Context) (*StepResult, error) {
	if s.plan == nil || len(s.plan.Steps) == 0 {
		return nil, errs.Step(s.name, "", errs.ErrValidation)
	}

	var out GeneratedQueries
	err := s.runner.run(ctx, OpGenerateQueries, prompt.TemplateQueriesFromPlan, map[string]any{
		"question":    s.query,
		"plan":        strings.Join(s.plan.Steps, "\n"),
		"num_queries": s.numQueries,
	}, &out)
	if err != nil {
		return nil, errs.Step(s.name, OpGenerateQueries, err)
	}
	out.Normalize()
	if len(out.Queries) == 0 {
		return nil, errs.Step(s.name, OpGenerateQueries, errs.ErrSchemaViolation)
	}

	s.logger.Info("queries generated", "count", len(out.Queries))
	for _, q := range out.Queries {
		s.logger.Debug("generated query", "query", q)
	}

	return &StepResult{
		StepName: s.name,
		Kind:     KindList,
		Payload:  out.Queries,
		Metadata: map[string]any{"requested": s.numQueries},
	}, nil
}

// Retry re-invokes Execute with the same plan.
func (s *QueryGenerationStep) Retry(ctx context.Context) (*StepResult, error) {
	s.logger.Info("retrying query generation step")
	return s.Execute(ctx)
}

// RegisterCorrection stores feedback for a named sub-operation.
func (s *QueryGenerationStep) RegisterCorrection(operation, feedback string) {
	s.corr.set(operation, feedback)
}

// RerunWithCorrection registers the correction and re-executes.
func (s *QueryGenerationStep) RerunWithCorrection(ctx context.Context, operation, feedback string) (*StepResult, error) {
	s.RegisterCorrection(operation, feedback)
	s.logger.Info("rerunning query generation step with correction", "operation", operation)
	return s.Execute(ctx)
}
