package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/inference"
	"github.com/sweetpotato0/partirag/pkg/logging"
	"github.com/sweetpotato0/partirag/prompt"
)

// Named sub-operations of the planning step. Each is independently
// correctable.
const (
	OpAnonymizeQuestion = "anonymize_question"
	OpCreatePlan        = "create_plan"
	OpDeanonymizePlan   = "deanonymize_plan"
)

// PlanStep produces a grounded research plan for the question. Internally it
// anonymizes the question, plans over placeholders, then substitutes the
// original entities back into the plan object.
type PlanStep struct {
	name             string
	query            string
	useAnonymization bool
	maxSteps         int

	corr   *corrections
	runner *opRunner
	logger *slog.Logger
}

// NewPlanStep constructs the default planning step.
func NewPlanStep(svc *inference.Service, query string, useAnonymization bool, maxSteps int) *PlanStep {
	corr := newCorrections()
	if maxSteps <= 0 {
		maxSteps = 5
	}
	return &PlanStep{
		name:             StagePlan,
		query:            query,
		useAnonymization: useAnonymization,
		maxSteps:         maxSteps,
		corr:             corr,
		runner:           newOpRunner(svc, corr),
		logger:           logging.WithComponent("plan_step"),
	}
}

func (s *PlanStep) Name() string { return s.name }

// Execute runs anonymize → plan → deanonymize and returns the grounded plan.
func (s *PlanStep) Execute(ctx context.Context) (*StepResult, error) {
	if strings.TrimSpace(s.query) == "" {
		return nil, errs.Step(s.name, "", errs.ErrValidation)
	}

	planInput := s.query
	var anonymized *AnonymizedQuestion
	if s.useAnonymization {
		anon, err := s.anonymizeQuestion(ctx)
		if err != nil {
			return nil, errs.Step(s.name, OpAnonymizeQuestion, err)
		}
		anonymized = anon
		planInput = anon.AnonymizedText
		s.logger.Debug("question anonymized", "placeholders", len(anon.Mapping))
	}

	plan, err := s.createInitialPlan(ctx, planInput)
	if err != nil {
		return nil, errs.Step(s.name, OpCreatePlan, err)
	}
	if len(plan.Steps) > s.maxSteps {
		plan.Steps = plan.Steps[:s.maxSteps]
	}

	grounded := plan
	if anonymized != nil {
		grounded, err = s.deanonymizePlan(ctx, plan, anonymized.Mapping)
		if err != nil {
			return nil, errs.Step(s.name, OpDeanonymizePlan, err)
		}
	}

	s.logger.Info("plan created", "steps", len(grounded.Steps))
	for i, step := range grounded.Steps {
		s.logger.Debug("plan step", "index", i+1, "step", step)
	}

	metadata := map[string]any{}
	if anonymized != nil {
		metadata["anonymized_question"] = anonymized.AnonymizedText
		metadata["mapping"] = anonymized.Mapping
	}
	return &StepResult{
		StepName: s.name,
		Kind:     KindList,
		Payload:  grounded,
		Metadata: metadata,
	}, nil
}

// Retry re-invokes Execute with the same question.
func (s *PlanStep) Retry(ctx context.Context) (*StepResult, error) {
	s.logger.Info("retrying plan step")
	return s.Execute(ctx)
}

// RegisterCorrection stores feedback for one named sub-operation.
func (s *PlanStep) RegisterCorrection(operation, feedback string) {
	s.corr.set(operation, feedback)
}

// RerunWithCorrection registers the correction and re-executes; the named
// operation picks the feedback up and requests a revised output.
func (s *PlanStep) RerunWithCorrection(ctx context.Context, operation, feedback string) (*StepResult, error) {
	s.RegisterCorrection(operation, feedback)
	s.logger.Info("rerunning plan step with correction", "operation", operation)
	return s.Execute(ctx)
}

func (s *PlanStep) anonymizeQuestion(ctx context.Context) (*AnonymizedQuestion, error) {
	var out AnonymizedQuestion
	err := s.runner.run(ctx, OpAnonymizeQuestion, prompt.TemplateAnonymizeQuestion, map[string]any{
		"question": s.query,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PlanStep) createInitialPlan(ctx context.Context, question string) (*Plan, error) {
	var out Plan
	err := s.runner.run(ctx, OpCreatePlan, prompt.TemplateCreatePlan, map[string]any{
		"question":  question,
		"max_steps": s.maxSteps,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// deanonymizePlan substitutes placeholders structurally. Only when a
// correction is pending for this operation does the substituted plan make a
// round trip through the model for revision.
func (s *PlanStep) deanonymizePlan(ctx context.Context, plan *Plan, mapping map[string]string) (*Plan, error) {
	grounded := plan.Deanonymize(mapping)

	feedback, ok := s.corr.take(OpDeanonymizePlan)
	if !ok {
		return grounded, nil
	}

	planJSON, err := json.Marshal(grounded)
	if err != nil {
		return nil, err
	}
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return nil, err
	}
	var revised Plan
	err = s.runner.svc.Infer(ctx, prompt.TemplateDeanonymizeRevise, map[string]any{
		"plan":          string(planJSON),
		"mapping":       string(mappingJSON),
		"user_feedback": feedback,
	}, &revised)
	if err != nil {
		return nil, err
	}
	return &revised, nil
}
