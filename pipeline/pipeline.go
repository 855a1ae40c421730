package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/history"
	"github.com/sweetpotato0/partirag/inference"
	"github.com/sweetpotato0/partirag/pkg/logging"
	"github.com/sweetpotato0/partirag/pkg/telemetry"
	"github.com/sweetpotato0/partirag/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of a full pipeline run: every completed step's
// result keyed by stage name, plus the synthesis payload as the headline
// answer. On failure Steps holds the stages that completed before the error.
type Result struct {
	Question string                 `json:"question"`
	Steps    map[string]*StepResult `json:"steps"`
	Answer   *Answer                `json:"answer,omitempty"`
}

// planConsumer and friends are the optional input interfaces the orchestrator
// uses to thread stage outputs forward, keeping presets swappable.
type planConsumer interface{ SetPlan(*Plan) }
type queryConsumer interface{ SetQueries([]string) }
type documentConsumer interface{ SetDocuments([]retrieval.Document) }
type tokenBudgeted interface {
	SetTokenBudget(TokenCounter, int)
}

// Pipeline composes the four stages into an ordered execution. Each run owns
// its plan, query set and document set; the registry is the only shared
// state and is read-only after initialisation.
type Pipeline struct {
	spec      Specification
	inference *inference.Service
	retrieval *retrieval.Service
	registry  *Registry
	cache     StepCache
	history   history.Store

	tokenizer   TokenCounter
	tokenBudget int

	logger *slog.Logger
	tracer trace.Tracer
}

// Option customises a pipeline.
type Option func(*Pipeline)

// WithRegistry overrides the preset registry. The default registry carries
// the built-in presets.
func WithRegistry(r *Registry) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithStepCache enables step-result caching for replay when the
// specification sets EnableStepCaching.
func WithStepCache(c StepCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithHistory records completed runs in the given store.
func WithHistory(s history.Store) Option {
	return func(p *Pipeline) { p.history = s }
}

// WithTokenBudget bounds the synthesis context by token count.
func WithTokenBudget(counter TokenCounter, budget int) Option {
	return func(p *Pipeline) {
		p.tokenizer = counter
		p.tokenBudget = budget
	}
}

// New validates the specification and builds a runnable pipeline. Preset
// names are resolved lazily when each stage is constructed, not here.
func New(spec Specification, inf *inference.Service, ret *retrieval.Service, opts ...Option) (*Pipeline, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if inf == nil {
		return nil, fmt.Errorf("inference service is required")
	}
	if ret == nil {
		return nil, fmt.Errorf("retrieval service is required")
	}

	// The specification's global inference configuration applies to the
	// shared client; zero values leave the provider defaults alone.
	if spec.LLM != nil {
		if spec.LLM.Model != "" {
			inf.SetModel(spec.LLM.Model)
		}
		if spec.LLM.Temperature > 0 {
			inf.SetTemperature(spec.LLM.Temperature)
		}
		if spec.LLM.MaxTokens > 0 {
			inf.SetMaxTokens(spec.LLM.MaxTokens)
		}
	}

	registry := NewRegistry()
	RegisterBuiltins(registry)

	p := &Pipeline{
		spec:      spec,
		inference: inf,
		retrieval: ret,
		registry:  registry,
		logger:    logging.WithComponent("pipeline"),
		tracer:    otel.Tracer("partirag/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RunFull executes all four stages strictly in order, threading each stage's
// output into the next. On a stage failure the run aborts immediately; the
// returned Result retains the completed stages for inspection alongside the
// error, which names the failing stage and sub-operation.
func (p *Pipeline) RunFull(ctx context.Context) (*Result, error) {
	res := &Result{
		Question: p.spec.InputQuery,
		Steps:    make(map[string]*StepResult),
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run_full",
		trace.WithAttributes(attribute.Int("question_length", len(p.spec.InputQuery))))
	var runErr error
	defer func() { telemetry.End(span, runErr) }()

	p.logger.Info("pipeline run started", "question", trimForLog(p.spec.InputQuery, 120))
	start := time.Now()

	var (
		plan      *Plan
		queries   []string
		documents []retrieval.Document
	)

	for _, stage := range StageOrder() {
		// Cooperative cancellation at stage boundaries. The context error is
		// propagated as-is; the timeout sentinel is reserved for bounded
		// external calls.
		if err := ctx.Err(); err != nil {
			runErr = errs.Step(stage, "", err)
			return res, runErr
		}

		stepRes, err := p.runStage(ctx, stage, plan, queries, documents)
		if err != nil {
			runErr = err
			p.logger.Error("pipeline aborted", "stage", stage, "error", err)
			return res, runErr
		}
		res.Steps[stage] = stepRes
		if p.spec.LogIntermediateResults {
			p.logger.Info("stage completed", "stage", stage, "kind", string(stepRes.Kind))
		}

		// Custom presets must keep the stage's payload type for downstream
		// threading to work.
		var ok bool
		switch stage {
		case StagePlan:
			plan, ok = stepRes.Payload.(*Plan)
		case StageQueryGeneration:
			queries, ok = stepRes.Payload.([]string)
		case StageRetrieval:
			documents, ok = stepRes.Payload.([]retrieval.Document)
		case StageFinalResponse:
			res.Answer, ok = stepRes.Payload.(*Answer)
		}
		if !ok {
			runErr = errs.Step(stage, "", fmt.Errorf("unexpected payload type %T: %w", stepRes.Payload, errs.ErrSchemaViolation))
			return res, runErr
		}
	}

	p.logger.Info("pipeline run completed",
		"question", trimForLog(p.spec.InputQuery, 120),
		"plan_steps", len(plan.Steps),
		"queries", len(queries),
		"documents", len(documents),
		"does_match", res.Answer.DoesMatch,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	p.recordRun(ctx, res)
	return res, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage string, plan *Plan, queries []string, documents []retrieval.Document) (*StepResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.stage."+stage)
	var err error
	defer func() { telemetry.End(span, err) }()

	preset := p.presetFor(stage)

	if p.cacheEnabled() {
		if cached, hit := p.lookupCache(ctx, stage, preset); hit {
			p.logger.Info("stage served from cache", "stage", stage)
			return cached, nil
		}
	}

	step, err := p.registry.Get(preset, Context{
		Inference: p.inference,
		Retrieval: p.retrieval,
		Query:     p.spec.InputQuery,
		Spec:      &p.spec,
	})
	if err != nil {
		return nil, err
	}
	p.feedInputs(step, plan, queries, documents)

	var stepRes *StepResult
	stepRes, err = step.Execute(ctx)
	if err != nil {
		return nil, err
	}

	if p.cacheEnabled() {
		p.storeCache(ctx, stage, preset, stepRes)
	}
	return stepRes, nil
}

// feedInputs threads upstream outputs into the step through its optional
// consumer interfaces.
func (p *Pipeline) feedInputs(step Step, plan *Plan, queries []string, documents []retrieval.Document) {
	if c, ok := step.(planConsumer); ok && plan != nil {
		c.SetPlan(plan)
	}
	if c, ok := step.(queryConsumer); ok && queries != nil {
		c.SetQueries(queries)
	}
	if c, ok := step.(documentConsumer); ok && documents != nil {
		c.SetDocuments(documents)
	}
	if c, ok := step.(tokenBudgeted); ok && p.tokenizer != nil && p.tokenBudget > 0 {
		c.SetTokenBudget(p.tokenizer, p.tokenBudget)
	}
}

// StepRequest supplies everything needed to execute one stage in isolation:
// the explicit inputs the stage would otherwise receive from upstream, an
// optional preset override, and per-operation corrections to apply.
type StepRequest struct {
	Preset     string               `json:"preset,omitempty"`
	Query      string               `json:"query,omitempty"`
	Plan       []string             `json:"plan,omitempty"`
	Queries    []string             `json:"queries,omitempty"`
	Documents  []retrieval.Document `json:"documents,omitempty"`
	Correction map[string]string    `json:"correction,omitempty"`
}

// RunStep executes exactly one named stage in isolation. Interactive
// correction workflows inspect a stage's output, correct it, re-run just
// that stage, and feed its output into the next stage manually.
func (p *Pipeline) RunStep(ctx context.Context, stage string, req StepRequest) (*StepResult, error) {
	if !validStage(stage) {
		return nil, fmt.Errorf("unknown stage %q (stages: %v): %w", stage, StageOrder(), errs.ErrValidation)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run_step",
		trace.WithAttributes(attribute.String("stage", stage)))
	var err error
	defer func() { telemetry.End(span, err) }()

	query := req.Query
	if query == "" {
		query = p.spec.InputQuery
	}
	preset := req.Preset
	if preset == "" {
		preset = p.presetFor(stage)
	}

	var step Step
	step, err = p.registry.Get(preset, Context{
		Inference: p.inference,
		Retrieval: p.retrieval,
		Query:     query,
		Spec:      &p.spec,
	})
	if err != nil {
		return nil, err
	}

	var plan *Plan
	if len(req.Plan) > 0 {
		plan = &Plan{Steps: req.Plan}
	}
	p.feedInputs(step, plan, req.Queries, req.Documents)

	if len(req.Correction) > 0 {
		if !p.spec.EnableCorrections {
			p.logger.Warn("corrections disabled by specification, ignoring", "stage", stage)
		} else {
			for operation, feedback := range req.Correction {
				step.RegisterCorrection(operation, feedback)
			}
		}
	}

	var stepRes *StepResult
	stepRes, err = step.Execute(ctx)
	if err != nil {
		return nil, err
	}
	// An isolated run bypasses the cache on the way in but refreshes the
	// entry, so a later full run replays the corrected result.
	if p.cacheEnabled() && query == p.spec.InputQuery {
		p.storeCache(ctx, stage, preset, stepRes)
	}
	p.logger.Info("single step executed", "stage", stage, "preset", preset)
	return stepRes, nil
}

func (p *Pipeline) presetFor(stage string) string {
	switch stage {
	case StagePlan:
		return p.spec.planOrDefault().Preset
	case StageQueryGeneration:
		return p.spec.queryGenerationOrDefault().Preset
	case StageRetrieval:
		return p.spec.retrievalOrDefault().Preset
	case StageFinalResponse:
		return p.spec.finalResponseOrDefault().Preset
	}
	return ""
}

func (p *Pipeline) cacheEnabled() bool {
	return p.cache != nil && p.spec.EnableStepCaching
}

func (p *Pipeline) lookupCache(ctx context.Context, stage, preset string) (*StepResult, bool) {
	data, err := p.cache.Get(ctx, cacheKey(p.spec.InputQuery, stage, preset))
	if err != nil {
		if !errs.Is(err, errs.ErrNotFound) {
			p.logger.Warn("step cache lookup failed", "stage", stage, "error", err)
		}
		return nil, false
	}
	res, err := decodeCachedResult(stage, data)
	if err != nil {
		p.logger.Warn("discarding undecodable cache entry", "stage", stage, "error", err)
		return nil, false
	}
	return res, true
}

func (p *Pipeline) storeCache(ctx context.Context, stage, preset string, res *StepResult) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cacheKey(p.spec.InputQuery, stage, preset), data); err != nil {
		p.logger.Warn("step cache store failed", "stage", stage, "error", err)
	}
}

func (p *Pipeline) recordRun(ctx context.Context, res *Result) {
	if p.history == nil || res.Answer == nil {
		return
	}
	rec := &history.Record{
		ID:          cacheKey(res.Question, "run", time.Now().Format(time.RFC3339Nano)),
		Question:    res.Question,
		DoesMatch:   res.Answer.DoesMatch,
		Explanation: res.Answer.Explanation,
		Evidence:    res.Answer.Evidence,
		CreatedAt:   time.Now(),
	}
	if err := p.history.SaveRun(ctx, rec); err != nil {
		p.logger.Warn("run history save failed", "error", err)
	}
}

func validStage(stage string) bool {
	for _, s := range StageOrder() {
		if s == stage {
			return true
		}
	}
	return false
}

func trimForLog(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
