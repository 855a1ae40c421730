package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/inference"
	"github.com/sweetpotato0/partirag/retrieval"
)

// Stage names, in pipeline execution order.
const (
	StagePlan            = "plan"
	StageQueryGeneration = "query_generation"
	StageRetrieval       = "retrieval"
	StageFinalResponse   = "final_response"
)

// StageOrder returns the fixed total order of the pipeline stages.
func StageOrder() []string {
	return []string{StagePlan, StageQueryGeneration, StageRetrieval, StageFinalResponse}
}

// Built-in preset names.
const (
	PresetAnonymizedPlan           = "anonymized_plan_preset"
	PresetQueriesFromPlan          = "queries_from_plan_preset"
	PresetDefaultDocumentRetrieval = "default_document_retrieval_preset"
	PresetDefaultFinalResponse     = "default_final_response_preset"
)

// Context carries the services and run-scoped inputs a preset factory needs.
type Context struct {
	Inference *inference.Service
	Retrieval *retrieval.Service
	Query     string
	Spec      *Specification
}

// Factory builds a fresh step instance for one pipeline run.
type Factory func(pc Context) Step

// Registry is a name-keyed factory for step implementations. Registration
// happens once at process start; Get is safe for concurrent use across
// pipeline runs.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a name with a step factory. Re-registering an existing
// name overwrites it; the last registration wins.
func (r *Registry) Register(name string, factory Factory) {
	if name == "" || factory == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get constructs a fresh step instance for the named preset. The error for an
// unknown name lists the currently registered names to aid debugging.
func (r *Registry) Get(name string, pc Context) (Step, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known presets: %s)",
			errs.ErrUnknownPreset, name, strings.Join(r.List(), ", "))
	}
	return factory(pc), nil
}

// List returns all registered preset names, sorted for stable diagnostics.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins registers every built-in preset on the registry. Called
// explicitly during process initialisation rather than through import side
// effects, so registration order is visible to the reader.
func RegisterBuiltins(r *Registry) {
	r.Register(PresetAnonymizedPlan, func(pc Context) Step {
		spec := pc.Spec.planOrDefault()
		return NewPlanStep(pc.Inference, pc.Query, spec.UseAnonymization, spec.MaxPlanSteps)
	})
	r.Register(PresetQueriesFromPlan, func(pc Context) Step {
		spec := pc.Spec.queryGenerationOrDefault()
		return NewQueryGenerationStep(pc.Inference, pc.Query, spec.NumQueries)
	})
	r.Register(PresetDefaultDocumentRetrieval, func(pc Context) Step {
		spec := pc.Spec.retrievalOrDefault()
		return NewRetrievalStep(pc.Retrieval, spec.Pools, spec.K)
	})
	r.Register(PresetDefaultFinalResponse, func(pc Context) Step {
		spec := pc.Spec.finalResponseOrDefault()
		return NewSynthesisStep(pc.Inference, pc.Query, spec.ResponseStyle, spec.IncludeSources)
	})
}
