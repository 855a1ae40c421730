package pipeline

import (
	"fmt"
	"strings"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/retrieval"
)

// LLMConfig carries provider-level generation settings shared by all stages.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int64   `json:"max_tokens"`
}

// PlanSpec configures the planning stage.
type PlanSpec struct {
	StepName         string `json:"step_name"`
	Preset           string `json:"preset"`
	UseAnonymization bool   `json:"use_anonymization"`
	MaxPlanSteps     int    `json:"max_plan_steps"`
}

// QueryGenerationSpec configures the query-generation stage.
type QueryGenerationSpec struct {
	StepName   string `json:"step_name"`
	Preset     string `json:"preset"`
	NumQueries int    `json:"num_queries"`
}

// RetrievalSpec configures the document-retrieval stage.
type RetrievalSpec struct {
	StepName string           `json:"step_name"`
	Preset   string           `json:"preset"`
	K        int              `json:"k"`
	Pools    []retrieval.Pool `json:"pools"`
}

// FinalResponseSpec configures the synthesis stage.
type FinalResponseSpec struct {
	StepName       string `json:"step_name"`
	Preset         string `json:"preset"`
	ResponseStyle  string `json:"response_style"`
	IncludeSources bool   `json:"include_sources"`
}

// Specification declaratively describes one pipeline: which presets to use
// and with what parameters per stage. It is immutable once validated and is
// consumed once to build a runnable pipeline; preset names are resolved
// lazily at stage-construction time so registration order does not matter.
type Specification struct {
	InputQuery string     `json:"input_query"`
	LLM        *LLMConfig `json:"llm_config,omitempty"`

	Plan            *PlanSpec            `json:"plan_step,omitempty"`
	QueryGeneration *QueryGenerationSpec `json:"query_generation_step,omitempty"`
	Retrieval       *RetrievalSpec       `json:"retrieval_step,omitempty"`
	FinalResponse   *FinalResponseSpec   `json:"final_response_step,omitempty"`

	EnableStepCaching      bool `json:"enable_step_caching"`
	EnableCorrections      bool `json:"enable_corrections"`
	LogIntermediateResults bool `json:"log_intermediate_results"`
}

// DefaultSpecification returns a specification usable end-to-end with only
// the input query supplied.
func DefaultSpecification(query string) Specification {
	return Specification{
		InputQuery: query,
		Plan: &PlanSpec{
			StepName:         "Plan Generation",
			Preset:           PresetAnonymizedPlan,
			UseAnonymization: true,
			MaxPlanSteps:     5,
		},
		QueryGeneration: &QueryGenerationSpec{
			StepName:   "Query Generation",
			Preset:     PresetQueriesFromPlan,
			NumQueries: 3,
		},
		Retrieval: &RetrievalSpec{
			StepName: "Document Retrieval",
			Preset:   PresetDefaultDocumentRetrieval,
			K:        5,
			Pools:    []retrieval.Pool{retrieval.PoolChunk, retrieval.PoolQuote},
		},
		FinalResponse: &FinalResponseSpec{
			StepName:       "Final Response Generation",
			Preset:         PresetDefaultFinalResponse,
			ResponseStyle:  "comprehensive",
			IncludeSources: true,
		},
		EnableCorrections:      true,
		LogIntermediateResults: true,
	}
}

// Validate checks the specification's structural requirements. Preset names
// are deliberately not resolved here.
func (s *Specification) Validate() error {
	if strings.TrimSpace(s.InputQuery) == "" {
		return fmt.Errorf("input_query is required: %w", errs.ErrValidation)
	}
	if s.Plan != nil && s.Plan.MaxPlanSteps < 0 {
		return fmt.Errorf("max_plan_steps must not be negative: %w", errs.ErrValidation)
	}
	if s.QueryGeneration != nil && s.QueryGeneration.NumQueries < 0 {
		return fmt.Errorf("num_queries must not be negative: %w", errs.ErrValidation)
	}
	if s.Retrieval != nil && s.Retrieval.K < 0 {
		return fmt.Errorf("k must not be negative: %w", errs.ErrValidation)
	}
	return nil
}

func (s *Specification) planOrDefault() PlanSpec {
	if s != nil && s.Plan != nil {
		return *s.Plan
	}
	return *DefaultSpecification("-").Plan
}

func (s *Specification) queryGenerationOrDefault() QueryGenerationSpec {
	if s != nil && s.QueryGeneration != nil {
		return *s.QueryGeneration
	}
	return *DefaultSpecification("-").QueryGeneration
}

func (s *Specification) retrievalOrDefault() RetrievalSpec {
	if s != nil && s.Retrieval != nil {
		return *s.Retrieval
	}
	return *DefaultSpecification("-").Retrieval
}

func (s *Specification) finalResponseOrDefault() FinalResponseSpec {
	if s != nil && s.FinalResponse != nil {
		return *s.FinalResponse
	}
	return *DefaultSpecification("-").FinalResponse
}
