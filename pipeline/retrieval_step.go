package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/pkg/logging"
	"github.com/sweetpotato0/partirag/retrieval"
)

// RetrievalStep fans the generated queries out against the configured pools
// and hands a deduplicated document set downstream. It performs no inference;
// corrections registered against it are consumed without effect.
type RetrievalStep struct {
	name    string
	service *retrieval.Service
	queries []string
	pools   []retrieval.Pool
	limit   int

	corr   *corrections
	logger *slog.Logger
}

// NewRetrievalStep constructs the default document-retrieval step.
func NewRetrievalStep(service *retrieval.Service, pools []retrieval.Pool, limit int) *RetrievalStep {
	if limit <= 0 {
		limit = 5
	}
	if len(pools) == 0 {
		pools = []retrieval.Pool{retrieval.PoolChunk, retrieval.PoolQuote}
	}
	return &RetrievalStep{
		name:    StageRetrieval,
		service: service,
		pools:   pools,
		limit:   limit,
		corr:    newCorrections(),
		logger:  logging.WithComponent("retrieval_step"),
	}
}

func (s *RetrievalStep) Name() string { return s.name }

// SetQueries supplies the upstream query set.
func (s *RetrievalStep) SetQueries(queries []string) { s.queries = queries }

// Execute retrieves documents for every query across the allowed pools.
// Configured pools the backend does not serve are dropped with a warning;
// pools are additive metadata, not identity-critical.
func (s *RetrievalStep) Execute(ctx context.Context) (*StepResult, error) {
	if len(s.queries) == 0 {
		return nil, errs.Step(s.name, "", errs.ErrValidation)
	}

	available := make(map[retrieval.Pool]struct{})
	for _, pool := range s.service.Pools() {
		available[pool] = struct{}{}
	}
	allowed := make([]retrieval.Pool, 0, len(s.pools))
	for _, pool := range s.pools {
		if _, ok := available[pool]; !ok {
			s.logger.Warn("configured pool not served by backend, dropping", "pool", string(pool))
			continue
		}
		allowed = append(allowed, pool)
	}
	if len(allowed) == 0 {
		return nil, errs.Step(s.name, "", fmt.Errorf("no configured pool is available: %w", errs.ErrRetrieval))
	}

	collected := make([]retrieval.Document, 0)
	for _, pool := range allowed {
		docs, err := s.service.Search(ctx, s.queries, pool, s.limit)
		if err != nil {
			return nil, errs.Step(s.name, "", err)
		}
		s.logger.Info("pool retrieval completed", "pool", string(pool), "documents", len(docs))
		collected = append(collected, docs...)
	}

	unique := retrieval.Dedupe(collected)
	s.logger.Info("documents retrieved",
		"total", len(collected),
		"unique", len(unique),
		"pools", len(allowed),
	)

	return &StepResult{
		StepName: s.name,
		Kind:     KindList,
		Payload:  unique,
		Metadata: map[string]any{
			"retrieved": len(collected),
			"unique":    len(unique),
		},
	}, nil
}

// Retry re-invokes Execute with the same queries.
func (s *RetrievalStep) Retry(ctx context.Context) (*StepResult, error) {
	s.logger.Info("retrying retrieval step")
	return s.Execute(ctx)
}

// RegisterCorrection stores feedback; retrieval has no inference operation so
// the feedback is consumed on the next execution without altering behaviour.
func (s *RetrievalStep) RegisterCorrection(operation, feedback string) {
	s.corr.set(operation, feedback)
}

// RerunWithCorrection re-executes the retrieval.
func (s *RetrievalStep) RerunWithCorrection(ctx context.Context, operation, feedback string) (*StepResult, error) {
	s.RegisterCorrection(operation, feedback)
	s.corr.take(operation)
	s.logger.Info("rerunning retrieval step", "operation", operation)
	return s.Execute(ctx)
}
