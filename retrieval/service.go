package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// Searcher is the opaque similarity-search backend: one query against one
// named pool. Implementations tag returned documents with their pool but may
// leave OriginQuery empty; the service fills it in.
type Searcher interface {
	Search(ctx context.Context, query string, pool Pool, limit int) ([]Document, error)
	Pools() []Pool
}

// Service fans a batch of queries out against a pool. Individual query
// failures are tolerated: they are logged and contribute no documents. Only
// when every query in a batch fails does the batch fail as a whole.
type Service struct {
	searcher    Searcher
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// Option customises the retrieval service.
type Option func(*Service)

// WithConcurrency bounds the per-query fan-out. Values below 1 run queries
// sequentially.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithQueryTimeout bounds each individual search call. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// NewService wraps a searcher with batch semantics.
func NewService(searcher Searcher, opts ...Option) *Service {
	s := &Service{
		searcher:    searcher,
		concurrency: 4,
		timeout:     30 * time.Second,
		logger:      logging.WithComponent("retrieval"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pools reports the pools the backend actually serves.
func (s *Service) Pools() []Pool {
	return s.searcher.Pools()
}

// Search executes one search per query against the named pool. Results are
// flattened in query-submission order regardless of completion order, keeping
// first-occurrence deduplication reproducible under concurrency. The limit
// bounds each query's result count, not the aggregate.
func (s *Service) Search(ctx context.Context, queries []string, pool Pool, limit int) ([]Document, error) {
	if len(queries) == 0 {
		return []Document{}, nil
	}

	perQuery := make([][]Document, len(queries))
	failures := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, query := range queries {
		g.Go(func() error {
			qctx := gctx
			if s.timeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(gctx, s.timeout)
				defer cancel()
			}
			docs, err := s.searcher.Search(qctx, query, pool, limit)
			if err != nil {
				if qctx.Err() == context.DeadlineExceeded {
					err = fmt.Errorf("query %q: %w", query, errs.ErrTimeout)
				}
				failures[i] = err
				s.logger.Warn("query failed, continuing batch",
					"pool", string(pool),
					"query", query,
					"error", err,
				)
				return nil
			}
			perQuery[i] = docs
			return nil
		})
	}
	// Workers only report failures through the failures slice, so Wait can
	// only surface context cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	out := make([]Document, 0)
	for i, docs := range perQuery {
		if failures[i] != nil {
			failed++
			continue
		}
		for _, doc := range docs {
			doc.OriginQuery = queries[i]
			if doc.Pool == "" {
				doc.Pool = pool
			}
			out = append(out, doc)
		}
	}

	if failed == len(queries) {
		return nil, fmt.Errorf("all %d queries failed against pool %q: %w", len(queries), pool, errs.ErrRetrieval)
	}
	if failed > 0 {
		s.logger.Warn("partial retrieval failure",
			"pool", string(pool),
			"failed", failed,
			"total", len(queries),
		)
	}
	s.logger.Debug("batch retrieval completed",
		"pool", string(pool),
		"queries", len(queries),
		"documents", len(out),
	)
	return out, nil
}
