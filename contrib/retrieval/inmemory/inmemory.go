package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sweetpotato0/partirag/retrieval"
	"github.com/sweetpotato0/partirag/vector"
)

// Searcher implements retrieval.Searcher over in-memory pools. With an
// embedder it ranks by cosine similarity; without one it falls back to
// keyword overlap scoring. Intended for tests and local development where a
// vector database is not available.
type Searcher struct {
	mu       sync.RWMutex
	pools    map[retrieval.Pool][]string
	embedder vector.Embedder
}

// New creates an empty keyword-scoring searcher serving the given pools.
func New(pools ...retrieval.Pool) *Searcher {
	if len(pools) == 0 {
		pools = []retrieval.Pool{retrieval.PoolChunk, retrieval.PoolQuote}
	}
	m := make(map[retrieval.Pool][]string, len(pools))
	for _, pool := range pools {
		m[pool] = nil
	}
	return &Searcher{pools: m}
}

// NewWithEmbedder creates a searcher that embeds queries and documents and
// ranks by cosine similarity.
func NewWithEmbedder(embedder vector.Embedder, pools ...retrieval.Pool) *Searcher {
	s := New(pools...)
	s.embedder = embedder
	return s
}

// Add appends documents to a pool. Unknown pools are created on first use.
func (s *Searcher) Add(pool retrieval.Pool, contents ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool] = append(s.pools[pool], contents...)
}

// Pools reports the pools currently held.
func (s *Searcher) Pools() []retrieval.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]retrieval.Pool, 0, len(s.pools))
	for pool := range s.pools {
		out = append(out, pool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Search scores every document in the pool and returns the best matches,
// highest score first. Documents with no affinity to the query are excluded.
func (s *Searcher) Search(ctx context.Context, query string, pool retrieval.Pool, limit int) ([]retrieval.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	contents := s.pools[pool]
	s.mu.RUnlock()

	var (
		scores []float32
		err    error
	)
	if s.embedder != nil {
		scores, err = s.similarityScores(ctx, query, contents)
		if err != nil {
			return nil, err
		}
	} else {
		scores = keywordScores(query, contents)
	}

	type scored struct {
		content string
		score   float32
		index   int
	}
	results := make([]scored, 0, len(contents))
	for i, content := range contents {
		if scores[i] > 0 {
			results = append(results, scored{content: content, score: scores[i], index: i})
		}
	}

	// Stable order: score descending, insertion order as tie-breaker.
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].index < results[j].index
	})

	if limit > len(results) {
		limit = len(results)
	}
	docs := make([]retrieval.Document, limit)
	for i := 0; i < limit; i++ {
		docs[i] = retrieval.Document{
			Content: results[i].content,
			Pool:    pool,
		}
	}
	return docs, nil
}

// similarityScores embeds the query and documents and scores each document by
// cosine similarity to the query.
func (s *Searcher) similarityScores(ctx context.Context, query string, contents []string) ([]float32, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	docVecs, err := s.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(docVecs) != len(contents) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(contents), len(docVecs))
	}
	scores := make([]float32, len(contents))
	for i, vec := range docVecs {
		scores[i] = vector.CosineSimilarity(queryVec, vec)
	}
	return scores, nil
}

// keywordScores counts how many query terms each document contains.
func keywordScores(query string, contents []string) []float32 {
	terms := strings.Fields(strings.ToLower(query))
	scores := make([]float32, len(contents))
	for i, content := range contents {
		lowered := strings.ToLower(content)
		for _, term := range terms {
			if strings.Contains(lowered, term) {
				scores[i]++
			}
		}
	}
	return scores
}
