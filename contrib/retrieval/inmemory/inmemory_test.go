package inmemory

import (
	"context"
	"strings"
	"testing"

	"github.com/sweetpotato0/partirag/retrieval"
)

func TestSearchRanksByTermOverlap(t *testing.T) {
	s := New(retrieval.PoolChunk)
	s.Add(retrieval.PoolChunk,
		"Venstre vil styrke det offentlige helsetilbudet.",
		"Venstre åpner for private helsetjenester som supplement.",
		"Partiet diskuterte skolepolitikk.",
	)

	docs, err := s.Search(context.Background(), "venstre private helsetjenester", retrieval.PoolChunk, 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	// The document matching all three terms ranks first.
	if docs[0].Content != "Venstre åpner for private helsetjenester som supplement." {
		t.Errorf("top hit = %q", docs[0].Content)
	}
	if docs[0].Pool != retrieval.PoolChunk {
		t.Errorf("pool tag = %q", docs[0].Pool)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	s := New(retrieval.PoolQuote)
	s.Add(retrieval.PoolQuote, "helse en", "helse to", "helse tre")

	docs, err := s.Search(context.Background(), "helse", retrieval.PoolQuote, 2)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d documents, want 2", len(docs))
	}
}

func TestSearchUnknownPoolIsEmpty(t *testing.T) {
	s := New(retrieval.PoolChunk)
	docs, err := s.Search(context.Background(), "helse", retrieval.PoolQuote, 5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d documents from an empty pool", len(docs))
	}
}

// vocabEmbedder embeds text as term counts over a fixed vocabulary.
type vocabEmbedder struct {
	vocab []string
}

func (e *vocabEmbedder) Dimension() int { return len(e.vocab) }

func (e *vocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.vocab))
	lowered := strings.ToLower(text)
	for i, term := range e.vocab {
		vec[i] = float32(strings.Count(lowered, term))
	}
	return vec, nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestSearchWithEmbedderRanksByCosineSimilarity(t *testing.T) {
	embedder := &vocabEmbedder{vocab: []string{"venstre", "helse", "skole"}}
	s := NewWithEmbedder(embedder, retrieval.PoolChunk)
	s.Add(retrieval.PoolChunk,
		"skole skole skole",
		"venstre helse",
		"venstre skole",
	)

	docs, err := s.Search(context.Background(), "venstre helse", retrieval.PoolChunk, 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	// The document aligned with the query vector ranks first; the orthogonal
	// one is excluded entirely.
	if docs[0].Content != "venstre helse" {
		t.Errorf("top hit = %q", docs[0].Content)
	}
	for _, doc := range docs {
		if doc.Content == "skole skole skole" {
			t.Errorf("orthogonal document returned: %q", doc.Content)
		}
	}
}

func TestPoolsSorted(t *testing.T) {
	s := New(retrieval.PoolQuote, retrieval.PoolChunk)
	pools := s.Pools()
	if len(pools) != 2 || pools[0] != retrieval.PoolChunk || pools[1] != retrieval.PoolQuote {
		t.Errorf("pools = %v", pools)
	}
}
