package pipeline

import (
	"context"
	"testing"

	errs "github.com/sweetpotato0/partirag/errors"
	"github.com/sweetpotato0/partirag/retrieval"
)

func TestRetrievalStepPoolIntersection(t *testing.T) {
	// Backend serves only the chunk pool; the quote pool is configured but
	// unavailable and must be dropped, not fail the step.
	searcher := newStubSearcher(retrieval.PoolChunk)
	searcher.add(retrieval.PoolChunk, "Venstre åpner for private tilbydere.")
	svc := retrieval.NewService(searcher)

	step := NewRetrievalStep(svc, []retrieval.Pool{retrieval.PoolChunk, retrieval.PoolQuote}, 5)
	step.SetQueries([]string{"venstre helse"})

	res, err := step.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	docs := res.Payload.([]retrieval.Document)
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if docs[0].Pool != retrieval.PoolChunk {
		t.Errorf("pool = %q", docs[0].Pool)
	}
	if docs[0].OriginQuery != "venstre helse" {
		t.Errorf("origin query = %q", docs[0].OriginQuery)
	}
}

func TestRetrievalStepNoAvailablePool(t *testing.T) {
	searcher := newStubSearcher(retrieval.PoolChunk)
	svc := retrieval.NewService(searcher)

	step := NewRetrievalStep(svc, []retrieval.Pool{retrieval.PoolQuote}, 5)
	step.SetQueries([]string{"venstre helse"})

	_, err := step.Execute(context.Background())
	if !errs.Is(err, errs.ErrRetrieval) {
		t.Fatalf("error = %v, want ErrRetrieval", err)
	}
}

func TestRetrievalStepWithoutQueries(t *testing.T) {
	svc := retrieval.NewService(newStubSearcher(retrieval.PoolChunk))
	step := NewRetrievalStep(svc, nil, 5)

	_, err := step.Execute(context.Background())
	if !errs.Is(err, errs.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestRetrievalStepDeduplicatesAcrossPools(t *testing.T) {
	searcher := newStubSearcher(retrieval.PoolChunk, retrieval.PoolQuote)
	searcher.add(retrieval.PoolChunk, "Venstre åpner for private tilbydere.")
	searcher.add(retrieval.PoolQuote, "Venstre åpner for private tilbydere.", "Valgfrihet er et grunnprinsipp.")
	svc := retrieval.NewService(searcher)

	step := NewRetrievalStep(svc, []retrieval.Pool{retrieval.PoolChunk, retrieval.PoolQuote}, 5)
	step.SetQueries([]string{"venstre private"})

	res, err := step.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	docs := res.Payload.([]retrieval.Document)
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2 after dedupe", len(docs))
	}
	// First occurrence wins, so the duplicate keeps chunk provenance.
	if docs[0].Pool != retrieval.PoolChunk {
		t.Errorf("surviving duplicate pool = %q, want chunk", docs[0].Pool)
	}
}
