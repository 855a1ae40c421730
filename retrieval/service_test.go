package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	errs "github.com/sweetpotato0/partirag/errors"
)

// fakeSearcher returns one document per query, failing the queries it is told
// to fail. A per-call delay exercises the concurrency path.
type fakeSearcher struct {
	fail  map[string]bool
	delay time.Duration
}

func (f *fakeSearcher) Pools() []Pool {
	return []Pool{PoolChunk, PoolQuote}
}

func (f *fakeSearcher) Search(ctx context.Context, query string, pool Pool, limit int) ([]Document, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[query] {
		return nil, fmt.Errorf("backend unavailable")
	}
	return []Document{{Content: "doc for " + query}}, nil
}

func TestSearchPartialFailure(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]bool{"q2": true}}
	svc := NewService(searcher)

	docs, err := svc.Search(context.Background(), []string{"q1", "q2", "q3"}, PoolChunk, 5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	// Submission order is preserved regardless of completion order.
	if docs[0].OriginQuery != "q1" || docs[1].OriginQuery != "q3" {
		t.Errorf("order = %q, %q", docs[0].OriginQuery, docs[1].OriginQuery)
	}
}

func TestSearchAllQueriesFail(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]bool{"q1": true, "q2": true}}
	svc := NewService(searcher)

	_, err := svc.Search(context.Background(), []string{"q1", "q2"}, PoolChunk, 5)
	if !errs.Is(err, errs.ErrRetrieval) {
		t.Fatalf("error = %v, want ErrRetrieval", err)
	}
}

func TestSearchDeterministicOrderUnderConcurrency(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]bool{}, delay: time.Millisecond}
	svc := NewService(searcher, WithConcurrency(8))

	queries := []string{"a", "b", "c", "d", "e", "f"}
	for run := 0; run < 5; run++ {
		docs, err := svc.Search(context.Background(), queries, PoolQuote, 5)
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}
		for i, doc := range docs {
			if doc.OriginQuery != queries[i] {
				t.Fatalf("run %d: position %d holds %q, want %q", run, i, doc.OriginQuery, queries[i])
			}
			if doc.Pool != PoolQuote {
				t.Fatalf("document missing pool tag: %+v", doc)
			}
		}
	}
}

func TestSearchEmptyQuerySet(t *testing.T) {
	svc := NewService(&fakeSearcher{})
	docs, err := svc.Search(context.Background(), nil, PoolChunk, 5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d documents, want 0", len(docs))
	}
}

func TestSearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(&fakeSearcher{delay: 10 * time.Millisecond})
	if _, err := svc.Search(ctx, []string{"q1"}, PoolChunk, 5); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
