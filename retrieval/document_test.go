package retrieval

import (
	"reflect"
	"testing"
)

func TestDedupe(t *testing.T) {
	docs := []Document{
		{Content: "Venstre åpner for private tilbydere.", Pool: PoolChunk, OriginQuery: "q1"},
		{Content: "  Venstre åpner for private tilbydere.  ", Pool: PoolQuote, OriginQuery: "q2"},
		{Content: "Valgfrihet er et grunnprinsipp.", Pool: PoolQuote, OriginQuery: "q2"},
	}

	unique := Dedupe(docs)
	if len(unique) != 2 {
		t.Fatalf("got %d documents, want 2", len(unique))
	}
	// First occurrence wins and keeps its provenance.
	if unique[0].Pool != PoolChunk || unique[0].OriginQuery != "q1" {
		t.Errorf("survivor provenance = %+v", unique[0])
	}
}

func TestDedupeIdempotent(t *testing.T) {
	docs := []Document{
		{Content: "a"},
		{Content: "a"},
		{Content: "b"},
	}
	once := Dedupe(docs)
	twice := Dedupe(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Dedupe not idempotent: %v vs %v", once, twice)
	}
}

func TestDedupeOrderInsensitiveSetMembership(t *testing.T) {
	forward := Dedupe([]Document{{Content: "a"}, {Content: "b"}, {Content: "a"}})
	reversed := Dedupe([]Document{{Content: "b"}, {Content: "a"}, {Content: "b"}})

	members := func(docs []Document) map[string]bool {
		m := make(map[string]bool)
		for _, d := range docs {
			m[d.Content] = true
		}
		return m
	}
	if !reflect.DeepEqual(members(forward), members(reversed)) {
		t.Errorf("set membership differs: %v vs %v", forward, reversed)
	}
}

func TestDedupeEmpty(t *testing.T) {
	unique := Dedupe(nil)
	if unique == nil || len(unique) != 0 {
		t.Errorf("Dedupe(nil) = %v, want empty slice", unique)
	}
}
