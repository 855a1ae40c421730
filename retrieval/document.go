package retrieval

import "strings"

// Pool names a partition of the document corpus indexed separately.
type Pool string

const (
	// PoolChunk holds full-text chunks of party programs and records.
	PoolChunk Pool = "chunk"
	// PoolQuote holds short verbatim quotes.
	PoolQuote Pool = "quote"
)

// Document is a single retrieval hit. OriginQuery and Pool record provenance
// for deduplication and audit.
type Document struct {
	Content     string `json:"content"`
	Pool        Pool   `json:"source_pool"`
	OriginQuery string `json:"origin_query"`
}

// Dedupe collapses documents with identical trimmed content. The first
// occurrence wins, so its provenance is retained. Order of the survivors
// follows the input order.
func Dedupe(docs []Document) []Document {
	if len(docs) == 0 {
		return []Document{}
	}
	seen := make(map[string]struct{}, len(docs))
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		key := strings.TrimSpace(doc.Content)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
	}
	return out
}
