package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record captures one completed pipeline run for audit.
type Record struct {
	ID          string    `json:"id" bson:"_id"`
	Question    string    `json:"question" bson:"question"`
	DoesMatch   bool      `json:"does_match" bson:"does_match"`
	Explanation string    `json:"explanation" bson:"explanation"`
	Evidence    []string  `json:"evidence" bson:"evidence"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Store persists pipeline run records.
type Store interface {
	// SaveRun stores a completed run record.
	SaveRun(ctx context.Context, rec *Record) error

	// ListRuns returns up to limit records, newest first.
	ListRuns(ctx context.Context, limit int) ([]*Record, error)
}

// InMemoryStore keeps run records in memory; useful for tests and
// single-process deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// SaveRun stores a record.
func (s *InMemoryStore) SaveRun(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	cloned := *rec
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, &cloned)
	return nil
}

// ListRuns returns up to limit records, newest first.
func (s *InMemoryStore) ListRuns(ctx context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
