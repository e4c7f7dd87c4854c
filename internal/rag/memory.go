package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is a process-local VectorStore for tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]Record
}

// NewMemoryStore creates an empty store for vectors of the given dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, records: make(map[string]Record)}
}

// Add inserts or replaces records by ID.
func (s *MemoryStore) Add(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: id", ErrMissingMetadata)
		}
		if s.dimension > 0 && len(r.Embedding) != s.dimension {
			return fmt.Errorf("%w: record %s: expected %d, got %d", ErrInvalidDimension, r.ID, s.dimension, len(r.Embedding))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		r.Metadata = meta
		r.Embedding = append([]float32(nil), r.Embedding...)
		s.records[r.ID] = r
	}
	return nil
}

// Query ranks matching records by cosine similarity.
func (s *MemoryStore) Query(_ context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, s.dimension, len(vector))
	}
	if opts.TopK <= 0 {
		return []Match{}, nil
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.records))
	for _, r := range s.records {
		if !matchesWhere(r.Metadata, opts.Where) {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Document: r.Document,
			Metadata: r.Metadata,
			Score:    CosineSimilarity(vector, r.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// Exists checks which IDs are present.
func (s *MemoryStore) Exists(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, out[id] = s.records[id]
	}
	return out, nil
}

// Delete removes records by ID.
func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

// Stats returns the record count.
func (s *MemoryStore) Stats(context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{"backend": "memory", "row_count": len(s.records)}, nil
}

// Records returns a snapshot of every stored record.
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
