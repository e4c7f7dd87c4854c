package rag

import (
	"context"
	"fmt"
	"strings"
)

// StoryIDMarker appears in the ID of every story record, generated or
// seeded, and distinguishes them from user-added drafts.
const StoryIDMarker = "story-"

// Retriever provides high-level semantic retrieval over stored records.
type Retriever struct {
	embedder    Embedder
	vectorStore VectorStore
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(embedder Embedder, vectorStore VectorStore) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}

	return &Retriever{
		embedder:    embedder,
		vectorStore: vectorStore,
	}, nil
}

// RetrieveForQuery performs semantic search using a free-text query.
func (r *Retriever) RetrieveForQuery(ctx context.Context, query string, opts QueryOptions) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", opts.TopK)
	}

	// Generate embedding for the query
	queryVector, err := EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Perform vector similarity search
	matches, err := r.vectorStore.Query(ctx, queryVector, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search for query: %w", err)
	}

	return matches, nil
}

// RetrieveForQueryWithFilters is a convenience function for semantic search
// with explicit equality filters. Empty filter values are ignored.
func (r *Retriever) RetrieveForQueryWithFilters(ctx context.Context, query string, topK int, filters map[string]string) ([]Match, error) {
	opts := QueryOptions{TopK: topK}
	for k, v := range filters {
		if v == "" {
			continue
		}
		if opts.Where == nil {
			opts.Where = make(map[string]string)
		}
		opts.Where[k] = v
	}
	return r.RetrieveForQuery(ctx, query, opts)
}

// RetrieveStoryExamples returns up to topK nearest records whose IDs mark
// them as stories. Non-story neighbours count against topK, so fewer
// examples may come back.
func (r *Retriever) RetrieveStoryExamples(ctx context.Context, query string, topK int) ([]Match, error) {
	matches, err := r.RetrieveForQuery(ctx, query, QueryOptions{TopK: topK})
	if err != nil {
		return nil, err
	}

	stories := make([]Match, 0, len(matches))
	for _, m := range matches {
		if strings.Contains(m.ID, StoryIDMarker) {
			stories = append(stories, m)
		}
	}
	return stories, nil
}
