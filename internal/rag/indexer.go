package rag

import (
	"context"
	"fmt"
)

// Document is a record awaiting embedding.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any

	// EmbedText, when set, is embedded instead of Text
	EmbedText string
}

func (d Document) embedText() string {
	if d.EmbedText != "" {
		return d.EmbedText
	}
	return d.Text
}

// DefaultIndexOptions returns sensible defaults for indexing
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		BatchSize:    16, // Batch size for embedding API calls
		ForceReindex: false,
		SkipExisting: true,
	}
}

// IndexStats reports what an indexing run did.
type IndexStats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
}

// IndexDocuments embeds documents in batches and stores them:
// 1. Deletes existing IDs first when ForceReindex is set
// 2. Skips IDs already present when SkipExisting is set
// 3. Embeds and inserts each batch
func IndexDocuments(
	ctx context.Context,
	docs []Document,
	embedder Embedder,
	vectorStore VectorStore,
	opts IndexOptions,
) (IndexStats, error) {
	var stats IndexStats
	if len(docs) == 0 {
		return stats, nil
	}

	if embedder == nil {
		return stats, fmt.Errorf("embedder cannot be nil")
	}

	if vectorStore == nil {
		return stats, fmt.Errorf("vector store cannot be nil")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexOptions().BatchSize
	}

	// Handle re-indexing: delete existing records if force reindex is enabled
	if opts.ForceReindex {
		if err := vectorStore.Delete(ctx, documentIDs(docs)); err != nil {
			return stats, fmt.Errorf("failed to delete existing records: %w", err)
		}
	}

	toIndex := docs
	if opts.SkipExisting && !opts.ForceReindex {
		toIndex = filterNewDocuments(ctx, docs, vectorStore)
		stats.Skipped = len(docs) - len(toIndex)
	}

	// Process documents in batches
	for batchStart := 0; batchStart < len(toIndex); batchStart += opts.BatchSize {
		batchEnd := min(batchStart+opts.BatchSize, len(toIndex))
		batch := toIndex[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.embedText()
		}

		embeddingRecords, err := embedder.Embed(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("failed to generate embeddings for batch starting at %d: %w", batchStart, err)
		}
		if len(embeddingRecords) != len(batch) {
			return stats, fmt.Errorf("%w: batch starting at %d: expected %d embeddings, got %d", ErrEmbeddingFailed, batchStart, len(batch), len(embeddingRecords))
		}

		records := make([]Record, len(batch))
		for i, doc := range batch {
			records[i] = Record{
				ID:        doc.ID,
				Document:  doc.Text,
				Embedding: embeddingRecords[i].Embedding,
				Metadata:  doc.Metadata,
			}
		}

		if err := vectorStore.Add(ctx, records); err != nil {
			return stats, fmt.Errorf("failed to insert batch starting at %d: %w", batchStart, err)
		}
		stats.Indexed += len(batch)
	}

	return stats, nil
}

func documentIDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// filterNewDocuments removes documents that already exist in the vector store
func filterNewDocuments(ctx context.Context, docs []Document, vectorStore VectorStore) []Document {
	existingMap, err := vectorStore.Exists(ctx, documentIDs(docs))
	if err != nil {
		// If query fails, index everything; Add replaces by ID
		return docs
	}

	newDocs := make([]Document, 0, len(docs))
	for _, d := range docs {
		if !existingMap[d.ID] {
			newDocs = append(newDocs, d)
		}
	}
	return newDocs
}
