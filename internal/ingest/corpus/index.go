package corpus

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yates-Labs/kalki/internal/rag"
)

// ID derives a stable record ID for s. Re-seeding the same story yields the
// same ID, so SkipExisting makes imports idempotent.
func (s Story) ID() string {
	key := strings.Join([]string{s.Culture, s.Title, s.Text}, "\x00")
	return fmt.Sprintf("%s-%sseed-%s", rag.Slug(s.Culture), rag.StoryIDMarker, uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)))
}

// Documents converts the corpus into documents ready for rag.IndexDocuments.
// Duplicate stories collapse to one document.
func (c *Corpus) Documents() []rag.Document {
	docs := make([]rag.Document, 0, len(c.Stories))
	seen := make(map[string]bool, len(c.Stories))
	for _, s := range c.Stories {
		id := s.ID()
		if seen[id] {
			continue
		}
		seen[id] = true

		meta := map[string]any{
			rag.KeyMode: rag.ModeStory,
			"culture":   s.Culture,
			"path":      s.Source.Path,
		}
		for k, v := range map[string]string{
			"title":         s.Title,
			"theme":         s.Theme,
			"language":      s.Language,
			"tone":          s.Tone,
			"source_url":    s.Source.URL,
			"source_commit": s.Source.Commit,
		} {
			if v != "" {
				meta[k] = v
			}
		}

		docs = append(docs, rag.Document{ID: id, Text: s.Text, Metadata: meta})
	}
	return docs
}

// SeedStats summarises a seed run.
type SeedStats struct {
	Stories int `json:"stories"`
	rag.IndexStats
	Invalid []Skipped `json:"invalid,omitempty"`
}

// Seed indexes every story in c into vectorStore.
func Seed(ctx context.Context, c *Corpus, embedder rag.Embedder, vectorStore rag.VectorStore, opts rag.IndexOptions, logger *zap.Logger) (SeedStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, s := range c.Skipped {
		logger.Warn("skipping corpus entry", zap.String("path", s.Path), zap.String("reason", s.Reason))
	}

	docs := c.Documents()
	stats := SeedStats{Stories: len(docs), Invalid: c.Skipped}
	indexed, err := rag.IndexDocuments(ctx, docs, embedder, vectorStore, opts)
	stats.IndexStats = indexed
	if err != nil {
		return stats, fmt.Errorf("failed to index stories: %w", err)
	}

	logger.Info("seeded story corpus",
		zap.String("source", c.URL),
		zap.String("head", c.HeadHash),
		zap.Int("stories", stats.Stories),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped_existing", stats.Skipped),
		zap.Int("skipped_invalid", len(c.Skipped)))
	return stats, nil
}
