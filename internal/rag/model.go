// Package rag stores interaction and story records as embeddings and
// retrieves similar records for retrieval-augmented prompts.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Metadata keys with dedicated columns in every backend. Other keys are
// stored in the JSON metadata blob.
const (
	KeyMode      = "mode"
	KeySessionID = "session_id"
	KeyUserID    = "user_id"
)

// Modes recorded under KeyMode.
const (
	ModeConflict   = "conflict-resolution"
	ModeRolePlay   = "role-play"
	ModeEvaluation = "evaluation"
	ModeDebate     = "debate"
	ModeStory      = "story"
)

// Record is one stored document with its embedding.
type Record struct {
	ID        string         `json:"id"`
	Document  string         `json:"document"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// QueryOptions narrows a similarity query.
type QueryOptions struct {
	// TopK is the maximum number of matches returned
	TopK int

	// Where keeps only records whose metadata values equal these, compared
	// as strings
	Where map[string]string
}

// Match is a retrieved record with its cosine similarity to the query.
type Match struct {
	ID       string         `json:"id"`
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float32        `json:"score"`
}

// VectorStore defines the interface for vector storage and similarity search.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Add inserts or replaces records by ID
	Add(ctx context.Context, records []Record) error

	// Query performs top-K similarity search with optional metadata filtering
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)

	// Exists checks which IDs are present in the store
	Exists(ctx context.Context, ids []string) (map[string]bool, error)

	// Delete removes records by ID
	Delete(ctx context.Context, ids []string) error

	// Stats returns collection statistics (record count, backend, etc.)
	Stats(ctx context.Context) (map[string]any, error)

	// Close releases resources and closes connections
	Close() error
}

// IndexOptions provides configuration for bulk indexing.
type IndexOptions struct {
	// BatchSize determines how many documents to embed at once
	BatchSize int

	// ForceReindex will delete and re-insert records even if they exist
	ForceReindex bool

	// SkipExisting will check if a record already exists and skip if present
	SkipExisting bool
}

// metaString renders a metadata value for equality filtering.
func metaString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// matchesWhere reports whether metadata satisfies every filter.
func matchesWhere(meta map[string]any, where map[string]string) bool {
	for k, want := range where {
		got, ok := meta[k]
		if !ok || metaString(got) != want {
			return false
		}
	}
	return true
}

// Slug lower-cases s and folds every run of characters outside [a-z0-9_]
// into one underscore, so user-supplied names such as a culture or role can
// be embedded in record IDs without introducing StoryIDMarker by accident.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	pending := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			pending = false
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
