package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
)

// recordID builds a log record ID of the form prefix-unixnano.
func recordID(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, at.UnixNano())
}

// withTurn returns a copy of history with turn appended.
func withTurn(history []engine.ChatTurn, turn engine.ChatTurn) []engine.ChatTurn {
	out := make([]engine.ChatTurn, 0, len(history)+1)
	out = append(out, history...)
	return append(out, turn)
}

// toChunks adapts vector matches to prompt context chunks.
func toChunks(matches []rag.Match) []narrative.ContextChunk {
	chunks := make([]narrative.ContextChunk, len(matches))
	for i, m := range matches {
		chunks[i] = narrative.ContextChunk{ID: m.ID, Text: m.Document, Score: m.Score}
	}
	return chunks
}

// blank reports whether s is empty after trimming.
func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// orDefault returns s, or def when s is blank.
func orDefault(s, def string) string {
	if blank(s) {
		return def
	}
	return s
}

// timestamp formats t for response bodies.
func timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
