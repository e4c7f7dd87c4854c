package narrative

import "unicode/utf8"

// ContextChunk is a retrieved reference document for prompt assembly.
// It mirrors the structure from the RAG store but is defined here to avoid
// circular dependencies and keep the narrative package self-contained.
type ContextChunk struct {
	ID    string
	Text  string
	Score float32
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
