package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestDefaultMilvusConfig tests default configuration
func TestDefaultMilvusConfig(t *testing.T) {
	config := DefaultMilvusConfig()

	if config.Address == "" {
		t.Error("Expected non-empty address")
	}
	if config.CollectionName != "cultural_stories" {
		t.Errorf("Expected cultural_stories collection, got %s", config.CollectionName)
	}
	if config.Dimension != 384 {
		t.Errorf("Expected dimension 384, got %d", config.Dimension)
	}
	if config.M != 16 || config.EfConstruction != 256 {
		t.Errorf("unexpected HNSW parameters: M=%d efConstruction=%d", config.M, config.EfConstruction)
	}
}

func TestMilvusStore_InvalidDimension(t *testing.T) {
	config := DefaultMilvusConfig()
	config.Dimension = 0

	if _, err := NewMilvusStore(context.Background(), config); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("expected ErrInvalidDimension, got %v", err)
	}
}

// TestMilvusStore_EmptyRecords tests that validation happens before any RPC
func TestMilvusStore_EmptyRecords(t *testing.T) {
	store := &MilvusStore{config: DefaultMilvusConfig()}

	if err := store.Add(context.Background(), nil); !errors.Is(err, ErrEmptyRecords) {
		t.Errorf("Expected ErrEmptyRecords, got: %v", err)
	}
	if _, err := store.Query(context.Background(), []float32{1, 2}, QueryOptions{TopK: 1}); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("Expected ErrInvalidDimension, got: %v", err)
	}
	if err := store.Add(context.Background(), []Record{{ID: "x", Embedding: []float32{1}}}); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("Expected ErrInvalidDimension, got: %v", err)
	}
}

func TestSplitWhere(t *testing.T) {
	expr, post := splitWhere(map[string]string{
		KeyUserID: "alice",
		KeyMode:   ModeConflict,
		"culture": "Maori",
	})

	if expr != `mode == "conflict-resolution" && user_id == "alice"` {
		t.Errorf("unexpected expression: %s", expr)
	}
	if len(post) != 1 || post["culture"] != "Maori" {
		t.Errorf("unexpected post filters: %v", post)
	}

	expr, post = splitWhere(nil)
	if expr != "" || len(post) != 0 {
		t.Errorf("expected empty split, got %q %v", expr, post)
	}
}

func TestQuoteExpr(t *testing.T) {
	if got := quoteExpr(`a"b\c`); got != `"a\"b\\c"` {
		t.Errorf("unexpected quoting: %s", got)
	}
	if got := idInExpr([]string{"a", "b"}); got != `id in ["a", "b"]` {
		t.Errorf("unexpected id expression: %s", got)
	}
}

func TestExtraMetadataRoundTrip(t *testing.T) {
	meta := map[string]any{
		KeyMode:         ModeRolePlay,
		KeySessionID:    "s1",
		"culture":       "Inca",
		"tension_level": 40,
	}

	encoded, err := encodeExtraMetadata(meta)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded := make(map[string]any)
	if err := decodeExtraMetadata(encoded, decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, ok := decoded[KeyMode]; ok {
		t.Error("column keys should not be duplicated in the JSON blob")
	}
	if decoded["culture"] != "Inca" {
		t.Errorf("culture lost: %v", decoded)
	}
	if metaString(decoded["tension_level"]) != "40" {
		t.Errorf("numeric metadata should compare as its decimal string, got %q", metaString(decoded["tension_level"]))
	}

	empty, _ := encodeExtraMetadata(map[string]any{KeyMode: "x"})
	if empty != "{}" {
		t.Errorf("expected empty object, got %s", empty)
	}
}

func TestTruncateBytes(t *testing.T) {
	if got := truncateBytes("añb", 2); got != "a" {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
}

// TestMilvusStore_Integration exercises a live Milvus instance.
func TestMilvusStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("MILVUS_ADDRESS") == "" {
		t.Skip("MILVUS_ADDRESS not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	config := DefaultMilvusConfig()
	config.Address = os.Getenv("MILVUS_ADDRESS")
	config.CollectionName = fmt.Sprintf("kalki_test_%d", time.Now().UnixNano())
	config.Dimension = 3

	store, err := NewMilvusStore(ctx, config)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() {
		_ = store.client.DropCollection(context.Background(), config.CollectionName)
		store.Close()
	}()

	records := []Record{
		{ID: "conflict-s1-1", Document: "peace", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{KeyMode: ModeConflict, KeyUserID: "alice", "faction": "neutral"}},
		{ID: "conflict-s1-2", Document: "war", Embedding: []float32{0, 1, 0}, Metadata: map[string]any{KeyMode: ModeConflict, KeyUserID: "bob"}},
	}
	if err := store.Add(ctx, records); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	matches, err := store.Query(ctx, []float32{1, 0.1, 0}, QueryOptions{TopK: 5, Where: map[string]string{KeyUserID: "alice", "faction": "neutral"}})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "conflict-s1-1" {
		t.Errorf("unexpected matches: %+v", matches)
	}

	exists, err := store.Exists(ctx, []string{"conflict-s1-1", "missing"})
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if !exists["conflict-s1-1"] || exists["missing"] {
		t.Errorf("unexpected existence map: %v", exists)
	}
}
