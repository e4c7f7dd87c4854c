package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestNewOpenAIEmbedder_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewOpenAIEmbedder("text-embedding-3-small", 384)
	if err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}

	if _, err := NewOpenAIEmbedder("all-minilm:33m", 384, WithOpenAIBaseURL("http://localhost:11434/v1")); err != nil {
		t.Errorf("base URL should not require a key: %v", err)
	}
}

func TestNewGeminiEmbedder_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := NewGeminiEmbedder(context.Background(), "", "", 768); err != ErrMissingAPIKey {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	var got ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("all-minilm:33m", 3, WithOllamaHost(srv.URL+"/"))
	records, err := e.Embed(context.Background(), []string{"peace", "war"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Model != "all-minilm:33m" || len(got.Input) != 2 {
		t.Errorf("unexpected request: %+v", got)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Text != "war" || records[1].Index != 1 {
		t.Errorf("unexpected second record: %+v", records[1])
	}
	if records[0].Embedding[2] != float32(0.3) {
		t.Errorf("unexpected vector: %v", records[0].Embedding)
	}
	if e.GetDimension() != 3 || e.GetModel() != "all-minilm:33m" {
		t.Error("unexpected model metadata")
	}
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("missing", 3, WithOllamaHost(srv.URL))
	if _, err := e.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrEmbeddingFailed) {
		t.Errorf("expected ErrEmbeddingFailed, got %v", err)
	}
	if _, err := e.Embed(context.Background(), nil); err != ErrEmptyTexts {
		t.Errorf("expected ErrEmptyTexts, got %v", err)
	}

	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1}}})
	}))
	defer short.Close()

	e = NewOllamaEmbedder("m", 1, WithOllamaHost(short.URL))
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrEmbeddingFailed) {
		t.Errorf("expected count mismatch to fail, got %v", err)
	}
}

func TestEmbedOne(t *testing.T) {
	vec, err := EmbedOne(context.Background(), &mockEmbedder{}, "peace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vec[0] != 1 {
		t.Errorf("unexpected vector: %v", vec)
	}

	empty := &mockEmbedder{embedFunc: func(context.Context, []string) ([]EmbeddingRecord, error) { return nil, nil }}
	if _, err := EmbedOne(context.Background(), empty, "x"); !errors.Is(err, ErrEmbeddingFailed) {
		t.Errorf("expected ErrEmbeddingFailed, got %v", err)
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	// Skip if no API key
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	embedder, err := NewOpenAIEmbedder("text-embedding-3-small", 384)
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}

	records, err := embedder.Embed(context.Background(), []string{"A ceasefire was agreed.", "Troops crossed the border."})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(records) != 2 || len(records[0].Embedding) != 384 {
		t.Errorf("unexpected embeddings: %d records", len(records))
	}
}
