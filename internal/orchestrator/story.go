package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
)

const (
	storyTemperature   = 0.7
	storyTopP          = 0.9
	storyExamples      = 2
	defaultStoryLength = 500
	minStoryLength     = 100
	maxStoryLength     = 2000
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// StoryRequest describes a story to index or generate.
type StoryRequest struct {
	Culture   string `json:"culture"`
	Theme     string `json:"theme,omitempty"`
	MaxLength *int   `json:"max_length,omitempty"`
	Language  string `json:"language,omitempty"`
	Tone      string `json:"tone,omitempty"`
}

func (r StoryRequest) validate() error {
	if len(strings.TrimSpace(r.Culture)) < 2 {
		return invalid("culture", "must be at least 2 characters")
	}
	if r.MaxLength != nil && (*r.MaxLength < minStoryLength || *r.MaxLength > maxStoryLength) {
		return invalid("max_length", "must be between %d and %d, got %d", minStoryLength, maxStoryLength, *r.MaxLength)
	}
	return nil
}

func (r StoryRequest) brief() narrative.StoryBrief {
	length := defaultStoryLength
	if r.MaxLength != nil {
		length = *r.MaxLength
	}
	return narrative.StoryBrief{
		Culture:   strings.TrimSpace(r.Culture),
		Theme:     strings.TrimSpace(r.Theme),
		Tone:      orDefault(r.Tone, "neutral"),
		Language:  orDefault(r.Language, "English"),
		MaxLength: length,
	}
}

// Response acknowledges a write.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// AddStory indexes a story brief so later generations can retrieve it.
// Unlike turn logging, a failed write fails the request.
func (s *Service) AddStory(ctx context.Context, req StoryRequest) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	brief := req.brief()
	metadata := map[string]any{
		rag.KeyMode:  rag.ModeStory,
		"culture":    brief.Culture,
		"theme":      brief.Theme,
		"max_length": brief.MaxLength,
		"language":   brief.Language,
		"tone":       brief.Tone,
	}
	document, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode story: %w", err)
	}

	vec, err := s.embed(ctx, strings.Join([]string{brief.Culture, brief.Theme, brief.Tone, brief.Language}, " "))
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := rag.Record{
		ID:        recordID(rag.Slug(brief.Culture), now),
		Document:  string(document),
		Embedding: vec,
		Metadata:  metadata,
	}
	if err := s.store.Add(ctx, []rag.Record{record}); err != nil {
		return nil, fmt.Errorf("%w: failed to add story: %w", ErrExternalService, err)
	}

	return &Response{Success: true, Message: "Added To VectorDB", Timestamp: timestamp(now)}, nil
}

// GenerateStory writes a new story, using the nearest stored stories as
// examples. The generation call is retried per the configured policy; when
// every attempt times out the error wraps ErrNarrativeTimeout.
func (s *Service) GenerateStory(ctx context.Context, req StoryRequest) (*StoryResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	brief := req.brief()
	logger := s.logger.With(zap.String("culture", brief.Culture))

	// Stage 1: retrieval
	query := strings.Join([]string{brief.Culture, brief.Theme, brief.Tone}, " ")
	examples, err := s.retrieve(ctx, func(ctx context.Context) ([]rag.Match, error) {
		return s.retriever.RetrieveStoryExamples(ctx, query, storyExamples)
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("retrieved story examples", zap.Int("count", len(examples)))

	// Stage 2: prompt assembly and generation
	prompt := narrative.StoryPrompt(brief, toChunks(examples))
	now := s.now()
	id := recordID(rag.Slug(brief.Culture)+"-story", now)

	var narr *narrative.Narrative
	err = s.withSlot(ctx, func(ctx context.Context) error {
		var err error
		narr, err = s.generator.Generate(ctx, id, []narrative.Message{narrative.UserMessage(prompt)}, narrative.Options{
			Model:       s.config.StoryModel,
			Temperature: storyTemperature,
			TopP:        storyTopP,
		})
		return err
	})
	switch {
	case errors.Is(err, narrative.ErrTimeout):
		return nil, fmt.Errorf("%w: %w", ErrNarrativeTimeout, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	logger.Debug("generated story", zap.Int("attempts", narr.Attempts), zap.Int("characters", len(narr.Text)))

	// Stage 3: log
	vec, err := s.embed(ctx, narr.Text)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		rag.KeyMode: rag.ModeStory,
		"culture":   brief.Culture,
		"theme":     brief.Theme,
		"tone":      brief.Tone,
		"language":  brief.Language,
		"model":     narr.Model,
		"has_rag":   len(examples) > 0,
	}
	s.persist(ctx, rag.Record{ID: id, Document: narr.Text, Embedding: vec, Metadata: metadata})

	return &StoryResponse{
		Story:          narr.Text,
		CharacterCount: utf8.RuneCountInString(narr.Text),
		Language:       brief.Language,
		Metadata:       metadata,
		UsedRAG:        len(examples) > 0,
		ReferenceCount: len(examples),
	}, nil
}

// SearchRequest is a semantic story search with optional equality filters.
type SearchRequest struct {
	Text     string `json:"text"`
	Culture  string `json:"culture,omitempty"`
	Theme    string `json:"theme,omitempty"`
	Language string `json:"language,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SearchResult is one search hit. Similarity is the cosine similarity.
type SearchResult struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float32        `json:"similarity"`
}

// SearchResponse lists search hits, most similar first.
type SearchResponse struct {
	Success bool           `json:"success"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// SearchStories finds stored records similar to the query text.
func (s *Service) SearchStories(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if blank(req.Text) {
		return nil, invalid("text", "cannot be empty")
	}
	limit := req.Limit
	switch {
	case limit == 0:
		limit = defaultSearchLimit
	case limit < 0 || limit > maxSearchLimit:
		return nil, invalid("limit", "must be between 1 and %d, got %d", maxSearchLimit, limit)
	}
	ctx = context.WithoutCancel(ctx)

	query := strings.TrimSpace(strings.Join([]string{req.Text, req.Culture, req.Theme}, " "))
	filters := map[string]string{
		"culture":  strings.TrimSpace(req.Culture),
		"theme":    strings.TrimSpace(req.Theme),
		"language": strings.TrimSpace(req.Language),
	}
	matches, err := s.retrieve(ctx, func(ctx context.Context) ([]rag.Match, error) {
		return s.retriever.RetrieveForQueryWithFilters(ctx, query, limit, filters)
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(matches))
	for i, m := range matches {
		results[i] = SearchResult{Content: m.Document, Metadata: m.Metadata, Similarity: m.Score}
	}
	return &SearchResponse{Success: true, Results: results, Count: len(results)}, nil
}
