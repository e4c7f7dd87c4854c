package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Yates-Labs/kalki/internal/config"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/orchestrator"
	"github.com/Yates-Labs/kalki/internal/rag"
	"github.com/Yates-Labs/kalki/internal/sentiment"
	"github.com/Yates-Labs/kalki/internal/session"
)

// newLLM builds the chat provider named in cfg.
func newLLM(ctx context.Context, cfg config.LLMConfig) (narrative.LLM, error) {
	llmConfig := narrative.LLMConfig{
		Model:     cfg.NarrativeModel,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
		APIKey:    cfg.APIKey,
	}
	switch cfg.Provider {
	case "gemini":
		return narrative.NewGeminiLLM(ctx, llmConfig)
	case "openai":
		return narrative.NewOpenAILLM(llmConfig)
	}
	return nil, fmt.Errorf("%w: unknown llm provider %q", config.ErrInvalidConfig, cfg.Provider)
}

// newEmbedder builds the embedding provider named in cfg.
func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (rag.Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		return rag.NewOllamaEmbedder(cfg.Model, cfg.Dimension, rag.WithOllamaHost(cfg.Host)), nil
	case "openai":
		return rag.NewOpenAIEmbedder(cfg.Model, cfg.Dimension, rag.WithOpenAIKey(cfg.APIKey))
	case "gemini":
		return rag.NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimension)
	}
	return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalidConfig, cfg.Provider)
}

// newVectorStore opens the configured vector backend for vectors of the
// given dimension.
func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig, dimension int) (rag.VectorStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return rag.NewSQLiteStore(cfg.SQLitePath, dimension)
	case "milvus":
		milvusConfig := rag.DefaultMilvusConfig()
		milvusConfig.Address = cfg.Milvus.Address
		milvusConfig.CollectionName = cfg.Milvus.CollectionName
		milvusConfig.Dimension = dimension
		if cfg.Milvus.M > 0 {
			milvusConfig.M = cfg.Milvus.M
		}
		if cfg.Milvus.EfConstruction > 0 {
			milvusConfig.EfConstruction = cfg.Milvus.EfConstruction
		}
		return rag.NewMilvusStore(ctx, milvusConfig)
	}
	return nil, fmt.Errorf("%w: unknown vector store backend %q", config.ErrInvalidConfig, cfg.Backend)
}

func newSessionStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case "memory":
		return session.NewMemoryStore(), nil
	case "sqlite":
		return session.OpenSQLite(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("%w: unknown session backend %q", config.ErrInvalidConfig, cfg.Backend)
}

// app holds everything a long-running command needs. Close releases the
// stores.
type app struct {
	service  *orchestrator.Service
	vectors  rag.VectorStore
	sessions session.Store
}

func (r *app) Close() error {
	var errs []error
	if r.sessions != nil {
		errs = append(errs, r.sessions.Close())
	}
	if r.vectors != nil {
		errs = append(errs, r.vectors.Close())
	}
	return errors.Join(errs...)
}

// newApp wires the orchestrator from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	llm, err := newLLM(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm: %w", err)
	}
	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectors, err := newVectorStore(ctx, cfg.VectorStore, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	rt := &app{vectors: vectors}

	sessions, err := newSessionStore(cfg.Session)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	rt.sessions = sessions

	rt.service, err = orchestrator.New(orchestrator.Deps{
		LLM:         llm,
		Embedder:    embedder,
		VectorStore: rt.vectors,
		Sessions:    rt.sessions,
		Sentiment:   sentiment.NewScorer(cfg.Sentiment.ModelPath, logger),
		Logger:      logger,
	}, orchestrator.Config{
		NarrativeModel:  cfg.LLM.NarrativeModel,
		EvaluationModel: cfg.LLM.EvaluationModel,
		StoryModel:      cfg.LLM.StoryModel,
		MaxInFlight:     cfg.Orchestrator.MaxInFlight,
		ResultsLimit:    cfg.Orchestrator.ResultsLimit,
		StoryRetry: narrative.RetryPolicy{
			Attempts:       cfg.Story.Attempts,
			AttemptTimeout: time.Duration(cfg.Story.AttemptTimeoutSeconds) * time.Second,
		},
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return rt, nil
}
