// Package config loads service configuration from an optional YAML file with
// environment variable overrides applied on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for the kalki service.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store"`
	Session      SessionConfig      `yaml:"session"`
	Sentiment    SentimentConfig    `yaml:"sentiment"`
	Story        StoryConfig        `yaml:"story"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Addr        string          `yaml:"addr"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds LLM-consuming requests per client IP.
// A zero RequestsPerMinute disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LLMConfig selects the chat provider and the models used per purpose.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // openai | gemini
	BaseURL         string `yaml:"base_url"` // OpenAI-compatible endpoint, e.g. Ollama's /v1
	APIKey          string `yaml:"api_key"`
	NarrativeModel  string `yaml:"narrative_model"`
	EvaluationModel string `yaml:"evaluation_model"`
	StoryModel      string `yaml:"story_model"`
	MaxTokens       int    `yaml:"max_tokens"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // ollama | openai | gemini
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	Host      string `yaml:"host"`
	APIKey    string `yaml:"api_key"`
}

type VectorStoreConfig struct {
	Backend    string       `yaml:"backend"` // sqlite | milvus
	SQLitePath string       `yaml:"sqlite_path"`
	Milvus     MilvusConfig `yaml:"milvus"`
}

type MilvusConfig struct {
	Address        string `yaml:"address"`
	CollectionName string `yaml:"collection"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
}

type SessionConfig struct {
	Backend    string `yaml:"backend"` // memory | sqlite
	SQLitePath string `yaml:"sqlite_path"`
}

type SentimentConfig struct {
	ModelPath string `yaml:"model_path"`
}

type StoryConfig struct {
	Attempts              int `yaml:"attempts"`
	AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
}

type OrchestratorConfig struct {
	MaxInFlight  int `yaml:"max_in_flight"`
	ResultsLimit int `yaml:"results_limit"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a configuration that works against a local Ollama
// instance with SQLite-backed storage.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
			},
			RateLimit: RateLimitConfig{RequestsPerMinute: 60, Burst: 10},
		},
		LLM: LLMConfig{
			Provider:        "openai",
			BaseURL:         "http://localhost:11434/v1",
			NarrativeModel:  "llama3.2:latest",
			EvaluationModel: "llama3:latest",
			StoryModel:      "llama3.2:3b",
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm:33m",
			Dimension: 384,
			Host:      "http://localhost:11434",
		},
		VectorStore: VectorStoreConfig{
			Backend:    "sqlite",
			SQLitePath: "data/kalki_vectors.db",
			Milvus: MilvusConfig{
				Address:        "localhost:19530",
				CollectionName: "cultural_stories",
				M:              16,
				EfConstruction: 256,
			},
		},
		Session: SessionConfig{
			Backend:    "sqlite",
			SQLitePath: "data/kalki_sessions.db",
		},
		Sentiment: SentimentConfig{
			ModelPath: "models/sentiment_model.yaml",
		},
		Story: StoryConfig{
			Attempts:              3,
			AttemptTimeoutSeconds: 60,
		},
		Orchestrator: OrchestratorConfig{
			MaxInFlight:  8,
			ResultsLimit: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path. A missing file yields the defaults;
// environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Embedding.Provider == "openai" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.Provider == "gemini" {
			c.LLM.APIKey = key
		}
		if c.Embedding.Provider == "gemini" {
			c.Embedding.APIKey = key
		}
	}
	if provider := os.Getenv("KALKI_LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if url := os.Getenv("KALKI_LLM_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Embedding.Host = host
	}

	if addr := os.Getenv("MILVUS_ADDRESS"); addr != "" {
		c.VectorStore.Milvus.Address = addr
	}
	if coll := os.Getenv("MILVUS_COLLECTION"); coll != "" {
		c.VectorStore.Milvus.CollectionName = coll
	}
	if backend := os.Getenv("KALKI_VECTOR_BACKEND"); backend != "" {
		c.VectorStore.Backend = backend
	}

	if addr := os.Getenv("KALKI_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, origin)
			}
		}
	}

	if path := os.Getenv("SENTIMENT_MODEL_PATH"); path != "" {
		c.Sentiment.ModelPath = path
	}
	if level := os.Getenv("KALKI_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate reports the first structural problem in the configuration.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.LLM.NarrativeModel == "" {
		return fmt.Errorf("%w: llm.narrative_model is required", ErrInvalidConfig)
	}

	switch c.Embedding.Provider {
	case "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: embedding.dimension must be positive", ErrInvalidConfig)
	}

	switch c.VectorStore.Backend {
	case "sqlite", "milvus":
	default:
		return fmt.Errorf("%w: unknown vector store backend %q", ErrInvalidConfig, c.VectorStore.Backend)
	}

	switch c.Session.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unknown session backend %q", ErrInvalidConfig, c.Session.Backend)
	}

	if c.Story.Attempts < 1 {
		return fmt.Errorf("%w: story.attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Orchestrator.MaxInFlight < 1 {
		return fmt.Errorf("%w: orchestrator.max_in_flight must be at least 1", ErrInvalidConfig)
	}
	return nil
}
