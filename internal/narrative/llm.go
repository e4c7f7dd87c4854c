// Package narrative provides LLM-powered narrative generation for the
// conflict, role-play, debate and story modes. It defines a provider-agnostic
// chat interface with implementations for OpenAI-compatible endpoints
// (including Ollama) and Gemini, plus a deterministic mock for tests.
package narrative

import (
	"context"
	"errors"
)

var (
	ErrLLMFailed     = errors.New("LLM request failed")
	ErrInvalidConfig = errors.New("invalid LLM configuration")
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Options are per-call sampling settings. Zero values defer to the
// provider's configured defaults.
type Options struct {
	// Model overrides the provider's configured model.
	Model string

	Temperature float64
	TopP        float64
	MaxTokens   int
}

// LLM defines the interface for interacting with chat models.
// Implementations must be stateless and thread-safe.
type LLM interface {
	// Chat sends a role-tagged message sequence and returns the reply text.
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

// Generate sends a single user prompt.
func Generate(ctx context.Context, llm LLM, prompt string, opts Options) (string, error) {
	return llm.Chat(ctx, []Message{UserMessage(prompt)}, opts)
}

// LLMConfig holds common configuration options for LLM providers.
type LLMConfig struct {
	// Model specifies the default model identifier (e.g., "llama3.2:latest", "gpt-4o")
	Model string

	// BaseURL points an OpenAI-compatible client at another server,
	// e.g. "http://localhost:11434/v1" for Ollama.
	BaseURL string

	// Temperature controls randomness (0.0 = provider default)
	Temperature float64

	// MaxTokens limits the response length (0 = use provider default)
	MaxTokens int

	// APIKey is the authentication key for the provider
	APIKey string
}

// DefaultLLMConfig returns defaults for a local Ollama server.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:   "llama3.2:latest",
		BaseURL: "http://localhost:11434/v1",
	}
}

// merge resolves per-call options against provider defaults.
func (c LLMConfig) merge(opts Options) Options {
	if opts.Model == "" {
		opts.Model = c.Model
	}
	if opts.Temperature == 0 {
		opts.Temperature = c.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = c.MaxTokens
	}
	return opts
}
