package narrative

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrGenerationFailed = errors.New("narrative generation failed")
	ErrTimeout          = errors.New("narrative generation timed out")
)

// Narrative is a generated piece of text with its provenance.
type Narrative struct {
	// ID identifies the record this narrative is stored under
	ID string `json:"id"`

	// Text is the generated narrative content
	Text string `json:"text"`

	// GeneratedAt is when this narrative was created
	GeneratedAt time.Time `json:"generated_at"`

	// Model is the LLM model used to generate this narrative
	Model string `json:"model"`

	// Attempts is how many LLM calls were needed
	Attempts int `json:"attempts"`
}

// RetryPolicy bounds how often and how long a generation is attempted.
type RetryPolicy struct {
	Attempts       int
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns three attempts of one minute each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, AttemptTimeout: 60 * time.Second}
}

// Generator invokes an LLM on already-assembled messages, retrying each
// attempt under its own deadline.
type Generator struct {
	llm    LLM
	policy RetryPolicy
}

// NewGenerator creates a generator with the given LLM implementation.
func NewGenerator(llm LLM, policy RetryPolicy) *Generator {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Generator{
		llm:    llm,
		policy: policy,
	}
}

// Generate runs the messages through the LLM. It must not perform retrieval
// or prompt construction. When every attempt fails and the last failure was
// a deadline, the error wraps ErrTimeout.
func (g *Generator) Generate(ctx context.Context, id string, messages []Message, opts Options) (*Narrative, error) {
	if g.llm == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrGenerationFailed)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: record ID is required", ErrGenerationFailed)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: prompt is required", ErrGenerationFailed)
	}

	var lastErr error
	for attempt := 1; attempt <= g.policy.Attempts; attempt++ {
		text, err := g.attempt(ctx, messages, opts)
		if err == nil {
			return &Narrative{
				ID:          id,
				Text:        text,
				GeneratedAt: time.Now(),
				Model:       opts.Model,
				Attempts:    attempt,
			}, nil
		}
		lastErr = err

		// The caller gave up; further attempts cannot succeed.
		if ctx.Err() != nil {
			break
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w", ErrTimeout, lastErr)
	}
	return nil, fmt.Errorf("%w: LLM invocation failed: %w", ErrGenerationFailed, lastErr)
}

func (g *Generator) attempt(ctx context.Context, messages []Message, opts Options) (string, error) {
	if g.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.policy.AttemptTimeout)
		defer cancel()
	}

	text, err := g.llm.Chat(ctx, messages, opts)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return "", err
	}
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}
