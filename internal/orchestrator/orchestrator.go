// Package orchestrator sequences the LLM, sentiment, tension, conclusion,
// action and rubric components into the turn protocols served by the API:
// conflict resolution, role-play, debate, story generation and results
// aggregation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
	"github.com/Yates-Labs/kalki/internal/session"
)

var (
	ErrExternalService  = errors.New("external service failure")
	ErrNarrativeTimeout = errors.New("narrative generation timed out")
	ErrNotFound         = errors.New("not found")
	ErrSessionBusy      = errors.New("session has a turn in progress")
	ErrSessionConcluded = errors.New("session already concluded")
)

// ValidationError reports a malformed request. It is returned before any
// external call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Config holds model names and limits for the orchestrated flows.
type Config struct {
	NarrativeModel  string
	EvaluationModel string
	StoryModel      string

	// MaxInFlight bounds concurrent external calls across all requests.
	MaxInFlight int

	// ResultsLimit is the number of logged interactions analysed per user.
	ResultsLimit int

	// StoryRetry governs the story generation call, the only retried call.
	StoryRetry narrative.RetryPolicy
}

// DefaultConfig mirrors the local Ollama model set.
func DefaultConfig() Config {
	return Config{
		NarrativeModel:  "llama3.2:latest",
		EvaluationModel: "llama3:latest",
		StoryModel:      "llama3.2:3b",
		MaxInFlight:     8,
		ResultsLimit:    50,
		StoryRetry:      narrative.DefaultRetryPolicy(),
	}
}

// Deps are the collaborators a Service is built from. Sessions, Rand and
// Logger are optional.
type Deps struct {
	LLM         narrative.LLM
	Embedder    rag.Embedder
	VectorStore rag.VectorStore
	Sessions    session.Store
	Sentiment   engine.SentimentScorer
	Rand        engine.Rand
	Logger      *zap.Logger
}

// Service runs the turn protocols. It is safe for concurrent use.
type Service struct {
	llm       narrative.LLM
	embedder  rag.Embedder
	store     rag.VectorStore
	retriever *rag.Retriever
	sessions  session.Store
	locks     *session.Locker
	sentiment engine.SentimentScorer

	tension    *engine.TensionEngine
	conclusion *engine.ConclusionDecider
	rubric     *engine.RubricScorer
	generator  *narrative.Generator

	slots  *semaphore.Weighted
	logger *zap.Logger
	config Config
	now    func() time.Time
}

// New wires a Service from deps.
func New(deps Deps, config Config) (*Service, error) {
	if deps.LLM == nil {
		return nil, errors.New("llm is required")
	}
	if deps.Sentiment == nil {
		return nil, errors.New("sentiment scorer is required")
	}
	retriever, err := rag.NewRetriever(deps.Embedder, deps.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	defaults := DefaultConfig()
	if config.NarrativeModel == "" {
		config.NarrativeModel = defaults.NarrativeModel
	}
	if config.EvaluationModel == "" {
		config.EvaluationModel = config.NarrativeModel
	}
	if config.StoryModel == "" {
		config.StoryModel = config.NarrativeModel
	}
	if config.MaxInFlight < 1 {
		config.MaxInFlight = defaults.MaxInFlight
	}
	if config.ResultsLimit < 1 {
		config.ResultsLimit = defaults.ResultsLimit
	}
	if config.StoryRetry.Attempts < 1 {
		config.StoryRetry = defaults.StoryRetry
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := deps.Rand
	if r == nil {
		r = engine.DefaultRand()
	}

	return &Service{
		llm:        deps.LLM,
		embedder:   deps.Embedder,
		store:      deps.VectorStore,
		retriever:  retriever,
		sessions:   sessions,
		locks:      session.NewLocker(),
		sentiment:  deps.Sentiment,
		tension:    engine.NewTensionEngine(deps.Sentiment, r),
		conclusion: engine.NewConclusionDecider(r),
		rubric:     engine.NewRubricScorer(deps.Sentiment),
		generator:  narrative.NewGenerator(deps.LLM, config.StoryRetry),
		slots:      semaphore.NewWeighted(int64(config.MaxInFlight)),
		logger:     logger.Named("orchestrator"),
		config:     config,
		now:        time.Now,
	}, nil
}

// withSlot runs fn while holding one external-call slot.
func (s *Service) withSlot(ctx context.Context, fn func(context.Context) error) error {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.slots.Release(1)
	return fn(ctx)
}

// chat calls the LLM under a slot. Failures are wrapped as
// ErrExternalService.
func (s *Service) chat(ctx context.Context, messages []narrative.Message, opts narrative.Options) (string, error) {
	var reply string
	err := s.withSlot(ctx, func(ctx context.Context) error {
		var err error
		reply, err = s.llm.Chat(ctx, messages, opts)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat (%s): %w", ErrExternalService, opts.Model, err)
	}
	return reply, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := s.withSlot(ctx, func(ctx context.Context) error {
		var err error
		vec, err = rag.EmbedOne(ctx, s.embedder, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %w", ErrExternalService, err)
	}
	return vec, nil
}

func (s *Service) retrieve(ctx context.Context, fn func(context.Context) ([]rag.Match, error)) ([]rag.Match, error) {
	var matches []rag.Match
	err := s.withSlot(ctx, func(ctx context.Context) error {
		var err error
		matches, err = fn(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: retrieval: %w", ErrExternalService, err)
	}
	return matches, nil
}

// persist appends one record to the interaction log. Failures are logged
// and swallowed: the log is best-effort.
func (s *Service) persist(ctx context.Context, record rag.Record) {
	if err := s.store.Add(ctx, []rag.Record{record}); err != nil {
		s.logger.Warn("failed to persist interaction",
			zap.String("id", record.ID),
			zap.Any("mode", record.Metadata[rag.KeyMode]),
			zap.Error(err))
	}
}

// Session returns the stored state of a conflict session.
func (s *Service) Session(ctx context.Context, sessionID string) (engine.ScenarioState, error) {
	if sessionID == "" {
		return engine.ScenarioState{}, invalid("session_id", "is required")
	}
	state, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return engine.ScenarioState{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return state, err
}
