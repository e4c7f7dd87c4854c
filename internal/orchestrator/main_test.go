package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
	"github.com/Yates-Labs/kalki/internal/sentiment"
)

func TestMain(m *testing.M) {
	// milvus and genai pull in opencensus, which starts a worker in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// stubEmbedder maps text onto three axes: peace, war, story.
type stubEmbedder struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([]rag.EmbeddingRecord, error) {
	e.mu.Lock()
	e.calls = append(e.calls, texts...)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	records := make([]rag.EmbeddingRecord, len(texts))
	for i, text := range texts {
		records[i] = rag.EmbeddingRecord{Text: text, Embedding: axisVector(text), Index: i, Model: "stub"}
	}
	return records, nil
}

func (e *stubEmbedder) GetModel() string  { return "stub" }
func (e *stubEmbedder) GetDimension() int { return 3 }

func axisVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	if strings.Contains(lower, "peace") {
		v[0] = 1
	}
	if strings.Contains(lower, "war") {
		v[1] = 1
	}
	if strings.Contains(lower, "story") || strings.Contains(lower, "maori") {
		v[2] = 1
	}
	return v
}

// stubSentiment returns the same result for every text.
type stubSentiment struct {
	result sentiment.Result
}

func (s stubSentiment) Score(string) sentiment.Result { return s.result }

// fixedRand returns constant draws, making noise and conclusion predictable.
type fixedRand struct {
	uniform float64
	normal  float64
}

func (r fixedRand) Float64() float64     { return r.uniform }
func (r fixedRand) NormFloat64() float64 { return r.normal }

// neverConclude keeps every mid-range turn open and adds no noise.
var neverConclude = fixedRand{uniform: 0.99}

// failingStore rejects writes.
type failingStore struct {
	*rag.MemoryStore
}

func (failingStore) Add(context.Context, []rag.Record) error {
	return errors.New("disk full")
}

type testEnv struct {
	svc      *Service
	llm      *narrative.MockLLM
	store    *rag.MemoryStore
	embedder *stubEmbedder
}

type envOption func(*Deps, *Config)

func withRand(r engine.Rand) envOption {
	return func(d *Deps, _ *Config) { d.Rand = r }
}

func withSentiment(score float64) envOption {
	return func(d *Deps, _ *Config) { d.Sentiment = stubSentiment{result: sentiment.Result{Score: score}} }
}

func withVectorStore(s rag.VectorStore) envOption {
	return func(d *Deps, _ *Config) { d.VectorStore = s }
}

func withLogger(l *zap.Logger) envOption {
	return func(d *Deps, _ *Config) { d.Logger = l }
}

func withConfig(fn func(*Config)) envOption {
	return func(_ *Deps, c *Config) { fn(c) }
}

func newTestEnv(t *testing.T, llm *narrative.MockLLM, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		llm:      llm,
		store:    rag.NewMemoryStore(3),
		embedder: &stubEmbedder{},
	}
	deps := Deps{
		LLM:         llm,
		Embedder:    env.embedder,
		VectorStore: env.store,
		Sentiment:   stubSentiment{},
		Rand:        neverConclude,
	}
	config := Config{
		NarrativeModel:  "narrative",
		EvaluationModel: "evaluation",
		StoryModel:      "story",
	}
	for _, opt := range opts {
		opt(&deps, &config)
	}

	svc, err := New(deps, config)
	require.NoError(t, err)
	env.svc = svc
	return env
}

// recordsWithPrefix returns the stored records whose ID starts with prefix.
func (e *testEnv) recordsWithPrefix(prefix string) []rag.Record {
	var out []rag.Record
	for _, r := range e.store.Records() {
		if strings.HasPrefix(r.ID, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func seedRecord(t *testing.T, store rag.VectorStore, id, document string, metadata map[string]any) {
	t.Helper()
	require.NoError(t, store.Add(context.Background(), []rag.Record{{
		ID:        id,
		Document:  document,
		Embedding: axisVector(document),
		Metadata:  metadata,
	}}))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{Sentiment: stubSentiment{}, Embedder: &stubEmbedder{}, VectorStore: rag.NewMemoryStore(3)}, Config{})
	require.Error(t, err)

	_, err = New(Deps{LLM: narrative.NewMockLLM("x"), Embedder: &stubEmbedder{}, VectorStore: rag.NewMemoryStore(3)}, Config{})
	require.Error(t, err)

	_, err = New(Deps{LLM: narrative.NewMockLLM("x"), Sentiment: stubSentiment{}, VectorStore: rag.NewMemoryStore(3)}, Config{})
	require.Error(t, err)
}

func TestNew_ModelDefaults(t *testing.T) {
	svc, err := New(Deps{
		LLM:         narrative.NewMockLLM("x"),
		Embedder:    &stubEmbedder{},
		VectorStore: rag.NewMemoryStore(3),
		Sentiment:   stubSentiment{},
	}, Config{NarrativeModel: "m"})
	require.NoError(t, err)

	require.Equal(t, "m", svc.config.EvaluationModel)
	require.Equal(t, "m", svc.config.StoryModel)
	require.Equal(t, DefaultConfig().MaxInFlight, svc.config.MaxInFlight)
	require.Equal(t, DefaultConfig().ResultsLimit, svc.config.ResultsLimit)
}
