package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/kalki/internal/config"
	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/orchestrator"
	"github.com/Yates-Labs/kalki/internal/rag"
	"github.com/Yates-Labs/kalki/internal/sentiment"
)

type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, texts []string) ([]rag.EmbeddingRecord, error) {
	out := make([]rag.EmbeddingRecord, len(texts))
	for i, text := range texts {
		out[i] = rag.EmbeddingRecord{Text: text, Embedding: []float32{1, 0.5, 0.25}, Index: i}
	}
	return out, nil
}

func (flatEmbedder) GetModel() string  { return "flat" }
func (flatEmbedder) GetDimension() int { return 3 }

// openRand never concludes a mid-range scenario and adds no noise.
type openRand struct{}

func (openRand) Float64() float64     { return 0.99 }
func (openRand) NormFloat64() float64 { return 0 }

func newTestServer(t *testing.T, llm narrative.LLM, cfg config.ServerConfig, ocfg orchestrator.Config) *httptest.Server {
	t.Helper()
	svc, err := orchestrator.New(orchestrator.Deps{
		LLM:         llm,
		Embedder:    flatEmbedder{},
		VectorStore: rag.NewMemoryStore(3),
		Sentiment:   sentiment.NewScorerFromModel(nil),
		Rand:        openRand{},
	}, ocfg)
	require.NoError(t, err)

	srv := httptest.NewServer(New(svc, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var payload string
	switch b := body.(type) {
	case string:
		payload = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		payload = string(raw)
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func detail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, resp, &body)
	return body.Detail
}

var startBody = map[string]any{
	"conflict_type":  "rwanda",
	"player_role":    "mediator",
	"player_faction": "neutral",
	"user_input":     "Let both delegations speak.",
	"user_id":        "alice",
}

func TestStartConflict(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLM("The delegates take their seats."), config.ServerConfig{}, orchestrator.Config{})

	resp := postJSON(t, srv.URL+"/api/v1/start-conflict", startBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var turn engine.TurnResult
	decodeBody(t, resp, &turn)
	assert.Equal(t, "The delegates take their seats.", turn.Narrative)
	assert.NotEmpty(t, turn.SessionID)
	assert.Equal(t, 50, turn.Tension)
	assert.Len(t, turn.Actions, engine.ActionMenuSize)

	get, err := http.Get(srv.URL + "/api/v1/sessions/" + turn.SessionID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	var state engine.ScenarioState
	decodeBody(t, get, &state)
	assert.Equal(t, turn.SessionID, state.SessionID)
	assert.Equal(t, "alice", state.UserID)
	assert.Len(t, state.ChatHistory, 1)
}

func TestStartConflict_BadRequests(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLM("x"), config.ServerConfig{}, orchestrator.Config{})

	resp := postJSON(t, srv.URL+"/api/v1/start-conflict", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, detail(t, resp), "invalid request body")

	bad := map[string]any{"conflict_type": "atlantis", "player_role": "mediator", "player_faction": "neutral", "user_input": "hi"}
	resp = postJSON(t, srv.URL+"/api/v1/start-conflict", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, detail(t, resp), "conflict_type")

	resp = postJSON(t, srv.URL+"/api/v1/continue-conflict", startBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, detail(t, resp), "session_id")
}

func TestStartConflict_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLM("x"), config.ServerConfig{}, orchestrator.Config{})

	resp, err := http.Get(srv.URL + "/api/v1/start-conflict")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLM("x"), config.ServerConfig{}, orchestrator.Config{})

	for _, path := range []string{"/api/v1/sessions/unknown", "/api/v1/results/nobody", "/api/results/nobody"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.NotEmpty(t, detail(t, resp))
		resp.Body.Close()
	}
}

func TestLLMFailure(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLMWithError(fmt.Errorf("connection refused")), config.ServerConfig{}, orchestrator.Config{})

	resp := postJSON(t, srv.URL+"/api/v1/start-conflict", startBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, detail(t, resp), "connection refused")
}

func TestStoryTimeout(t *testing.T) {
	llm := &narrative.MockLLM{Handler: func(ctx context.Context, _ []narrative.Message, _ narrative.Options) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	srv := newTestServer(t, llm, config.ServerConfig{}, orchestrator.Config{
		StoryRetry: narrative.RetryPolicy{Attempts: 1, AttemptTimeout: 10 * time.Millisecond},
	})

	resp := postJSON(t, srv.URL+"/api/v1/story", map[string]any{"culture": "Maori"})
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestDebateRoutes(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLM("Evaluation: Clear.\nScores:\nHistorical accuracy: 6\nSuggestion: Add sources."), config.ServerConfig{}, orchestrator.Config{})

	resp, err := http.Get(srv.URL + "/api/v1/debate/prompt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var prompt orchestrator.DebatePromptResponse
	decodeBody(t, resp, &prompt)
	assert.NotEmpty(t, prompt.Prompt)

	eval := postJSON(t, srv.URL+"/api/v1/debate/evaluate", map[string]any{"prompt": prompt.Prompt, "user_response": "Tradition matters."})
	require.Equal(t, http.StatusOK, eval.StatusCode)
	var body map[string]any
	decodeBody(t, eval, &body)
	assert.Equal(t, "Clear.", body["evaluation"])
	assert.Equal(t, "Add sources.", body["suggestions"])
	assert.Contains(t, body, "scores")
	assert.Contains(t, body, "timestamp")
}

func TestStoryRoutes(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLM("A story of the sea."), config.ServerConfig{}, orchestrator.Config{})

	add := postJSON(t, srv.URL+"/api/v1/add_story", map[string]any{"culture": "Maori", "theme": "voyage"})
	require.Equal(t, http.StatusOK, add.StatusCode)
	var ack orchestrator.Response
	decodeBody(t, add, &ack)
	assert.True(t, ack.Success)

	search := postJSON(t, srv.URL+"/api/v1/stories/search", map[string]any{"text": "voyage", "culture": "Maori"})
	require.Equal(t, http.StatusOK, search.StatusCode)
	var found orchestrator.SearchResponse
	decodeBody(t, search, &found)
	assert.Equal(t, 1, found.Count)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, narrative.NewMockLLM("x"), config.ServerConfig{}, orchestrator.Config{})

	resp, err := http.Get(srv.URL + "/api/v1/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := config.ServerConfig{RateLimit: config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}}
	srv := newTestServer(t, narrative.NewMockLLM("x"), cfg, orchestrator.Config{})

	first, err := http.Get(srv.URL + "/api/v1/debate/prompt")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/api/v1/debate/prompt")
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "60", second.Header.Get("Retry-After"))

	// Health checks are never limited.
	health, err := http.Get(srv.URL + "/api/v1/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCORS(t *testing.T) {
	cfg := config.ServerConfig{CORSOrigins: []string{"http://localhost:5173"}}
	srv := newTestServer(t, narrative.NewMockLLM("x"), cfg, orchestrator.Config{})

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/start-conflict", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	ok := preflight("http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, ok.StatusCode)
	assert.Equal(t, "http://localhost:5173", ok.Header.Get("Access-Control-Allow-Origin"))

	denied := preflight("https://evil.example")
	assert.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&orchestrator.ValidationError{Field: "x", Message: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", orchestrator.ErrNotFound), http.StatusNotFound},
		{orchestrator.ErrSessionBusy, http.StatusConflict},
		{orchestrator.ErrSessionConcluded, http.StatusConflict},
		{fmt.Errorf("%w: deadline", orchestrator.ErrNarrativeTimeout), http.StatusGatewayTimeout},
		{orchestrator.ErrExternalService, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per client")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "one token refills per second")

	now = now.Add(2 * idleTimeout)
	rl.Allow("10.0.0.3")
	assert.NotContains(t, rl.clients, "10.0.0.1")

	disabled := NewRateLimiter(0, 0)
	assert.Nil(t, disabled)
	assert.True(t, disabled.Allow("anyone"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(r))
}
