package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
)

const analysis = "Empathy: 25/30 The user weighed both communities.\n\n" +
	"Diplomatic Skill: 20/30 Proposals were constructive but vague.\n\n" +
	"Historical Accuracy: 15/20 Good grasp of the 1994 context.\n\n" +
	"Ethical Balance: 18/20 Avoided taking sides."

// resultsLLM routes the three aggregation calls by their system prompt.
func resultsLLM(suggestions string) *narrative.MockLLM {
	return &narrative.MockLLM{Handler: func(_ context.Context, msgs []narrative.Message, _ narrative.Options) (string, error) {
		system := msgs[0].Content
		switch {
		case strings.HasPrefix(system, "You are a KALKI scoring system expert"):
			return analysis, nil
		case strings.Contains(system, "suggestions for improvement"):
			return suggestions, nil
		case strings.Contains(system, "encouraging summary"):
			return "A strong, balanced mediator.", nil
		}
		return "", errors.New("unexpected prompt")
	}}
}

func seedUserResponses(t *testing.T, store rag.VectorStore) {
	seedRecord(t, store, "conflict-a-1", "We should negotiate a ceasefire.", map[string]any{
		rag.KeyUserID: "alice", "faction": string(engine.FactionNeutral),
	})
	seedRecord(t, store, "conflict-a-2", "Both sides deserve to be heard.", map[string]any{
		rag.KeyUserID: "alice", "faction": string(engine.FactionNeutral),
	})
	seedRecord(t, store, "conflict-b-1", "Attack at dawn.", map[string]any{
		rag.KeyUserID: "bob", "faction": string(engine.FactionSideA),
	})
}

func TestResults(t *testing.T) {
	env := newTestEnv(t, resultsLLM("1. Ask more open questions\n2. Cite historical precedent"))
	seedUserResponses(t, env.store)

	res, err := env.svc.Results(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, res.ResponsesAnalyzed)
	// Neutral is the dominant faction, adding 5 to historical accuracy.
	assert.Equal(t, 25, res.IndividualScores.Empathy)
	assert.Equal(t, 20, res.IndividualScores.DiplomaticSkill)
	assert.Equal(t, 20, res.IndividualScores.HistoricalAccuracy)
	assert.Equal(t, 18, res.IndividualScores.EthicalBalance)
	assert.Equal(t, 83, res.TotalScore)
	assert.Equal(t, []string{"Ask more open questions", "Cite historical precedent"}, res.ImprovementSuggestions)
	assert.Equal(t, "A strong, balanced mediator.", res.PerformanceSummary)
	assert.NotEmpty(t, res.IndividualScores.Feedback)

	// Only alice's responses are analysed.
	var analysed string
	for _, call := range env.llm.Calls() {
		if strings.HasPrefix(call.Messages[0].Content, "You are a KALKI scoring system expert") {
			analysed = call.Messages[1].Content
		}
	}
	assert.Contains(t, analysed, "negotiate a ceasefire")
	assert.NotContains(t, analysed, "Attack at dawn")
}

func TestResults_FallbackSuggestions(t *testing.T) {
	env := newTestEnv(t, resultsLLM("ok"))
	seedUserResponses(t, env.store)

	res, err := env.svc.Results(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ImprovementSuggestions)
}

func TestResults_NotFound(t *testing.T) {
	env := newTestEnv(t, resultsLLM("1. x"))
	seedUserResponses(t, env.store)

	_, err := env.svc.Results(context.Background(), "carol")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, env.llm.CallCount())
}

func TestResults_RequiresUser(t *testing.T) {
	env := newTestEnv(t, resultsLLM("1. x"))

	_, err := env.svc.Results(context.Background(), " ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDominantFaction(t *testing.T) {
	matches := []rag.Match{
		{Metadata: map[string]any{"faction": "side_b"}},
		{Metadata: map[string]any{"faction": "neutral"}},
		{Metadata: map[string]any{"faction": "neutral"}},
		{Metadata: map[string]any{"faction": "bogus"}},
		{Metadata: map[string]any{}},
	}
	assert.Equal(t, engine.FactionNeutral, dominantFaction(matches))

	tied := []rag.Match{
		{Metadata: map[string]any{"faction": "side_a"}},
		{Metadata: map[string]any{"faction": "side_b"}},
	}
	assert.Equal(t, engine.FactionSideA, dominantFaction(tied))
	assert.Equal(t, engine.Faction(""), dominantFaction(nil))
}
