package cmd

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/sentiment"
)

const draft = "EMPATHY: 20 Listened to both sides.\nDIPLOMATIC_SKILL: 18\nHISTORICAL_ACCURACY: 12\nETHICAL_BALANCE: 10"

type fixedSentiment float64

func (f fixedSentiment) Score(string) sentiment.Result { return sentiment.Result{Score: float64(f)} }

type zeroNoise struct{}

func (zeroNoise) Float64() float64     { return 0.5 }
func (zeroNoise) NormFloat64() float64 { return 0 }

func TestParseTranscript(t *testing.T) {
	list, err := parseTranscript([]byte("- user: Hello\n  ai: Welcome, mediator.\n"))
	require.NoError(t, err)
	assert.Equal(t, []engine.ChatTurn{{User: "Hello", AI: "Welcome, mediator."}}, list.ChatHistory)

	mapping, err := parseTranscript([]byte(`{"conflict_type": "rwanda", "faction": "neutral", "chat_history": [{"user": "a", "ai": "b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, engine.ConflictRwanda, mapping.ConflictType)
	assert.Equal(t, engine.FactionNeutral, mapping.Faction)
	assert.Len(t, mapping.ChatHistory, 1)

	for name, data := range map[string]string{
		"empty":    "",
		"no turns": "chat_history: []",
		"scalar":   "hello",
		"faction":  "faction: rebels\nchat_history:\n  - user: a\n    ai: b\n",
		"conflict": "conflict_type: mars\nchat_history:\n  - user: a\n    ai: b\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseTranscript([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestScoreDraft(t *testing.T) {
	tr := transcript{
		Faction:     engine.FactionNeutral,
		ChatHistory: []engine.ChatTurn{{User: "Let us talk.", AI: "Both sides agree to meet."}},
	}

	r := scoreDraft(fixedSentiment(0.5), tr, draft)
	assert.Equal(t, 25, r.Score.Empathy)
	assert.Equal(t, 23, r.Score.DiplomaticSkill)
	assert.Equal(t, 17, r.Score.HistoricalAccuracy)
	assert.Equal(t, 10, r.Score.EthicalBalance)
	assert.Equal(t, 75, r.Score.TotalScore)
	assert.Equal(t, engine.Modifiers{Sentiment: 5, Faction: 5}, r.Modifiers)
	assert.Equal(t, "Listened to both sides.", r.Score.Feedback[string(engine.CategoryEmpathy)])
	assert.Empty(t, r.Defaulted)

	partial := scoreDraft(fixedSentiment(0), transcript{ChatHistory: tr.ChatHistory}, "EMPATHY: 20")
	assert.Len(t, partial.Defaulted, 3)
	assert.Equal(t, 20+15+10+10, partial.Score.TotalScore)
}

func TestRenderReport(t *testing.T) {
	tr := transcript{ChatHistory: []engine.ChatTurn{{User: "a", AI: "b"}}}
	out := renderReport(scoreDraft(fixedSentiment(0), tr, "EMPATHY: 20"))

	assert.Contains(t, out, "KALKI score (1 turns)")
	assert.Contains(t, out, "Diplomatic Skill")
	assert.Contains(t, out, "(default)")
	assert.Contains(t, out, "Total: 55/100")
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestMCPServer_RegistersTools(t *testing.T) {
	assert.NotNil(t, newMCPServer(fixedSentiment(0), zeroNoise{}))
}

func TestScoreDraftTool(t *testing.T) {
	handler := scoreDraftHandler(fixedSentiment(0.5))
	ctx := context.Background()

	res, _, err := handler(ctx, nil, scoreDraftInput{
		ChatHistory: []engine.ChatTurn{{User: "Let us talk.", AI: "Agreed."}},
		Draft:       draft,
		Faction:     "neutral",
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var report scoreReport
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &report))
	assert.Equal(t, 75, report.Score.TotalScore)

	res, _, err = handler(ctx, nil, scoreDraftInput{Draft: draft})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = handler(ctx, nil, scoreDraftInput{
		ChatHistory: []engine.ChatTurn{{User: "a", AI: "b"}},
		Draft:       draft,
		Faction:     "rebels",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestUpdateTensionTool(t *testing.T) {
	handler := updateTensionHandler(fixedSentiment(0), zeroNoise{})

	res, _, err := handler(context.Background(), nil, updateTensionInput{
		Tension:  50,
		AIText:   "The delegates discuss a peace treaty.",
		UserText: "I agree.",
	})
	require.NoError(t, err)

	var out map[string]float64
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &out))
	assert.Equal(t, float64(46), out["tension"])
	assert.Equal(t, float64(-4), out["keyword_delta"])
}

func TestNextActionsAndConclusionTools(t *testing.T) {
	ctx := context.Background()

	res, _, err := nextActionsHandler()(ctx, nil, nextActionsInput{Tension: 95, Faction: "neutral"})
	require.NoError(t, err)
	var actions struct {
		Actions []string `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &actions))
	assert.Len(t, actions.Actions, engine.ActionMenuSize)

	res, _, err = conclusionHandler()(ctx, nil, conclusionInput{Tension: 5, Stage: 1})
	require.NoError(t, err)
	var p struct {
		Probability float64 `json:"probability"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &p))
	assert.Equal(t, 0.8, p.Probability)

	res, _, err = conclusionHandler()(ctx, nil, conclusionInput{Tension: 50, Stage: -1})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSentimentTool(t *testing.T) {
	res, _, err := sentimentHandler(sentiment.NewScorerFromModel(nil))(context.Background(), nil, sentimentInput{Text: "peace"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &out))
	assert.Equal(t, 0.0, out["score"])
	assert.Equal(t, true, out["fallback"])
}
