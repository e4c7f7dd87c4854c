package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
)

// draftTemperature matches the evaluation call made by the API.
const draftTemperature = 0.2

// transcript is a scored conversation as stored on disk. The file may also
// be a bare list of turns.
type transcript struct {
	ConflictType engine.ConflictType `yaml:"conflict_type" json:"conflict_type,omitempty"`
	Faction      engine.Faction      `yaml:"faction" json:"faction,omitempty"`
	ChatHistory  []engine.ChatTurn   `yaml:"chat_history" json:"chat_history"`
}

// parseTranscript decodes YAML or JSON transcript data.
func parseTranscript(data []byte) (transcript, error) {
	var t transcript
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return t, fmt.Errorf("invalid transcript: %w", err)
	}
	if len(doc.Content) == 0 {
		return t, errors.New("transcript is empty")
	}

	root := doc.Content[0]
	var err error
	switch root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&t.ChatHistory)
	case yaml.MappingNode:
		err = root.Decode(&t)
	default:
		err = errors.New("expected a list of turns or a mapping with chat_history")
	}
	if err != nil {
		return t, fmt.Errorf("invalid transcript: %w", err)
	}

	if len(t.ChatHistory) == 0 {
		return t, errors.New("transcript has no turns")
	}
	if t.ConflictType != "" && !t.ConflictType.Valid() {
		return t, fmt.Errorf("unknown conflict_type %q", t.ConflictType)
	}
	if t.Faction != "" && !t.Faction.Valid() {
		return t, fmt.Errorf("unknown faction %q", t.Faction)
	}
	return t, nil
}

func readTranscript(path string) (transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transcript{}, err
	}
	return parseTranscript(data)
}

// scoreReport is a KALKI score with the inputs that produced it.
type scoreReport struct {
	Score     engine.RubricScore `json:"score"`
	Sentiment float64            `json:"sentiment"`
	Modifiers engine.Modifiers   `json:"modifiers"`
	Defaulted []engine.Category  `json:"defaulted,omitempty"`
	Turns     int                `json:"turns"`
	Fallback  bool               `json:"sentiment_fallback,omitempty"`
}

// scoreDraft applies whole-conversation modifiers to an LLM rubric draft.
func scoreDraft(scorer engine.SentimentScorer, t transcript, draft string) scoreReport {
	parts := make([]string, len(t.ChatHistory))
	for i, turn := range t.ChatHistory {
		parts[i] = turn.User + " " + turn.AI
	}
	overall := scorer.Score(strings.Join(parts, " "))

	raw := engine.ParseDraftRubric(draft)
	raw.Feedback = engine.ExtractDraftFeedback(draft)
	mods := engine.Modifiers{
		Sentiment: engine.SentimentModifier(overall.Score),
		Faction:   engine.FactionModifier(t.Faction),
	}
	return scoreReport{
		Score:     engine.Apply(raw, mods),
		Sentiment: overall.Score,
		Modifiers: mods,
		Defaulted: raw.Defaulted,
		Turns:     len(t.ChatHistory),
		Fallback:  overall.Fallback,
	}
}

// requestDraft asks the LLM for a structured rubric draft of t.
func requestDraft(ctx context.Context, llm narrative.LLM, model string, t transcript) (string, error) {
	prompt := narrative.EvaluationPrompt(t.ChatHistory, t.ConflictType)
	return llm.Chat(ctx, []narrative.Message{narrative.UserMessage(prompt)}, narrative.Options{
		Model:       model,
		Temperature: draftTemperature,
	})
}
