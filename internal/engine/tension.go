package engine

import (
	"strings"

	"github.com/Yates-Labs/kalki/internal/sentiment"
)

// SentimentScorer is the subset of the sentiment package the engine needs.
type SentimentScorer interface {
	Score(text string) sentiment.Result
}

const (
	aiSentimentWeight      = 0.6
	userSentimentWeight    = 0.4
	neutralFactionWeight   = 0.7
	sentimentTensionFactor = 20.0
	keywordStep            = 2.0
	noiseStdDev            = 3.0
)

var escalationKeywords = []string{
	"military", "troops", "violence", "attack", "protest", "riot",
	"conflict", "dispute", "tension", "hostility", "threat", "weapon",
	"ultimatum", "deadline", "sanction", "force", "demand",
}

var deescalationKeywords = []string{
	"peace", "agreement", "treaty", "compromise", "negotiate", "cooperate",
	"collaborate", "understand", "reconcile", "dialogue", "diplomacy",
	"ceasefire", "handshake", "concession", "mediate",
}

// TensionUpdate breaks one tension step into its contributions.
type TensionUpdate struct {
	Previous       int
	Tension        int
	AISentiment    sentiment.Result
	UserSentiment  sentiment.Result
	SentimentDelta float64
	KeywordDelta   float64
	Noise          float64
}

// TensionEngine computes the next tension level from one exchange.
type TensionEngine struct {
	sentiment SentimentScorer
	rand      Rand
}

// NewTensionEngine returns an engine drawing noise from r, or from the
// process-wide generator when r is nil.
func NewTensionEngine(scorer SentimentScorer, r Rand) *TensionEngine {
	if r == nil {
		r = DefaultRand()
	}
	return &TensionEngine{sentiment: scorer, rand: r}
}

// Update applies sentiment, keyword and noise contributions to current and
// returns the clamped, truncated result. Negative sentiment raises tension.
func (e *TensionEngine) Update(current int, aiText, userText string, faction Faction) TensionUpdate {
	ai := e.sentiment.Score(aiText)
	user := e.sentiment.Score(userText)

	weight := 1.0
	if faction == FactionNeutral {
		weight = neutralFactionWeight
	}
	combined := (ai.Score*aiSentimentWeight + user.Score*userSentimentWeight) * weight
	sentimentDelta := -combined * sentimentTensionFactor

	keywordDelta := KeywordDelta(aiText + " " + userText)
	noise := e.rand.NormFloat64() * noiseStdDev

	next := float64(current) + sentimentDelta + keywordDelta + noise
	next = max(MinTension, min(MaxTension, next))

	return TensionUpdate{
		Previous:       current,
		Tension:        int(next),
		AISentiment:    ai,
		UserSentiment:  user,
		SentimentDelta: sentimentDelta,
		KeywordDelta:   keywordDelta,
		Noise:          noise,
	}
}

// KeywordDelta returns +2 for every escalation keyword and -2 for every
// de-escalation keyword present in text. Matching is case-insensitive
// substring containment; each keyword counts at most once.
func KeywordDelta(text string) float64 {
	lower := strings.ToLower(text)

	var delta float64
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw) {
			delta += keywordStep
		}
	}
	for _, kw := range deescalationKeywords {
		if strings.Contains(lower, kw) {
			delta -= keywordStep
		}
	}
	return delta
}
