package engine

import (
	"strings"

	"github.com/Yates-Labs/kalki/internal/sentiment"
)

// stubSentiment returns fixed scores: ai for texts containing aiMarker,
// user otherwise. fn, when set, overrides both.
type stubSentiment struct {
	fn func(text string) float64
}

func (s stubSentiment) Score(text string) sentiment.Result {
	if s.fn == nil {
		return sentiment.Result{Score: 0, Fallback: true, Reason: "stub"}
	}
	return sentiment.Result{Score: s.fn(text)}
}

func fixedSentiment(v float64) stubSentiment {
	return stubSentiment{fn: func(string) float64 { return v }}
}

// lexiconSentiment is a tiny keyword scorer for scenario tests.
func lexiconSentiment() stubSentiment {
	return stubSentiment{fn: func(text string) float64 {
		lower := strings.ToLower(text)
		score := 0.0
		for _, w := range []string{"peace", "ceasefire", "treaty", "agree", "hope"} {
			if strings.Contains(lower, w) {
				score += 0.3
			}
		}
		for _, w := range []string{"attack", "war", "ultimatum", "threat", "destroy"} {
			if strings.Contains(lower, w) {
				score -= 0.3
			}
		}
		return max(-1, min(1, score))
	}}
}

// fixedRand returns constant draws.
type fixedRand struct {
	uniform float64
	normal  float64
}

func (f fixedRand) Float64() float64     { return f.uniform }
func (f fixedRand) NormFloat64() float64 { return f.normal }
