package engine

import "math"

// Category is one of the four KALKI rubric dimensions.
type Category string

const (
	CategoryEmpathy            Category = "empathy"
	CategoryDiplomaticSkill    Category = "diplomatic_skill"
	CategoryHistoricalAccuracy Category = "historical_accuracy"
	CategoryEthicalBalance     Category = "ethical_balance"
)

// Categories lists rubric dimensions in canonical order.
var Categories = []Category{
	CategoryEmpathy,
	CategoryDiplomaticSkill,
	CategoryHistoricalAccuracy,
	CategoryEthicalBalance,
}

// Max returns the upper bound of the category.
func (c Category) Max() int {
	switch c {
	case CategoryEmpathy, CategoryDiplomaticSkill:
		return 30
	case CategoryHistoricalAccuracy, CategoryEthicalBalance:
		return 20
	}
	return 0
}

// Default is the raw score assumed when a structured response omits the
// category.
func (c Category) Default() int {
	switch c {
	case CategoryEmpathy, CategoryDiplomaticSkill:
		return 15
	case CategoryHistoricalAccuracy, CategoryEthicalBalance:
		return 10
	}
	return 0
}

// DraftLabel is the label used in the structured "LABEL: n" format.
func (c Category) DraftLabel() string {
	switch c {
	case CategoryEmpathy:
		return "EMPATHY"
	case CategoryDiplomaticSkill:
		return "DIPLOMATIC_SKILL"
	case CategoryHistoricalAccuracy:
		return "HISTORICAL_ACCURACY"
	case CategoryEthicalBalance:
		return "ETHICAL_BALANCE"
	}
	return ""
}

// Title is the human-readable label used in free-form analysis text.
func (c Category) Title() string {
	switch c {
	case CategoryEmpathy:
		return "Empathy"
	case CategoryDiplomaticSkill:
		return "Diplomatic Skill"
	case CategoryHistoricalAccuracy:
		return "Historical Accuracy"
	case CategoryEthicalBalance:
		return "Ethical Balance"
	}
	return ""
}

// RubricScore is an immutable KALKI result. Construct with NewRubricScore.
type RubricScore struct {
	Empathy            int               `json:"empathy"`
	DiplomaticSkill    int               `json:"diplomatic_skill"`
	HistoricalAccuracy int               `json:"historical_accuracy"`
	EthicalBalance     int               `json:"ethical_balance"`
	TotalScore         int               `json:"total_score"`
	Feedback           map[string]string `json:"feedback,omitempty"`
}

// NewRubricScore clamps each sub-score to its range and sets the total to
// their exact sum.
func NewRubricScore(empathy, diplomatic, historical, ethical int, feedback map[string]string) RubricScore {
	s := RubricScore{
		Empathy:            clamp(empathy, 0, CategoryEmpathy.Max()),
		DiplomaticSkill:    clamp(diplomatic, 0, CategoryDiplomaticSkill.Max()),
		HistoricalAccuracy: clamp(historical, 0, CategoryHistoricalAccuracy.Max()),
		EthicalBalance:     clamp(ethical, 0, CategoryEthicalBalance.Max()),
	}
	s.TotalScore = s.Empathy + s.DiplomaticSkill + s.HistoricalAccuracy + s.EthicalBalance
	if len(feedback) > 0 {
		s.Feedback = make(map[string]string, len(feedback))
		for k, v := range feedback {
			s.Feedback[k] = v
		}
	}
	return s
}

// Get returns the sub-score for c.
func (s RubricScore) Get(c Category) int {
	switch c {
	case CategoryEmpathy:
		return s.Empathy
	case CategoryDiplomaticSkill:
		return s.DiplomaticSkill
	case CategoryHistoricalAccuracy:
		return s.HistoricalAccuracy
	case CategoryEthicalBalance:
		return s.EthicalBalance
	}
	return 0
}

// ParsedRubric carries raw sub-scores extracted from LLM output before
// modifiers are applied.
type ParsedRubric struct {
	Scores   map[Category]int
	Feedback map[string]string

	// Defaulted lists categories whose value was substituted because the
	// label was missing or unparsable.
	Defaulted []Category
}

// Fallback reports whether any category was defaulted.
func (p ParsedRubric) Fallback() bool {
	return len(p.Defaulted) > 0
}

// Modifiers are the adjustments applied on top of raw sub-scores.
type Modifiers struct {
	Sentiment int
	Faction   int
}

// SentimentModifier maps a [-1, 1] sentiment score to an integer in
// [-10, 10], rounding half away from zero.
func SentimentModifier(score float64) int {
	return clamp(int(math.Round(score*10)), -10, 10)
}

// FactionModifier is the historical-accuracy bonus for neutral play.
func FactionModifier(f Faction) int {
	if f == FactionNeutral {
		return 5
	}
	return 0
}

// RubricScorer turns raw sub-scores into a final RubricScore.
type RubricScorer struct {
	sentiment SentimentScorer
}

func NewRubricScorer(scorer SentimentScorer) *RubricScorer {
	return &RubricScorer{sentiment: scorer}
}

// Modifiers computes the sentiment and faction adjustments for an exchange.
func (r *RubricScorer) Modifiers(finalUser, finalAI string, faction Faction) Modifiers {
	res := r.sentiment.Score(finalUser + " " + finalAI)
	return Modifiers{
		Sentiment: SentimentModifier(res.Score),
		Faction:   FactionModifier(faction),
	}
}

// Score applies the modifiers for the final exchange to raw.
func (r *RubricScorer) Score(raw ParsedRubric, finalUser, finalAI string, faction Faction) RubricScore {
	return Apply(raw, r.Modifiers(finalUser, finalAI, faction))
}

// Apply adds modifiers to raw sub-scores: sentiment to empathy and
// diplomatic skill, faction to historical accuracy.
func Apply(raw ParsedRubric, m Modifiers) RubricScore {
	get := func(c Category) int {
		if v, ok := raw.Scores[c]; ok {
			return v
		}
		return c.Default()
	}
	return NewRubricScore(
		get(CategoryEmpathy)+m.Sentiment,
		get(CategoryDiplomaticSkill)+m.Sentiment,
		get(CategoryHistoricalAccuracy)+m.Faction,
		get(CategoryEthicalBalance),
		raw.Feedback,
	)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
