package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
)

// resultsQuery is embedded to rank a user's logged interactions.
const resultsQuery = "user responses"

// ResultsResponse aggregates KALKI analysis across a user's interactions.
type ResultsResponse struct {
	TotalScore             int                `json:"total_score"`
	IndividualScores       engine.RubricScore `json:"individual_scores"`
	PerformanceSummary     string             `json:"performance_summary"`
	ImprovementSuggestions []string           `json:"improvement_suggestions"`
	ResponsesAnalyzed      int                `json:"responses_analyzed"`
}

// Results analyses up to ResultsLimit logged interactions of userID. It
// returns ErrNotFound when nothing is logged for the user.
func (s *Service) Results(ctx context.Context, userID string) (*ResultsResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id", "is required")
	}
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(zap.String("user_id", userID))

	vec, err := s.embed(ctx, resultsQuery)
	if err != nil {
		return nil, err
	}
	matches, err := s.store.Query(ctx, vec, rag.QueryOptions{
		TopK:  s.config.ResultsLimit,
		Where: map[string]string{rag.KeyUserID: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: interaction lookup: %w", ErrExternalService, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no user responses found for %s", ErrNotFound, userID)
	}

	responses := make([]string, len(matches))
	for i, m := range matches {
		responses[i] = m.Document
	}

	analysis, err := s.chat(ctx, narrative.AnalysisMessages(responses), narrative.Options{Model: s.config.EvaluationModel})
	if err != nil {
		return nil, err
	}

	raw := engine.ParseAnalysisRubric(analysis)
	if raw.Fallback() {
		logger.Warn("analysis missing scores, defaulting to zero", zap.Any("defaulted", raw.Defaulted))
	}
	raw.Feedback = engine.ExtractAllFeedback(analysis)

	score := engine.Apply(raw, engine.Modifiers{
		Sentiment: engine.SentimentModifier(s.sentiment.Score(strings.Join(responses, " ")).Score),
		Faction:   engine.FactionModifier(dominantFaction(matches)),
	})

	var (
		suggestions []string
		summary     string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, err := s.chat(gctx, narrative.ImprovementMessages(analysis), narrative.Options{Model: s.config.EvaluationModel})
		if err != nil {
			return err
		}
		var fallback bool
		suggestions, fallback = engine.ExtractSuggestions(text)
		if fallback {
			logger.Warn("no suggestions found in reply, using fallback list")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		summary, err = s.chat(gctx, narrative.SummaryMessages(score.TotalScore, analysis), narrative.Options{Model: s.config.EvaluationModel})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ResultsResponse{
		TotalScore:             score.TotalScore,
		IndividualScores:       score,
		PerformanceSummary:     summary,
		ImprovementSuggestions: suggestions,
		ResponsesAnalyzed:      len(matches),
	}, nil
}

// dominantFaction returns the faction most often recorded in matches. Ties
// go to the faction seen first.
func dominantFaction(matches []rag.Match) engine.Faction {
	counts := make(map[engine.Faction]int)
	var (
		best  engine.Faction
		order []engine.Faction
	)
	for _, m := range matches {
		f, ok := m.Metadata["faction"].(string)
		if !ok || !engine.Faction(f).Valid() {
			continue
		}
		if counts[engine.Faction(f)] == 0 {
			order = append(order, engine.Faction(f))
		}
		counts[engine.Faction(f)]++
	}
	for _, f := range order {
		if counts[f] > counts[best] {
			best = f
		}
	}
	return best
}
