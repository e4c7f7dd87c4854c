package sentiment

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Result is the outcome of scoring one text. Fallback is set when the
// neutral 0.0 was substituted for a real prediction.
type Result struct {
	Score    float64
	Fallback bool
	Reason   string
}

// Scorer maps text to a sentiment score in [-1, 1]. It never returns an
// error: an unavailable model or a failed prediction yields a neutral
// fallback Result. Safe for concurrent use.
type Scorer struct {
	model  *Model
	reason string
	logger *zap.Logger
}

// NewScorer loads the model at path. A load failure is logged once and the
// scorer degrades to neutral fallback for every call.
func NewScorer(path string, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sentiment")

	model, err := LoadModel(path)
	if err != nil {
		logger.Warn("ModelUnavailable: sentiment scoring degraded to neutral",
			zap.String("path", path), zap.Error(err))
		return &Scorer{reason: err.Error(), logger: logger}
	}

	logger.Info("sentiment model loaded",
		zap.String("path", path),
		zap.Int("features", len(model.Weights)))
	return &Scorer{model: model, logger: logger}
}

// NewScorerFromModel wraps an already-parsed model. A nil model produces a
// fallback scorer.
func NewScorerFromModel(model *Model) *Scorer {
	s := &Scorer{model: model, logger: zap.NewNop()}
	if model == nil {
		s.reason = ErrModelUnavailable.Error()
	}
	return s
}

// Available reports whether a model is loaded.
func (s *Scorer) Available() bool {
	return s != nil && s.model != nil
}

// Score returns the sentiment of text.
func (s *Scorer) Score(text string) (res Result) {
	if !s.Available() {
		reason := ErrModelUnavailable.Error()
		if s != nil && s.reason != "" {
			reason = s.reason
		}
		return Result{Score: 0, Fallback: true, Reason: reason}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sentiment prediction panicked", zap.Any("panic", r))
			res = Result{Score: 0, Fallback: true, Reason: fmt.Sprintf("prediction failed: %v", r)}
		}
	}()

	p := s.model.predict(text)
	if math.IsNaN(p) {
		return Result{Score: 0, Fallback: true, Reason: "prediction produced NaN"}
	}

	score := p*2 - 1
	return Result{Score: math.Max(-1, math.Min(1, score))}
}

// Value is a convenience for callers that only need the number.
func (s *Scorer) Value(text string) float64 {
	return s.Score(text).Score
}
