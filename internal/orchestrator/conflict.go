package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
	"github.com/Yates-Labs/kalki/internal/session"
)

// Sampling used by the conflict flow.
const (
	conflictTemperature = 0.7
	conflictTopP        = 0.9
	rubricTemperature   = 0.3
)

// ConflictRequest is one conflict-resolution turn. The prior state travels
// in the request; Stage and Tension default to 0 and 50 when omitted.
type ConflictRequest struct {
	ConflictType engine.ConflictType `json:"conflict_type"`
	Role         engine.Role         `json:"player_role"`
	Faction      engine.Faction      `json:"player_faction"`
	UserInput    string              `json:"user_input"`
	Stage        *int                `json:"current_stage,omitempty"`
	Tension      *int                `json:"tension_level,omitempty"`
	ChatHistory  []engine.ChatTurn   `json:"chat_history"`
	SessionID    string              `json:"session_id,omitempty"`
	UserID       string              `json:"user_id,omitempty"`
}

func (r ConflictRequest) stage() int {
	if r.Stage == nil {
		return 0
	}
	return *r.Stage
}

func (r ConflictRequest) tension() int {
	if r.Tension == nil {
		return engine.DefaultTension
	}
	return *r.Tension
}

func (r ConflictRequest) validate() error {
	if !r.ConflictType.Valid() {
		return invalid("conflict_type", "unknown conflict type %q", r.ConflictType)
	}
	if !r.Role.Valid() {
		return invalid("player_role", "unknown role %q", r.Role)
	}
	if !r.Faction.Valid() {
		return invalid("player_faction", "unknown faction %q", r.Faction)
	}
	if blank(r.UserInput) {
		return invalid("user_input", "cannot be empty")
	}
	if t := r.tension(); t < engine.MinTension || t > engine.MaxTension {
		return invalid("tension_level", "must be between %d and %d, got %d", engine.MinTension, engine.MaxTension, t)
	}
	if s := r.stage(); s < 0 {
		return invalid("current_stage", "must not be negative, got %d", s)
	}
	return nil
}

// ContinueConflict advances an existing scenario. Unlike ConflictTurn it
// requires a session ID.
func (s *Service) ContinueConflict(ctx context.Context, req ConflictRequest) (*engine.TurnResult, error) {
	if blank(req.SessionID) {
		return nil, invalid("session_id", "is required to continue a conflict scenario")
	}
	return s.ConflictTurn(ctx, req)
}

// ConflictTurn runs one turn of the conflict state machine: narrative reply,
// tension update, conclusion draw, action menu and, on conclusion, KALKI
// scoring. A session ID is generated when absent. Nothing is persisted when
// an LLM or embedding call fails.
func (s *Service) ConflictTurn(ctx context.Context, req ConflictRequest) (*engine.TurnResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	unlock, err := s.locks.TryLock(req.SessionID)
	if err != nil {
		return nil, ErrSessionBusy
	}
	defer unlock()

	if err := s.checkNotConcluded(ctx, req.SessionID); err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("session_id", req.SessionID))
	tension, stage := req.tension(), req.stage()

	system := narrative.ConflictSystemPrompt(req.ConflictType, req.Role, req.Faction, tension)
	reply, err := s.chat(ctx, narrative.ChatMessages(system, req.ChatHistory, req.UserInput), narrative.Options{
		Model:       s.config.NarrativeModel,
		Temperature: conflictTemperature,
		TopP:        conflictTopP,
	})
	if err != nil {
		return nil, err
	}

	update := s.tension.Update(tension, reply, req.UserInput, req.Faction)
	concluded := s.conclusion.IsConcluded(update.Tension, stage)
	actions := engine.NextActions(update.Tension, req.Faction, req.Role)

	turn := engine.ChatTurn{User: req.UserInput, AI: reply}

	var (
		embedding []float32
		score     *engine.RubricScore
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		embedding, err = s.embed(gctx, reply)
		return err
	})
	if concluded {
		g.Go(func() error {
			var err error
			score, err = s.scoreConclusion(gctx, withTurn(req.ChatHistory, turn), req.Faction, logger)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metadata := map[string]any{
		rag.KeyMode:       rag.ModeConflict,
		rag.KeySessionID:  req.SessionID,
		"conflict_type":   string(req.ConflictType),
		"role":            string(req.Role),
		"faction":         string(req.Faction),
		"tension_level":   update.Tension,
		"stage":           stage,
		"sentiment_score": update.AISentiment.Score,
		"schema_version":  engine.SchemaVersion,
	}
	if req.UserID != "" {
		metadata[rag.KeyUserID] = req.UserID
	}

	now := s.now()
	s.persist(ctx, rag.Record{
		ID:        recordID("conflict-"+req.SessionID, now),
		Document:  reply,
		Embedding: embedding,
		Metadata:  metadata,
	})

	prior := engine.ScenarioState{
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		ConflictType: req.ConflictType,
		Role:         req.Role,
		Faction:      req.Faction,
		Tension:      tension,
		Stage:        stage,
		ChatHistory:  req.ChatHistory,
	}
	next := prior.Advance(turn, update.Tension, concluded, score)
	if err := s.sessions.Put(ctx, next); err != nil {
		logger.Warn("failed to save session state", zap.Error(err))
	}

	logger.Debug("conflict turn",
		zap.Int("previous_tension", update.Previous),
		zap.Int("tension", update.Tension),
		zap.Float64("keyword_delta", update.KeywordDelta),
		zap.Bool("concluded", concluded),
		zap.Bool("sentiment_fallback", update.AISentiment.Fallback || update.UserSentiment.Fallback))

	return &engine.TurnResult{
		Narrative: reply,
		Tension:   next.Tension,
		Stage:     next.Stage,
		Actions:   actions,
		Concluded: concluded,
		Metadata:  metadata,
		SessionID: req.SessionID,
		Score:     score,
	}, nil
}

func (s *Service) checkNotConcluded(ctx context.Context, sessionID string) error {
	state, err := s.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil
	case err != nil:
		s.logger.Warn("session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	case state.Concluded:
		return ErrSessionConcluded
	}
	return nil
}

// scoreConclusion asks the evaluation model for a KALKI draft over the full
// transcript and applies the final-exchange modifiers.
func (s *Service) scoreConclusion(ctx context.Context, transcript []engine.ChatTurn, faction engine.Faction, logger *zap.Logger) (*engine.RubricScore, error) {
	prompt := narrative.KalkiDraftPrompt(engine.Transcript(transcript), true)
	draft, err := s.chat(ctx, []narrative.Message{narrative.UserMessage(prompt)}, narrative.Options{
		Model:       s.config.EvaluationModel,
		Temperature: rubricTemperature,
	})
	if err != nil {
		return nil, err
	}

	raw := engine.ParseDraftRubric(draft)
	if raw.Fallback() {
		logger.Warn("rubric draft incomplete, using defaults", zap.Any("defaulted", raw.Defaulted))
	}
	raw.Feedback = engine.ExtractDraftFeedback(draft)

	final := transcript[len(transcript)-1]
	score := s.rubric.Score(raw, final.User, final.AI, faction)
	return &score, nil
}
