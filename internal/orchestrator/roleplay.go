package orchestrator

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
)

const (
	rolePlayTemperature   = 0.75
	rolePlayTopP          = 0.9
	actionsTemperature    = 0.7
	evaluationTemperature = 0.2
)

// RolePlayRequest is one role-play turn.
type RolePlayRequest struct {
	Role           string            `json:"role"`
	Culture        string            `json:"culture"`
	Era            string            `json:"era"`
	Tone           string            `json:"tone"`
	Language       string            `json:"language"`
	IncludeEmotion bool              `json:"include_emotion"`
	UserInput      string            `json:"user_input"`
	ChatHistory    []engine.ChatTurn `json:"chat_history"`
	SessionID      string            `json:"session_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
}

func (r RolePlayRequest) validate() error {
	switch {
	case blank(r.Role):
		return invalid("role", "cannot be empty")
	case blank(r.Culture):
		return invalid("culture", "cannot be empty")
	case blank(r.UserInput):
		return invalid("user_input", "cannot be empty")
	}
	return nil
}

// StoryResponse is returned by role-play turns and story generation.
type StoryResponse struct {
	Story          string         `json:"story"`
	CharacterCount int            `json:"character_count"`
	Language       string         `json:"language"`
	Metadata       map[string]any `json:"metadata"`
	UsedRAG        bool           `json:"used_rag"`
	ReferenceCount int            `json:"reference_count"`
	Actions        []string       `json:"actions,omitempty"`
}

// RolePlayTurn continues a role-play conversation and suggests the next
// actions. Action generation never fails the turn: any LLM error yields the
// fixed fallback menu.
func (s *Service) RolePlayTurn(ctx context.Context, req RolePlayRequest) (*StoryResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	setting := narrative.RolePlaySetting{
		Role:           req.Role,
		Culture:        req.Culture,
		Era:            orDefault(req.Era, "present"),
		Tone:           orDefault(req.Tone, "neutral"),
		Language:       orDefault(req.Language, "English"),
		IncludeEmotion: req.IncludeEmotion,
	}

	reply, err := s.chat(ctx, narrative.ChatMessages(narrative.RolePlaySystemPrompt(setting), req.ChatHistory, req.UserInput), narrative.Options{
		Model:       s.config.NarrativeModel,
		Temperature: rolePlayTemperature,
		TopP:        rolePlayTopP,
	})
	if err != nil {
		return nil, err
	}

	var (
		embedding []float32
		menu      engine.ActionMenu
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		embedding, err = s.embed(gctx, reply)
		return err
	})
	g.Go(func() error {
		menu = s.rolePlayActions(gctx, withTurn(req.ChatHistory, engine.ChatTurn{User: req.UserInput, AI: reply}), reply)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metadata := map[string]any{
		rag.KeyMode: rag.ModeRolePlay,
		"culture":   setting.Culture,
		"role":      setting.Role,
		"era":       setting.Era,
		"tone":      setting.Tone,
		"language":  setting.Language,
	}
	if req.SessionID != "" {
		metadata[rag.KeySessionID] = req.SessionID
	}
	if req.UserID != "" {
		metadata[rag.KeyUserID] = req.UserID
	}

	s.persist(ctx, rag.Record{
		ID:        recordID(rag.Slug(req.Role)+"-role", s.now()),
		Document:  reply,
		Embedding: embedding,
		Metadata:  metadata,
	})

	return &StoryResponse{
		Story:          reply,
		CharacterCount: utf8.RuneCountInString(reply),
		Language:       setting.Language,
		Metadata:       metadata,
		Actions:        menu.Actions,
	}, nil
}

func (s *Service) rolePlayActions(ctx context.Context, history []engine.ChatTurn, scene string) engine.ActionMenu {
	text, err := s.chat(ctx, []narrative.Message{narrative.UserMessage(narrative.ActionsPrompt(history, scene))}, narrative.Options{
		Model:       s.config.NarrativeModel,
		Temperature: actionsTemperature,
	})
	if err != nil {
		s.logger.Warn("action generation failed, using fallback menu", zap.Error(err))
		return engine.FallbackActionMenu(err.Error())
	}
	menu := engine.ParseActionList(text)
	if menu.Reason != "" {
		s.logger.Warn("action list incomplete", zap.String("reason", menu.Reason))
	}
	return menu
}

// EvaluationRequest scores an accumulated chat history.
type EvaluationRequest struct {
	ChatHistory  []engine.ChatTurn   `json:"chat_history"`
	SessionID    string              `json:"session_id,omitempty"`
	UserID       string              `json:"user_id,omitempty"`
	ConflictType engine.ConflictType `json:"conflict_type,omitempty"`
	Faction      engine.Faction      `json:"player_faction,omitempty"`
	Role         engine.Role         `json:"player_role,omitempty"`
}

func (r EvaluationRequest) validate() error {
	if len(r.ChatHistory) == 0 {
		return invalid("chat_history", "cannot be empty")
	}
	if r.ConflictType != "" && !r.ConflictType.Valid() {
		return invalid("conflict_type", "unknown conflict type %q", r.ConflictType)
	}
	if r.Faction != "" && !r.Faction.Valid() {
		return invalid("player_faction", "unknown faction %q", r.Faction)
	}
	if r.Role != "" && !r.Role.Valid() {
		return invalid("player_role", "unknown role %q", r.Role)
	}
	return nil
}

// EvaluationResponse is the KALKI result for a whole conversation.
// SentimentScore is omitted when the sentiment model fell back.
type EvaluationResponse struct {
	EmpathyScore            int               `json:"empathy_score"`
	DiplomaticSkillScore    int               `json:"diplomatic_skill_score"`
	HistoricalAccuracyScore int               `json:"historical_accuracy_score"`
	EthicalBalanceScore     int               `json:"ethical_balance_score"`
	TotalScore              int               `json:"total_score"`
	Feedback                map[string]string `json:"feedback,omitempty"`
	SentimentScore          *float64          `json:"sentiment_score,omitempty"`
}

// EvaluateChat scores a conversation with the KALKI rubric. The sentiment
// modifier is taken over the whole conversation rather than the final
// exchange. A record is logged only when a session ID is supplied.
func (s *Service) EvaluateChat(ctx context.Context, req EvaluationRequest) (*EvaluationResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	parts := make([]string, len(req.ChatHistory))
	for i, turn := range req.ChatHistory {
		parts[i] = turn.User + " " + turn.AI
	}
	overall := s.sentiment.Score(strings.Join(parts, " "))

	text, err := s.chat(ctx, []narrative.Message{narrative.UserMessage(narrative.EvaluationPrompt(req.ChatHistory, req.ConflictType))}, narrative.Options{
		Model:       s.config.EvaluationModel,
		Temperature: evaluationTemperature,
	})
	if err != nil {
		return nil, err
	}

	raw := engine.ParseDraftRubric(text)
	if raw.Fallback() {
		s.logger.Warn("evaluation draft incomplete, using defaults", zap.Any("defaulted", raw.Defaulted))
	}
	raw.Feedback = engine.ExtractDraftFeedback(text)

	score := engine.Apply(raw, engine.Modifiers{
		Sentiment: engine.SentimentModifier(overall.Score),
		Faction:   engine.FactionModifier(req.Faction),
	})

	resp := &EvaluationResponse{
		EmpathyScore:            score.Empathy,
		DiplomaticSkillScore:    score.DiplomaticSkill,
		HistoricalAccuracyScore: score.HistoricalAccuracy,
		EthicalBalanceScore:     score.EthicalBalance,
		TotalScore:              score.TotalScore,
		Feedback:                score.Feedback,
	}
	if !overall.Fallback {
		v := overall.Score
		resp.SentimentScore = &v
	}

	if req.SessionID != "" {
		s.logEvaluation(ctx, req, score, overall.Score)
	}
	return resp, nil
}

func (s *Service) logEvaluation(ctx context.Context, req EvaluationRequest, score engine.RubricScore, sentimentScore float64) {
	transcript := engine.Transcript(req.ChatHistory)
	embedding, err := s.embed(ctx, transcript)
	if err != nil {
		s.logger.Warn("failed to embed evaluation transcript", zap.String("session_id", req.SessionID), zap.Error(err))
		return
	}

	now := s.now()
	metadata := map[string]any{
		rag.KeyMode:                 rag.ModeEvaluation,
		rag.KeySessionID:            req.SessionID,
		"empathy_score":             score.Empathy,
		"diplomatic_skill_score":    score.DiplomaticSkill,
		"historical_accuracy_score": score.HistoricalAccuracy,
		"ethical_balance_score":     score.EthicalBalance,
		"total_score":               score.TotalScore,
		"sentiment_score":           sentimentScore,
		"evaluation_timestamp":      timestamp(now),
	}
	if req.UserID != "" {
		metadata[rag.KeyUserID] = req.UserID
	}
	if req.ConflictType != "" {
		metadata["conflict_type"] = string(req.ConflictType)
	}
	if req.Faction != "" {
		metadata["faction"] = string(req.Faction)
	}
	if req.Role != "" {
		metadata["role"] = string(req.Role)
	}

	s.persist(ctx, rag.Record{
		ID:        recordID("eval-"+req.SessionID, now),
		Document:  transcript,
		Embedding: embedding,
		Metadata:  metadata,
	})
}
