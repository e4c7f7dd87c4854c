package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/narrative"
	"github.com/Yates-Labs/kalki/internal/rag"
)

const (
	debateTemperature     = 0.8
	debateEvalTemperature = 0.4
	debateReferences      = 3
)

// DebatePromptResponse carries a generated dilemma.
type DebatePromptResponse struct {
	Prompt    string `json:"prompt"`
	Timestamp string `json:"timestamp"`
}

// DebatePrompt generates a new ethical dilemma to debate.
func (s *Service) DebatePrompt(ctx context.Context) (*DebatePromptResponse, error) {
	ctx = context.WithoutCancel(ctx)

	text, err := s.chat(ctx, []narrative.Message{narrative.UserMessage(narrative.DebateTopicPrompt())}, narrative.Options{
		Model: s.config.NarrativeModel,
	})
	if err != nil {
		return nil, err
	}
	return &DebatePromptResponse{Prompt: text, Timestamp: timestamp(s.now())}, nil
}

// DebateHistoryMessage is one prior message of a debate.
type DebateHistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DebateMessageRequest is one debate turn.
type DebateMessageRequest struct {
	Prompt    string                 `json:"prompt"`
	Message   string                 `json:"message"`
	History   []DebateHistoryMessage `json:"history"`
	SessionID string                 `json:"session_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
}

func (r DebateMessageRequest) validate() error {
	if blank(r.Prompt) {
		return invalid("prompt", "cannot be empty")
	}
	if blank(r.Message) {
		return invalid("message", "cannot be empty")
	}
	for i, m := range r.History {
		switch narrative.Role(strings.ToLower(m.Role)) {
		case narrative.RoleUser, narrative.RoleAssistant:
		default:
			return invalid("history", "message %d has unsupported role %q", i, m.Role)
		}
	}
	return nil
}

// DebateMessageResponse is the debate partner's reply.
type DebateMessageResponse struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
}

// DebateMessage replies to the user's latest argument. The argument is
// logged so later evaluations can cite it as a reference; logging is
// best-effort.
func (s *Service) DebateMessage(ctx context.Context, req DebateMessageRequest) (*DebateMessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	messages := make([]narrative.Message, 0, len(req.History)+2)
	messages = append(messages, narrative.SystemMessage(narrative.DebateSystemPrompt(req.Prompt)))
	for _, m := range req.History {
		messages = append(messages, narrative.Message{Role: narrative.Role(strings.ToLower(m.Role)), Content: m.Content})
	}
	messages = append(messages, narrative.UserMessage(req.Message))

	reply, err := s.chat(ctx, messages, narrative.Options{
		Model:       s.config.NarrativeModel,
		Temperature: debateTemperature,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.logDebate(ctx, req, sessionID, reply, now)

	return &DebateMessageResponse{Content: reply, Timestamp: timestamp(now), SessionID: sessionID}, nil
}

func (s *Service) logDebate(ctx context.Context, req DebateMessageRequest, sessionID, reply string, now time.Time) {
	embedding, err := s.embed(ctx, req.Message)
	if err != nil {
		s.logger.Warn("failed to embed debate argument", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	metadata := map[string]any{
		rag.KeyMode:      rag.ModeDebate,
		rag.KeySessionID: sessionID,
		"dilemma":        req.Prompt,
		"reply":          reply,
		"turn":           len(req.History)/2 + 1,
	}
	if req.UserID != "" {
		metadata[rag.KeyUserID] = req.UserID
	}

	s.persist(ctx, rag.Record{
		ID:        recordID("debate-"+sessionID, now),
		Document:  req.Message,
		Embedding: embedding,
		Metadata:  metadata,
	})
}

// DebateRequest submits a response to a dilemma for grading.
type DebateRequest struct {
	UserResponse string `json:"user_response"`
	Prompt       string `json:"prompt"`
}

// DebateEvaluationResponse grades a debate response.
type DebateEvaluationResponse struct {
	engine.DebateEvaluation
	Timestamp string `json:"timestamp"`
}

// DebateEvaluate grades a response against the dilemma, quoting the nearest
// logged records as reference arguments. A failed reference lookup only
// drops the references.
func (s *Service) DebateEvaluate(ctx context.Context, req DebateRequest) (*DebateEvaluationResponse, error) {
	if blank(req.UserResponse) {
		return nil, invalid("user_response", "cannot be empty")
	}
	if blank(req.Prompt) {
		return nil, invalid("prompt", "cannot be empty")
	}
	ctx = context.WithoutCancel(ctx)

	vec, err := s.embed(ctx, req.UserResponse)
	if err != nil {
		return nil, err
	}

	var references []narrative.ContextChunk
	matches, err := s.store.Query(ctx, vec, rag.QueryOptions{TopK: debateReferences})
	if err != nil {
		s.logger.Warn("reference lookup failed", zap.Error(err))
	} else {
		references = toChunks(matches)
	}

	text, err := s.chat(ctx, []narrative.Message{narrative.UserMessage(narrative.DebateEvaluationPrompt(req.Prompt, req.UserResponse, references))}, narrative.Options{
		Model:       s.config.EvaluationModel,
		Temperature: debateEvalTemperature,
	})
	if err != nil {
		return nil, err
	}

	eval := engine.ParseDebateEvaluation(text)
	if len(eval.Scores) < len(narrative.DebateCriteria) {
		s.logger.Warn("debate evaluation missing scores",
			zap.Int("parsed", len(eval.Scores)),
			zap.Int("expected", len(narrative.DebateCriteria)))
	}
	return &DebateEvaluationResponse{DebateEvaluation: eval, Timestamp: timestamp(s.now())}, nil
}
