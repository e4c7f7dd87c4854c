package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/sentiment"
)

const version = "0.1.0"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP stdio server exposing the KALKI engine",
	Long: `Run a Model Context Protocol server on stdin/stdout.

The tools run locally against the sentiment model and need no LLM:
  score_draft             apply KALKI modifiers to a rubric draft
  update_tension          compute the next tension level for an exchange
  next_actions            list the action menu for a tension level
  conclusion_probability  chance that a turn concludes the scenario
  sentiment               score text on a [-1, 1] scale

Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	server := newMCPServer(sentiment.NewScorer(cfg.Sentiment.ModelPath, logger), engine.DefaultRand())
	logger.Info("mcp server starting", zap.String("version", version))
	if err := server.Run(cmd.Context(), &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func newMCPServer(scorer engine.SentimentScorer, r engine.Rand) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "kalki-mcp",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_draft",
		Description: "Score a conversation with the KALKI rubric from an LLM draft in 'EMPATHY: n' format. Applies sentiment and faction modifiers.",
	}, scoreDraftHandler(scorer))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_tension",
		Description: "Compute the next tension level (0-100) from one AI/user exchange using sentiment, escalation keywords and noise.",
	}, updateTensionHandler(scorer, r))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "next_actions",
		Description: "List the seven actions offered to the user at a tension level.",
	}, nextActionsHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name:        "conclusion_probability",
		Description: "Probability that a turn ending at the given tension and stage concludes the scenario.",
	}, conclusionHandler())

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sentiment",
		Description: "Score text sentiment on a [-1, 1] scale.",
	}, sentimentHandler(scorer))

	return server
}

// --- Input types ---

type scoreDraftInput struct {
	ChatHistory  []engine.ChatTurn `json:"chat_history"            jsonschema:"Conversation turns with user and ai fields"`
	Draft        string            `json:"draft"                   jsonschema:"Rubric draft with EMPATHY, DIPLOMATIC_SKILL, HISTORICAL_ACCURACY and ETHICAL_BALANCE lines"`
	Faction      string            `json:"faction,omitempty"       jsonschema:"Faction the user played: side_a, side_b or neutral"`
	ConflictType string            `json:"conflict_type,omitempty" jsonschema:"Conflict scenario, e.g. rwanda"`
}

type updateTensionInput struct {
	Tension  int    `json:"tension"           jsonschema:"Current tension level 0-100"`
	AIText   string `json:"ai_text"           jsonschema:"The AI reply of the exchange"`
	UserText string `json:"user_text"         jsonschema:"The user message of the exchange"`
	Faction  string `json:"faction,omitempty" jsonschema:"Faction the user played: side_a, side_b or neutral"`
}

type nextActionsInput struct {
	Tension int    `json:"tension"           jsonschema:"Tension level 0-100"`
	Faction string `json:"faction,omitempty" jsonschema:"Faction the user played: side_a, side_b or neutral"`
	Role    string `json:"role,omitempty"    jsonschema:"Role the user played, e.g. mediator"`
}

type conclusionInput struct {
	Tension int `json:"tension" jsonschema:"Tension level 0-100 after the turn"`
	Stage   int `json:"stage"   jsonschema:"Completed turns in the scenario"`
}

type sentimentInput struct {
	Text string `json:"text" jsonschema:"Text to score"`
}

// --- Handlers ---

func scoreDraftHandler(scorer engine.SentimentScorer) func(context.Context, *mcp.CallToolRequest, scoreDraftInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input scoreDraftInput) (*mcp.CallToolResult, any, error) {
		t := transcript{
			ConflictType: engine.ConflictType(input.ConflictType),
			Faction:      engine.Faction(input.Faction),
			ChatHistory:  input.ChatHistory,
		}
		if len(t.ChatHistory) == 0 {
			return errorResult("chat_history must not be empty"), nil, nil
		}
		if strings.TrimSpace(input.Draft) == "" {
			return errorResult("draft must not be empty"), nil, nil
		}
		if t.Faction != "" && !t.Faction.Valid() {
			return errorResult(fmt.Sprintf("unknown faction %q", input.Faction)), nil, nil
		}
		return textResult(jsonString(scoreDraft(scorer, t, input.Draft))), nil, nil
	}
}

func updateTensionHandler(scorer engine.SentimentScorer, r engine.Rand) func(context.Context, *mcp.CallToolRequest, updateTensionInput) (*mcp.CallToolResult, any, error) {
	tension := engine.NewTensionEngine(scorer, r)
	return func(ctx context.Context, req *mcp.CallToolRequest, input updateTensionInput) (*mcp.CallToolResult, any, error) {
		faction := engine.Faction(input.Faction)
		if faction != "" && !faction.Valid() {
			return errorResult(fmt.Sprintf("unknown faction %q", input.Faction)), nil, nil
		}
		u := tension.Update(engine.ClampTension(input.Tension), input.AIText, input.UserText, faction)
		return textResult(jsonString(map[string]any{
			"previous":        u.Previous,
			"tension":         u.Tension,
			"ai_sentiment":    u.AISentiment.Score,
			"user_sentiment":  u.UserSentiment.Score,
			"sentiment_delta": u.SentimentDelta,
			"keyword_delta":   u.KeywordDelta,
			"noise":           u.Noise,
		})), nil, nil
	}
}

func nextActionsHandler() func(context.Context, *mcp.CallToolRequest, nextActionsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input nextActionsInput) (*mcp.CallToolResult, any, error) {
		actions := engine.NextActions(engine.ClampTension(input.Tension), engine.Faction(input.Faction), engine.Role(input.Role))
		return textResult(jsonString(map[string]any{"actions": actions})), nil, nil
	}
}

func conclusionHandler() func(context.Context, *mcp.CallToolRequest, conclusionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input conclusionInput) (*mcp.CallToolResult, any, error) {
		if input.Stage < 0 {
			return errorResult("stage must not be negative"), nil, nil
		}
		p := engine.Probability(engine.ClampTension(input.Tension), input.Stage)
		return textResult(jsonString(map[string]any{"probability": p})), nil, nil
	}
}

func sentimentHandler(scorer engine.SentimentScorer) func(context.Context, *mcp.CallToolRequest, sentimentInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input sentimentInput) (*mcp.CallToolResult, any, error) {
		res := scorer.Score(input.Text)
		out := map[string]any{"score": res.Score}
		if res.Fallback {
			out["fallback"] = true
			out["reason"] = res.Reason
		}
		return textResult(jsonString(out)), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	res := textResult("error: " + msg)
	res.IsError = true
	return res
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
