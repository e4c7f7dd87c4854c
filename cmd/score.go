package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/kalki/internal/engine"
	"github.com/Yates-Labs/kalki/internal/sentiment"
)

var (
	draftPath    string
	scoreFaction string
	outputFormat string
)

var scoreCmd = &cobra.Command{
	Use:   "score [transcript]",
	Short: "Score a conversation transcript with the KALKI rubric",
	Long: `Score a saved conversation with the KALKI rubric.

The transcript is YAML or JSON: either a list of {user, ai} turns or a
mapping with chat_history and optional conflict_type and faction.

The rubric draft comes from the configured LLM unless --draft points at a
saved draft, in which case scoring runs fully offline. Sentiment modifiers
use the local sentiment model.

Examples:
  kalki score session.yaml
  kalki score session.json --draft draft.txt --faction neutral
  kalki score session.yaml --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().StringVar(&draftPath, "draft", "", "Score a saved rubric draft instead of calling the LLM")
	scoreCmd.Flags().StringVar(&scoreFaction, "faction", "", "Faction the user played (side_a, side_b, neutral)")
	scoreCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table or json")
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	t, err := readTranscript(args[0])
	if err != nil {
		return err
	}
	if scoreFaction != "" {
		t.Faction = engine.Faction(scoreFaction)
		if !t.Faction.Valid() {
			return fmt.Errorf("unknown faction %q", scoreFaction)
		}
	}

	var draft string
	if draftPath != "" {
		data, err := os.ReadFile(draftPath)
		if err != nil {
			return err
		}
		draft = string(data)
	} else {
		llm, err := newLLM(cmd.Context(), cfg.LLM)
		if err != nil {
			return err
		}
		model := cfg.LLM.EvaluationModel
		if model == "" {
			model = cfg.LLM.NarrativeModel
		}
		draft, err = requestDraft(cmd.Context(), llm, model, t)
		if err != nil {
			return fmt.Errorf("failed to get rubric draft: %w", err)
		}
	}

	report := scoreDraft(sentiment.NewScorer(cfg.Sentiment.ModelPath, logger), t, draft)

	switch outputFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "table":
		fmt.Fprint(cmd.OutOrStdout(), renderReport(report))
		return nil
	}
	return fmt.Errorf("unknown format %q", outputFormat)
}

// renderReport draws the score as a bar per category.
func renderReport(r scoreReport) string {
	var (
		headerColor   = lipgloss.Color("#F780FF") // Bright pink
		barColor      = lipgloss.Color("#BD93F9") // Purple
		numberColor   = lipgloss.Color("#FF79C6") // Pink
		feedbackColor = lipgloss.Color("#E9E9F4") // Light purple/white
		borderColor   = lipgloss.Color("#6272A4") // Muted purple
		summaryColor  = lipgloss.Color("#8BE9FD") // Cyan accent
		warnColor     = lipgloss.Color("#FFB86C") // Orange
	)

	const (
		labelWidth = 22
		barWidth   = 30
	)

	headerStyle := lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(feedbackColor).Width(labelWidth)
	barStyle := lipgloss.NewStyle().Foreground(barColor)
	emptyStyle := lipgloss.NewStyle().Foreground(borderColor)
	numStyle := lipgloss.NewStyle().Foreground(numberColor).Width(7).Align(lipgloss.Right)
	feedbackStyle := lipgloss.NewStyle().Foreground(borderColor).Italic(true).PaddingLeft(2).Width(labelWidth + barWidth + 8)
	summaryStyle := lipgloss.NewStyle().Foreground(summaryColor).Bold(true)
	warnStyle := lipgloss.NewStyle().Foreground(warnColor)

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("KALKI score (%d turns)", r.Turns)))
	b.WriteString("\n\n")

	defaulted := make(map[engine.Category]bool, len(r.Defaulted))
	for _, c := range r.Defaulted {
		defaulted[c] = true
	}

	for _, c := range engine.Categories {
		v := r.Score.Get(c)
		filled := v * barWidth / c.Max()
		bar := barStyle.Render(strings.Repeat("█", filled)) + emptyStyle.Render(strings.Repeat("░", barWidth-filled))

		line := labelStyle.Render(c.Title()) + bar + numStyle.Render(fmt.Sprintf("%d/%d", v, c.Max()))
		if defaulted[c] {
			line += warnStyle.Render("  (default)")
		}
		b.WriteString(line + "\n")
		if fb := r.Score.Feedback[string(c)]; fb != "" {
			b.WriteString(feedbackStyle.Render(fb) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(summaryStyle.Render(fmt.Sprintf("Total: %d/100", r.Score.TotalScore)))
	b.WriteString("\n")

	mods := fmt.Sprintf("Sentiment %.2f (modifier %+d), faction modifier %+d", r.Sentiment, r.Modifiers.Sentiment, r.Modifiers.Faction)
	if r.Fallback {
		mods += ", sentiment model unavailable"
	}
	b.WriteString(emptyStyle.Render(mods))
	b.WriteString("\n")
	return b.String()
}
