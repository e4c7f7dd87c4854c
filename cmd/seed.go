package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/kalki/internal/ingest/corpus"
	"github.com/Yates-Labs/kalki/internal/rag"
)

var (
	seedBatchSize int
	seedReindex   bool
	seedDryRun    bool
)

var seedCmd = &cobra.Command{
	Use:   "seed [repository|directory]",
	Short: "Import a story corpus into the vector store",
	Long: `Import seed stories used as examples for story generation.

The source is a git repository (local path or URL, read at HEAD) or a plain
directory. Every .yaml/.yml file holds one story or a list of stories with
title, culture, theme, language, tone and text fields.

Stories get stable IDs, so re-running the import only embeds new stories.

Examples:
  kalki seed ./stories
  kalki seed https://github.com/Yates-Labs/kalki-stories
  kalki seed ./stories --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().IntVar(&seedBatchSize, "batch-size", rag.DefaultIndexOptions().BatchSize, "Stories embedded per request")
	seedCmd.Flags().BoolVar(&seedReindex, "reindex", false, "Re-embed stories that are already stored")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Parse the corpus without embedding anything")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var (
		headerColor  = lipgloss.Color("#F780FF") // Bright pink
		contextColor = lipgloss.Color("#6272A4") // Muted purple
		warnColor    = lipgloss.Color("#FFB86C") // Orange
		successColor = lipgloss.Color("#50FA7B") // Green
	)
	headerStyle := lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	contextStyle := lipgloss.NewStyle().Foreground(contextColor).Italic(true)
	warnStyle := lipgloss.NewStyle().Foreground(warnColor)
	successStyle := lipgloss.NewStyle().Foreground(successColor)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, contextStyle.Render("→ Loading corpus from "+args[0]))

	c, err := corpus.Load(args[0])
	if err != nil {
		return err
	}
	if c.HeadHash != "" {
		fmt.Fprintln(out, contextStyle.Render(fmt.Sprintf("  %s @ %.8s", c.HeadBranch, c.HeadHash)))
	}
	for _, s := range c.Skipped {
		fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("  skipped %s: %s", s.Path, s.Reason)))
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d stories", len(c.Stories))))

	if seedDryRun || len(c.Stories) == 0 {
		return nil
	}

	ctx := cmd.Context()
	embedder, err := newEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	store, err := newVectorStore(ctx, cfg.VectorStore, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	fmt.Fprintln(out, contextStyle.Render("→ Indexing stories..."))
	stats, err := corpus.Seed(ctx, c, embedder, store, rag.IndexOptions{
		BatchSize:    seedBatchSize,
		ForceReindex: seedReindex,
		SkipExisting: !seedReindex,
	}, logger)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Indexed %d stories, %d already stored", stats.Indexed, stats.Skipped)))
	return nil
}
