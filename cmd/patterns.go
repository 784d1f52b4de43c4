package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pythagorakase/nexus-sub005/internal/weights"
)

var analyzePatterns bool

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show learned query patterns",
	Long: `Show the query patterns learned from retrieval feedback, with their
success rates and per-model weight adjustments.

With --analyze, recent feedback is re-analyzed first and the pattern table is
updated before display.

Examples:
  nexus patterns
  nexus patterns --analyze`,
	Args: cobra.NoArgs,
	RunE: runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
	patternsCmd.Flags().BoolVar(&analyzePatterns, "analyze", false, "Re-analyze recent feedback before display")
}

func runPatterns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, _, ws, err := openStores()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := ws.SeedPatterns(ctx, weights.DefaultSeedPatterns()); err != nil {
		return fmt.Errorf("seed patterns: %w", err)
	}

	var patterns []weights.QueryPattern
	if analyzePatterns {
		patterns, err = ws.AnalyzeSuccessfulPatterns(ctx)
		if err != nil {
			return fmt.Errorf("analyze patterns: %w", err)
		}
		fmt.Println(successStyle.Render("✓ Re-analyzed recent feedback"))
	} else {
		patterns, err = ws.Patterns(ctx)
		if err != nil {
			return fmt.Errorf("load patterns: %w", err)
		}
	}

	if len(patterns) == 0 {
		fmt.Println(detailStyle.Render("No patterns recorded yet."))
		return nil
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Query Patterns:"))
	for _, p := range patterns {
		fmt.Println(bodyStyle.Render(fmt.Sprintf("%-30q %-12s success %.2f over %d samples",
			p.Pattern, p.QueryType, p.SuccessRate, p.SampleCount)))
		for model, adj := range p.WeightAdjustments {
			fmt.Println(detailStyle.Render(fmt.Sprintf("  %-12s %+.4f", model, adj)))
		}
	}
	return nil
}
