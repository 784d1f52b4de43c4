package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pythagorakase/nexus-sub005/internal/query"
)

var historyModel string

var weightsCmd = &cobra.Command{
	Use:   "weights [query-type]",
	Short: "Show fusion weights for a query type",
	Long: `Show the current per-model fusion weights for a query type, with
confidence and sample counts. Unseen query types are seeded with the default
split on first read.

With --history, every stored generation for the given model is listed instead,
oldest first.

Examples:
  nexus weights character
  nexus weights event --history e5-large`,
	Args: cobra.ExactArgs(1),
	RunE: runWeights,
}

func init() {
	rootCmd.AddCommand(weightsCmd)
	weightsCmd.Flags().StringVar(&historyModel, "history", "", "Show every weight generation for this model")
}

func runWeights(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	qt := args[0]

	if !query.QueryType(qt).Valid() {
		return fmt.Errorf("unknown query type %q", qt)
	}

	db, _, ws, err := openStores()
	if err != nil {
		return err
	}
	defer db.Close()

	if historyModel != "" {
		history, err := ws.WeightHistory(ctx, historyModel, qt)
		if err != nil {
			return fmt.Errorf("load weight history: %w", err)
		}
		if len(history) == 0 {
			fmt.Println(detailStyle.Render(fmt.Sprintf("No history for %s/%s.", historyModel, qt)))
			return nil
		}

		fmt.Println()
		fmt.Println(headerStyle.Render(fmt.Sprintf("Weight history - %s / %s:", historyModel, qt)))
		for i, w := range history {
			fmt.Println(bodyStyle.Render(fmt.Sprintf("gen %-3d weight %.4f  confidence %.2f  samples %d",
				i, w.Weight, w.Confidence, w.SampleCount)))
		}
		return nil
	}

	current, err := ws.CurrentWeights(ctx, qt)
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render(fmt.Sprintf("Fusion weights - %s:", qt)))
	for _, w := range current {
		fmt.Println(bodyStyle.Render(fmt.Sprintf("%-12s weight %.4f  confidence %.2f  samples %d",
			w.Model, w.Weight, w.Confidence, w.SampleCount)))
	}
	return nil
}
