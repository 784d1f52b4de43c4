package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback [tracking-id] [score]",
	Short: "Record retrieval feedback",
	Long: `Record a success score in [0,1] for a previously retrieved evidence item.

Scores above 0.8 reinforce the model that produced the item for that query
type; scores below 0.2 penalize it. Scores in between update chunk metrics
only. Tracking ids are printed by "nexus retrieve --tracking".

Examples:
  nexus feedback 3e1f9c2a-8f0d-4b6e-9a2f-1c7d5e8b4a90 0.9
  nexus feedback 3e1f9c2a-8f0d-4b6e-9a2f-1c7d5e8b4a90 0.1`,
	Args: cobra.ExactArgs(2),
	RunE: runFeedback,
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	trackingID := args[0]
	score, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid score %q: %w", args[1], err)
	}

	db, _, ws, err := openStores()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := ws.RecordRetrievalFeedback(context.Background(), trackingID, score); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Recorded %.2f for %s", score, trackingID)))
	return nil
}
