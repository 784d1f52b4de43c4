package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pythagorakase/nexus-sub005/internal/narrative"
	"github.com/pythagorakase/nexus-sub005/internal/query"
)

var (
	narrateTopK   int
	narrateBudget int
	recordQuality bool
)

var narrateCmd = &cobra.Command{
	Use:   "narrate [user-input]",
	Short: "Generate a story continuation from retrieved context",
	Long: `Retrieve context for the user's input, assemble it into a prompt, and
generate a narrative continuation with the configured LLM.

With --feedback, the continuation is scored against the evidence it was given
and the score is fanned back into the adaptation loop, reinforcing the models
whose evidence the narrative actually used.

Required environment variables:
  OPENAI_API_KEY     - OpenAI API key for embeddings and generation
  MILVUS_ADDRESS     - Milvus server address (default: localhost:19530)

Examples:
  nexus narrate "Alex finally confronts the Dynacorp fixer"
  nexus narrate "the morning after the breach" --budget 2000 --feedback`,
	Args: cobra.ExactArgs(1),
	RunE: runNarrate,
}

func init() {
	rootCmd.AddCommand(narrateCmd)
	narrateCmd.Flags().IntVar(&narrateTopK, "topk", 10, "Number of evidence items to retrieve")
	narrateCmd.Flags().IntVar(&narrateBudget, "budget", 4000, "Token budget for the context package")
	narrateCmd.Flags().BoolVar(&recordQuality, "feedback", false, "Score the narrative and feed the adaptation loop")
}

func runNarrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	userInput := args[0]

	db, adapter, ws, err := openStores()
	if err != nil {
		return err
	}
	defer db.Close()

	engine, cleanup, err := buildPipeline(ctx, adapter, ws)
	if err != nil {
		return err
	}
	defer cleanup()

	pkg, err := engine.RetrieveAndBudget(ctx, userInput, query.Filters{}, narrateTopK, narrateBudget)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	prompt, err := narrative.AssemblePrompt(pkg)
	if err != nil {
		return fmt.Errorf("assemble prompt: %w", err)
	}

	llm, err := narrative.NewOpenAILLM(narrative.DefaultLLMConfig())
	if err != nil {
		return err
	}
	generator := narrative.NewGenerator(llm, narrative.DefaultLLMConfig())

	narr, err := generator.Generate(ctx, uuid.NewString(), prompt, pkg.TrackingIDs())
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Narrative:"))
	fmt.Println()
	fmt.Println(bodyStyle.Render(strings.TrimSpace(narr.Text)))
	fmt.Println()

	if recordQuality {
		score := narrative.ScoreNarrative(narr.Text, pkg)
		if err := ws.RecordNarrativeQuality(ctx, narr.NarrativeID, score, narr.TrackingIDs); err != nil {
			return fmt.Errorf("record narrative quality: %w", err)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Quality %.2f recorded for %s", score, narr.NarrativeID)))
	}

	return nil
}
