package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pythagorakase/nexus-sub005/internal/query"
)

var (
	topK       int
	targetSize int
	season     int
	episode    int
	queryType  string
	showIDs    bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [question]",
	Short: "Retrieve story context for a query",
	Long: `Retrieve narrative evidence for a query and assemble it into a
token-budgeted context package.

The query is classified (character, location, event, relationship, theme, or
narrative), routed to the matching memory tiers, and the results are fused,
cross-referenced, and trimmed to the target size.

Required environment variables:
  OPENAI_API_KEY     - OpenAI API key for query embeddings
  MILVUS_ADDRESS     - Milvus server address (default: localhost:19530)

Examples:
  nexus retrieve "What happened to Alex in Season 2?"
  nexus retrieve "Who is Emilia?" --topk 5 --target-size 2000
  nexus retrieve "the breach aftermath" --season 2 --episode 4 --tracking`,
	Args: cobra.ExactArgs(1),
	RunE: runRetrieve,
}

func init() {
	rootCmd.AddCommand(retrieveCmd)
	retrieveCmd.Flags().IntVar(&topK, "topk", 10, "Number of evidence items to retrieve")
	retrieveCmd.Flags().IntVar(&targetSize, "target-size", 4000, "Token budget for the context package")
	retrieveCmd.Flags().IntVar(&season, "season", 0, "Restrict retrieval to a season")
	retrieveCmd.Flags().IntVar(&episode, "episode", 0, "Restrict retrieval to an episode")
	retrieveCmd.Flags().StringVar(&queryType, "type", "", "Override the query type (character, location, event, relationship, theme, narrative)")
	retrieveCmd.Flags().BoolVar(&showIDs, "tracking", false, "Show tracking ids for later feedback")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if queryType != "" && !query.QueryType(queryType).Valid() {
		return fmt.Errorf("unknown query type %q", queryType)
	}

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

	filters := query.Filters{}
	if season > 0 {
		filters.Season = &season
	}
	if episode > 0 {
		filters.Episode = &episode
	}

	pkg, err := engine.RetrieveAndBudgetAs(ctx, args[0], query.QueryType(queryType), filters, topK, targetSize)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Query:"))
	fmt.Println(bodyStyle.Render(args[0]))
	fmt.Println()

	if len(pkg.Entities) > 0 {
		fmt.Println(headerStyle.Render("Entity State:"))
		for _, e := range pkg.Entities {
			fmt.Println(bodyStyle.Render(fmt.Sprintf("%s - %s", e.Name, e.Summary)))
			if e.Collapsed != "" {
				fmt.Println(detailStyle.Render("  " + e.Collapsed))
			} else {
				for _, rel := range e.RelationshipDetail {
					fmt.Println(detailStyle.Render("  " + rel))
				}
			}
		}
		fmt.Println()
	}

	if len(pkg.Evidence) == 0 {
		fmt.Println(detailStyle.Render("No evidence found."))
		return nil
	}

	fmt.Println(headerStyle.Render("Evidence:"))
	for _, group := range pkg.Evidence {
		fmt.Println(detailStyle.Render("[" + group.Query + "]"))
		for _, item := range group.Items {
			fmt.Println(bodyStyle.Render(fmt.Sprintf("  %.2f  %s", item.Score, item.Text)))
			if showIDs && item.TrackingID != "" {
				fmt.Println(detailStyle.Render("        " + item.TrackingID))
			}
		}
	}

	fmt.Println()
	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Package size: %d tokens (budget %d)", pkg.Size(), targetSize)))
	return nil
}
