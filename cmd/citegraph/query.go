package main

import (
	"context"

	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/storage"
	"github.com/spf13/cobra"
)

var (
	queryLimit      int
	queryMinCitedBy int
)

func init() {
	queryUnresolvedCmd.Flags().IntVar(&queryLimit, "limit", DefaultQueryLimit, "Maximum results")
	queryUnresolvedCmd.Flags().IntVar(&queryMinCitedBy, "min-cited-by", 0, "Minimum citing papers (default from config)")

	queryCmd.AddCommand(queryPaperCmd, queryCitingCmd, queryCitedByCmd, queryUnresolvedCmd)
	rootCmd.AddCommand(queryCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the citation graph",
}

var queryPaperCmd = &cobra.Command{
	Use:   "paper <id|doi|arxiv-id>",
	Short: "Show one paper",
	Long: `Show one paper by graph id, DOI or arXiv id.

Examples:
  citegraph query paper p_0b6f...
  citegraph query paper 10.5555/3295222.3295349
  citegraph query paper arXiv:1706.03762`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryPaper,
}

var queryCitingCmd = &cobra.Command{
	Use:   "citing <id>",
	Short: "List the citations a paper makes, in document order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQueryEdges(args[0], (*storage.DB).Citing)
	},
}

var queryCitedByCmd = &cobra.Command{
	Use:   "cited-by <id>",
	Short: "List the citations pointing at a paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQueryEdges(args[0], (*storage.DB).CitedBy)
	},
}

var queryUnresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "List placeholder papers worth enriching, most cited first",
	Args:  cobra.NoArgs,
	RunE:  runQueryUnresolved,
}

// EdgesResponse is the response for citing and cited-by queries.
type EdgesResponse struct {
	PaperID   string          `json:"paper_id"`
	Count     int             `json:"count"`
	Citations []edge.Citation `json:"citations"`
}

// UnresolvedResponse is the response for the unresolved query.
type UnresolvedResponse struct {
	Count  int                   `json:"count"`
	Papers []storage.PaperDegree `json:"papers"`
}

// findPaper looks a paper up by id, falling back to DOI or arXiv id.
func findPaper(ctx context.Context, db *storage.DB, key string) (*reference.Paper, error) {
	p, err := db.GetPaper(ctx, key)
	if err != nil || p != nil {
		return p, err
	}
	if id, ok := reference.ParseIdentifier(key); ok {
		return db.FindByIdentifier(ctx, id)
	}
	return nil, nil
}

func runQueryPaper(cmd *cobra.Command, args []string) error {
	_, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()
	ctx := context.Background()

	p, err := findPaper(ctx, db, args[0])
	if err != nil {
		exitWithError(ExitError, "looking up paper: %v", err)
	}
	if p == nil {
		exitWithError(ExitNotFound, "paper not found: %s", args[0])
	}

	if humanOutput {
		outputHuman("%s\n", formatPaperLine(*p))
		outputHuman("  state: %s\n", p.State)
		if p.DOI != "" {
			outputHuman("  doi:   %s\n", p.DOI)
		}
		if p.ArXivID != "" {
			outputHuman("  arxiv: %s\n", p.ArXivID)
		}
		if p.Venue != "" {
			outputHuman("  venue: %s\n", p.Venue)
		}
		return nil
	}
	return outputJSON(p)
}

func runQueryEdges(key string, list func(*storage.DB, context.Context, string) ([]edge.Citation, error)) error {
	_, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()
	ctx := context.Background()

	p, err := findPaper(ctx, db, key)
	if err != nil {
		exitWithError(ExitError, "looking up paper: %v", err)
	}
	if p == nil {
		exitWithError(ExitNotFound, "paper not found: %s", key)
	}
	citations, err := list(db, ctx, p.ID)
	if err != nil {
		exitWithError(ExitError, "querying citations: %v", err)
	}

	if humanOutput {
		outputHuman("%s\n", formatPaperLine(*p))
		for _, c := range citations {
			target := c.CitedID
			if target == "" {
				target = "(unresolved)"
			}
			if c.CitingID != p.ID {
				target = c.CitingID
			}
			outputHuman("  [%d] %s  %s\n", c.Order, target, truncateString(c.Raw, ListTitleMaxLen))
		}
		outputHuman("%d citations\n", len(citations))
		return nil
	}
	if citations == nil {
		citations = []edge.Citation{}
	}
	return outputJSON(EdgesResponse{PaperID: p.ID, Count: len(citations), Citations: citations})
}

func runQueryUnresolved(cmd *cobra.Command, args []string) error {
	cfg, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()

	minCitedBy := cfg.Backfill.MinCitedBy
	if queryMinCitedBy > 0 {
		minCitedBy = queryMinCitedBy
	}
	papers, err := db.UnresolvedHighDegree(context.Background(), minCitedBy, queryLimit)
	if err != nil {
		exitWithError(ExitError, "querying placeholders: %v", err)
	}

	if humanOutput {
		for _, pd := range papers {
			outputHuman("%4d  %s\n", pd.CitedBy, formatPaperLine(pd.Paper))
		}
		outputHuman("%d placeholders\n", len(papers))
		return nil
	}
	if papers == nil {
		papers = []storage.PaperDegree{}
	}
	return outputJSON(UnresolvedResponse{Count: len(papers), Papers: papers})
}
