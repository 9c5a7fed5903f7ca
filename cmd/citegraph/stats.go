package main

import (
	"context"
	"sort"
	"time"

	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the graph and backfill state",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

// StatsResponse is the response for the stats command.
type StatsResponse struct {
	Papers      map[reference.State]int `json:"papers"`
	Citations   storage.CitationCounts  `json:"citations"`
	ReviewFlags int                     `json:"review_flags"`
	Cooldowns   map[string]time.Time    `json:"cooldowns,omitempty"`
	ActiveRun   *storage.Run            `json:"active_run,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	_, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()
	ctx := context.Background()

	resp, err := collectStats(ctx, db, time.Now())
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		total := 0
		for _, n := range resp.Papers {
			total += n
		}
		outputHuman("Papers:      %d (%d placeholder, %d fully processed)\n", total,
			resp.Papers[reference.StatePlaceholder], resp.Papers[reference.StateFullyProcessed])
		outputHuman("Citations:   %d (%d resolved, %d unresolved)\n",
			resp.Citations.Total, resp.Citations.Resolved, resp.Citations.Unresolved)
		outputHuman("Review flags: %d\n", resp.ReviewFlags)
		names := make([]string, 0, len(resp.Cooldowns))
		for name := range resp.Cooldowns {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			outputHuman("Cooling down: %s for %s\n", name, formatDuration(time.Until(resp.Cooldowns[name])))
		}
		if r := resp.ActiveRun; r != nil {
			outputHuman("Backfill run %s: %s at %d/%d\n", r.ID, r.Status, r.Position, r.Total)
		}
		return nil
	}
	return outputJSON(resp)
}

func collectStats(ctx context.Context, db *storage.DB, now time.Time) (StatsResponse, error) {
	var resp StatsResponse
	var err error
	if resp.Papers, err = db.CountPapers(ctx); err != nil {
		return resp, err
	}
	if resp.Citations, err = db.CountCitations(ctx); err != nil {
		return resp, err
	}
	if resp.ReviewFlags, err = db.CountReviewFlags(ctx, ""); err != nil {
		return resp, err
	}
	if resp.Cooldowns, err = db.LoadCooldowns(ctx, now); err != nil {
		return resp, err
	}
	if resp.ActiveRun, err = db.ActiveRun(ctx); err != nil {
		return resp, err
	}
	return resp, nil
}
