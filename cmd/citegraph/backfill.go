package main

import (
	"os"
	"sort"
	"time"

	"github.com/matsen/citegraph/internal/backfill"
	"github.com/matsen/citegraph/internal/storage"
	"github.com/spf13/cobra"
)

var (
	backfillLimit     int
	backfillBatchSize int
)

func init() {
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "Maximum items to queue for a new run (0 = all)")
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 0, "Items per batch (default from config)")
	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-resolve unresolved citations and enrich placeholders",
	Long: `Re-drive resolution over outstanding work, highest value first:
placeholders without identifiers ordered by how often they are cited, then
unresolved citations grouped by normalized title.

Progress is stored in the database. An interrupted or rate-limited run is
resumed by the next invocation; when every provider is cooling down the
command exits with status 5.

Examples:
  citegraph backfill
  citegraph backfill --limit 200 --human`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

// BackfillResponse is the response for the backfill command.
type BackfillResponse struct {
	backfill.Report
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx, stop := commandContext()
	defer stop()
	a := mustOpenApp(ctx)
	defer a.close()

	batchSize := a.cfg.Backfill.BatchSize
	if backfillBatchSize > 0 {
		batchSize = backfillBatchSize
	}
	c := backfill.New(a.engine,
		backfill.WithBatchSize(batchSize),
		backfill.WithLimit(backfillLimit),
		backfill.WithLogger(a.log),
	)

	report, err := c.Run(ctx)
	if err != nil {
		a.close()
		exitWithError(ExitError, "backfill: %v", err)
	}

	resp := BackfillResponse{Report: report, Metrics: a.counters()}
	if humanOutput {
		printBackfillHuman(report)
	} else {
		outputJSON(resp)
	}
	if report.Status == storage.RunCoolingDown {
		a.close()
		os.Exit(ExitCoolingDown)
	}
	return nil
}

func printBackfillHuman(r backfill.Report) {
	verb := "Started"
	if r.Resumed {
		verb = "Resumed"
	}
	outputHuman("%s run %s: %s\n", verb, r.RunID, r.Status)
	outputHuman("  position %d/%d\n", r.Position, r.Total)
	outputHuman("  processed %d: %d resolved, %d unresolved, %d errored, %d skipped\n",
		r.Processed, r.Resolved, r.Unresolved, r.Errored, r.Skipped)

	names := make([]string, 0, len(r.Providers))
	for name := range r.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ps := r.Providers[name]
		if ps.CoolingDownUntil != nil {
			outputHuman("  %-18s %d hits, cooling down for %s\n", name, ps.Hits,
				formatDuration(time.Until(*ps.CoolingDownUntil)))
			continue
		}
		outputHuman("  %-18s %d hits\n", name, ps.Hits)
	}
}
