package main

import (
	"context"

	"github.com/matsen/citegraph/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reviewCmd)
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List dedup decisions flagged for manual review",
	Long: `List near-miss dedup decisions. A flag is recorded when a new paper scored
close to an existing node without reaching the dedup threshold, or when an
incoming identifier already belonged to a different node.`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

// ReviewResponse is the response for the review command.
type ReviewResponse struct {
	Count int                  `json:"count"`
	Flags []storage.ReviewFlag `json:"flags"`
}

func runReview(cmd *cobra.Command, args []string) error {
	_, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()

	flags, err := db.ReviewFlags(context.Background())
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		for _, f := range flags {
			outputHuman("%s  %s ~ %s  %.2f  %s\n", f.CreatedAt, f.ExistingID, f.NewID, f.Score, f.Reason)
		}
		outputHuman("%d flags\n", len(flags))
		return nil
	}
	if flags == nil {
		flags = []storage.ReviewFlag{}
	}
	return outputJSON(ReviewResponse{Count: len(flags), Flags: flags})
}
