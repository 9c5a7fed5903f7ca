package main

import (
	"encoding/json"
	"fmt"

	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(promoteCmd)
}

var promoteCmd = &cobra.Command{
	Use:   "promote <file>",
	Short: "Attach the full record to a processed paper",
	Long: `Mark a paper fully processed once its own document has been analyzed.

The input identifies the paper the same way ingestion does and carries the
full record:

  {"citing": {"doi": "10.5555/3295222.3295349"},
   "fields": {"title": "...", "abstract": "...", "content": {...}}}

An existing placeholder keeps its id and every citation pointing at it.

Examples:
  citegraph promote attention.json`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

// PromoteRequest is the promote command's input.
type PromoteRequest struct {
	Citing reference.CitingPaper   `json:"citing"`
	Fields storage.PromotionFields `json:"fields"`
}

// PromoteResponse is the response for the promote command.
type PromoteResponse struct {
	Paper   reference.Paper `json:"paper"`
	CitedBy int             `json:"cited_by"`
}

func runPromote(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		exitWithError(ExitDataError, "reading %s: %v", args[0], err)
	}
	req, err := parsePromoteRequest(data)
	if err != nil {
		exitWithError(ExitDataError, "parsing %s: %v", args[0], err)
	}

	ctx, stop := commandContext()
	defer stop()
	a := mustOpenApp(ctx)
	defer a.close()

	paper, err := a.engine.Promote(ctx, req.Citing, req.Fields)
	if err != nil {
		a.close()
		exitWithError(ExitDataError, "promoting: %v", err)
	}
	inbound, err := a.engine.CitedBy(ctx, paper.ID)
	if err != nil {
		a.close()
		exitWithError(ExitError, "counting citations: %v", err)
	}

	resp := PromoteResponse{Paper: paper, CitedBy: len(inbound)}
	if humanOutput {
		outputHuman("Promoted %s\n", formatPaperLine(paper))
		outputHuman("  state: %s, cited by %d\n", paper.State, resp.CitedBy)
		return nil
	}
	return outputJSON(resp)
}

func parsePromoteRequest(data []byte) (PromoteRequest, error) {
	var req PromoteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	c := req.Citing
	if c.ID == "" && c.DOI == "" && c.ArXivID == "" && c.Title == "" {
		if req.Fields.Title == "" {
			return req, fmt.Errorf("citing paper needs an id, title or identifier")
		}
		req.Citing.Title = req.Fields.Title
	}
	return req, nil
}
