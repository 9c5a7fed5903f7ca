package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/matsen/citegraph/internal/export"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/storage"
	"github.com/spf13/cobra"
)

var (
	exportBibtex bool
	exportAppend string
	exportKeys   string
	exportState  string
)

func init() {
	exportCmd.Flags().BoolVar(&exportBibtex, "bibtex", false, "Write BibTeX to stdout instead of a JSONL directory")
	exportCmd.Flags().StringVar(&exportAppend, "append", "", "With --bibtex, append new entries to this .bib file")
	exportCmd.Flags().StringVar(&exportKeys, "ids", "", "With --bibtex, export only these paper ids (comma-separated)")
	exportCmd.Flags().StringVar(&exportState, "state", "", "With --bibtex, export only papers in this state (placeholder or fully_processed)")
	rootCmd.AddCommand(exportCmd, importCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Export the graph as JSONL or BibTeX",
	Long: `Write the whole graph to <dir>/papers.jsonl and <dir>/citations.jsonl.
The files are sorted and diff cleanly under version control.

With --bibtex, papers are written as BibTeX entries instead. --append adds
only the papers not already in the given .bib file (matched by DOI, arXiv
id or citation key).

Examples:
  citegraph export ./snapshot
  citegraph export --bibtex --state fully_processed > refs.bib
  citegraph export --bibtex --append refs.bib`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Load a JSONL export into the graph",
	Long: `Load papers.jsonl and citations.jsonl from <dir>. Papers merge by id and
citations upsert by key, so importing the same export twice changes nothing.

Examples:
  citegraph import ./snapshot`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// TransferResponse is the response for export and import.
type TransferResponse struct {
	Status string               `json:"status"`
	Path   string               `json:"path"`
	Counts storage.ExportCounts `json:"counts"`
}

// BibTeXResponse is the response for export --bibtex --append.
type BibTeXResponse struct {
	Status  string   `json:"status"`
	Path    string   `json:"path"`
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Keys    []string `json:"keys"`
}

func runExport(cmd *cobra.Command, args []string) error {
	if !exportBibtex && len(args) != 1 {
		exitWithError(ExitError, "export needs a directory, or --bibtex")
	}
	if !exportBibtex && (exportAppend != "" || exportKeys != "" || exportState != "") {
		exitWithError(ExitError, "--append, --ids and --state require --bibtex")
	}

	_, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()

	if exportBibtex {
		return runExportBibTeX(db)
	}

	counts, err := db.Export(context.Background(), args[0])
	if err != nil {
		exitWithError(ExitError, "exporting: %v", err)
	}
	if humanOutput {
		outputHuman("Exported %d papers and %d citations to %s\n", counts.Papers, counts.Citations, args[0])
		return nil
	}
	return outputJSON(TransferResponse{Status: "exported", Path: args[0], Counts: counts})
}

func runImport(cmd *cobra.Command, args []string) error {
	_, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()

	counts, err := db.Import(context.Background(), args[0])
	if err != nil {
		exitWithError(ExitDataError, "importing: %v", err)
	}
	if humanOutput {
		outputHuman("Imported %d new papers and %d new citations from %s\n", counts.Papers, counts.Citations, args[0])
		return nil
	}
	return outputJSON(TransferResponse{Status: "imported", Path: args[0], Counts: counts})
}

func runExportBibTeX(db *storage.DB) error {
	papers, err := selectPapers(context.Background(), db)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	entries := export.Entries(papers)

	if exportAppend == "" {
		fmt.Print(export.ToBibTeXList(entries))
		return nil
	}

	idx, err := export.ParseBibTeXFile(exportAppend)
	if err != nil {
		exitWithError(ExitDataError, "reading %s: %v", exportAppend, err)
	}
	added := export.NewEntries(idx, entries)
	if len(added) > 0 {
		if err := export.AppendToBibFile(exportAppend, export.ToBibTeXList(added)); err != nil {
			exitWithError(ExitError, "%v", err)
		}
	}

	resp := BibTeXResponse{Status: "appended", Path: exportAppend, Added: len(added), Skipped: len(entries) - len(added), Keys: []string{}}
	for _, e := range added {
		resp.Keys = append(resp.Keys, e.Key)
	}
	if humanOutput {
		outputHuman("Appended %d entries to %s (%d already present)\n", resp.Added, exportAppend, resp.Skipped)
		return nil
	}
	return outputJSON(resp)
}

// selectPapers applies the --ids and --state filters.
func selectPapers(ctx context.Context, db *storage.DB) ([]reference.Paper, error) {
	if exportState != "" && !reference.State(exportState).Valid() {
		return nil, fmt.Errorf("unknown state %q", exportState)
	}

	var papers []reference.Paper
	if exportKeys != "" {
		for _, id := range strings.Split(exportKeys, ",") {
			id = strings.TrimSpace(id)
			p, err := findPaper(ctx, db, id)
			if err != nil {
				return nil, err
			}
			if p == nil {
				fmt.Fprintf(os.Stderr, "warning: paper %s not found\n", id)
				continue
			}
			papers = append(papers, *p)
		}
	} else {
		all, err := db.AllPapers(ctx)
		if err != nil {
			return nil, err
		}
		papers = all
	}

	if exportState == "" {
		return papers, nil
	}
	filtered := papers[:0]
	for _, p := range papers {
		if p.State == reference.State(exportState) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}
