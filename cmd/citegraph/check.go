package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify graph integrity",
	Long: `Verify graph integrity: citations whose endpoints are missing, duplicate
citation keys, papers sharing a DOI or arXiv id, self-citations and resolved
citations with no provenance. Exits with status 3 when issues are found.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

// CheckResult is the response for the check command.
type CheckResult struct {
	Status    string       `json:"status"`
	Papers    int          `json:"papers"`
	Citations int          `json:"citations"`
	Issues    []CheckIssue `json:"issues"`
}

// CheckIssue represents a single issue found during check.
type CheckIssue struct {
	Type        string   `json:"type"`
	IDs         []string `json:"ids,omitempty"`
	CitingID    string   `json:"citing_id,omitempty"`
	CitedID     string   `json:"cited_id,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Value       string   `json:"value,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	_, log, db := mustOpenStore()
	defer log.Sync()
	defer db.Close()
	ctx := context.Background()

	papers, err := db.AllPapers(ctx)
	if err != nil {
		exitWithError(ExitError, "reading papers: %v", err)
	}
	citations, err := db.AllCitations(ctx)
	if err != nil {
		exitWithError(ExitError, "reading citations: %v", err)
	}

	issues := checkGraph(papers, citations)
	result := CheckResult{Status: "ok", Papers: len(papers), Citations: len(citations), Issues: issues}
	if len(issues) > 0 {
		result.Status = "issues"
	}

	if humanOutput {
		if len(issues) == 0 {
			outputHuman("Graph check: OK\n\n%d papers, %d citations checked\n", len(papers), len(citations))
		} else {
			outputHuman("Graph check: %d issues found\n\n", len(issues))
			for _, issue := range issues {
				outputHuman("  [%s] %s\n", issue.Type, describeIssue(issue))
			}
		}
	} else {
		outputJSON(result)
	}

	if len(issues) > 0 {
		log.Sync()
		db.Close()
		os.Exit(ExitDataError)
	}
	return nil
}

// checkGraph runs every integrity check over a full graph snapshot.
func checkGraph(papers []reference.Paper, citations []edge.Citation) []CheckIssue {
	issues := []CheckIssue{}

	validIDs := make(map[string]bool, len(papers))
	dois := make(map[string][]string)
	arxivIDs := make(map[string][]string)
	for _, p := range papers {
		validIDs[p.ID] = true
		if p.DOI != "" {
			dois[p.DOI] = append(dois[p.DOI], p.ID)
		}
		if p.ArXivID != "" {
			arxivIDs[p.ArXivID] = append(arxivIDs[p.ArXivID], p.ID)
		}
	}
	issues = append(issues, sharedIdentifiers("duplicate_doi", dois)...)
	issues = append(issues, sharedIdentifiers("duplicate_arxiv", arxivIDs)...)

	orphaned, valid := edge.DetectOrphaned(citations, validIDs)
	for _, o := range orphaned {
		issues = append(issues, CheckIssue{
			Type:        "orphaned_citation",
			CitingID:    o.CitingID,
			CitedID:     o.CitedID,
			Fingerprint: o.Fingerprint,
			Reason:      o.Reason,
		})
	}

	duplicates := edge.FindDuplicates(citations)
	keys := make([]edge.Key, 0, len(duplicates))
	for key := range duplicates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CitingID != keys[j].CitingID {
			return keys[i].CitingID < keys[j].CitingID
		}
		return keys[i].Fingerprint < keys[j].Fingerprint
	})
	for _, key := range keys {
		issues = append(issues, CheckIssue{
			Type:        "duplicate_citation",
			CitingID:    key.CitingID,
			Fingerprint: key.Fingerprint,
			Reason:      fmt.Sprintf("count=%d", duplicates[key]),
		})
	}

	for _, c := range valid {
		switch {
		case c.CitedID != "" && c.CitedID == c.CitingID:
			issues = append(issues, CheckIssue{Type: "self_citation", CitingID: c.CitingID, Fingerprint: c.Fingerprint})
		case c.Resolved() && c.Source == "":
			issues = append(issues, CheckIssue{
				Type:        "missing_provenance",
				CitingID:    c.CitingID,
				CitedID:     c.CitedID,
				Fingerprint: c.Fingerprint,
			})
		}
	}
	return issues
}

func sharedIdentifiers(kind string, byValue map[string][]string) []CheckIssue {
	values := make([]string, 0, len(byValue))
	for v, ids := range byValue {
		if len(ids) > 1 {
			values = append(values, v)
		}
	}
	sort.Strings(values)

	issues := make([]CheckIssue, 0, len(values))
	for _, v := range values {
		issues = append(issues, CheckIssue{Type: kind, IDs: byValue[v], Value: v})
	}
	return issues
}

func describeIssue(issue CheckIssue) string {
	switch issue.Type {
	case "duplicate_doi", "duplicate_arxiv":
		return fmt.Sprintf("%s shared by %v", issue.Value, issue.IDs)
	case "orphaned_citation":
		return fmt.Sprintf("%s -> %s (%s)", issue.CitingID, issue.CitedID, issue.Reason)
	case "duplicate_citation":
		return fmt.Sprintf("%s/%s (%s)", issue.CitingID, issue.Fingerprint, issue.Reason)
	case "missing_provenance":
		return fmt.Sprintf("%s -> %s has no source", issue.CitingID, issue.CitedID)
	}
	return fmt.Sprintf("%s/%s", issue.CitingID, issue.Fingerprint)
}
