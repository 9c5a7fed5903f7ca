package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matsen/citegraph/internal/chain"
	"github.com/matsen/citegraph/internal/engine"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/spf13/cobra"
)

var (
	ingestLines       bool
	ingestCitingTitle string
	ingestCitingDOI   string
	ingestCitingArXiv string
	ingestCitingYear  int
)

func init() {
	ingestCmd.Flags().BoolVar(&ingestLines, "lines", false, "Treat input as raw citation strings, one per line")
	ingestCmd.Flags().StringVar(&ingestCitingTitle, "citing-title", "", "Citing paper title (with --lines)")
	ingestCmd.Flags().StringVar(&ingestCitingDOI, "citing-doi", "", "Citing paper DOI (with --lines)")
	ingestCmd.Flags().StringVar(&ingestCitingArXiv, "citing-arxiv", "", "Citing paper arXiv id (with --lines)")
	ingestCmd.Flags().IntVar(&ingestCitingYear, "citing-year", 0, "Citing paper year (with --lines)")
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Resolve and store citations from ingestion payloads",
	Long: `Resolve and store the citations of one or more citing documents.

Each file holds a job object, or an array of them:

  {"citing": {"title": "...", "doi": "..."},
   "fragments": [{"raw": "...", "title": "...", "authors": ["..."], "year": 2017}]}

With --lines, each non-empty line of the input is one raw citation string
and the citing paper is described by the --citing-* flags. Use "-" to read
standard input.

Examples:
  citegraph ingest paper.json
  citegraph ingest --lines --citing-title "My Survey" refs.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

// IngestJobResult reports one citing document.
type IngestJobResult struct {
	Source    string           `json:"source"`
	Citing    string           `json:"citing"`
	Outcomes  []engine.Outcome `json:"outcomes,omitempty"`
	Error     string           `json:"error,omitempty"`
	Resolved  int              `json:"resolved"`
	NewEdges  int              `json:"new_edges"`
	Failed    int              `json:"failed"`
	Flagged   int              `json:"flagged"`
	Fragments int              `json:"fragments"`
}

// IngestResponse is the response for the ingest command.
type IngestResponse struct {
	Jobs    []IngestJobResult  `json:"jobs"`
	Stats   chain.Snapshot     `json:"stats"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

type sourcedJob struct {
	source string
	job    engine.Job
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestLines && ingestCitingTitle == "" && ingestCitingDOI == "" && ingestCitingArXiv == "" {
		exitWithError(ExitError, "--lines requires --citing-title, --citing-doi or --citing-arxiv")
	}

	var jobs []sourcedJob
	for _, path := range args {
		data, err := readInput(path)
		if err != nil {
			exitWithError(ExitDataError, "reading %s: %v", path, err)
		}
		var parsed []engine.Job
		if ingestLines {
			parsed = []engine.Job{linesJob(data)}
		} else if parsed, err = parseJobs(data); err != nil {
			exitWithError(ExitDataError, "parsing %s: %v", path, err)
		}
		for _, j := range parsed {
			jobs = append(jobs, sourcedJob{source: path, job: j})
		}
	}

	ctx, stop := commandContext()
	defer stop()
	a := mustOpenApp(ctx)
	defer a.close()

	tasks := make([]*engine.Task, len(jobs))
	for i, sj := range jobs {
		tasks[i] = a.engine.Submit(ctx, sj.job)
	}

	resp := IngestResponse{Jobs: make([]IngestJobResult, len(jobs))}
	exitCode := ExitSuccess
	for i, t := range tasks {
		outcomes, err := t.Wait()
		r := IngestJobResult{
			Source:    jobs[i].source,
			Citing:    citingLabel(jobs[i].job.Citing),
			Outcomes:  outcomes,
			Fragments: len(jobs[i].job.Fragments),
		}
		if err != nil {
			r.Error = err.Error()
			exitCode = ExitDataError
		}
		for _, o := range outcomes {
			switch o.Status {
			case engine.StatusResolved:
				r.Resolved++
			case engine.StatusFailed:
				r.Failed++
			}
			if o.NewEdge {
				r.NewEdges++
			}
			if o.Flagged {
				r.Flagged++
			}
		}
		resp.Jobs[i] = r
	}
	resp.Stats = a.engine.Stats()
	resp.Metrics = a.counters()

	if humanOutput {
		printIngestHuman(resp)
	} else {
		outputJSON(resp)
	}
	if exitCode != ExitSuccess {
		a.close()
		os.Exit(exitCode)
	}
	return nil
}

func printIngestHuman(resp IngestResponse) {
	for _, r := range resp.Jobs {
		outputHuman("%s: %s\n", r.Source, truncateString(r.Citing, DetailTitleMaxLen))
		if r.Error != "" {
			outputHuman("  error: %s\n\n", r.Error)
			continue
		}
		for _, o := range r.Outcomes {
			switch o.Status {
			case engine.StatusResolved:
				outputHuman("  [%d] resolved  %s (%.2f via %s)\n", o.Order, o.PaperID, o.Confidence, o.Source)
			case engine.StatusFailed:
				outputHuman("  [%d] failed    %s\n", o.Order, o.Error)
			default:
				outputHuman("  [%d] unresolved\n", o.Order)
			}
		}
		outputHuman("  %d/%d resolved, %d new edges, %d flagged for review\n\n",
			r.Resolved, r.Fragments, r.NewEdges, r.Flagged)
	}
	outputHuman("Resolution rate: %.0f%% of %d attempts\n", resp.Stats.ResolutionRate()*100, resp.Stats.Attempted)
}

func citingLabel(c reference.CitingPaper) string {
	switch {
	case c.Title != "":
		return c.Title
	case c.DOI != "":
		return "doi:" + c.DOI
	case c.ArXivID != "":
		return "arxiv:" + c.ArXivID
	}
	return c.ID
}

// readInput reads a file, or standard input for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// parseJobs decodes a single job object or an array of jobs.
func parseJobs(data []byte) ([]engine.Job, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}

	var jobs []engine.Job
	if data[0] == '[' {
		if err := json.Unmarshal(data, &jobs); err != nil {
			return nil, err
		}
	} else {
		var j engine.Job
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, err
		}
		jobs = []engine.Job{j}
	}

	for i, j := range jobs {
		c := j.Citing
		if strings.TrimSpace(c.Title) == "" && c.ID == "" && c.DOI == "" && c.ArXivID == "" {
			return nil, fmt.Errorf("job %d: citing paper needs an id, title or identifier", i+1)
		}
	}
	return jobs, nil
}

// linesJob builds a job from raw citation strings, one per line.
func linesJob(data []byte) engine.Job {
	job := engine.Job{Citing: reference.CitingPaper{
		Title:   ingestCitingTitle,
		DOI:     ingestCitingDOI,
		ArXivID: ingestCitingArXiv,
		Year:    ingestCitingYear,
	}}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		job.Fragments = append(job.Fragments, reference.Fragment{Raw: line, Order: len(job.Fragments) + 1})
	}
	return job
}
