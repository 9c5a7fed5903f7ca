package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matsen/citegraph/internal/reference"
)

// Constants for output formatting.
const (
	DefaultQueryLimit = 50 // Default limit for query commands

	ListTitleMaxLen   = 60 // Used in list-style output
	DetailTitleMaxLen = 70 // Used in single-record output
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// outputError writes an error message to stderr and returns the exit code.
func outputError(code int, format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	return code
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatAuthorShort formats an author as "Last F" (abbreviated first name).
func formatAuthorShort(a reference.Author) string {
	if a.First != "" {
		return a.Last + " " + string(a.First[0])
	}
	return a.Last
}

// formatAuthorsShort formats authors with abbreviation and "et al." for more than maxCount.
func formatAuthorsShort(authors []reference.Author, maxCount int) string {
	if len(authors) == 0 {
		return ""
	}

	var names []string
	for i, a := range authors {
		if i >= maxCount {
			names = append(names, "et al.")
			break
		}
		names = append(names, formatAuthorShort(a))
	}
	return strings.Join(names, ", ")
}

// formatPaperLine renders a paper as "id  Title (Authors, Year)".
func formatPaperLine(p reference.Paper) string {
	line := fmt.Sprintf("%s  %s", p.ID, truncateString(p.Title, ListTitleMaxLen))
	authors := formatAuthorsShort(p.Authors, 2)
	switch {
	case authors != "" && p.Published.Year > 0:
		line += fmt.Sprintf(" (%s, %d)", authors, p.Published.Year)
	case p.Published.Year > 0:
		line += fmt.Sprintf(" (%d)", p.Published.Year)
	}
	return line
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
