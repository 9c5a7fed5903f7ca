package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/matsen/citegraph/internal/reference"
)

var (
	// @type{key,
	entryStartRegex = regexp.MustCompile(`@\w+\{([^,]+),`)
	// doi = {value} or doi = "value"
	doiFieldRegex = regexp.MustCompile(`(?i)^\s*doi\s*=\s*[\{"]([^\}"]+)[\}"]`)
	// eprint = {value} or eprint = "value"
	eprintFieldRegex = regexp.MustCompile(`(?i)^\s*eprint\s*=\s*[\{"]([^\}"]+)[\}"]`)
)

// BibTeXIndex indexes existing BibTeX entries for deduplication.
type BibTeXIndex struct {
	Keys     map[string]bool
	DOIs     map[string]string // normalized DOI -> key
	ArXivIDs map[string]string // normalized arXiv id -> key
}

// NewBibTeXIndex creates an empty BibTeX index.
func NewBibTeXIndex() *BibTeXIndex {
	return &BibTeXIndex{
		Keys:     make(map[string]bool),
		DOIs:     make(map[string]string),
		ArXivIDs: make(map[string]string),
	}
}

// HasEntry reports whether the entry already exists. Identifiers are the
// primary match; the citation key is the fallback.
func (idx *BibTeXIndex) HasEntry(e Entry) bool {
	if doi := e.Paper.DOI; doi != "" {
		if _, ok := idx.DOIs[reference.NormalizeDOI(doi)]; ok {
			return true
		}
	}
	if ax := e.Paper.ArXivID; ax != "" {
		if _, ok := idx.ArXivIDs[reference.NormalizeArXivID(ax)]; ok {
			return true
		}
	}
	return idx.Keys[e.Key]
}

// Add records an entry so later duplicates are skipped.
func (idx *BibTeXIndex) Add(e Entry) {
	idx.Keys[e.Key] = true
	if e.Paper.DOI != "" {
		idx.DOIs[reference.NormalizeDOI(e.Paper.DOI)] = e.Key
	}
	if e.Paper.ArXivID != "" {
		idx.ArXivIDs[reference.NormalizeArXivID(e.Paper.ArXivID)] = e.Key
	}
}

// ParseBibTeXFile builds an index from an existing .bib file.
// Returns an empty index if the file doesn't exist.
func ParseBibTeXFile(path string) (*BibTeXIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewBibTeXIndex(), nil
		}
		return nil, err
	}
	defer file.Close()
	return ParseBibTeX(file)
}

// ParseBibTeX indexes the entries read from r.
func ParseBibTeX(r io.Reader) (*BibTeXIndex, error) {
	idx := NewBibTeXIndex()
	scanner := bufio.NewScanner(r)
	var currentKey string

	for scanner.Scan() {
		line := scanner.Text()

		if matches := entryStartRegex.FindStringSubmatch(line); len(matches) > 1 {
			currentKey = strings.TrimSpace(matches[1])
			idx.Keys[currentKey] = true
		}
		if currentKey == "" {
			continue
		}
		if matches := doiFieldRegex.FindStringSubmatch(line); len(matches) > 1 {
			if doi := reference.NormalizeDOI(matches[1]); doi != "" {
				idx.DOIs[doi] = currentKey
			}
		}
		if matches := eprintFieldRegex.FindStringSubmatch(line); len(matches) > 1 {
			if ax := reference.NormalizeArXivID(matches[1]); ax != "" {
				idx.ArXivIDs[ax] = currentKey
			}
		}
	}

	return idx, scanner.Err()
}

// NewEntries filters entries already present in idx, adding the rest to it.
func NewEntries(idx *BibTeXIndex, entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if idx.HasEntry(e) {
			continue
		}
		idx.Add(e)
		out = append(out, e)
	}
	return out
}

// AppendToBibFile appends BibTeX content to a file.
func AppendToBibFile(path, content string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	// Ensure we start on a new line
	if _, err := file.WriteString("\n" + content); err != nil {
		file.Close()
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return file.Close()
}
