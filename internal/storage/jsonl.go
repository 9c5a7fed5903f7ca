package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/reference"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines (1MB per line).
const MaxJSONLLineCapacity = 1024 * 1024

// Export file names inside an export directory.
const (
	PapersFile    = "papers.jsonl"
	CitationsFile = "citations.jsonl"
)

// ReadJSONL reads all records from a JSONL file.
// A missing file yields an empty slice.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)

	// Increase buffer size for long lines
	buf := make([]byte, MaxJSONLLineCapacity)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", filepath.Base(path), lineNum, err)
		}
		out = append(out, v)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// WriteJSONL writes records to a JSONL file, replacing existing content.
func WriteJSONL[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}

	w := bufio.NewWriter(f)
	for i, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
		w.Write(data)
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return fmt.Errorf("writing record %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// ExportCounts reports how many records an export or import touched.
type ExportCounts struct {
	Papers    int `json:"papers"`
	Citations int `json:"citations"`
}

// Export writes the whole graph as papers.jsonl and citations.jsonl in dir.
func (d *DB) Export(ctx context.Context, dir string) (ExportCounts, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ExportCounts{}, fmt.Errorf("creating export directory: %w", err)
	}

	papers, err := d.AllPapers(ctx)
	if err != nil {
		return ExportCounts{}, err
	}
	citations, err := d.AllCitations(ctx)
	if err != nil {
		return ExportCounts{}, err
	}

	if err := WriteJSONL(filepath.Join(dir, PapersFile), papers); err != nil {
		return ExportCounts{}, err
	}
	if err := WriteJSONL(filepath.Join(dir, CitationsFile), citations); err != nil {
		return ExportCounts{}, err
	}
	return ExportCounts{Papers: len(papers), Citations: len(citations)}, nil
}

// Import loads an export directory into the database. Papers are merged by
// id and citations are upserted by key, so importing twice is a no-op.
func (d *DB) Import(ctx context.Context, dir string) (ExportCounts, error) {
	papers, err := ReadJSONL[reference.Paper](filepath.Join(dir, PapersFile))
	if err != nil {
		return ExportCounts{}, err
	}
	citations, err := ReadJSONL[edge.Citation](filepath.Join(dir, CitationsFile))
	if err != nil {
		return ExportCounts{}, err
	}

	var counts ExportCounts
	for _, p := range papers {
		if _, created, err := d.UpsertPaper(ctx, p); err != nil {
			return counts, fmt.Errorf("importing paper %s: %w", p.ID, err)
		} else if created {
			counts.Papers++
		}
	}
	for _, c := range citations {
		created, err := d.AddCitation(ctx, c)
		if err != nil {
			return counts, fmt.Errorf("importing citation %s/%s: %w", c.CitingID, c.Fingerprint, err)
		}
		if created {
			counts.Citations++
		}
	}
	return counts, nil
}
