package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/matsen/citegraph/internal/reference"
)

func TestReadJSONL_MissingFile(t *testing.T) {
	got, err := ReadJSONL[reference.Paper](filepath.Join(t.TempDir(), "nope.jsonl"))
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if got != nil {
		t.Errorf("ReadJSONL() = %v, want nil", got)
	}
}

func TestReadJSONL_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	os.WriteFile(path, []byte("{\"id\":\"p_1\"}\n\n{not json\n"), 0644)

	if _, err := ReadJSONL[reference.Paper](path); err == nil {
		t.Error("expected parse error")
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := setupTestDB(t)
	ctx := context.Background()

	p := placeholder("p_1", "Attention Is All You Need")
	p.DOI = "10.48550/arxiv.1706.03762"
	src.UpsertPaper(ctx, p)
	src.UpsertPaper(ctx, placeholder("p_2", "Citing Paper"))
	src.AddCitation(ctx, resolvedCitation("p_2", "p_1", "Vaswani 2017", 1))
	src.AddCitation(ctx, unresolvedCitation("p_2", "Unknown 1999", "Unknown", 2))

	dir := filepath.Join(t.TempDir(), "export")
	counts, err := src.Export(ctx, dir)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if counts.Papers != 2 || counts.Citations != 2 {
		t.Errorf("Export() = %+v", counts)
	}

	dst := setupTestDB(t)
	counts, err = dst.Import(ctx, dir)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if counts.Papers != 2 || counts.Citations != 2 {
		t.Errorf("Import() = %+v", counts)
	}

	// Importing again creates nothing
	counts, err = dst.Import(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Papers != 0 || counts.Citations != 0 {
		t.Errorf("second Import() = %+v", counts)
	}

	got, _ := dst.FindByDOI(ctx, "10.48550/arxiv.1706.03762")
	if got == nil || got.ID != "p_1" {
		t.Errorf("imported paper missing: %v", got)
	}
	inbound, _ := dst.CitedBy(ctx, "p_1")
	if len(inbound) != 1 {
		t.Errorf("imported edges = %d", len(inbound))
	}
}
