package main

import (
	"testing"
)

func TestParseJobs(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantJobs  int
		wantFrags int
		wantErr   bool
	}{
		{
			name:      "single object",
			input:     `{"citing": {"title": "A Survey"}, "fragments": [{"raw": "Vaswani 2017", "title": "Attention is all you need"}]}`,
			wantJobs:  1,
			wantFrags: 1,
		},
		{
			name: "array with surrounding whitespace",
			input: `
			[{"citing": {"doi": "10.1000/a"}, "fragments": [{"raw": "x"}, {"raw": "y"}]},
			 {"citing": {"arxiv_id": "2101.00001"}, "fragments": []}]`,
			wantJobs:  2,
			wantFrags: 2,
		},
		{
			name:    "citing paper without identity",
			input:   `{"citing": {"year": 2020}, "fragments": []}`,
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   "   \n",
			wantErr: true,
		},
		{
			name:    "malformed json",
			input:   `{"citing": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := parseJobs([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseJobs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(jobs) != tt.wantJobs {
				t.Fatalf("parseJobs() = %d jobs, want %d", len(jobs), tt.wantJobs)
			}
			if len(jobs[0].Fragments) != tt.wantFrags {
				t.Errorf("first job has %d fragments, want %d", len(jobs[0].Fragments), tt.wantFrags)
			}
		})
	}
}

func TestLinesJob(t *testing.T) {
	ingestCitingTitle = "My Survey"
	defer func() { ingestCitingTitle = "" }()

	input := "Vaswani et al. Attention is all you need. arXiv:1706.03762\n\n   \nHe et al. doi:10.1109/CVPR.2016.90\n"
	job := linesJob([]byte(input))

	if job.Citing.Title != "My Survey" {
		t.Errorf("Citing.Title = %q", job.Citing.Title)
	}
	if len(job.Fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(job.Fragments))
	}
	for i, f := range job.Fragments {
		if f.Order != i+1 {
			t.Errorf("fragment %d Order = %d", i, f.Order)
		}
		if len(f.Identifiers()) != 1 {
			t.Errorf("fragment %d identifiers = %v, want one extracted from raw text", i, f.Identifiers())
		}
	}
}

func TestParsePromoteRequest(t *testing.T) {
	req, err := parsePromoteRequest([]byte(`{"fields": {"title": "Deep Residual Learning", "abstract": "..."}}`))
	if err != nil {
		t.Fatalf("parsePromoteRequest() error = %v", err)
	}
	if req.Citing.Title != "Deep Residual Learning" {
		t.Errorf("Citing.Title = %q, want it taken from fields", req.Citing.Title)
	}

	if _, err := parsePromoteRequest([]byte(`{"fields": {"abstract": "no title"}}`)); err == nil {
		t.Error("expected error for a request that names no paper")
	}
}
