// Package reference defines the core domain types for papers in the citation graph.
package reference

import (
	"encoding/json"
	"time"
)

// State is the processing state of a paper node.
type State string

const (
	// StatePlaceholder marks a node created only from citation metadata.
	StatePlaceholder State = "placeholder"
	// StateFullyProcessed marks a node whose own document has been ingested.
	StateFullyProcessed State = "fully_processed"
)

// Rank orders states so that a merge never downgrades a node.
func (s State) Rank() int {
	switch s {
	case StateFullyProcessed:
		return 2
	case StatePlaceholder:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StatePlaceholder || s == StateFullyProcessed
}

// Paper represents one bibliographic work in the graph.
type Paper struct {
	// Identity
	ID      string `json:"id"`                 // Internal stable identifier
	DOI     string `json:"doi,omitempty"`      // Normalized DOI (unique when present)
	ArXivID string `json:"arxiv_id,omitempty"` // Normalized arXiv id (unique when present)
	S2ID    string `json:"s2_id,omitempty"`    // Semantic Scholar paper id

	// Metadata
	Title     string          `json:"title"`
	Authors   []Author        `json:"authors"`
	Published PublicationDate `json:"published"`
	Venue     string          `json:"venue,omitempty"`
	Abstract  string          `json:"abstract,omitempty"`

	// Lifecycle
	State   State           `json:"state"`
	Content json.RawMessage `json:"content,omitempty"` // Opaque analysis payload, fully_processed only

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// PublicationDate represents a publication date with optional month and day.
type PublicationDate struct {
	Year  int `json:"year,omitempty"`  // 0 if unknown
	Month int `json:"month,omitempty"` // 1-12, 0 if unknown
	Day   int `json:"day,omitempty"`   // 1-31, 0 if unknown
}

// HasIdentifier reports whether the paper carries a DOI or an arXiv id.
func (p *Paper) HasIdentifier() bool {
	return p.DOI != "" || p.ArXivID != ""
}

// AuthorNames returns the authors as display strings.
func (p *Paper) AuthorNames() []string {
	names := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		names = append(names, a.FullName())
	}
	return names
}

// Normalize canonicalizes identifiers in place.
func (p *Paper) Normalize() {
	p.DOI = NormalizeDOI(p.DOI)
	p.ArXivID = NormalizeArXivID(p.ArXivID)
}

// Now returns the current time in the timestamp format used across the graph.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
