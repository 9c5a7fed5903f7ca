// Package provider implements clients for external bibliographic
// metadata services.
package provider

import (
	"context"
	"strings"

	"github.com/matsen/citegraph/internal/reference"
)

// Capability is a bit set of the lookups a provider supports.
type Capability uint8

const (
	CapDOI Capability = 1 << iota
	CapArXiv
	CapSearch
)

// Has reports whether c includes all of want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Supports reports whether the provider can look up id directly.
func (c Capability) Supports(id reference.Identifier) bool {
	switch id.Type {
	case reference.IdentifierDOI:
		return c.Has(CapDOI)
	case reference.IdentifierArXiv:
		return c.Has(CapArXiv)
	default:
		return false
	}
}

// Query is a free-text bibliographic search.
type Query struct {
	Title   string
	Authors []string
	Year    int
}

// Empty reports whether the query has nothing to search on.
func (q Query) Empty() bool {
	return strings.TrimSpace(q.Title) == ""
}

// Provider is one external metadata service.
type Provider interface {
	Name() string
	Capabilities() Capability
	LookupByIdentifier(ctx context.Context, id reference.Identifier) (*Candidate, error)
	Search(ctx context.Context, q Query) ([]Candidate, error)
}

// Candidate is a record returned by a provider.
type Candidate struct {
	Source   string   `json:"source"`
	DOI      string   `json:"doi,omitempty"`
	ArXivID  string   `json:"arxiv_id,omitempty"`
	S2ID     string   `json:"s2_id,omitempty"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
	Venue    string   `json:"venue,omitempty"`
	Abstract string   `json:"abstract,omitempty"`

	RawScore     float64 `json:"raw_score"`
	Confidence   float64 `json:"confidence"`
	ByIdentifier bool    `json:"by_identifier,omitempty"`
}

// Paper converts the candidate into a placeholder paper record.
func (c *Candidate) Paper() reference.Paper {
	p := reference.Paper{
		DOI:       c.DOI,
		ArXivID:   c.ArXivID,
		S2ID:      c.S2ID,
		Title:     strings.TrimSpace(c.Title),
		Authors:   reference.ParseAuthors(c.Authors),
		Published: reference.PublicationDate{Year: c.Year},
		Venue:     c.Venue,
		Abstract:  c.Abstract,
		State:     reference.StatePlaceholder,
	}
	p.Normalize()
	if p.ArXivID == "" {
		for _, id := range reference.ExtractIdentifiers(p.DOI) {
			if id.Type == reference.IdentifierArXiv {
				p.ArXivID = id.Value
			}
		}
	}
	return p
}

// normalizeCandidate canonicalizes identifiers on a freshly decoded candidate.
func normalizeCandidate(c *Candidate) {
	c.DOI = reference.NormalizeDOI(c.DOI)
	c.ArXivID = reference.NormalizeArXivID(c.ArXivID)
	c.Title = collapseSpace(c.Title)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
