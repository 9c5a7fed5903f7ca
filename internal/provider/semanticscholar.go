package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/matsen/citegraph/internal/reference"
)

const (
	// SemanticScholarBaseURL is the Semantic Scholar API base URL.
	SemanticScholarBaseURL = "https://api.semanticscholar.org"

	// SemanticScholarRateLimit is the unauthenticated budget of one request
	// per second.
	SemanticScholarRateLimit = 1.0

	s2PaperFields = "paperId,externalIds,title,authors,year,venue,abstract"
)

// SemanticScholar queries the Semantic Scholar Graph API. Search uses the
// title match endpoint, which returns at most one paper with a matchScore.
type SemanticScholar struct {
	t *transport
}

// NewSemanticScholar creates a Semantic Scholar client.
func NewSemanticScholar(opts ...Option) *SemanticScholar {
	o := buildOptions(SemanticScholarBaseURL, SemanticScholarRateLimit, opts)
	t := newTransport("semantic_scholar", o)
	if o.apiKey != "" {
		t.headers.Set("x-api-key", o.apiKey)
	}
	return &SemanticScholar{t: t}
}

func (s *SemanticScholar) Name() string { return "semantic_scholar" }

func (s *SemanticScholar) Capabilities() Capability { return CapDOI | CapArXiv | CapSearch }

type s2Paper struct {
	PaperID     string `json:"paperId"`
	ExternalIDs struct {
		DOI   string `json:"DOI"`
		ArXiv string `json:"ArXiv"`
	} `json:"externalIds"`
	Title    string `json:"title"`
	Year     int    `json:"year"`
	Venue    string `json:"venue"`
	Abstract string `json:"abstract"`
	Authors  []struct {
		Name string `json:"name"`
	} `json:"authors"`
	MatchScore float64 `json:"matchScore"`
}

func (p s2Paper) candidate() Candidate {
	c := Candidate{
		Source:   "semantic_scholar",
		S2ID:     p.PaperID,
		DOI:      p.ExternalIDs.DOI,
		ArXivID:  p.ExternalIDs.ArXiv,
		Title:    p.Title,
		Year:     p.Year,
		Venue:    p.Venue,
		Abstract: p.Abstract,
		RawScore: p.MatchScore,
	}
	for _, a := range p.Authors {
		if a.Name != "" {
			c.Authors = append(c.Authors, a.Name)
		}
	}
	normalizeCandidate(&c)
	return c
}

// LookupByIdentifier fetches a paper by DOI or arXiv id.
func (s *SemanticScholar) LookupByIdentifier(ctx context.Context, id reference.Identifier) (*Candidate, error) {
	if !s.Capabilities().Supports(id) {
		return nil, fmt.Errorf("semantic_scholar: %w: %s", ErrUnsupported, id.Type)
	}
	params := url.Values{}
	params.Set("fields", s2PaperFields)
	u := s.t.opts.baseURL + "/graph/v1/paper/" + escapeIDPath(id.String()) + "?" + params.Encode()

	var p s2Paper
	if err := s.t.getJSON(ctx, u, &p); err != nil {
		return nil, err
	}
	if p.PaperID == "" {
		return nil, fmt.Errorf("semantic_scholar: %w: %s", ErrNotFound, id)
	}
	c := p.candidate()
	c.ByIdentifier = true
	return &c, nil
}

// Search runs a title match. A 404 from the match endpoint means no match.
func (s *SemanticScholar) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Empty() {
		return nil, fmt.Errorf("semantic_scholar: %w: empty query", ErrUnsupported)
	}
	params := url.Values{}
	params.Set("query", q.Title)
	params.Set("fields", s2PaperFields)
	if q.Year > 0 {
		params.Set("year", fmt.Sprintf("%d-%d", q.Year-1, q.Year+1))
	}

	var resp struct {
		Data []s2Paper `json:"data"`
	}
	if err := s.t.getJSON(ctx, s.t.opts.baseURL+"/graph/v1/paper/search/match?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, p.candidate())
	}
	return out, nil
}
