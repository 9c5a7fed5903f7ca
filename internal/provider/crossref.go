package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/matsen/citegraph/internal/reference"
)

const (
	// CrossrefBaseURL is the Crossref REST API base URL.
	CrossrefBaseURL = "https://api.crossref.org"

	// CrossrefRateLimit is a conservative public-pool rate.
	CrossrefRateLimit = 5.0

	crossrefRows = 5
)

// Crossref looks up works in the Crossref REST API.
type Crossref struct {
	t *transport
}

// NewCrossref creates a Crossref client.
func NewCrossref(opts ...Option) *Crossref {
	o := buildOptions(CrossrefBaseURL, CrossrefRateLimit, opts)
	return &Crossref{t: newTransport("crossref", o)}
}

func (c *Crossref) Name() string { return "crossref" }

func (c *Crossref) Capabilities() Capability { return CapDOI | CapSearch }

type crossrefWork struct {
	DOI            string   `json:"DOI"`
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	Abstract       string   `json:"abstract"`
	Score          float64  `json:"score"`
	Author         []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
		Name   string `json:"name"`
	} `json:"author"`
	Issued    crossrefDate `json:"issued"`
	Published crossrefDate `json:"published"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

func (d crossrefDate) year() int {
	if len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
		return d.DateParts[0][0]
	}
	return 0
}

func (w crossrefWork) candidate() Candidate {
	c := Candidate{
		Source:   "crossref",
		DOI:      w.DOI,
		Abstract: stripJATS(w.Abstract),
		RawScore: w.Score,
	}
	if len(w.Title) > 0 {
		c.Title = w.Title[0]
	}
	if len(w.ContainerTitle) > 0 {
		c.Venue = w.ContainerTitle[0]
	}
	for _, a := range w.Author {
		switch {
		case a.Family != "" && a.Given != "":
			c.Authors = append(c.Authors, a.Given+" "+a.Family)
		case a.Family != "":
			c.Authors = append(c.Authors, a.Family)
		case a.Name != "":
			c.Authors = append(c.Authors, a.Name)
		}
	}
	c.Year = w.Issued.year()
	if c.Year == 0 {
		c.Year = w.Published.year()
	}
	normalizeCandidate(&c)
	return c
}

// LookupByIdentifier fetches a work by DOI.
func (c *Crossref) LookupByIdentifier(ctx context.Context, id reference.Identifier) (*Candidate, error) {
	if id.Type != reference.IdentifierDOI {
		return nil, fmt.Errorf("crossref: %w: %s", ErrUnsupported, id.Type)
	}

	var resp struct {
		Message crossrefWork `json:"message"`
	}
	if err := c.t.getJSON(ctx, c.url("/works/"+escapeIDPath(id.Value), nil), &resp); err != nil {
		return nil, err
	}
	if resp.Message.DOI == "" && len(resp.Message.Title) == 0 {
		return nil, fmt.Errorf("crossref: %w: empty record for %s", ErrNotFound, id.Value)
	}
	cand := resp.Message.candidate()
	cand.ByIdentifier = true
	return &cand, nil
}

// Search runs a bibliographic query. Raw scores are Crossref relevance scores.
func (c *Crossref) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Empty() {
		return nil, fmt.Errorf("crossref: %w: empty query", ErrUnsupported)
	}

	bib := q.Title
	if len(q.Authors) > 0 {
		bib += " " + strings.Join(q.Authors, " ")
	}
	params := url.Values{}
	params.Set("query.bibliographic", bib)
	params.Set("rows", fmt.Sprint(crossrefRows))
	if q.Year > 0 {
		params.Set("filter", fmt.Sprintf("from-pub-date:%d,until-pub-date:%d", q.Year-1, q.Year+1))
	}

	var resp struct {
		Message struct {
			Items []crossrefWork `json:"items"`
		} `json:"message"`
	}
	if err := c.t.getJSON(ctx, c.url("/works", params), &resp); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Message.Items))
	for _, item := range resp.Message.Items {
		out = append(out, item.candidate())
	}
	return out, nil
}

func (c *Crossref) url(path string, params url.Values) string {
	if c.t.opts.mailto != "" {
		if params == nil {
			params = url.Values{}
		}
		params.Set("mailto", c.t.opts.mailto)
	}
	u := c.t.opts.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// stripJATS removes JATS XML tags from a Crossref abstract.
func stripJATS(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
			b.WriteRune(' ')
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return collapseSpace(b.String())
}
