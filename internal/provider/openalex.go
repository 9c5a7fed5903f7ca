package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/matsen/citegraph/internal/reference"
)

const (
	// OpenAlexBaseURL is the OpenAlex API base URL.
	OpenAlexBaseURL = "https://api.openalex.org"

	// OpenAlexRateLimit stays well under the documented 10 req/s.
	OpenAlexRateLimit = 5.0

	openAlexPerPage = 5
)

// OpenAlex looks up works in OpenAlex. Search results carry an unbounded
// relevance_score.
type OpenAlex struct {
	t *transport
}

// NewOpenAlex creates an OpenAlex client.
func NewOpenAlex(opts ...Option) *OpenAlex {
	o := buildOptions(OpenAlexBaseURL, OpenAlexRateLimit, opts)
	return &OpenAlex{t: newTransport("openalex", o)}
}

func (o *OpenAlex) Name() string { return "openalex" }

func (o *OpenAlex) Capabilities() Capability { return CapDOI | CapSearch }

type openAlexWork struct {
	ID              string  `json:"id"`
	DOI             string  `json:"doi"`
	Title           string  `json:"title"`
	DisplayName     string  `json:"display_name"`
	PublicationYear int     `json:"publication_year"`
	RelevanceScore  float64 `json:"relevance_score"`
	Authorships     []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	PrimaryLocation *struct {
		Source *struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

func (w openAlexWork) candidate() Candidate {
	c := Candidate{
		Source:   "openalex",
		DOI:      w.DOI,
		Title:    w.Title,
		Year:     w.PublicationYear,
		Abstract: invertedAbstract(w.AbstractInvertedIndex),
		RawScore: w.RelevanceScore,
	}
	if c.Title == "" {
		c.Title = w.DisplayName
	}
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			c.Authors = append(c.Authors, a.Author.DisplayName)
		}
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil {
		c.Venue = w.PrimaryLocation.Source.DisplayName
	}
	normalizeCandidate(&c)
	return c
}

// invertedAbstract rebuilds abstract text from OpenAlex's inverted index.
func invertedAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type pos struct {
		at   int
		word string
	}
	var words []pos
	for w, positions := range index {
		for _, p := range positions {
			words = append(words, pos{p, w})
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].at < words[j].at })
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}

// LookupByIdentifier fetches a work by DOI.
func (o *OpenAlex) LookupByIdentifier(ctx context.Context, id reference.Identifier) (*Candidate, error) {
	if id.Type != reference.IdentifierDOI {
		return nil, fmt.Errorf("openalex: %w: %s", ErrUnsupported, id.Type)
	}
	var w openAlexWork
	if err := o.t.getJSON(ctx, o.url("/works/doi:"+id.Value, nil), &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("openalex: %w: %s", ErrNotFound, id.Value)
	}
	c := w.candidate()
	c.ByIdentifier = true
	return &c, nil
}

// Search runs a full-text work search.
func (o *OpenAlex) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Empty() {
		return nil, fmt.Errorf("openalex: %w: empty query", ErrUnsupported)
	}
	params := url.Values{}
	params.Set("search", strings.NewReplacer(",", " ", ":", " ").Replace(q.Title))
	params.Set("per-page", fmt.Sprint(openAlexPerPage))
	if q.Year > 0 {
		params.Set("filter", fmt.Sprintf("publication_year:%d-%d", q.Year-1, q.Year+1))
	}

	var resp struct {
		Results []openAlexWork `json:"results"`
	}
	if err := o.t.getJSON(ctx, o.url("/works", params), &resp); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Results))
	for _, w := range resp.Results {
		out = append(out, w.candidate())
	}
	return out, nil
}

func (o *OpenAlex) url(path string, params url.Values) string {
	if o.t.opts.mailto != "" {
		if params == nil {
			params = url.Values{}
		}
		params.Set("mailto", o.t.opts.mailto)
	}
	u := o.t.opts.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}
