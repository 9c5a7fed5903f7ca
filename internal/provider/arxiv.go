package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/matsen/citegraph/internal/reference"
)

const (
	// ArXivBaseURL is the arXiv export API base URL.
	ArXivBaseURL = "https://export.arxiv.org"

	// ArXivRateLimit follows the one-request-every-three-seconds guideline.
	ArXivRateLimit = 1.0 / 3.0

	arxivMaxResults = 5
)

// ArXiv queries the arXiv Atom API. arXiv has no relevance score, so search
// results are scored by rank: 1 - rank/len.
type ArXiv struct {
	t *transport
}

// NewArXiv creates an arXiv client.
func NewArXiv(opts ...Option) *ArXiv {
	o := buildOptions(ArXivBaseURL, ArXivRateLimit, opts)
	return &ArXiv{t: newTransport("arxiv", o)}
}

func (a *ArXiv) Name() string { return "arxiv" }

func (a *ArXiv) Capabilities() Capability { return CapArXiv | CapSearch }

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	ID        string `xml:"http://www.w3.org/2005/Atom id"`
	Title     string `xml:"http://www.w3.org/2005/Atom title"`
	Summary   string `xml:"http://www.w3.org/2005/Atom summary"`
	Published string `xml:"http://www.w3.org/2005/Atom published"`
	Authors   []struct {
		Name string `xml:"http://www.w3.org/2005/Atom name"`
	} `xml:"http://www.w3.org/2005/Atom author"`
	DOI        string `xml:"http://arxiv.org/schemas/atom doi"`
	JournalRef string `xml:"http://arxiv.org/schemas/atom journal_ref"`
}

// isError reports whether the entry is an API error placeholder.
func (e atomEntry) isError() bool {
	return strings.Contains(e.ID, "/api/errors")
}

func (e atomEntry) candidate() Candidate {
	c := Candidate{
		Source:   "arxiv",
		ArXivID:  arxivIDFromAbsURL(e.ID),
		DOI:      e.DOI,
		Title:    e.Title,
		Abstract: collapseSpace(e.Summary),
		Venue:    collapseSpace(e.JournalRef),
	}
	for _, au := range e.Authors {
		if name := collapseSpace(au.Name); name != "" {
			c.Authors = append(c.Authors, name)
		}
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		c.Year = t.Year()
	}
	normalizeCandidate(&c)
	return c
}

// arxivIDFromAbsURL extracts the id from http://arxiv.org/abs/<id>.
func arxivIDFromAbsURL(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.Index(u, "/abs/"); i >= 0 {
		return u[i+len("/abs/"):]
	}
	return u
}

func (a *ArXiv) fetch(ctx context.Context, params url.Values) ([]atomEntry, error) {
	body, err := a.t.get(ctx, a.t.opts.baseURL+"/api/query?"+params.Encode(), "application/atom+xml")
	if err != nil {
		return nil, err
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: %w: %v", ErrInvalidResponse, err)
	}
	entries := feed.Entries[:0]
	for _, e := range feed.Entries {
		if !e.isError() && strings.TrimSpace(e.Title) != "" {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// LookupByIdentifier fetches a paper by arXiv id.
func (a *ArXiv) LookupByIdentifier(ctx context.Context, id reference.Identifier) (*Candidate, error) {
	if id.Type != reference.IdentifierArXiv {
		return nil, fmt.Errorf("arxiv: %w: %s", ErrUnsupported, id.Type)
	}
	params := url.Values{}
	params.Set("id_list", id.Value)
	entries, err := a.fetch(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("arxiv: %w: %s", ErrNotFound, id.Value)
	}
	c := entries[0].candidate()
	c.RawScore = 1
	c.ByIdentifier = true
	return &c, nil
}

// Search runs a title search.
func (a *ArXiv) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Empty() {
		return nil, fmt.Errorf("arxiv: %w: empty query", ErrUnsupported)
	}
	title := strings.NewReplacer(`"`, " ", ":", " ").Replace(q.Title)
	params := url.Values{}
	params.Set("search_query", `ti:"`+collapseSpace(title)+`"`)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprint(arxivMaxResults))

	entries, err := a.fetch(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(entries))
	for rank, e := range entries {
		c := e.candidate()
		c.RawScore = 1 - float64(rank)/float64(len(entries))
		out = append(out, c)
	}
	return out, nil
}
