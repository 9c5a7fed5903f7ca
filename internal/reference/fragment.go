package reference

import "strings"

// Fragment is one extracted citation from a citing document.
// Structured fields are best-effort; any of them may be empty.
type Fragment struct {
	Raw     string   `json:"raw"`               // Raw citation text as extracted
	Title   string   `json:"title,omitempty"`   // Extracted title
	Authors []string `json:"authors,omitempty"` // Extracted author names, source order
	Year    int      `json:"year,omitempty"`    // Extracted year, 0 if unknown
	Venue   string   `json:"venue,omitempty"`   // Extracted journal/venue

	// Raw identifier strings, unnormalized.
	DOI     string `json:"doi,omitempty"`
	ArXivID string `json:"arxiv_id,omitempty"`

	Context string `json:"context,omitempty"` // Surrounding text in the citing document
	Section string `json:"section,omitempty"` // Section of the citing document
	Order   int    `json:"order"`             // Position within the citing document
}

// Identifiers returns the fragment's identifiers: explicit fields first,
// then any DOI or arXiv id found in the raw text.
func (f *Fragment) Identifiers() []Identifier {
	var ids []Identifier
	seen := make(map[string]bool)
	add := func(id Identifier) {
		if id.Value == "" || seen[id.LockKey()] {
			return
		}
		seen[id.LockKey()] = true
		ids = append(ids, id)
	}

	if f.DOI != "" {
		if id, ok := ParseIdentifier(f.DOI); ok && id.Type == IdentifierDOI {
			add(id)
		}
	}
	if f.ArXivID != "" {
		add(Identifier{Type: IdentifierArXiv, Value: NormalizeArXivID(f.ArXivID)})
	}
	for _, id := range ExtractIdentifiers(f.Raw) {
		add(id)
	}
	return ids
}

// HasEvidence reports whether the fragment carries enough to attempt resolution.
func (f *Fragment) HasEvidence() bool {
	return strings.TrimSpace(f.Title) != "" || len(f.Identifiers()) > 0
}

// CitingPaper describes the document whose citations are being ingested.
type CitingPaper struct {
	ID      string   `json:"id,omitempty"` // Known graph id, if the caller has one
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	Venue   string   `json:"venue,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	ArXivID string   `json:"arxiv_id,omitempty"`
}

// Paper converts the descriptor into a placeholder paper record.
func (c CitingPaper) Paper() Paper {
	p := Paper{
		ID:        c.ID,
		Title:     strings.TrimSpace(c.Title),
		Authors:   ParseAuthors(c.Authors),
		Published: PublicationDate{Year: c.Year},
		Venue:     c.Venue,
		DOI:       c.DOI,
		ArXivID:   c.ArXivID,
		State:     StatePlaceholder,
	}
	p.Normalize()
	return p
}
