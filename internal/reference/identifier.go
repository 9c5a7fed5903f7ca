package reference

import (
	"regexp"
	"strings"
)

// IdentifierType names the kind of external identifier.
type IdentifierType string

const (
	IdentifierDOI   IdentifierType = "DOI"
	IdentifierArXiv IdentifierType = "ARXIV"
)

// Identifier is a typed external identifier for a paper.
type Identifier struct {
	Type  IdentifierType
	Value string // Normalized value
}

// String returns the prefixed form used by Semantic Scholar-style APIs.
func (i Identifier) String() string {
	return string(i.Type) + ":" + i.Value
}

// LockKey returns the key under which mutations for this identity serialize.
func (i Identifier) LockKey() string {
	return strings.ToLower(string(i.Type)) + ":" + i.Value
}

var (
	// doiPattern matches a DOI anywhere in free text.
	doiPattern = regexp.MustCompile(`10\.\d{4,9}/[-._;()/:A-Za-z0-9]+`)

	// arxivNewPattern matches post-2007 arXiv ids (e.g. 1706.03762v5).
	arxivNewPattern = regexp.MustCompile(`(?i)(?:arxiv[:\s/.]*(?:abs/)?)(\d{4}\.\d{4,5})(?:v\d+)?`)

	// arxivOldPattern matches pre-2007 arXiv ids (e.g. hep-th/9901001).
	arxivOldPattern = regexp.MustCompile(`(?i)(?:arxiv[:\s/.]*(?:abs/)?)([a-z\-]+(?:\.[a-z]{2})?/\d{7})(?:v\d+)?`)

	// arxivBarePattern matches a bare new-style id, used when the input is known to be an arXiv id.
	arxivBarePattern = regexp.MustCompile(`^(\d{4}\.\d{4,5})(v\d+)?$`)

	arxivVersionSuffix = regexp.MustCompile(`v\d+$`)
)

// NormalizeDOI normalizes a DOI to a consistent format for comparison.
// It removes common URL prefixes (https://doi.org/, DOI:), trailing
// punctuation picked up from running text, and converts to lowercase.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	lower := strings.ToLower(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			doi = doi[len(prefix):]
			lower = lower[len(prefix):]
			break
		}
	}
	doi = strings.TrimSpace(doi)
	doi = strings.TrimRight(doi, ".,;:)]}")
	return strings.ToLower(doi)
}

// NormalizeArXivID strips prefixes and version suffixes from an arXiv id.
func NormalizeArXivID(id string) string {
	id = strings.TrimSpace(id)
	lower := strings.ToLower(id)
	for _, prefix := range []string{"https://arxiv.org/abs/", "http://arxiv.org/abs/", "arxiv.org/abs/", "arxiv:"} {
		if strings.HasPrefix(lower, prefix) {
			id = id[len(prefix):]
			break
		}
	}
	id = strings.TrimRight(strings.TrimSpace(id), ".,;)")
	return strings.ToLower(arxivVersionSuffix.ReplaceAllString(id, ""))
}

// arxivFromDOI recovers an arXiv id from an arXiv-issued DOI (10.48550/arXiv.NNNN.NNNNN).
func arxivFromDOI(doi string) string {
	const prefix = "10.48550/arxiv."
	if strings.HasPrefix(doi, prefix) {
		return NormalizeArXivID(doi[len(prefix):])
	}
	return ""
}

// ParseIdentifier parses a prefixed identifier string.
// Supports formats:
//   - DOI:10.1038/nature12373
//   - ARXIV:2106.15928
//   - https://doi.org/10.1038/nature12373
//   - 10.1038/nature12373
//   - 2106.15928v2
//
// Returns false if the input is not recognizable as a DOI or arXiv id.
func ParseIdentifier(id string) (Identifier, bool) {
	id = strings.TrimSpace(id)
	upper := strings.ToUpper(id)

	switch {
	case strings.HasPrefix(upper, "DOI:"):
		return Identifier{Type: IdentifierDOI, Value: NormalizeDOI(id[len("DOI:"):])}, true
	case strings.HasPrefix(upper, "ARXIV:"):
		return Identifier{Type: IdentifierArXiv, Value: NormalizeArXivID(id[len("ARXIV:"):])}, true
	}

	if arxivBarePattern.MatchString(id) {
		return Identifier{Type: IdentifierArXiv, Value: NormalizeArXivID(id)}, true
	}
	if m := doiPattern.FindString(id); m != "" {
		return Identifier{Type: IdentifierDOI, Value: NormalizeDOI(m)}, true
	}
	if ids := ExtractIdentifiers(id); len(ids) > 0 {
		return ids[0], true
	}
	return Identifier{}, false
}

// ExtractIdentifiers finds DOIs and arXiv ids in free citation text.
// DOIs come first; duplicates are removed.
func ExtractIdentifiers(text string) []Identifier {
	var ids []Identifier
	seen := make(map[string]bool)
	add := func(id Identifier) {
		if id.Value == "" || seen[id.LockKey()] {
			return
		}
		seen[id.LockKey()] = true
		ids = append(ids, id)
	}

	for _, m := range doiPattern.FindAllString(text, -1) {
		doi := NormalizeDOI(m)
		add(Identifier{Type: IdentifierDOI, Value: doi})
		if ax := arxivFromDOI(doi); ax != "" {
			add(Identifier{Type: IdentifierArXiv, Value: ax})
		}
	}
	for _, m := range arxivNewPattern.FindAllStringSubmatch(text, -1) {
		add(Identifier{Type: IdentifierArXiv, Value: NormalizeArXivID(m[1])})
	}
	for _, m := range arxivOldPattern.FindAllStringSubmatch(text, -1) {
		add(Identifier{Type: IdentifierArXiv, Value: NormalizeArXivID(m[1])})
	}
	return ids
}

// Identifiers returns the paper's identifiers, DOI first.
func (p *Paper) Identifiers() []Identifier {
	var ids []Identifier
	if doi := NormalizeDOI(p.DOI); doi != "" {
		ids = append(ids, Identifier{Type: IdentifierDOI, Value: doi})
	}
	if ax := NormalizeArXivID(p.ArXivID); ax != "" {
		ids = append(ids, Identifier{Type: IdentifierArXiv, Value: ax})
	}
	return ids
}
