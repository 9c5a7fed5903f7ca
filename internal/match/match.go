// Package match scores how likely two bibliographic descriptions refer to
// the same work.
package match

import (
	"strings"
	"unicode"

	"github.com/matsen/citegraph/internal/author"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fields is the subset of a record used for fuzzy comparison.
type Fields struct {
	Title   string
	Authors []string
	Year    int
}

// Weights controls how the component scores combine.
type Weights struct {
	Title   float64 `yaml:"title"`
	Authors float64 `yaml:"authors"`
	Year    float64 `yaml:"year"`
}

// DefaultWeights returns the standard component weights.
func DefaultWeights() Weights {
	return Weights{Title: 0.6, Authors: 0.25, Year: 0.15}
}

// Matcher computes weighted similarity. The zero value is not usable; use New.
type Matcher struct {
	w Weights
}

// New returns a Matcher with the given weights. Non-positive title weight
// falls back to the defaults.
func New(w Weights) *Matcher {
	if w.Title <= 0 || w.Authors < 0 || w.Year < 0 {
		w = DefaultWeights()
	}
	return &Matcher{w: w}
}

var defaultMatcher = New(DefaultWeights())

// Similarity scores a and b with the default weights.
func Similarity(a, b Fields) float64 {
	return defaultMatcher.Similarity(a, b)
}

// Similarity returns a score in [0, 1]. A missing title on either side
// scores 0. Authors and year only contribute when both sides carry them.
func (m *Matcher) Similarity(a, b Fields) float64 {
	ta, tb := tokenSet(a.Title), tokenSet(b.Title)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	num := m.w.Title * dice(ta, tb)
	den := m.w.Title

	if overlap, ok := author.Overlap(a.Authors, b.Authors); ok {
		num += m.w.Authors * overlap
		den += m.w.Authors
	}
	if a.Year > 0 && b.Year > 0 {
		num += m.w.Year * YearScore(a.Year, b.Year)
		den += m.w.Year
	}

	s := num / den
	if s > 1 {
		return 1
	}
	return s
}

// MinTitleSimilarity returns the lowest title similarity a pair can have and
// still reach threshold, assuming authors and year agree perfectly. A pair
// with a lower title score never reaches threshold.
func (m *Matcher) MinTitleSimilarity(threshold float64) float64 {
	rest := m.w.Authors + m.w.Year
	lo := (threshold*(m.w.Title+rest) - rest) / m.w.Title
	switch {
	case lo < 0:
		return 0
	case lo > 1:
		return 1
	}
	return lo
}

// NormalizeTitle lowercases, folds diacritics, strips punctuation and
// collapses whitespace.
func NormalizeTitle(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TitleKey is the grouping key for a title: the normalized form.
func TitleKey(title string) string {
	return NormalizeTitle(title)
}

// TitleTokens returns the distinct normalized tokens of a title in order of
// first appearance.
func TitleTokens(title string) []string {
	fields := strings.Fields(NormalizeTitle(title))
	out := fields[:0]
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// TitleSimilarity is the Dice coefficient over normalized title tokens.
func TitleSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return dice(ta, tb)
}

// AuthorOverlap returns the share of the shorter list matched in the longer
// one, and false when either list is empty.
func AuthorOverlap(a, b []string) (float64, bool) {
	return author.Overlap(a, b)
}

// YearScore is 1 for equal years, 0.5 for adjacent ones, 0 otherwise.
func YearScore(a, b int) float64 {
	switch d := a - b; {
	case d == 0:
		return 1
	case d == 1 || d == -1:
		return 0.5
	default:
		return 0
	}
}

func tokenSet(title string) map[string]struct{} {
	fields := strings.Fields(NormalizeTitle(title))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func dice(a, b map[string]struct{}) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
