// Package author provides author name normalization and order-insensitive
// matching that tolerates initials vs. full names.
package author

import (
	"sort"
	"strings"
	"unicode"

	"github.com/matsen/citegraph/internal/reference"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Key is a normalized (surname, first initial) pair.
type Key struct {
	Last    string // Folded surname, letters only
	Initial string // Folded first initial, empty if unknown
}

// Name is a parsed author name with the keys it may match under.
type Name struct {
	Keys []Key
}

// Fold lowercases s, strips diacritics and drops everything but letters,
// digits and spaces.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '.' || r == ',':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// etAlSuffixes are stripped from the end of a name ("Vaswani et al.").
var etAlSuffixes = []string{" et al.", " et al", " and others", " et. al."}

// Clean removes list artifacts from an extracted author string.
func Clean(name string) string {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	switch strings.TrimRight(lower, ". ") {
	case "et al", "others", "et. al":
		return ""
	}
	for _, suffix := range etAlSuffixes {
		if strings.HasSuffix(lower, suffix) {
			name = strings.TrimSpace(name[:len(name)-len(suffix)])
			break
		}
	}
	return strings.TrimRight(name, " ,;")
}

// isInitials reports whether a token looks like initials ("A", "A.", "AB", "A.B.").
func isInitials(token string) bool {
	letters := 0
	for _, r := range token {
		switch {
		case r == '.' || r == '-':
		case unicode.IsUpper(r):
			letters++
		default:
			return false
		}
	}
	return letters > 0 && letters <= 3
}

// Parse parses a display name into the keys it can match under. Besides the
// "First Last" reading, a trailing initials token ("Vaswani A") also yields
// the "Last Initials" reading used by Vancouver-style reference lists.
func Parse(name string) Name {
	name = Clean(name)
	if name == "" {
		return Name{}
	}

	var keys []Key
	add := func(last, first string) {
		k := Key{Last: strings.ReplaceAll(Fold(last), " ", ""), Initial: initial(first)}
		if k.Last == "" {
			return
		}
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		keys = append(keys, k)
	}

	a := reference.ParseAuthor(name)
	add(a.Last, a.First)

	if !strings.Contains(name, ",") && isInitials(a.Last) && a.First != "" {
		parts := strings.Fields(a.First)
		add(parts[len(parts)-1], a.Last)
	}
	return Name{Keys: keys}
}

// initial returns the folded first letter of a given name.
func initial(first string) string {
	folded := Fold(first)
	if folded == "" {
		return ""
	}
	for _, r := range folded {
		return string(r)
	}
	return ""
}

// Compatible reports whether two names can refer to the same person: the
// surnames agree and the initials agree or one of them is unknown.
func Compatible(a, b Name) bool {
	for _, ka := range a.Keys {
		for _, kb := range b.Keys {
			if ka.Last != kb.Last {
				continue
			}
			if ka.Initial == "" || kb.Initial == "" || ka.Initial == kb.Initial {
				return true
			}
		}
	}
	return false
}

// ParseAll parses a list of names, dropping the ones with no usable surname.
func ParseAll(names []string) []Name {
	parsed := make([]Name, 0, len(names))
	for _, n := range names {
		if p := Parse(n); len(p.Keys) > 0 {
			parsed = append(parsed, p)
		}
	}
	return parsed
}

// Overlap returns the fraction of the smaller author list that finds a
// distinct compatible partner in the other list. Order is ignored.
// Returns false if either list is empty.
func Overlap(a, b []string) (float64, bool) {
	pa, pb := ParseAll(a), ParseAll(b)
	if len(pa) == 0 || len(pb) == 0 {
		return 0, false
	}

	// Canonical orientation so the greedy assignment is symmetric.
	if len(pa) > len(pb) || (len(pa) == len(pb) && listKey(pa) > listKey(pb)) {
		pa, pb = pb, pa
	}

	used := make([]bool, len(pb))
	matched := 0
	for _, x := range pa {
		for j, y := range pb {
			if !used[j] && Compatible(x, y) {
				used[j] = true
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(pa)), true
}

// listKey is a canonical string for a parsed author list.
func listKey(names []Name) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		for _, k := range n.Keys {
			parts = append(parts, k.Last+"/"+k.Initial)
		}
		parts = append(parts, "|")
	}
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
