package reference

import "strings"

// Author represents a paper author.
type Author struct {
	First string `json:"first,omitempty"` // First/given name(s), may be initials
	Last  string `json:"last"`            // Last/family name
}

// FullName returns "First Last", or just Last when no first name is known.
func (a Author) FullName() string {
	if a.First == "" {
		return a.Last
	}
	return a.First + " " + a.Last
}

// Common name suffixes to keep with the last name.
var nameSuffixes = map[string]bool{
	"jr":   true,
	"jr.":  true,
	"sr":   true,
	"sr.":  true,
	"ii":   true,
	"iii":  true,
	"iv":   true,
	"phd":  true,
	"ph.d": true,
	"md":   true,
	"m.d":  true,
}

// ParseAuthor splits a display name into first and last name.
//
// Supported formats:
//   - "Vaswani"            → last="Vaswani"
//   - "A. Vaswani"         → first="A.", last="Vaswani"
//   - "Vaswani, Ashish"    → first="Ashish", last="Vaswani"
//   - "Martin Luther King Jr." → first="Martin Luther", last="King Jr."
//
// Multi-part surnames (von Neumann, van der Waals) split on the last word.
func ParseAuthor(name string) Author {
	name = strings.TrimSpace(name)
	if name == "" {
		return Author{}
	}

	// "Last, First"
	if idx := strings.Index(name, ","); idx > 0 {
		last := strings.TrimSpace(name[:idx])
		first := strings.TrimSpace(name[idx+1:])
		if !nameSuffixes[strings.ToLower(first)] {
			return Author{First: first, Last: last}
		}
		name = last + " " + first
	}

	parts := strings.Fields(name)
	if len(parts) == 1 {
		return Author{Last: parts[0]}
	}

	lastPart := strings.ToLower(parts[len(parts)-1])
	if nameSuffixes[lastPart] && len(parts) > 2 {
		return Author{
			First: strings.Join(parts[:len(parts)-2], " "),
			Last:  parts[len(parts)-2] + " " + parts[len(parts)-1],
		}
	}
	return Author{
		First: strings.Join(parts[:len(parts)-1], " "),
		Last:  parts[len(parts)-1],
	}
}

// ParseAuthors parses a list of display names, dropping empty entries.
func ParseAuthors(names []string) []Author {
	authors := make([]Author, 0, len(names))
	for _, n := range names {
		if a := ParseAuthor(n); a.Last != "" {
			authors = append(authors, a)
		}
	}
	return authors
}
