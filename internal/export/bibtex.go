// Package export renders graph papers as BibTeX.
package export

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/matsen/citegraph/internal/author"
	"github.com/matsen/citegraph/internal/reference"
)

// Entry is one paper with the citation key it is exported under.
type Entry struct {
	Key   string
	Paper reference.Paper
}

// ToBibTeX converts a paper to a BibTeX entry.
func ToBibTeX(e Entry) string {
	p := e.Paper
	entryType := determineEntryType(p)
	var b strings.Builder

	b.WriteString(fmt.Sprintf("@%s{%s,\n", entryType, e.Key))

	if len(p.Authors) > 0 {
		b.WriteString(fmt.Sprintf("  author = {%s},\n", formatAuthors(p.Authors)))
	}
	b.WriteString(fmt.Sprintf("  title = {%s},\n", escapeLatex(p.Title)))

	if p.Venue != "" && entryType != "misc" {
		fieldName := "journal"
		if entryType == "inproceedings" {
			fieldName = "booktitle"
		}
		b.WriteString(fmt.Sprintf("  %s = {%s},\n", fieldName, escapeLatex(p.Venue)))
	}

	if p.Published.Year > 0 {
		b.WriteString(fmt.Sprintf("  year = {%d},\n", p.Published.Year))
	}
	if p.Published.Month > 0 {
		b.WriteString(fmt.Sprintf("  month = {%d},\n", p.Published.Month))
	}
	if p.DOI != "" {
		b.WriteString(fmt.Sprintf("  doi = {%s},\n", p.DOI))
	}
	if p.ArXivID != "" {
		b.WriteString(fmt.Sprintf("  eprint = {%s},\n", p.ArXivID))
		b.WriteString("  archivePrefix = {arXiv},\n")
	}
	if p.Abstract != "" {
		b.WriteString(fmt.Sprintf("  abstract = {%s},\n", escapeLatex(p.Abstract)))
	}

	b.WriteString("}\n")
	return b.String()
}

// ToBibTeXList converts multiple entries, separated by blank lines.
func ToBibTeXList(entries []Entry) string {
	var out []string
	for _, e := range entries {
		out = append(out, ToBibTeX(e))
	}
	return strings.Join(out, "\n")
}

// Entries assigns citation keys in paper order. Keys look like
// Vaswani2017attention; collisions get a, b, c... suffixes.
func Entries(papers []reference.Paper) []Entry {
	entries := make([]Entry, 0, len(papers))
	used := make(map[string]bool)
	for _, p := range papers {
		base := citeKeyBase(p)
		key := base
		for i := 0; used[key]; i++ {
			key = base + suffix(i)
		}
		used[key] = true
		entries = append(entries, Entry{Key: key, Paper: p})
	}
	return entries
}

func citeKeyBase(p reference.Paper) string {
	var b strings.Builder
	if len(p.Authors) > 0 {
		b.WriteString(keyPart(p.Authors[0].Last, true))
	}
	if b.Len() == 0 {
		b.WriteString("Anon")
	}
	if p.Published.Year > 0 {
		b.WriteString(fmt.Sprint(p.Published.Year))
	}
	for _, w := range strings.Fields(p.Title) {
		if w = keyPart(w, false); len(w) > 3 {
			b.WriteString(w)
			break
		}
	}
	return b.String()
}

// keyPart folds diacritics and keeps ASCII letters and digits only.
func keyPart(s string, capitalize bool) string {
	var b strings.Builder
	for _, r := range author.Fold(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if capitalize && out != "" {
		out = strings.ToUpper(out[:1]) + out[1:]
	}
	return out
}

// suffix maps 0, 1, ..., 25, 26 to a, b, ..., z, aa.
func suffix(i int) string {
	s := ""
	for {
		s = string(rune('a'+i%26)) + s
		i = i/26 - 1
		if i < 0 {
			return s
		}
	}
}

// determineEntryType returns the BibTeX entry type for a paper.
func determineEntryType(p reference.Paper) string {
	venue := strings.ToLower(p.Venue)

	if p.ArXivID != "" && p.DOI == "" && (venue == "" || strings.Contains(venue, "arxiv")) {
		return "misc"
	}

	if strings.Contains(venue, "proceedings") ||
		strings.Contains(venue, "conference") ||
		strings.Contains(venue, "workshop") ||
		strings.Contains(venue, "symposium") ||
		strings.Contains(venue, "advances in neural information processing") {
		return "inproceedings"
	}

	return "article"
}

// formatAuthors formats authors in BibTeX style: "Last, First and Last, First"
func formatAuthors(authors []reference.Author) string {
	var formatted []string
	for _, a := range authors {
		if a.First != "" {
			formatted = append(formatted, fmt.Sprintf("%s, %s", escapeLatex(a.Last), escapeLatex(a.First)))
		} else {
			formatted = append(formatted, escapeLatex(a.Last))
		}
	}
	return strings.Join(formatted, " and ")
}

// escapeLatex escapes special LaTeX characters.
func escapeLatex(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\textbackslash{}`,
		"&", `\&`,
		"%", `\%`,
		"$", `\$`,
		"#", `\#`,
		"_", `\_`,
		"{", `\{`,
		"}", `\}`,
		"~", `\textasciitilde{}`,
		"^", `\textasciicircum{}`,
	)
	return replacer.Replace(s)
}
