package viz

import (
	"sort"
	"strconv"
	"strings"

	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/reference"
)

// Filter restricts which papers appear in the graph.
type Filter struct {
	// MinCitedBy drops papers with fewer incoming resolved citations.
	// Fully processed papers and papers that cite others are always kept.
	MinCitedBy int
	// HidePlaceholders drops placeholder papers entirely.
	HidePlaceholders bool
}

// BuildGraph constructs the visualization graph from papers and citations.
// Unresolved citations are not drawn. Edges whose endpoints are filtered out
// are dropped.
func BuildGraph(papers []reference.Paper, citations []edge.Citation, f Filter) *GraphData {
	byID := make(map[string]reference.Paper, len(papers))
	for _, p := range papers {
		byID[p.ID] = p
	}

	citedBy := make(map[string]int)
	cites := make(map[string]int)
	var resolved []edge.Citation
	for _, c := range citations {
		if !c.Resolved() {
			continue
		}
		if _, ok := byID[c.CitingID]; !ok {
			continue
		}
		if _, ok := byID[c.CitedID]; !ok {
			continue
		}
		citedBy[c.CitedID]++
		cites[c.CitingID]++
		resolved = append(resolved, c)
	}

	keep := make(map[string]bool, len(papers))
	for _, p := range papers {
		if f.HidePlaceholders && p.State == reference.StatePlaceholder {
			continue
		}
		if p.State == reference.StateFullyProcessed || cites[p.ID] > 0 || citedBy[p.ID] >= f.MinCitedBy {
			keep[p.ID] = true
		}
	}

	var edges []Edge
	for _, c := range resolved {
		if !keep[c.CitingID] || !keep[c.CitedID] {
			continue
		}
		edges = append(edges, Edge{
			Source:     c.CitingID,
			Target:     c.CitedID,
			Confidence: c.Confidence,
			Via:        c.Source,
			Section:    c.Section,
		})
	}

	nodes := make([]Node, 0, len(keep))
	for id := range keep {
		nodes = append(nodes, newPaperNode(byID[id], citedBy[id]))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return &GraphData{Nodes: nodes, Edges: edges}
}

// newPaperNode creates a visualization node from a paper.
func newPaperNode(p reference.Paper, citedBy int) Node {
	typ := NodeTypePaper
	if p.State == reference.StatePlaceholder {
		typ = NodeTypePlaceholder
	}
	return Node{
		ID:      p.ID,
		Type:    typ,
		Label:   label(p),
		Title:   p.Title,
		Authors: authorsToString(p.Authors),
		Year:    p.Published.Year,
		Venue:   p.Venue,
		DOI:     p.DOI,
		CitedBy: citedBy,
	}
}

// label is "Last Year" when known, else the paper id.
func label(p reference.Paper) string {
	if len(p.Authors) == 0 || p.Authors[0].Last == "" {
		return p.ID
	}
	l := p.Authors[0].Last
	if len(p.Authors) > 1 {
		l += " et al."
	}
	if p.Published.Year > 0 {
		l += " " + strconv.Itoa(p.Published.Year)
	}
	return l
}

// authorsToString converts a slice of Author to a comma-separated "First Last" format string.
func authorsToString(authors []reference.Author) string {
	if len(authors) == 0 {
		return ""
	}

	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.First != "" {
			names = append(names, a.First+" "+a.Last)
		} else {
			names = append(names, a.Last)
		}
	}
	return strings.Join(names, ", ")
}
