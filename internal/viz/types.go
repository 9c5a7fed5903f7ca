// Package viz renders the citation graph as a standalone Cytoscape.js page.
package viz

// Node types.
const (
	NodeTypePaper       = "paper"
	NodeTypePlaceholder = "placeholder"
)

// GraphData contains all data needed to render the visualization.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one paper in the graph.
type Node struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // "paper" or "placeholder"
	Label string `json:"label"`

	// Tooltip fields
	Title   string `json:"title,omitempty"`
	Authors string `json:"authors,omitempty"` // "First Last, First Last"
	Year    int    `json:"year,omitempty"`
	Venue   string `json:"venue,omitempty"`
	DOI     string `json:"doi,omitempty"`

	// Sizing
	CitedBy int `json:"citedBy"`
}

// Edge is a resolved citation from Source to Target.
type Edge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
	Via        string  `json:"via,omitempty"` // resolving provider
	Section    string  `json:"section,omitempty"`
}

// IsEmpty returns true if the graph has no nodes.
func (g *GraphData) IsEmpty() bool {
	return len(g.Nodes) == 0
}
