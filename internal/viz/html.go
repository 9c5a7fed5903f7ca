package viz

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strings"
)

// HTMLOptions configures HTML generation.
type HTMLOptions struct {
	Layout    string // one of ValidLayouts, empty means "force"
	ScriptURL string // Cytoscape.js location, defaults to the unpkg CDN
}

// DefaultScriptURL is where the page loads Cytoscape.js from.
const DefaultScriptURL = "https://unpkg.com/cytoscape@3/dist/cytoscape.min.js"

// DefaultOptions returns default HTML generation options.
func DefaultOptions() HTMLOptions {
	return HTMLOptions{Layout: "force", ScriptURL: DefaultScriptURL}
}

// ValidLayouts lists the supported layout names.
var ValidLayouts = []string{"force", "circle", "grid", "tree"}

// cytoscapeLayouts maps layout names to Cytoscape.js layout algorithms.
var cytoscapeLayouts = map[string]string{
	"":       "cose",
	"force":  "cose",
	"circle": "circle",
	"grid":   "grid",
	"tree":   "breadthfirst",
}

var pageTemplate = template.Must(template.New("viz").Parse(pageHTML))

type pageData struct {
	ScriptURL string
	GraphJSON template.JS
	Layout    string
	Papers    int
	Citations int
}

// GenerateHTML renders graph as a standalone HTML page.
func GenerateHTML(graph *GraphData, opts HTMLOptions) (string, error) {
	if graph == nil {
		return "", errors.New("graph cannot be nil")
	}
	layout, ok := cytoscapeLayouts[opts.Layout]
	if !ok {
		return "", fmt.Errorf("invalid layout %q: must be one of %s", opts.Layout, strings.Join(ValidLayouts, ", "))
	}
	if graph.IsEmpty() {
		return emptyHTML, nil
	}

	graphJSON, err := graph.ToCytoscapeJSON()
	if err != nil {
		return "", err
	}
	data := pageData{
		ScriptURL: opts.ScriptURL,
		GraphJSON: template.JS(graphJSON),
		Layout:    layout,
		Papers:    len(graph.Nodes),
		Citations: len(graph.Edges),
	}
	if data.ScriptURL == "" {
		data.ScriptURL = DefaultScriptURL
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering page: %w", err)
	}
	return buf.String(), nil
}

const emptyHTML = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Citation Graph</title></head>
<body style="font-family: sans-serif; color: #555; text-align: center; margin-top: 20vh">
  <h2>No graph data</h2>
  <p>No papers match the current filter. Ingest documents with <code>citegraph ingest</code>.</p>
</body>
</html>`

const pageHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Citation Graph</title>
  <script src="{{.ScriptURL}}"></script>
  <style>
    body { margin: 0; display: flex; height: 100vh; font: 13px sans-serif; }
    #cy { flex: 1; }
    aside { width: 300px; padding: 12px; border-left: 1px solid #ddd; overflow-y: auto; background: #fafafa; }
    aside input { width: 100%; box-sizing: border-box; padding: 4px; }
    aside h3 { margin: 12px 0 4px; font-size: 14px; }
    aside .muted { color: #888; }
    aside li { cursor: pointer; margin: 2px 0; }
  </style>
</head>
<body>
  <div id="cy"></div>
  <aside>
    <div class="muted">{{.Papers}} papers, {{.Citations}} citations</div>
    <input id="find" placeholder="Find by label or title">
    <div id="detail"><p class="muted">Click a paper to see its citations.</p></div>
  </aside>
  <script>
    const graphData = {{.GraphJSON}};
    const layout = "{{.Layout}}";

    const cy = cytoscape({
      container: document.getElementById('cy'),
      elements: graphData,
      layout: { name: layout, animate: false },
      style: [
        { selector: 'node', style: {
            'label': 'data(label)', 'font-size': 9, 'text-valign': 'bottom',
            'width': 'mapData(citedBy, 0, 20, 16, 56)', 'height': 'mapData(citedBy, 0, 20, 16, 56)' } },
        { selector: 'node[type="paper"]', style: { 'background-color': '#4A90D9' } },
        { selector: 'node[type="placeholder"]', style: { 'background-color': '#BDC3C7' } },
        { selector: 'edge', style: {
            'line-color': '#95A5A6', 'target-arrow-color': '#95A5A6', 'target-arrow-shape': 'triangle',
            'curve-style': 'bezier', 'width': 1.5, 'opacity': 'mapData(confidence, 0.7, 1, 0.4, 1)' } },
        { selector: '.faded', style: { 'opacity': 0.15 } }
      ]
    });

    const detail = document.getElementById('detail');
    const text = s => document.createTextNode(s || '');

    function line(parent, label, value) {
      if (!value) return;
      const p = document.createElement('div');
      p.appendChild(text(label ? label + ': ' + value : value));
      parent.appendChild(p);
    }

    function list(title, edges, end) {
      const h = document.createElement('h3');
      h.appendChild(text(title + ' (' + edges.length + ')'));
      detail.appendChild(h);
      const ul = document.createElement('ul');
      edges.forEach(e => {
        const n = e[end]();
        const li = document.createElement('li');
        li.appendChild(text(n.data('label') + ' [' + e.data('confidence').toFixed(2) + ', ' + (e.data('via') || '?') + ']'));
        li.onclick = () => select(n);
        ul.appendChild(li);
      });
      detail.appendChild(ul);
    }

    function select(node) {
      const d = node.data();
      detail.replaceChildren();
      const h = document.createElement('h3');
      h.appendChild(text(d.title || d.id));
      detail.appendChild(h);
      line(detail, '', d.authors);
      line(detail, 'Year', d.year);
      line(detail, 'Venue', d.venue);
      line(detail, 'DOI', d.doi);
      line(detail, 'State', d.type);
      list('Cites', node.outgoers('edge'), 'target');
      list('Cited by', node.incomers('edge'), 'source');

      cy.elements().addClass('faded');
      node.closedNeighborhood().removeClass('faded');
      cy.animate({ center: { eles: node } }, { duration: 200 });
    }

    cy.on('tap', 'node', evt => select(evt.target));
    cy.on('tap', evt => { if (evt.target === cy) cy.elements().removeClass('faded'); });

    document.getElementById('find').addEventListener('change', evt => {
      const q = evt.target.value.toLowerCase();
      if (!q) return;
      const hit = cy.nodes().filter(n =>
        (n.data('label') || '').toLowerCase().includes(q) || (n.data('title') || '').toLowerCase().includes(q)).first();
      if (hit.nonempty()) select(hit);
    });
  </script>
</body>
</html>`
