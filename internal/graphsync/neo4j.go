// Package graphsync mirrors the citation graph into Neo4j for traversal
// queries. The mirror is optional: a nil *Neo4j accepts and drops writes.
package graphsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/matsen/citegraph/internal/config"
	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/logger"
	"github.com/matsen/citegraph/internal/reference"
)

const (
	connectTimeout = 10 * time.Second
	maxPoolSize    = 16
	// syncBatchSize bounds the rows sent per UNWIND statement.
	syncBatchSize = 500
)

// Neo4j writes papers as (:Paper) nodes and resolved citations as
// [:CITES] relationships.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// Source supplies the full graph for a bulk sync.
type Source interface {
	AllPapers(ctx context.Context) ([]reference.Paper, error)
	AllCitations(ctx context.Context) ([]edge.Citation, error)
}

// New connects to Neo4j. It returns nil, nil when cfg has no URI.
func New(ctx context.Context, cfg config.Neo4jConfig, log *logger.Logger) (*Neo4j, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = maxPoolSize
		c.SocketConnectTimeout = connectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("graphsync: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graphsync: verify connectivity: %w", err)
	}

	n := &Neo4j{
		driver:   driver,
		database: cfg.Database,
		log:      logger.OrNop(log).With("component", "graphsync"),
	}
	n.ensureSchema(ctx)
	return n, nil
}

// Close releases the driver.
func (n *Neo4j) Close(ctx context.Context) error {
	if n == nil || n.driver == nil {
		return nil
	}
	err := n.driver.Close(ctx)
	n.driver = nil
	return err
}

// ensureSchema creates constraints, logging and ignoring failures.
func (n *Neo4j) ensureSchema(ctx context.Context) {
	session := n.session(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT paper_id_unique IF NOT EXISTS FOR (p:Paper) REQUIRE p.id IS UNIQUE`,
		`CREATE INDEX paper_doi IF NOT EXISTS FOR (p:Paper) ON (p.doi)`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			n.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func (n *Neo4j) session(ctx context.Context) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: n.database,
	})
}

const upsertPapersCypher = `
UNWIND $papers AS p
MERGE (n:Paper {id: p.id})
SET n += p
`

const upsertCitationsCypher = `
UNWIND $rels AS r
MERGE (a:Paper {id: r.citing_id})
MERGE (b:Paper {id: r.cited_id})
MERGE (a)-[e:CITES {fingerprint: r.fingerprint}]->(b)
SET e.ord = r.ord,
    e.confidence = r.confidence,
    e.source = r.source,
    e.section = r.section,
    e.synced_at = r.synced_at
`

// SyncPapers upserts paper nodes.
func (n *Neo4j) SyncPapers(ctx context.Context, papers []reference.Paper) error {
	if n == nil || n.driver == nil || len(papers) == 0 {
		return nil
	}
	return n.write(ctx, upsertPapersCypher, "papers", paperRows(papers, syncedAt()))
}

// SyncCitations upserts CITES relationships for resolved citations.
// Unresolved citations have no target node and are skipped.
func (n *Neo4j) SyncCitations(ctx context.Context, citations []edge.Citation) error {
	if n == nil || n.driver == nil {
		return nil
	}
	rows := citationRows(citations, syncedAt())
	if len(rows) == 0 {
		return nil
	}
	return n.write(ctx, upsertCitationsCypher, "rels", rows)
}

// SyncAll pushes the whole graph in batches.
func (n *Neo4j) SyncAll(ctx context.Context, src Source) (papers, citations int, err error) {
	if n == nil || n.driver == nil {
		return 0, 0, nil
	}
	ps, err := src.AllPapers(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, batch := range batches(ps, syncBatchSize) {
		if err := n.SyncPapers(ctx, batch); err != nil {
			return papers, 0, err
		}
		papers += len(batch)
	}

	cs, err := src.AllCitations(ctx)
	if err != nil {
		return papers, 0, err
	}
	for _, batch := range batches(cs, syncBatchSize) {
		if err := n.SyncCitations(ctx, batch); err != nil {
			return papers, citations, err
		}
		for _, c := range batch {
			if c.Resolved() {
				citations++
			}
		}
	}
	return papers, citations, nil
}

func (n *Neo4j) write(ctx context.Context, cypher, param string, rows []map[string]any) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{param: rows})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("graphsync: write %s: %w", param, err)
	}
	return nil
}

func syncedAt() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// paperRows flattens papers into Neo4j property maps. Neo4j properties
// cannot hold nested maps, so authors become a string list.
func paperRows(papers []reference.Paper, now string) []map[string]any {
	rows := make([]map[string]any, 0, len(papers))
	for _, p := range papers {
		if p.ID == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"id":         p.ID,
			"doi":        p.DOI,
			"arxiv_id":   p.ArXivID,
			"s2_id":      p.S2ID,
			"title":      p.Title,
			"authors":    p.AuthorNames(),
			"year":       int64(p.Published.Year),
			"venue":      p.Venue,
			"state":      string(p.State),
			"updated_at": p.UpdatedAt,
			"synced_at":  now,
		})
	}
	return rows
}

func citationRows(citations []edge.Citation, now string) []map[string]any {
	rows := make([]map[string]any, 0, len(citations))
	for _, c := range citations {
		if !c.Resolved() {
			continue
		}
		rows = append(rows, map[string]any{
			"citing_id":   c.CitingID,
			"cited_id":    c.CitedID,
			"fingerprint": c.Fingerprint,
			"ord":         int64(c.Order),
			"confidence":  c.Confidence,
			"source":      c.Source,
			"section":     c.Section,
			"synced_at":   now,
		})
	}
	return rows
}

func batches[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
