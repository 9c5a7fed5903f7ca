package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matsen/citegraph/internal/match"
	"github.com/matsen/citegraph/internal/reference"
)

// ErrPaperNotFound is returned when an operation targets an unknown paper id.
var ErrPaperNotFound = errors.New("paper not found")

// selectPaperFields is the column list for paper queries; the table is
// always aliased as p.
const selectPaperFields = `p.id, p.doi, p.arxiv_id, p.s2_id, p.title, p.authors_json,
	p.pub_year, p.pub_month, p.pub_day, p.venue, p.abstract,
	p.state, p.content, p.created_at, p.updated_at`

// PaperDegree is a paper with its inbound citation count.
type PaperDegree struct {
	Paper   reference.Paper `json:"paper"`
	CitedBy int             `json:"cited_by"`
}

// PromotionFields carries the full record attached when a paper's own
// document has been processed.
type PromotionFields struct {
	Title    string          `json:"title,omitempty"`
	Authors  []string        `json:"authors,omitempty"`
	Year     int             `json:"year,omitempty"`
	Venue    string          `json:"venue,omitempty"`
	Abstract string          `json:"abstract,omitempty"`
	DOI      string          `json:"doi,omitempty"`
	ArXivID  string          `json:"arxiv_id,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// Paper converts the fields into a fully processed record for merging.
func (f PromotionFields) Paper(id string) reference.Paper {
	p := reference.Paper{
		ID:        id,
		Title:     strings.TrimSpace(f.Title),
		Authors:   reference.ParseAuthors(f.Authors),
		Published: reference.PublicationDate{Year: f.Year},
		Venue:     f.Venue,
		Abstract:  f.Abstract,
		DOI:       f.DOI,
		ArXivID:   f.ArXivID,
		State:     reference.StateFullyProcessed,
		Content:   f.Content,
	}
	p.Normalize()
	return p
}

// UpsertPaper inserts p when its id is unknown, otherwise merges p's
// non-empty fields into the stored node. The state never downgrades.
// A DOI or arXiv id already held by another node yields ErrIdentityConflict.
// Returns the stored record and whether it was created.
func (d *DB) UpsertPaper(ctx context.Context, p reference.Paper) (reference.Paper, bool, error) {
	if p.ID == "" {
		return reference.Paper{}, false, errors.New("upsert paper: empty id")
	}
	p.Normalize()
	if !p.State.Valid() {
		p.State = reference.StatePlaceholder
	}

	var stored reference.Paper
	var created bool
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getPaper(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		now := reference.Now()
		if existing == nil {
			p.CreatedAt, p.UpdatedAt = now, now
			stored, created = p, true
			return writePaper(ctx, tx, p, true)
		}

		merged, _ := reference.MergePaper(*existing, p)
		merged.UpdatedAt = now
		stored = merged
		return writePaper(ctx, tx, merged, false)
	})
	if err != nil {
		return reference.Paper{}, false, err
	}
	return stored, created, nil
}

// Promote marks a paper fully processed and attaches its full record.
// Citation edges are not touched.
func (d *DB) Promote(ctx context.Context, id string, fields PromotionFields) (reference.Paper, error) {
	var stored reference.Paper
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getPaper(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("promote %s: %w", id, ErrPaperNotFound)
		}
		merged, _ := reference.MergePaper(*existing, fields.Paper(id))
		merged.State = reference.StateFullyProcessed
		merged.UpdatedAt = reference.Now()
		stored = merged
		return writePaper(ctx, tx, merged, false)
	})
	return stored, err
}

func writePaper(ctx context.Context, tx *sql.Tx, p reference.Paper, insert bool) error {
	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", p.ID, err)
	}
	if p.Authors == nil {
		authorsJSON = []byte("[]")
	}
	var content sql.NullString
	if len(p.Content) > 0 {
		content = sql.NullString{String: string(p.Content), Valid: true}
	}

	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO papers (
				id, doi, arxiv_id, s2_id, title, authors_json,
				pub_year, pub_month, pub_day, venue, abstract,
				state, content, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, nullableStringValue(p.DOI), nullableStringValue(p.ArXivID), nullableStringValue(p.S2ID),
			p.Title, string(authorsJSON),
			p.Published.Year, p.Published.Month, p.Published.Day,
			nullableStringValue(p.Venue), nullableStringValue(p.Abstract),
			string(p.State), content, p.CreatedAt, p.UpdatedAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE papers SET
				doi = ?, arxiv_id = ?, s2_id = ?, title = ?, authors_json = ?,
				pub_year = ?, pub_month = ?, pub_day = ?, venue = ?, abstract = ?,
				state = ?, content = ?, updated_at = ?
			WHERE id = ?`,
			nullableStringValue(p.DOI), nullableStringValue(p.ArXivID), nullableStringValue(p.S2ID),
			p.Title, string(authorsJSON),
			p.Published.Year, p.Published.Month, p.Published.Day,
			nullableStringValue(p.Venue), nullableStringValue(p.Abstract),
			string(p.State), content, p.UpdatedAt, p.ID)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("writing paper %s: %w: %v", p.ID, ErrIdentityConflict, err)
		}
		return fmt.Errorf("writing paper %s: %w", p.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM papers_fts WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("clearing fts for %s: %w", p.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO papers_fts (id, title, authors_text) VALUES (?, ?, ?)`,
		p.ID, p.Title, strings.Join(p.AuthorNames(), ", ")); err != nil {
		return fmt.Errorf("inserting fts for %s: %w", p.ID, err)
	}
	return nil
}

// queryer is implemented by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getPaper(ctx context.Context, q queryer, id string) (*reference.Paper, error) {
	row := q.QueryRowContext(ctx, `SELECT `+selectPaperFields+` FROM papers p WHERE p.id = ?`, id)
	return scanPaper(row)
}

// GetPaper retrieves a paper by id. Returns nil if not found.
func (d *DB) GetPaper(ctx context.Context, id string) (*reference.Paper, error) {
	return getPaper(ctx, d.db, id)
}

// FindByDOI retrieves the paper holding a DOI. Returns nil if not found.
func (d *DB) FindByDOI(ctx context.Context, doi string) (*reference.Paper, error) {
	doi = reference.NormalizeDOI(doi)
	if doi == "" {
		return nil, nil
	}
	row := d.db.QueryRowContext(ctx, `SELECT `+selectPaperFields+` FROM papers p WHERE p.doi = ?`, doi)
	return scanPaper(row)
}

// FindByArXivID retrieves the paper holding an arXiv id. Returns nil if not found.
func (d *DB) FindByArXivID(ctx context.Context, arxivID string) (*reference.Paper, error) {
	arxivID = reference.NormalizeArXivID(arxivID)
	if arxivID == "" {
		return nil, nil
	}
	row := d.db.QueryRowContext(ctx, `SELECT `+selectPaperFields+` FROM papers p WHERE p.arxiv_id = ?`, arxivID)
	return scanPaper(row)
}

// FindByIdentifier dispatches on the identifier type.
func (d *DB) FindByIdentifier(ctx context.Context, id reference.Identifier) (*reference.Paper, error) {
	switch id.Type {
	case reference.IdentifierDOI:
		return d.FindByDOI(ctx, id.Value)
	case reference.IdentifierArXiv:
		return d.FindByArXivID(ctx, id.Value)
	default:
		return nil, fmt.Errorf("unknown identifier type %q", id.Type)
	}
}

// titleStopwords are dropped from FTS candidate queries.
var titleStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "and": true,
	"in": true, "on": true, "to": true, "with": true, "is": true, "are": true,
	"by": true, "from": true, "at": true, "as": true, "via": true, "or": true,
}

// FindTitleCandidates returns up to limit papers whose titles share words
// with title, best FTS rank first. Used to narrow fuzzy dedup.
func (d *DB) FindTitleCandidates(ctx context.Context, title string, limit int) ([]reference.Paper, error) {
	tokens := strings.Fields(match.NormalizeTitle(title))
	var terms []string
	for _, t := range tokens {
		if !titleStopwords[t] {
			terms = append(terms, "title:"+prepareFTSQuery([]string{t}))
		}
	}
	if len(terms) == 0 {
		for _, t := range tokens {
			terms = append(terms, "title:"+prepareFTSQuery([]string{t}))
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := d.db.QueryContext(ctx, `
		WITH hits AS (
			SELECT id, rank FROM papers_fts WHERE papers_fts MATCH ? ORDER BY rank LIMIT ?
		)
		SELECT `+selectPaperFields+`
		FROM hits JOIN papers p ON p.id = hits.id
		ORDER BY hits.rank, p.id`, strings.Join(terms, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("searching title candidates: %w", err)
	}
	defer rows.Close()
	return scanPapers(rows)
}

// UnresolvedHighDegree returns placeholder papers cited by at least
// minCitedBy distinct papers, most cited first.
func (d *DB) UnresolvedHighDegree(ctx context.Context, minCitedBy, limit int) ([]PaperDegree, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectPaperFields+`, COUNT(DISTINCT c.citing_id) AS n
		FROM papers p JOIN citations c ON c.cited_id = p.id
		WHERE p.state = ?
		GROUP BY p.id
		HAVING n >= ?
		ORDER BY n DESC, p.id
		LIMIT ?`, string(reference.StatePlaceholder), minCitedBy, limit)
	if err != nil {
		return nil, fmt.Errorf("querying high-degree placeholders: %w", err)
	}
	defer rows.Close()
	return scanPaperDegrees(rows)
}

// PlaceholdersMissingIdentifiers returns placeholders with neither DOI nor
// arXiv id, most cited first.
func (d *DB) PlaceholdersMissingIdentifiers(ctx context.Context, limit int) ([]PaperDegree, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectPaperFields+`, COUNT(DISTINCT c.citing_id) AS n
		FROM papers p LEFT JOIN citations c ON c.cited_id = p.id
		WHERE p.state = ? AND p.doi IS NULL AND p.arxiv_id IS NULL
		GROUP BY p.id
		ORDER BY n DESC, p.id
		LIMIT ?`, string(reference.StatePlaceholder), limit)
	if err != nil {
		return nil, fmt.Errorf("querying placeholders: %w", err)
	}
	defer rows.Close()
	return scanPaperDegrees(rows)
}

// AllPapers returns every paper ordered by id.
func (d *DB) AllPapers(ctx context.Context) ([]reference.Paper, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+selectPaperFields+` FROM papers p ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()
	return scanPapers(rows)
}

// AllPaperIDs returns the ids of all papers.
func (d *DB) AllPaperIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM papers`)
	if err != nil {
		return nil, fmt.Errorf("listing paper ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// CountPapers returns paper counts keyed by state.
func (d *DB) CountPapers(ctx context.Context) (map[reference.State]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM papers GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting papers: %w", err)
	}
	defer rows.Close()

	counts := make(map[reference.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[reference.State(state)] = n
	}
	return counts, rows.Err()
}

func scanPaper(s scanner) (*reference.Paper, error) {
	p, err := scanPaperFields(s)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanPaperFields(s scanner, extra ...any) (*reference.Paper, error) {
	var p reference.Paper
	var doi, arxivID, s2ID, venue, abstract, content sql.NullString
	var authorsJSON, state string

	dest := []any{
		&p.ID, &doi, &arxivID, &s2ID, &p.Title, &authorsJSON,
		&p.Published.Year, &p.Published.Month, &p.Published.Day, &venue, &abstract,
		&state, &content, &p.CreatedAt, &p.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	p.DOI = doi.String
	p.ArXivID = arxivID.String
	p.S2ID = s2ID.String
	p.Venue = venue.String
	p.Abstract = abstract.String
	p.State = reference.State(state)
	if content.Valid && content.String != "" {
		p.Content = json.RawMessage(content.String)
	}
	if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
		return nil, fmt.Errorf("parsing authors JSON for %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanPapers(rows *sql.Rows) ([]reference.Paper, error) {
	var papers []reference.Paper
	for rows.Next() {
		p, err := scanPaperFields(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

func scanPaperDegrees(rows *sql.Rows) ([]PaperDegree, error) {
	var out []PaperDegree
	for rows.Next() {
		var n int
		p, err := scanPaperFields(rows, &n)
		if err != nil {
			return nil, err
		}
		out = append(out, PaperDegree{Paper: *p, CitedBy: n})
	}
	return out, rows.Err()
}
