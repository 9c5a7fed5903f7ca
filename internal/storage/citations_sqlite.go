package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/match"
)

const selectCitationFields = `citing_id, fingerprint, cited_id, ord, raw, context, section,
	ext_title, ext_authors_json, ext_year, ext_venue, confidence, source, created_at, updated_at`

// UnresolvedGroup is a set of unresolved citations sharing a title key.
// Citations without an extracted title form singleton groups.
type UnresolvedGroup struct {
	Key         string        `json:"key"`
	Occurrences int           `json:"occurrences"`
	Sample      edge.Citation `json:"sample"`
}

// fingerprintGroupPrefix marks group keys for title-less citations.
const fingerprintGroupPrefix = "fp:"

// groupKeyExpr computes the group key of a citation row.
const groupKeyExpr = `CASE WHEN title_key != '' THEN title_key ELSE '` + fingerprintGroupPrefix + `' || citing_id || ':' || fingerprint END`

// AddCitation upserts a citation keyed by (citing_id, fingerprint).
// Re-adding the same citation is idempotent. A resolution fills cited_id,
// confidence and source on an unresolved edge; a resolved cited_id is never
// cleared or replaced. Returns true if the edge was created.
func (d *DB) AddCitation(ctx context.Context, c edge.Citation) (bool, error) {
	if err := c.ValidateForCreate(); err != nil {
		return false, fmt.Errorf("invalid citation: %w", err)
	}
	c.SetTimestamps()

	authorsJSON, err := json.Marshal(c.Extracted.Authors)
	if err != nil {
		return false, fmt.Errorf("marshaling extracted authors: %w", err)
	}

	var created bool
	err = d.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM citations WHERE citing_id = ? AND fingerprint = ?`,
			c.CitingID, c.Fingerprint).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
		case err != nil:
			return fmt.Errorf("checking citation: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO citations (
				citing_id, fingerprint, cited_id, ord, raw, context, section,
				ext_title, ext_authors_json, ext_year, ext_venue, title_key,
				confidence, source, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (citing_id, fingerprint) DO UPDATE SET
				cited_id   = CASE WHEN citations.cited_id = '' THEN excluded.cited_id ELSE citations.cited_id END,
				confidence = CASE WHEN citations.cited_id = '' THEN excluded.confidence ELSE citations.confidence END,
				source     = CASE WHEN citations.cited_id = '' THEN excluded.source ELSE citations.source END,
				ord        = excluded.ord,
				context    = COALESCE(NULLIF(excluded.context, ''), citations.context),
				section    = COALESCE(NULLIF(excluded.section, ''), citations.section),
				updated_at = excluded.updated_at`,
			c.CitingID, c.Fingerprint, c.CitedID, c.Order, c.Raw,
			nullableStringValue(c.Context), nullableStringValue(c.Section),
			nullableStringValue(c.Extracted.Title), string(authorsJSON), c.Extracted.Year,
			nullableStringValue(c.Extracted.Venue), match.TitleKey(c.Extracted.Title),
			c.Confidence, c.Source, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upserting citation: %w", err)
		}
		return nil
	})
	return created, err
}

// GetCitation retrieves one citation. Returns nil if not found.
func (d *DB) GetCitation(ctx context.Context, key edge.Key) (*edge.Citation, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+selectCitationFields+` FROM citations WHERE citing_id = ? AND fingerprint = ?`,
		key.CitingID, key.Fingerprint)
	c, err := scanCitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// Citing returns the outgoing citations of a paper in document order.
func (d *DB) Citing(ctx context.Context, paperID string) ([]edge.Citation, error) {
	return d.queryCitations(ctx, `SELECT `+selectCitationFields+` FROM citations
		WHERE citing_id = ? ORDER BY ord, fingerprint`, paperID)
}

// CitedBy returns the incoming citations of a paper.
func (d *DB) CitedBy(ctx context.Context, paperID string) ([]edge.Citation, error) {
	if paperID == "" {
		return nil, nil
	}
	return d.queryCitations(ctx, `SELECT `+selectCitationFields+` FROM citations
		WHERE cited_id = ? ORDER BY citing_id, ord`, paperID)
}

// UnresolvedCitations returns up to limit unresolved citations.
func (d *DB) UnresolvedCitations(ctx context.Context, limit int) ([]edge.Citation, error) {
	return d.queryCitations(ctx, `SELECT `+selectCitationFields+` FROM citations
		WHERE cited_id = '' ORDER BY citing_id, ord LIMIT ?`, limit)
}

// UnresolvedGroups returns unresolved citations grouped by title key, most
// frequent first.
func (d *DB) UnresolvedGroups(ctx context.Context, limit int) ([]UnresolvedGroup, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+groupKeyExpr+` AS gk, COUNT(*) AS n, MIN(citing_id || char(31) || fingerprint) AS sample
		FROM citations
		WHERE cited_id = ''
		GROUP BY gk
		ORDER BY n DESC, gk
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("grouping unresolved citations: %w", err)
	}

	type groupRow struct {
		key, sample string
		n           int
	}
	var raw []groupRow
	for rows.Next() {
		var g groupRow
		if err := rows.Scan(&g.key, &g.n, &g.sample); err != nil {
			rows.Close()
			return nil, err
		}
		raw = append(raw, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]UnresolvedGroup, 0, len(raw))
	for _, g := range raw {
		key, ok := splitSampleKey(g.sample)
		if !ok {
			continue
		}
		sample, err := d.GetCitation(ctx, key)
		if err != nil {
			return nil, err
		}
		if sample == nil {
			continue
		}
		groups = append(groups, UnresolvedGroup{Key: g.key, Occurrences: g.n, Sample: *sample})
	}
	return groups, nil
}

// UnresolvedInGroup returns the unresolved citations with the given group key.
func (d *DB) UnresolvedInGroup(ctx context.Context, groupKey string) ([]edge.Citation, error) {
	return d.queryCitations(ctx, `SELECT `+selectCitationFields+` FROM citations
		WHERE cited_id = '' AND `+groupKeyExpr+` = ? ORDER BY citing_id, ord`, groupKey)
}

// UnresolvedGroupSample returns one unresolved citation of a group, or nil
// once the whole group has been resolved.
func (d *DB) UnresolvedGroupSample(ctx context.Context, groupKey string) (*edge.Citation, error) {
	cites, err := d.UnresolvedInGroup(ctx, groupKey)
	if err != nil || len(cites) == 0 {
		return nil, err
	}
	return &cites[0], nil
}

// AllCitations returns every citation.
func (d *DB) AllCitations(ctx context.Context) ([]edge.Citation, error) {
	return d.queryCitations(ctx, `SELECT `+selectCitationFields+` FROM citations ORDER BY citing_id, ord, fingerprint`)
}

// CitationCounts summarizes the citation table.
type CitationCounts struct {
	Total      int `json:"total"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
}

// CountCitations returns citation totals.
func (d *DB) CountCitations(ctx context.Context) (CitationCounts, error) {
	var c CitationCounts
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN cited_id != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN cited_id = '' THEN 1 ELSE 0 END), 0)
		FROM citations`).Scan(&c.Total, &c.Resolved, &c.Unresolved)
	if err != nil {
		return CitationCounts{}, fmt.Errorf("counting citations: %w", err)
	}
	return c, nil
}

func (d *DB) queryCitations(ctx context.Context, query string, args ...any) ([]edge.Citation, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying citations: %w", err)
	}
	defer rows.Close()

	var out []edge.Citation
	for rows.Next() {
		c, err := scanCitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCitation(s scanner) (*edge.Citation, error) {
	var c edge.Citation
	var context, section, title, authorsJSON, venue sql.NullString
	err := s.Scan(
		&c.CitingID, &c.Fingerprint, &c.CitedID, &c.Order, &c.Raw, &context, &section,
		&title, &authorsJSON, &c.Extracted.Year, &venue, &c.Confidence, &c.Source,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Context = context.String
	c.Section = section.String
	c.Extracted.Title = title.String
	c.Extracted.Venue = venue.String
	if authorsJSON.Valid && authorsJSON.String != "" && authorsJSON.String != "null" {
		if err := json.Unmarshal([]byte(authorsJSON.String), &c.Extracted.Authors); err != nil {
			return nil, fmt.Errorf("parsing extracted authors for %s/%s: %w", c.CitingID, c.Fingerprint, err)
		}
	}
	return &c, nil
}

func splitSampleKey(s string) (edge.Key, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == 31 {
			return edge.Key{CitingID: s[:i], Fingerprint: s[i+1:]}, true
		}
	}
	return edge.Key{}, false
}
