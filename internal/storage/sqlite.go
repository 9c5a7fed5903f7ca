package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrIdentityConflict indicates a write collided with another node's DOI or
// arXiv id.
var ErrIdentityConflict = errors.New("identity conflict")

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes; callers serialize on this
	// single connection.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			doi TEXT,
			arxiv_id TEXT,
			s2_id TEXT,
			title TEXT NOT NULL,
			authors_json TEXT NOT NULL,
			pub_year INTEGER NOT NULL DEFAULT 0,
			pub_month INTEGER NOT NULL DEFAULT 0,
			pub_day INTEGER NOT NULL DEFAULT 0,
			venue TEXT,
			abstract TEXT,
			state TEXT NOT NULL,
			content TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		-- At most one node per identifier
		CREATE UNIQUE INDEX IF NOT EXISTS idx_papers_doi ON papers(doi) WHERE doi IS NOT NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_papers_arxiv ON papers(arxiv_id) WHERE arxiv_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_papers_state ON papers(state);

		-- Candidate narrowing for fuzzy dedup (standalone, not external content)
		CREATE VIRTUAL TABLE IF NOT EXISTS papers_fts USING fts5(
			id UNINDEXED,
			title,
			authors_text
		);

		CREATE TABLE IF NOT EXISTS citations (
			citing_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			cited_id TEXT NOT NULL DEFAULT '',
			ord INTEGER NOT NULL,
			raw TEXT NOT NULL,
			context TEXT,
			section TEXT,
			ext_title TEXT,
			ext_authors_json TEXT,
			ext_year INTEGER NOT NULL DEFAULT 0,
			ext_venue TEXT,
			title_key TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (citing_id, fingerprint)
		);

		CREATE INDEX IF NOT EXISTS idx_citations_cited ON citations(cited_id);
		CREATE INDEX IF NOT EXISTS idx_citations_source ON citations(source);
		CREATE INDEX IF NOT EXISTS idx_citations_title_key ON citations(title_key) WHERE cited_id = '';

		CREATE TABLE IF NOT EXISTS backfill_runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			resolved INTEGER NOT NULL DEFAULT 0,
			unresolved INTEGER NOT NULL DEFAULT 0,
			errored INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			finished_at TEXT
		);

		CREATE TABLE IF NOT EXISTS backfill_queue (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			item_key TEXT NOT NULL,
			priority INTEGER NOT NULL,
			attempted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, seq)
		);

		CREATE TABLE IF NOT EXISTS provider_cooldowns (
			provider TEXT PRIMARY KEY,
			until TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS review_flags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			existing_id TEXT NOT NULL,
			new_id TEXT NOT NULL,
			score REAL NOT NULL,
			reason TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_review_flags_existing ON review_flags(existing_id);
	`

	_, err := db.Exec(schema)
	return err
}

// inTx runs fn in a transaction, committing on success.
func (d *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	// Without extended result codes only the primary code is reported.
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// prepareFTSQuery builds an FTS5 OR-query from plain tokens, quoting each so
// FTS5 operators in user text are matched literally.
func prepareFTSQuery(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
