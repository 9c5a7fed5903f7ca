package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/matsen/citegraph/internal/reference"
)

// RunStatus is the lifecycle status of a backfill run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunCoolingDown RunStatus = "cooling_down"
	RunInterrupted RunStatus = "interrupted"
)

// Resumable reports whether a run with this status can be continued.
func (s RunStatus) Resumable() bool {
	return s == RunRunning || s == RunCoolingDown || s == RunInterrupted
}

// QueueKind distinguishes the two kinds of backfill work.
type QueueKind string

const (
	// QueuePlaceholder items are placeholder paper ids missing identifiers.
	QueuePlaceholder QueueKind = "placeholder"
	// QueueCitations items are unresolved citation group keys.
	QueueCitations QueueKind = "citations"
)

// QueueItem is one entry of a run's work snapshot.
type QueueItem struct {
	Seq       int       `json:"seq"`
	Kind      QueueKind `json:"kind"`
	Key       string    `json:"key"`
	Priority  int       `json:"priority"`
	Attempted bool      `json:"attempted"`
}

// RunCounters are the cumulative outcome counts of a run.
type RunCounters struct {
	Processed  int `json:"processed"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Errored    int `json:"errored"`
	Skipped    int `json:"skipped"`
}

// Add returns the sum of two counter sets.
func (c RunCounters) Add(o RunCounters) RunCounters {
	return RunCounters{
		Processed:  c.Processed + o.Processed,
		Resolved:   c.Resolved + o.Resolved,
		Unresolved: c.Unresolved + o.Unresolved,
		Errored:    c.Errored + o.Errored,
		Skipped:    c.Skipped + o.Skipped,
	}
}

// Run is a durable backfill cursor.
type Run struct {
	ID         string      `json:"id"`
	Status     RunStatus   `json:"status"`
	Position   int         `json:"position"`
	Total      int         `json:"total"`
	Counters   RunCounters `json:"counters"`
	StartedAt  string      `json:"started_at"`
	UpdatedAt  string      `json:"updated_at"`
	FinishedAt string      `json:"finished_at,omitempty"`
}

// CreateRun persists a new run together with its queue snapshot. Items are
// renumbered in the given order.
func (d *DB) CreateRun(ctx context.Context, id string, items []QueueItem) (*Run, error) {
	now := reference.Now()
	run := &Run{ID: id, Status: RunRunning, Total: len(items), StartedAt: now, UpdatedAt: now}

	err := d.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO backfill_runs (id, status, position, total, started_at, updated_at)
			VALUES (?, ?, 0, ?, ?, ?)`, id, run.Status, run.Total, now, now)
		if err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backfill_queue (run_id, seq, kind, item_key, priority, attempted)
			VALUES (?, ?, ?, ?, ?, 0)`)
		if err != nil {
			return fmt.Errorf("preparing queue insert: %w", err)
		}
		defer stmt.Close()

		for i, item := range items {
			if _, err := stmt.ExecContext(ctx, id, i, item.Kind, item.Key, item.Priority); err != nil {
				return fmt.Errorf("inserting queue item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ActiveRun returns the most recent resumable run, or nil if there is none.
func (d *DB) ActiveRun(ctx context.Context) (*Run, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, status, position, total, processed, resolved, unresolved, errored, skipped,
			started_at, updated_at, finished_at
		FROM backfill_runs
		WHERE status IN (?, ?, ?)
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, RunRunning, RunCoolingDown, RunInterrupted)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// GetRun retrieves a run by id. Returns nil if not found.
func (d *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, status, position, total, processed, resolved, unresolved, errored, skipped,
			started_at, updated_at, finished_at
		FROM backfill_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// QueueItems returns up to limit items of a run starting at position from.
// A non-positive limit returns the rest of the queue.
func (d *DB) QueueItems(ctx context.Context, runID string, from, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT seq, kind, item_key, priority, attempted
		FROM backfill_queue
		WHERE run_id = ? AND seq >= ?
		ORDER BY seq
		LIMIT ?`, runID, from, limit)
	if err != nil {
		return nil, fmt.Errorf("querying backfill queue: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		var attempted int
		if err := rows.Scan(&item.Seq, &item.Kind, &item.Key, &item.Priority, &attempted); err != nil {
			return nil, err
		}
		item.Attempted = attempted != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkAttempted flags a queue item as finished.
func (d *DB) MarkAttempted(ctx context.Context, runID string, seq int) error {
	_, err := d.db.ExecContext(ctx, `UPDATE backfill_queue SET attempted = 1 WHERE run_id = ? AND seq = ?`, runID, seq)
	if err != nil {
		return fmt.Errorf("marking item %d attempted: %w", seq, err)
	}
	return nil
}

// AdvanceRun moves the run cursor and adds delta to its counters.
func (d *DB) AdvanceRun(ctx context.Context, runID string, position int, delta RunCounters) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE backfill_runs SET
			position = MAX(position, ?),
			processed = processed + ?,
			resolved = resolved + ?,
			unresolved = unresolved + ?,
			errored = errored + ?,
			skipped = skipped + ?,
			updated_at = ?
		WHERE id = ?`,
		position, delta.Processed, delta.Resolved, delta.Unresolved, delta.Errored, delta.Skipped,
		reference.Now(), runID)
	if err != nil {
		return fmt.Errorf("advancing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("advancing run %s: not found", runID)
	}
	return nil
}

// FinishRun sets a run's status. Completed runs get a finish timestamp.
func (d *DB) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	now := reference.Now()
	var finished sql.NullString
	if status == RunCompleted {
		finished = sql.NullString{String: now, Valid: true}
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE backfill_runs SET status = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
		status, now, finished, runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// BackfillCandidates builds the queue snapshot for a new run: placeholders
// missing identifiers and unresolved citation groups in one list, highest
// priority (citedBy count or occurrence count) first. On equal priority
// citation groups come before placeholders, then keys sort ascending.
func (d *DB) BackfillCandidates(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = -1
	}
	placeholders, err := d.PlaceholdersMissingIdentifiers(ctx, limit)
	if err != nil {
		return nil, err
	}
	groups, err := d.UnresolvedGroups(ctx, limit)
	if err != nil {
		return nil, err
	}

	items := make([]QueueItem, 0, len(placeholders)+len(groups))
	for _, p := range placeholders {
		items = append(items, QueueItem{Kind: QueuePlaceholder, Key: p.Paper.ID, Priority: p.CitedBy})
	}
	for _, g := range groups {
		items = append(items, QueueItem{Kind: QueueCitations, Key: g.Key, Priority: g.Occurrences})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Kind != b.Kind {
			return a.Kind == QueueCitations
		}
		return a.Key < b.Key
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	for i := range items {
		items[i].Seq = i
	}
	return items, nil
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var finished sql.NullString
	err := s.Scan(&run.ID, &run.Status, &run.Position, &run.Total,
		&run.Counters.Processed, &run.Counters.Resolved, &run.Counters.Unresolved,
		&run.Counters.Errored, &run.Counters.Skipped,
		&run.StartedAt, &run.UpdatedAt, &finished)
	if err != nil {
		return nil, err
	}
	run.FinishedAt = finished.String
	return &run, nil
}

// SaveCooldown persists a provider cool-down deadline.
func (d *DB) SaveCooldown(ctx context.Context, provider string, until time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO provider_cooldowns (provider, until) VALUES (?, ?)
		ON CONFLICT (provider) DO UPDATE SET until = excluded.until`,
		provider, until.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving cooldown for %s: %w", provider, err)
	}
	return nil
}

// LoadCooldowns returns the persisted cool-down deadlines still in the
// future at now.
func (d *DB) LoadCooldowns(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT provider, until FROM provider_cooldowns`)
	if err != nil {
		return nil, fmt.Errorf("querying cooldowns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var provider, until string
		if err := rows.Scan(&provider, &until); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, until)
		if err != nil {
			return nil, fmt.Errorf("parsing cooldown for %s: %w", provider, err)
		}
		if t.After(now) {
			out[provider] = t
		}
	}
	return out, rows.Err()
}

// ReviewFlag records a near-miss dedup decision for manual review.
type ReviewFlag struct {
	ID         int64   `json:"id"`
	ExistingID string  `json:"existing_id"`
	NewID      string  `json:"new_id"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
	CreatedAt  string  `json:"created_at"`
}

// AddReviewFlag stores a review flag and returns the number of flags now
// recorded against existingID.
func (d *DB) AddReviewFlag(ctx context.Context, f ReviewFlag) (int, error) {
	if f.CreatedAt == "" {
		f.CreatedAt = reference.Now()
	}
	var count int
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO review_flags (existing_id, new_id, score, reason, created_at)
			VALUES (?, ?, ?, ?, ?)`, f.ExistingID, f.NewID, f.Score, f.Reason, f.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting review flag: %w", err)
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_flags WHERE existing_id = ?`, f.ExistingID).Scan(&count)
	})
	return count, err
}

// CountReviewFlags returns the number of flags recorded against existingID.
// An empty id counts all flags.
func (d *DB) CountReviewFlags(ctx context.Context, existingID string) (int, error) {
	var count int
	var err error
	if existingID == "" {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_flags`).Scan(&count)
	} else {
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_flags WHERE existing_id = ?`, existingID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting review flags: %w", err)
	}
	return count, nil
}

// ReviewFlags lists all review flags, oldest first.
func (d *DB) ReviewFlags(ctx context.Context) ([]ReviewFlag, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, existing_id, new_id, score, reason, created_at FROM review_flags ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying review flags: %w", err)
	}
	defer rows.Close()

	var flags []ReviewFlag
	for rows.Next() {
		var f ReviewFlag
		if err := rows.Scan(&f.ID, &f.ExistingID, &f.NewID, &f.Score, &f.Reason, &f.CreatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
