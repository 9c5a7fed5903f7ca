// Package backfill re-drives resolution over unresolved work in priority
// order, with a durable cursor so interrupted runs resume where they left off.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/citegraph/internal/chain"
	"github.com/matsen/citegraph/internal/engine"
	"github.com/matsen/citegraph/internal/logger"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/storage"
)

const (
	DefaultBatchSize = 50
	DefaultWorkers   = 8
)

// ProviderStatus is a provider's state at the end of a run.
type ProviderStatus struct {
	CoolingDownUntil *time.Time `json:"cooling_down_until,omitempty"`
	Hits             int64      `json:"hits"`
}

// Report summarizes a run. Counts are cumulative over every resume.
type Report struct {
	RunID      string                    `json:"run_id"`
	Status     storage.RunStatus         `json:"status"`
	Resumed    bool                      `json:"resumed"`
	Total      int                       `json:"total"`
	Position   int                       `json:"position"`
	Processed  int                       `json:"processed"`
	Resolved   int                       `json:"resolved"`
	Unresolved int                       `json:"unresolved"`
	Errored    int                       `json:"errored"`
	Skipped    int                       `json:"skipped"`
	Providers  map[string]ProviderStatus `json:"providers"`
}

// Coordinator runs backfills through an engine.
type Coordinator struct {
	engine    *engine.Engine
	store     *storage.DB
	batchSize int
	workers   int
	limit     int
	log       *logger.Logger
	now       func() time.Time
	newRunID  func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBatchSize sets how many queue items are processed between cursor updates.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) { c.batchSize = n }
}

// WithWorkers bounds concurrent item processing.
func WithWorkers(n int) Option {
	return func(c *Coordinator) { c.workers = n }
}

// WithLimit caps the number of items snapshotted per queue kind; 0 means all.
func WithLimit(n int) Option {
	return func(c *Coordinator) { c.limit = n }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator.
func New(e *engine.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:    e,
		store:     e.Store(),
		batchSize: DefaultBatchSize,
		workers:   e.Workers(),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	c.log = logger.OrNop(c.log).With("component", "backfill")
	return c
}

// itemResult classifies one processed queue item.
type itemResult int

const (
	itemDeferred itemResult = iota // Not attempted; stays queued
	itemResolved
	itemUnresolved
	itemErrored
	itemSkipped
)

// Run resumes the active run or starts a new one. It stops when the queue
// is exhausted, when every provider is cooling down, or when ctx ends.
// Isolated item failures are counted, never returned.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	ch := c.engine.Chain()

	persisted, err := c.store.LoadCooldowns(ctx, c.now())
	if err != nil {
		return Report{}, err
	}
	for name, until := range persisted {
		ch.Cooldowns().Set(name, until)
	}

	run, err := c.store.ActiveRun(ctx)
	if err != nil {
		return Report{}, err
	}
	resumed := run != nil
	if run == nil {
		items, err := c.store.BackfillCandidates(ctx, c.limit)
		if err != nil {
			return Report{}, fmt.Errorf("building backfill queue: %w", err)
		}
		run, err = c.store.CreateRun(ctx, c.newRunID(), items)
		if err != nil {
			return Report{}, err
		}
		c.log.Info("backfill run started", "run_id", run.ID, "items", run.Total)
	} else {
		c.log.Info("backfill run resumed", "run_id", run.ID, "position", run.Position, "total", run.Total)
	}
	log := c.log.With("run_id", run.ID)

	before := ch.Stats().Snapshot()
	status, err := c.drive(ctx, run, log)
	if err != nil {
		return Report{}, err
	}

	// Persist with a fresh context so an interrupted run still records state.
	saveCtx := context.WithoutCancel(ctx)
	if err := c.saveCooldowns(saveCtx); err != nil {
		log.Warn("failed to persist cooldowns", "error", err)
	}
	if err := c.store.FinishRun(saveCtx, run.ID, status); err != nil {
		return Report{}, err
	}

	final, err := c.store.GetRun(saveCtx, run.ID)
	if err != nil {
		return Report{}, err
	}
	if final == nil {
		return Report{}, fmt.Errorf("backfill run %s vanished", run.ID)
	}
	report := c.report(final, resumed, before)
	log.Info("backfill run finished", "status", report.Status, "processed", report.Processed,
		"resolved", report.Resolved, "errored", report.Errored)
	return report, nil
}

// drive processes batches from the run cursor and returns the final status.
func (c *Coordinator) drive(ctx context.Context, run *storage.Run, log *logger.Logger) (storage.RunStatus, error) {
	ch := c.engine.Chain()
	pos := run.Position

	for {
		if ctx.Err() != nil {
			return storage.RunInterrupted, nil
		}
		if ch.AllCoolingDown() {
			log.Warn("all providers cooling down, pausing run", "position", pos)
			return storage.RunCoolingDown, nil
		}

		items, err := c.store.QueueItems(ctx, run.ID, pos, c.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return storage.RunInterrupted, nil
			}
			return "", err
		}
		if len(items) == 0 {
			return storage.RunCompleted, nil
		}

		results := make([]itemResult, len(items))
		var g errgroup.Group
		g.SetLimit(c.workers)
		for i, item := range items {
			if item.Attempted {
				results[i] = itemSkipped
				continue
			}
			g.Go(func() error {
				if ctx.Err() != nil || ch.AllCoolingDown() {
					return nil
				}
				results[i] = c.process(ctx, item, log)
				return nil
			})
		}
		_ = g.Wait()

		saveCtx := context.WithoutCancel(ctx)
		var delta storage.RunCounters
		next := items[len(items)-1].Seq + 1
		for i, r := range results {
			if items[i].Attempted {
				continue
			}
			if r == itemDeferred {
				if items[i].Seq < next {
					next = items[i].Seq
				}
				continue
			}
			if err := c.store.MarkAttempted(saveCtx, run.ID, items[i].Seq); err != nil {
				return "", err
			}
			delta.Processed++
			switch r {
			case itemResolved:
				delta.Resolved++
			case itemUnresolved:
				delta.Unresolved++
			case itemErrored:
				delta.Errored++
			case itemSkipped:
				delta.Skipped++
			}
		}
		if err := c.store.AdvanceRun(saveCtx, run.ID, next, delta); err != nil {
			return "", err
		}
		if err := c.saveCooldowns(saveCtx); err != nil {
			log.Warn("failed to persist cooldowns", "error", err)
		}
		log.Debug("batch done", "position", next, "processed", delta.Processed, "resolved", delta.Resolved)
		pos = next
	}
}

// process handles one queue item. Items cut short by cancellation or by
// every provider cooling down are deferred.
func (c *Coordinator) process(ctx context.Context, item storage.QueueItem, log *logger.Logger) itemResult {
	var out engine.Outcome
	switch item.Kind {
	case storage.QueuePlaceholder:
		p, err := c.store.GetPaper(ctx, item.Key)
		if err != nil {
			return c.failed(ctx, item, err, log)
		}
		if p == nil || p.State != reference.StatePlaceholder || p.HasIdentifier() {
			return itemSkipped
		}
		out, err = c.engine.EnrichPlaceholder(ctx, item.Key)
		if err != nil {
			return c.failed(ctx, item, err, log)
		}

	case storage.QueueCitations:
		members, err := c.store.UnresolvedInGroup(ctx, item.Key)
		if err != nil {
			return c.failed(ctx, item, err, log)
		}
		if len(members) == 0 {
			return itemSkipped
		}
		out = c.engine.ResolveGroup(ctx, members).Outcome

	default:
		log.Warn("unknown queue item kind", "kind", item.Kind, "key", item.Key)
		return itemSkipped
	}

	switch out.Status {
	case engine.StatusResolved:
		return itemResolved
	case engine.StatusFailed:
		return c.failed(ctx, item, out.Err, log)
	}
	// An answer given while every provider is unavailable is not final.
	if ctx.Err() != nil || c.engine.Chain().AllCoolingDown() {
		return itemDeferred
	}
	if providers := c.engine.Chain().Providers(); len(providers) > 0 && len(out.Skipped) == len(providers) {
		return itemDeferred
	}
	return itemUnresolved
}

func (c *Coordinator) failed(ctx context.Context, item storage.QueueItem, err error, log *logger.Logger) itemResult {
	if ctx.Err() != nil {
		return itemDeferred
	}
	log.Warn("backfill item failed", "kind", item.Kind, "key", item.Key, "error", err)
	return itemErrored
}

func (c *Coordinator) saveCooldowns(ctx context.Context) error {
	now := c.now()
	for name, until := range c.engine.Chain().Cooldowns().Snapshot() {
		if !until.After(now) {
			continue
		}
		if err := c.store.SaveCooldown(ctx, name, until); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) report(run *storage.Run, resumed bool, before chain.Snapshot) Report {
	ch := c.engine.Chain()
	after := ch.Stats().Snapshot()
	now := c.now()

	providers := make(map[string]ProviderStatus)
	for _, name := range ch.Providers() {
		ps := ProviderStatus{Hits: after.Providers[name].Hits - before.Providers[name].Hits}
		if until, ok := ch.Cooldowns().Until(name); ok && until.After(now) {
			u := until
			ps.CoolingDownUntil = &u
		}
		providers[name] = ps
	}

	return Report{
		RunID:      run.ID,
		Status:     run.Status,
		Resumed:    resumed,
		Total:      run.Total,
		Position:   run.Position,
		Processed:  run.Counters.Processed,
		Resolved:   run.Counters.Resolved,
		Unresolved: run.Counters.Unresolved,
		Errored:    run.Counters.Errored,
		Skipped:    run.Counters.Skipped,
		Providers:  providers,
	}
}
