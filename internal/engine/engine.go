// Package engine ingests citation fragments: it resolves them through the
// provider chain, settles node identity and writes nodes and edges to the
// graph store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/matsen/citegraph/internal/chain"
	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/identity"
	"github.com/matsen/citegraph/internal/logger"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/storage"
)

// DefaultWorkers bounds concurrent fragment resolutions per call.
const DefaultWorkers = 8

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("engine closed")

// Outcome statuses.
const (
	StatusResolved   = "resolved"
	StatusUnresolved = "unresolved"
	StatusFailed     = "failed"
)

// Outcome reports what happened to one fragment.
type Outcome struct {
	Order       int      `json:"order"`
	Fingerprint string   `json:"fingerprint"`
	Status      string   `json:"status"`
	PaperID     string   `json:"paper_id,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Source      string   `json:"source,omitempty"`
	Created     bool     `json:"created,omitempty"`  // A new cited node was allocated
	NewEdge     bool     `json:"new_edge,omitempty"` // The edge did not exist before
	Flagged     bool     `json:"flagged,omitempty"`  // Dedup decision awaits review
	Skipped     []string `json:"skipped,omitempty"`  // Providers skipped while cooling down
	Err         error    `json:"-"`
	Error       string   `json:"error,omitempty"`
}

func (o *Outcome) fail(err error) {
	o.Status = StatusFailed
	o.Err = err
	o.Error = err.Error()
}

// Mirror receives every stored paper and edge.
type Mirror interface {
	SyncPapers(ctx context.Context, papers []reference.Paper) error
	SyncCitations(ctx context.Context, citations []edge.Citation) error
}

// Engine is safe for concurrent use.
type Engine struct {
	store   *storage.DB
	chain   *chain.Chain
	ids     *identity.Resolver
	mirror  Mirror
	workers int
	log     *logger.Logger

	mu       sync.Mutex
	closed   bool
	pending  sync.WaitGroup
	jobSlots chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithIdentity sets the identity resolver. By default one is built over the store.
func WithIdentity(r *identity.Resolver) Option {
	return func(e *Engine) { e.ids = r }
}

// WithMirror sets a graph mirror.
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New builds an engine over a store and a resolution chain.
func New(store *storage.DB, ch *chain.Chain, opts ...Option) (*Engine, error) {
	if store == nil || ch == nil {
		return nil, errors.New("engine: store and chain are required")
	}
	e := &Engine{store: store, chain: ch, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers <= 0 {
		return nil, fmt.Errorf("engine: workers must be positive, got %d", e.workers)
	}
	e.log = logger.OrNop(e.log).With("component", "engine")
	if e.ids == nil {
		e.ids = identity.New(store, identity.WithLogger(e.log))
	}
	e.jobSlots = make(chan struct{}, e.workers)
	return e, nil
}

// Store returns the underlying graph store.
func (e *Engine) Store() *storage.DB { return e.store }

// Chain returns the resolution chain.
func (e *Engine) Chain() *chain.Chain { return e.chain }

// Workers returns the worker pool size.
func (e *Engine) Workers() int { return e.workers }

// ResolveAndStore establishes the citing paper, then resolves and stores
// every fragment. Only a failure to establish the citing node fails the
// call; per-fragment failures are reported in the outcomes, which are in
// input order.
func (e *Engine) ResolveAndStore(ctx context.Context, citing reference.CitingPaper, fragments []reference.Fragment) ([]Outcome, error) {
	d, err := e.ids.Upsert(ctx, citing.Paper(), reference.StatePlaceholder)
	if err != nil {
		return nil, fmt.Errorf("establishing citing paper: %w", err)
	}
	e.syncPaper(ctx, d.Paper)
	log := e.log.With("citing_id", d.PaperID)
	log.Debug("citing paper established", "matched_by", d.MatchedBy, "fragments", len(fragments))

	outcomes := make([]Outcome, len(fragments))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, f := range fragments {
		if f.Order == 0 {
			f.Order = i + 1
		}
		g.Go(func() error {
			outcomes[i] = e.storeFragment(ctx, d.PaperID, f)
			return nil
		})
	}
	_ = g.Wait()

	var resolved, failed int
	for _, o := range outcomes {
		switch o.Status {
		case StatusResolved:
			resolved++
		case StatusFailed:
			failed++
		}
	}
	log.Info("ingested citations", "total", len(fragments), "resolved", resolved, "failed", failed)
	return outcomes, nil
}

// storeFragment resolves one fragment and writes its node and edge. The
// edge is written last, in one statement.
func (e *Engine) storeFragment(ctx context.Context, citingID string, f reference.Fragment) Outcome {
	c := edge.FromFragment(citingID, f)
	out := Outcome{Order: c.Order, Fingerprint: c.Fingerprint, Status: StatusUnresolved}

	res := e.chain.Resolve(ctx, f)
	out.Skipped = res.Skipped
	if res.Err != nil {
		out.fail(res.Err)
		return out
	}

	var cited *reference.Paper
	if res.Status == chain.Resolved {
		d, err := e.ids.Upsert(ctx, candidatePaper(res, f), reference.StatePlaceholder)
		if err != nil {
			e.chain.Stats().RecordFailure()
			out.fail(fmt.Errorf("storing cited paper: %w", err))
			return out
		}
		if d.PaperID == citingID {
			out.fail(edge.ErrSelfCitation)
			return out
		}
		c.CitedID = d.PaperID
		c.Confidence = res.Confidence
		c.Source = res.Source
		cited = &d.Paper
		out.Status = StatusResolved
		out.PaperID = d.PaperID
		out.Confidence = res.Confidence
		out.Source = res.Source
		out.Created = d.Created
		out.Flagged = d.Flagged
	}

	created, err := e.store.AddCitation(ctx, c)
	if err != nil {
		e.chain.Stats().RecordFailure()
		out.fail(fmt.Errorf("storing citation: %w", err))
		return out
	}
	out.NewEdge = created

	if cited != nil {
		e.syncPaper(ctx, *cited)
		e.syncCitation(ctx, c)
	}
	return out
}

// candidatePaper builds the node record for an accepted candidate, filling
// gaps from the fragment.
func candidatePaper(res chain.Result, f reference.Fragment) reference.Paper {
	p := res.Candidate.Paper()
	if strings.TrimSpace(p.Title) == "" {
		p.Title = strings.TrimSpace(f.Title)
	}
	if len(p.Authors) == 0 {
		p.Authors = reference.ParseAuthors(f.Authors)
	}
	if p.Published.Year == 0 {
		p.Published.Year = f.Year
	}
	if p.Venue == "" {
		p.Venue = f.Venue
	}
	return p
}

// Promote handles the "citing document fully processed" event: the node
// keeps its id and edges and gains its full record.
func (e *Engine) Promote(ctx context.Context, citing reference.CitingPaper, fields storage.PromotionFields) (reference.Paper, error) {
	d, err := e.ids.Upsert(ctx, citing.Paper(), reference.StatePlaceholder)
	if err != nil {
		return reference.Paper{}, fmt.Errorf("locating paper: %w", err)
	}

	unlock := e.ids.Locks().Lock(identity.LockKeys(fields.Paper(d.PaperID))...)
	p, err := e.store.Promote(ctx, d.PaperID, fields)
	unlock()
	if err != nil {
		return reference.Paper{}, err
	}
	e.syncPaper(ctx, p)
	e.log.Info("paper promoted", "paper_id", p.ID)
	return p, nil
}

// Citing returns the outgoing citations of a paper.
func (e *Engine) Citing(ctx context.Context, paperID string) ([]edge.Citation, error) {
	return e.store.Citing(ctx, paperID)
}

// CitedBy returns the incoming citations of a paper.
func (e *Engine) CitedBy(ctx context.Context, paperID string) ([]edge.Citation, error) {
	return e.store.CitedBy(ctx, paperID)
}

// UnresolvedHighDegree returns placeholders cited by at least minCitedBy papers.
func (e *Engine) UnresolvedHighDegree(ctx context.Context, minCitedBy, limit int) ([]storage.PaperDegree, error) {
	return e.store.UnresolvedHighDegree(ctx, minCitedBy, limit)
}

// Stats returns resolution statistics.
func (e *Engine) Stats() chain.Snapshot {
	return e.chain.Stats().Snapshot()
}

func (e *Engine) syncPaper(ctx context.Context, p reference.Paper) {
	if e.mirror == nil || p.ID == "" {
		return
	}
	if err := e.mirror.SyncPapers(ctx, []reference.Paper{p}); err != nil {
		e.log.Warn("mirror paper sync failed", "paper_id", p.ID, "error", err)
	}
}

func (e *Engine) syncCitation(ctx context.Context, c edge.Citation) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.SyncCitations(ctx, []edge.Citation{c}); err != nil {
		e.log.Warn("mirror citation sync failed", "citing_id", c.CitingID, "error", err)
	}
}
