// Package identity decides which graph node a paper record belongs to,
// creating nodes only when no existing one can be proven to be the same work.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matsen/citegraph/internal/logger"
	"github.com/matsen/citegraph/internal/match"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/storage"
)

// How a record was matched to its node.
const (
	MatchID    = "id"
	MatchDOI   = "doi"
	MatchArXiv = "arxiv"
	MatchFuzzy = "fuzzy"
	MatchNew   = "new"
)

const (
	DefaultDedupThreshold   = 0.90
	DefaultReviewThreshold  = 0.70
	DefaultReviewRecurrence = 3
	defaultCandidateLimit   = 10
)

// Store is the subset of the graph store the resolver needs.
type Store interface {
	GetPaper(ctx context.Context, id string) (*reference.Paper, error)
	FindByDOI(ctx context.Context, doi string) (*reference.Paper, error)
	FindByArXivID(ctx context.Context, arxivID string) (*reference.Paper, error)
	FindTitleCandidates(ctx context.Context, title string, limit int) ([]reference.Paper, error)
	UpsertPaper(ctx context.Context, p reference.Paper) (reference.Paper, bool, error)
	AddReviewFlag(ctx context.Context, f storage.ReviewFlag) (int, error)
}

// Decision describes where a record landed.
type Decision struct {
	PaperID   string          `json:"paper_id"`
	Created   bool            `json:"created"`
	MatchedBy string          `json:"matched_by"`
	Score     float64         `json:"score,omitempty"` // Best fuzzy score seen
	Flagged   bool            `json:"flagged,omitempty"`
	Paper     reference.Paper `json:"-"`
}

// Resolver maps paper records to graph nodes. Safe for concurrent use.
type Resolver struct {
	store          Store
	locks          *Locks
	matcher        *match.Matcher
	dedup          float64
	review         float64
	recurrence     int
	candidateLimit int
	minDice        float64
	newID          func() string
	log            *logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDedupThreshold sets the fuzzy score at which two records are the same work.
func WithDedupThreshold(v float64) Option {
	return func(r *Resolver) { r.dedup = v }
}

// WithReviewThreshold sets the lower bound of near misses that get flagged.
func WithReviewThreshold(v float64) Option {
	return func(r *Resolver) { r.review = v }
}

// WithReviewRecurrence sets how many flags on one node trigger a warning.
func WithReviewRecurrence(n int) Option {
	return func(r *Resolver) { r.recurrence = n }
}

// WithMatcher sets the fuzzy matcher.
func WithMatcher(m *match.Matcher) Option {
	return func(r *Resolver) { r.matcher = m }
}

// WithLocks shares a lock table with other components.
func WithLocks(l *Locks) Option {
	return func(r *Resolver) { r.locks = l }
}

// WithIDGenerator overrides node id allocation.
func WithIDGenerator(f func() string) Option {
	return func(r *Resolver) { r.newID = f }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// New creates a Resolver over store.
func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:          store,
		locks:          NewLocks(),
		matcher:        match.New(match.DefaultWeights()),
		dedup:          DefaultDedupThreshold,
		review:         DefaultReviewThreshold,
		recurrence:     DefaultReviewRecurrence,
		candidateLimit: defaultCandidateLimit,
		newID:          NewPaperID,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.minDice = r.matcher.MinTitleSimilarity(r.dedup)
	r.log = logger.OrNop(r.log).With("component", "identity")
	return r
}

// NewPaperID allocates a fresh node id.
func NewPaperID() string {
	return "p_" + uuid.NewString()
}

// Locks returns the resolver's lock table.
func (r *Resolver) Locks() *Locks { return r.locks }

// Upsert stores p with the given state on the node it belongs to, creating
// one if needed. Lookup order: id, DOI, arXiv id, fuzzy title match.
// A storage identity conflict is retried once with a fresh lookup.
//
// Besides its identifiers, a record locks the title blocking keys of
// BlockKeys, so two records that could fuzzy-match never look up and insert
// at the same time.
func (r *Resolver) Upsert(ctx context.Context, p reference.Paper, state reference.State) (Decision, error) {
	p.Normalize()
	if state.Valid() {
		p.State = state
	} else if !p.State.Valid() {
		p.State = reference.StatePlaceholder
	}
	if p.ID == "" && !p.HasIdentifier() && match.TitleKey(p.Title) == "" {
		return Decision{}, errors.New("identity: record has no id, identifier or title")
	}

	keys := append(LockKeys(p), BlockKeys(p.Title, r.minDice)...)
	unlock := r.locks.Lock(keys...)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		d, err := r.upsertLocked(ctx, p)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, storage.ErrIdentityConflict) {
			return Decision{}, err
		}
		lastErr = err
		r.log.Debug("identity conflict", "title", p.Title, "attempt", attempt+1, "error", err)
	}
	return Decision{}, lastErr
}

// LockKeys returns the identity keys under which mutations of p serialize.
func LockKeys(p reference.Paper) []string {
	var keys []string
	if p.ID != "" {
		keys = append(keys, "id:"+p.ID)
	}
	for _, id := range p.Identifiers() {
		keys = append(keys, id.LockKey())
	}
	if tk := match.TitleKey(p.Title); tk != "" {
		keys = append(keys, "title:"+tk)
	}
	return keys
}

func (r *Resolver) upsertLocked(ctx context.Context, p reference.Paper) (Decision, error) {
	if p.ID != "" {
		existing, err := r.store.GetPaper(ctx, p.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("looking up %s: %w", p.ID, err)
		}
		if existing != nil {
			return r.merge(ctx, *existing, p, MatchID, 1)
		}
	}

	if p.DOI != "" {
		existing, err := r.store.FindByDOI(ctx, p.DOI)
		if err != nil {
			return Decision{}, fmt.Errorf("looking up DOI %s: %w", p.DOI, err)
		}
		if existing != nil {
			return r.merge(ctx, *existing, p, MatchDOI, 1)
		}
	}
	if p.ArXivID != "" {
		existing, err := r.store.FindByArXivID(ctx, p.ArXivID)
		if err != nil {
			return Decision{}, fmt.Errorf("looking up arXiv %s: %w", p.ArXivID, err)
		}
		if existing != nil {
			return r.merge(ctx, *existing, p, MatchArXiv, 1)
		}
	}

	best, score, err := r.bestFuzzy(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	if best != nil && score >= r.dedup {
		return r.merge(ctx, *best, p, MatchFuzzy, score)
	}

	if p.ID == "" {
		p.ID = r.newID()
	}
	stored, created, err := r.store.UpsertPaper(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{PaperID: stored.ID, Created: created, MatchedBy: MatchNew, Score: score, Paper: stored}

	if best != nil && score >= r.review {
		d.Flagged = r.flag(ctx, best.ID, stored.ID, score, "near-miss title match")
	}
	return d, nil
}

// merge folds p into existing. Identifiers on p that already belong to a
// third node are dropped and the pair is flagged instead.
func (r *Resolver) merge(ctx context.Context, existing, p reference.Paper, matchedBy string, score float64) (Decision, error) {
	incoming := p
	incoming.ID = existing.ID
	flagged := false

	if incoming.DOI != "" && existing.DOI == "" {
		other, err := r.store.FindByDOI(ctx, incoming.DOI)
		if err != nil {
			return Decision{}, err
		}
		if other != nil && other.ID != existing.ID {
			flagged = r.flag(ctx, other.ID, existing.ID, score, "DOI "+incoming.DOI+" held by another node")
			incoming.DOI = ""
		}
	}
	if incoming.ArXivID != "" && existing.ArXivID == "" {
		other, err := r.store.FindByArXivID(ctx, incoming.ArXivID)
		if err != nil {
			return Decision{}, err
		}
		if other != nil && other.ID != existing.ID {
			flagged = r.flag(ctx, other.ID, existing.ID, score, "arXiv "+incoming.ArXivID+" held by another node") || flagged
			incoming.ArXivID = ""
		}
	}

	stored, _, err := r.store.UpsertPaper(ctx, incoming)
	if err != nil {
		return Decision{}, err
	}
	return Decision{PaperID: stored.ID, MatchedBy: matchedBy, Score: score, Flagged: flagged, Paper: stored}, nil
}

// bestFuzzy returns the stored paper most similar to p. Candidates whose
// identifiers contradict p's are never considered.
func (r *Resolver) bestFuzzy(ctx context.Context, p reference.Paper) (*reference.Paper, float64, error) {
	if match.TitleKey(p.Title) == "" {
		return nil, 0, nil
	}
	cands, err := r.store.FindTitleCandidates(ctx, p.Title, r.candidateLimit)
	if err != nil {
		return nil, 0, err
	}

	want := Fields(p)
	var best *reference.Paper
	var bestScore float64
	for i := range cands {
		c := &cands[i]
		if contradicts(p, *c) {
			continue
		}
		if s := r.matcher.Similarity(want, Fields(*c)); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore, nil
}

// flag records a review flag and reports whether it was stored.
func (r *Resolver) flag(ctx context.Context, existingID, newID string, score float64, reason string) bool {
	n, err := r.store.AddReviewFlag(ctx, storage.ReviewFlag{
		ExistingID: existingID,
		NewID:      newID,
		Score:      score,
		Reason:     reason,
	})
	if err != nil {
		r.log.Warn("failed to record review flag", "existing_id", existingID, "new_id", newID, "error", err)
		return false
	}
	r.log.Info("flagged for review", "existing_id", existingID, "new_id", newID, "score", score, "reason", reason)
	if r.recurrence > 0 && n >= r.recurrence {
		r.log.Warn("node repeatedly flagged for review", "paper_id", existingID, "flags", n)
	}
	return true
}

// Fields extracts the fuzzy-match fields of a paper.
func Fields(p reference.Paper) match.Fields {
	return match.Fields{Title: p.Title, Authors: p.AuthorNames(), Year: p.Published.Year}
}

func contradicts(a, b reference.Paper) bool {
	if a.DOI != "" && b.DOI != "" && a.DOI != b.DOI {
		return true
	}
	return a.ArXivID != "" && b.ArXivID != "" && a.ArXivID != b.ArXivID
}
