// Package chain resolves citation fragments against an ordered list of
// metadata providers.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/matsen/citegraph/internal/logger"
	"github.com/matsen/citegraph/internal/match"
	"github.com/matsen/citegraph/internal/provider"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/score"
)

// Status is the outcome of resolving one fragment.
type Status string

const (
	Resolved   Status = "resolved"
	Unresolved Status = "unresolved"
)

const (
	DefaultAcceptanceThreshold  = 0.70
	DefaultIdentifierConfidence = 0.95
)

// Attempt records one provider call made while resolving a fragment.
type Attempt struct {
	Provider   string  `json:"provider"`
	Identifier string  `json:"identifier,omitempty"` // Set for identifier lookups
	Outcome    string  `json:"outcome"`
	Score      float64 `json:"score,omitempty"` // Best composite score, search only
	Err        string  `json:"error,omitempty"`
}

// Result is the outcome of Chain.Resolve.
type Result struct {
	Status     Status              `json:"status"`
	Candidate  *provider.Candidate `json:"candidate,omitempty"`
	Confidence float64             `json:"confidence"`
	Source     string              `json:"source,omitempty"`
	Skipped    []string            `json:"skipped,omitempty"` // Providers skipped while cooling down
	Attempts   []Attempt           `json:"attempts,omitempty"`

	// Err is set when resolution stopped early, e.g. on context cancellation.
	Err error `json:"-"`
}

// Chain tries providers in priority order. Safe for concurrent use.
type Chain struct {
	providers  []provider.Provider
	normalizer *score.Normalizer
	matcher    *match.Matcher
	cooldowns  *Cooldowns
	stats      *Stats
	log        *logger.Logger
	now        func() time.Time

	acceptance      float64
	identifierHit   float64
	defaultCooldown time.Duration
}

// Option configures a Chain.
type Option func(*Chain)

// WithAcceptanceThreshold sets the minimum composite score to accept.
func WithAcceptanceThreshold(v float64) Option {
	return func(c *Chain) { c.acceptance = v }
}

// WithIdentifierConfidence sets the confidence assigned to identifier hits.
func WithIdentifierConfidence(v float64) Option {
	return func(c *Chain) { c.identifierHit = v }
}

// WithDefaultCooldown sets the pause applied when a rate-limit response
// carries no usable retry hint.
func WithDefaultCooldown(d time.Duration) Option {
	return func(c *Chain) { c.defaultCooldown = d }
}

// WithMatcher sets the fuzzy matcher used to validate search candidates.
func WithMatcher(m *match.Matcher) Option {
	return func(c *Chain) { c.matcher = m }
}

// WithCooldowns shares a cooldown tracker with other components.
func WithCooldowns(cd *Cooldowns) Option {
	return func(c *Chain) { c.cooldowns = cd }
}

// WithStats shares a statistics collector.
func WithStats(s *Stats) Option {
	return func(c *Chain) { c.stats = s }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Chain) { c.log = l }
}

// WithClock overrides time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// New builds a chain over providers in the given priority order. Every
// provider must have a declared score range; a missing one is a
// configuration error wrapping score.ErrInvalidScoreKind.
func New(providers []provider.Provider, normalizer *score.Normalizer, opts ...Option) (*Chain, error) {
	if normalizer == nil {
		return nil, errors.New("chain: nil score normalizer")
	}
	c := &Chain{
		providers:       providers,
		normalizer:      normalizer,
		acceptance:      DefaultAcceptanceThreshold,
		identifierHit:   DefaultIdentifierConfidence,
		defaultCooldown: provider.DefaultRetryAfter,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.matcher == nil {
		c.matcher = match.New(match.DefaultWeights())
	}
	if c.cooldowns == nil {
		c.cooldowns = NewCooldowns()
	}
	if c.stats == nil {
		s, err := NewStats(nil)
		if err != nil {
			return nil, err
		}
		c.stats = s
	}
	c.log = logger.OrNop(c.log).With("component", "chain")

	seen := make(map[string]bool)
	for _, p := range providers {
		if seen[p.Name()] {
			return nil, fmt.Errorf("chain: provider %q listed twice", p.Name())
		}
		seen[p.Name()] = true
		if !normalizer.Known(p.Name()) {
			return nil, fmt.Errorf("chain: %w: no score range for provider %q", score.ErrInvalidScoreKind, p.Name())
		}
	}
	if c.acceptance <= 0 || c.acceptance > 1 || c.identifierHit <= 0 || c.identifierHit > 1 {
		return nil, fmt.Errorf("chain: thresholds must be in (0, 1]")
	}
	return c, nil
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Cooldowns returns the shared cooldown tracker.
func (c *Chain) Cooldowns() *Cooldowns { return c.cooldowns }

// Stats returns the statistics collector.
func (c *Chain) Stats() *Stats { return c.stats }

// AllCoolingDown reports whether every provider is currently cooling down.
func (c *Chain) AllCoolingDown() bool {
	return c.cooldowns.AllCooling(c.Providers(), c.now())
}

// Resolve maps a fragment to a canonical record. Provider errors never
// abort the chain; a rate-limited provider is put into cooldown and skipped
// by later resolutions until its deadline passes.
func (c *Chain) Resolve(ctx context.Context, f reference.Fragment) Result {
	c.stats.recordAttempt()
	r := c.resolve(ctx, f)
	if r.Err != nil {
		c.stats.RecordFailure()
	} else {
		c.stats.recordStatus(r.Status)
	}
	return r
}

func (c *Chain) resolve(ctx context.Context, f reference.Fragment) Result {
	res := Result{Status: Unresolved}
	ids := f.Identifiers()
	title := strings.TrimSpace(f.Title)
	if len(ids) == 0 && title == "" {
		return res
	}
	skipped := make(map[string]bool)

	// Identifier lookups are trusted without fuzzy validation.
	for _, id := range ids {
		for _, p := range c.providers {
			if !p.Capabilities().Supports(id) {
				continue
			}
			if ctx.Err() != nil {
				res.Err = ctx.Err()
				return res
			}
			if c.skipIfCooling(p.Name(), skipped, &res) {
				continue
			}

			cand, err := p.LookupByIdentifier(ctx, id)
			att := Attempt{Provider: p.Name(), Identifier: id.String()}
			if err != nil {
				c.recordError(p.Name(), err, &att)
				res.Attempts = append(res.Attempts, att)
				continue
			}
			att.Outcome = OutcomeHit
			res.Attempts = append(res.Attempts, att)
			c.stats.recordCall(p.Name(), OutcomeHit)

			cand.Source = p.Name()
			cand.ByIdentifier = true
			cand.Confidence = c.identifierHit
			res.accept(cand)
			c.log.Debug("resolved by identifier", "provider", p.Name(), "identifier", id.String())
			return res
		}
	}

	if title == "" {
		return res
	}

	q := provider.Query{Title: title, Authors: f.Authors, Year: f.Year}
	want := match.Fields{Title: title, Authors: f.Authors, Year: f.Year}
	for _, p := range c.providers {
		if !p.Capabilities().Has(provider.CapSearch) {
			continue
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if c.skipIfCooling(p.Name(), skipped, &res) {
			continue
		}

		cands, err := p.Search(ctx, q)
		att := Attempt{Provider: p.Name()}
		if err != nil {
			c.recordError(p.Name(), err, &att)
			res.Attempts = append(res.Attempts, att)
			continue
		}

		best, bestScore, err := c.best(p.Name(), want, cands)
		if err != nil {
			// Unreachable after New's validation unless ranges change underneath.
			res.Err = err
			return res
		}
		att.Score = bestScore
		switch {
		case best == nil:
			att.Outcome = OutcomeMiss
		case bestScore >= c.acceptance:
			att.Outcome = OutcomeHit
		default:
			att.Outcome = OutcomeRejected
		}
		res.Attempts = append(res.Attempts, att)
		c.stats.recordCall(p.Name(), att.Outcome)

		if att.Outcome == OutcomeHit {
			best.Source = p.Name()
			best.Confidence = bestScore
			res.accept(best)
			return res
		}
	}
	return res
}

// best returns the highest composite-scoring candidate from one provider.
func (c *Chain) best(name string, want match.Fields, cands []provider.Candidate) (*provider.Candidate, float64, error) {
	var best *provider.Candidate
	bestScore := -1.0
	for i := range cands {
		cand := &cands[i]
		norm, err := c.normalizer.Normalize(name, cand.RawScore)
		if err != nil {
			return nil, 0, err
		}
		fuzzy := c.matcher.Similarity(want, match.Fields{Title: cand.Title, Authors: cand.Authors, Year: cand.Year})
		composite := math.Sqrt(norm * fuzzy)
		if composite > bestScore {
			best, bestScore = cand, composite
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

func (c *Chain) skipIfCooling(name string, skipped map[string]bool, res *Result) bool {
	if !c.cooldowns.Active(name, c.now()) {
		return false
	}
	if !skipped[name] {
		skipped[name] = true
		res.Skipped = append(res.Skipped, name)
		c.stats.recordCall(name, OutcomeSkipped)
	}
	return true
}

// recordError classifies a provider error, updating cooldowns and stats.
func (c *Chain) recordError(name string, err error, att *Attempt) {
	att.Err = err.Error()
	switch {
	case provider.IsRateLimited(err):
		att.Outcome = OutcomeRateLimited
		wait, ok := provider.RetryAfter(err)
		if !ok || wait <= 0 {
			wait = c.defaultCooldown
		}
		until := c.now().Add(wait)
		c.cooldowns.Set(name, until)
		c.log.Warn("provider rate limited, cooling down", "provider", name, "until", until.Format(time.RFC3339))
	case provider.IsTransient(err):
		att.Outcome = OutcomeError
		c.log.Debug("provider transient failure", "provider", name, "error", err)
	case provider.IsNotFound(err), errors.Is(err, provider.ErrUnsupported):
		att.Outcome = OutcomeMiss
	default:
		att.Outcome = OutcomeError
		c.log.Warn("provider error", "provider", name, "error", err)
	}
	c.stats.recordCall(name, att.Outcome)
}

func (r *Result) accept(cand *provider.Candidate) {
	r.Status = Resolved
	r.Candidate = cand
	r.Confidence = cand.Confidence
	r.Source = cand.Source
}
