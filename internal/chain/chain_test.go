package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/matsen/citegraph/internal/provider"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/score"
)

var attentionAuthors = []string{"Ashish Vaswani", "Noam Shazeer", "Niki Parmar"}

func newNormalizer(t *testing.T) *score.Normalizer {
	t.Helper()
	n, err := score.NewNormalizer(nil)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func newChain(t *testing.T, providers []provider.Provider, opts ...Option) *Chain {
	t.Helper()
	c, err := New(providers, newNormalizer(t), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_UnknownScoreRange(t *testing.T) {
	p := &fakeProvider{name: "pubmed", caps: provider.CapSearch}
	_, err := New([]provider.Provider{p}, newNormalizer(t))
	if !errors.Is(err, score.ErrInvalidScoreKind) {
		t.Errorf("New() error = %v, want ErrInvalidScoreKind", err)
	}
}

func TestResolve_DOIAcceptedDespiteTitleMismatch(t *testing.T) {
	crossref := &fakeProvider{
		name: "crossref",
		caps: provider.CapDOI | provider.CapSearch,
		byID: map[string]provider.Candidate{
			"doi:10.1000/xyz": {DOI: "10.1000/xyz", Title: "A Completely Different Title"},
		},
	}
	c := newChain(t, []provider.Provider{crossref})

	res := c.Resolve(context.Background(), reference.Fragment{
		Title: "Attention is all you need",
		DOI:   "https://doi.org/10.1000/XYZ",
	})
	if res.Status != Resolved {
		t.Fatalf("Status = %s, want resolved", res.Status)
	}
	if res.Confidence != DefaultIdentifierConfidence {
		t.Errorf("Confidence = %v, want %v", res.Confidence, DefaultIdentifierConfidence)
	}
	if !res.Candidate.ByIdentifier || res.Source != "crossref" {
		t.Errorf("candidate = %+v, source %q", res.Candidate, res.Source)
	}
	if _, searches := crossref.calls(); searches != 0 {
		t.Errorf("searches = %d, want 0 after identifier hit", searches)
	}
}

func TestResolve_IdentifierFromRawText(t *testing.T) {
	s2 := &fakeProvider{
		name: "semantic_scholar",
		caps: provider.CapDOI | provider.CapArXiv | provider.CapSearch,
		byID: map[string]provider.Candidate{
			"arxiv:1706.03762": {ArXivID: "1706.03762", Title: "Attention Is All You Need"},
		},
	}
	c := newChain(t, []provider.Provider{s2})
	res := c.Resolve(context.Background(), reference.Fragment{Raw: "Vaswani et al. 2017. arXiv:1706.03762v5"})
	if res.Status != Resolved || res.Candidate.ArXivID != "1706.03762" {
		t.Errorf("Resolve() = %+v", res)
	}
}

func TestResolve_AttentionSearch(t *testing.T) {
	crossref := &fakeProvider{
		name: "crossref",
		caps: provider.CapDOI | provider.CapSearch,
		results: []provider.Candidate{
			{Title: "Attention Is Not All You Need", Authors: []string{"S. Jain"}, Year: 2019, RawScore: 80},
			{Title: "Attention Is All You Need", Authors: attentionAuthors, Year: 2017, DOI: "10.5555/3295222.3295349", RawScore: 121.7},
		},
	}
	openalex := &fakeProvider{name: "openalex", caps: provider.CapSearch}
	c := newChain(t, []provider.Provider{crossref, openalex})

	res := c.Resolve(context.Background(), reference.Fragment{
		Title:   "Attention is all you need",
		Authors: []string{"Vaswani et al."},
		Year:    2017,
	})
	if res.Status != Resolved {
		t.Fatalf("Status = %s, attempts %+v", res.Status, res.Attempts)
	}
	if res.Candidate.DOI != "10.5555/3295222.3295349" {
		t.Errorf("picked %+v", res.Candidate)
	}
	if res.Confidence < 0.99 {
		t.Errorf("Confidence = %v, want ~1.0", res.Confidence)
	}
	if _, searches := openalex.calls(); searches != 0 {
		t.Errorf("lower-priority provider queried %d times after acceptance", searches)
	}
}

func TestResolve_LowScoreFallsThrough(t *testing.T) {
	crossref := &fakeProvider{
		name:    "crossref",
		caps:    provider.CapSearch,
		results: []provider.Candidate{{Title: "Attention Is All You Need", Authors: attentionAuthors, Year: 2017, RawScore: 20}},
	}
	openalex := &fakeProvider{
		name:    "openalex",
		caps:    provider.CapSearch,
		results: []provider.Candidate{{Title: "Attention Is All You Need", Authors: attentionAuthors, Year: 2017, RawScore: 900}},
	}
	c := newChain(t, []provider.Provider{crossref, openalex})

	res := c.Resolve(context.Background(), reference.Fragment{Title: "Attention is all you need", Year: 2017})
	if res.Status != Resolved || res.Source != "openalex" {
		t.Fatalf("Resolve() = %+v", res)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Outcome != OutcomeRejected {
		t.Errorf("attempts = %+v", res.Attempts)
	}
}

func TestResolve_AllProvidersFailing(t *testing.T) {
	rateLimited := &fakeProvider{
		name: "crossref",
		caps: provider.CapDOI | provider.CapSearch,
		err:  &provider.RateLimitError{Provider: "crossref", RetryAfter: time.Minute},
	}
	notFound := &fakeProvider{
		name: "openalex",
		caps: provider.CapDOI | provider.CapSearch,
		err:  fmt.Errorf("openalex: %w", provider.ErrNotFound),
	}
	transient := &fakeProvider{
		name: "semantic_scholar",
		caps: provider.CapSearch,
		err:  fmt.Errorf("%w after 4 attempts: %w", provider.ErrNotFound, provider.ErrTransient),
	}
	stats, _ := NewStats(nil)
	c := newChain(t, []provider.Provider{rateLimited, notFound, transient}, WithStats(stats))

	res := c.Resolve(context.Background(), reference.Fragment{Title: "Obscure workshop paper", DOI: "10.1000/obscure"})
	if res.Status != Unresolved || res.Candidate != nil || res.Err != nil {
		t.Fatalf("Resolve() = %+v", res)
	}
	if !c.Cooldowns().Active("crossref", time.Now()) {
		t.Error("crossref should be cooling down")
	}
	// The DOI lookup put crossref into cooldown, so its search is skipped.
	if len(res.Skipped) != 1 || res.Skipped[0] != "crossref" {
		t.Errorf("Skipped = %v, want [crossref]", res.Skipped)
	}

	snap := stats.Snapshot()
	if snap.Attempted != 1 || snap.Unresolved != 1 || snap.Resolved != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Providers["crossref"].RateLimited != 1 {
		t.Errorf("crossref stats = %+v", snap.Providers["crossref"])
	}
	if snap.Providers["semantic_scholar"].Errors != 1 {
		t.Errorf("semantic_scholar stats = %+v", snap.Providers["semantic_scholar"])
	}
}

func TestResolve_CooldownSkipsProvider(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	crossref := &fakeProvider{
		name:    "crossref",
		caps:    provider.CapSearch,
		results: []provider.Candidate{{Title: "Deep Residual Learning", RawScore: 100}},
	}
	cd := NewCooldowns()
	cd.Set("crossref", now.Add(time.Minute))
	c := newChain(t, []provider.Provider{crossref}, WithCooldowns(cd), WithClock(func() time.Time { return now }))

	res := c.Resolve(context.Background(), reference.Fragment{Title: "Deep residual learning"})
	if res.Status != Unresolved {
		t.Errorf("Status = %s, want unresolved while cooling down", res.Status)
	}
	if _, searches := crossref.calls(); searches != 0 {
		t.Errorf("cooling provider called %d times", searches)
	}
	if !c.AllCoolingDown() {
		t.Error("AllCoolingDown() = false")
	}

	now = now.Add(2 * time.Minute)
	res = c.Resolve(context.Background(), reference.Fragment{Title: "Deep residual learning"})
	if res.Status != Resolved {
		t.Errorf("Status after cooldown = %s, want resolved", res.Status)
	}
}

func TestResolve_NoEvidence(t *testing.T) {
	p := &fakeProvider{name: "crossref", caps: provider.CapDOI | provider.CapSearch}
	c := newChain(t, []provider.Provider{p})
	res := c.Resolve(context.Background(), reference.Fragment{Raw: "ibid."})
	if res.Status != Unresolved {
		t.Errorf("Status = %s", res.Status)
	}
	if l, s := p.calls(); l+s != 0 {
		t.Errorf("provider called %d times for a fragment with no evidence", l+s)
	}
}

func TestResolve_ContextCanceled(t *testing.T) {
	p := &fakeProvider{name: "crossref", caps: provider.CapSearch}
	c := newChain(t, []provider.Provider{p})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Resolve(ctx, reference.Fragment{Title: "x"})
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if snap := c.Stats().Snapshot(); snap.Errored != 1 {
		t.Errorf("Errored = %d, want 1", snap.Errored)
	}
}

func TestCooldowns(t *testing.T) {
	now := time.Now()
	cd := NewCooldowns()
	cd.Set("a", now.Add(time.Minute))
	cd.Set("a", now.Add(time.Second)) // never shortens
	if until, _ := cd.Until("a"); !until.Equal(now.Add(time.Minute)) {
		t.Errorf("Until(a) = %v", until)
	}
	if cd.AllCooling([]string{"a", "b"}, now) {
		t.Error("AllCooling should be false while b is available")
	}
	cd.Set("b", now.Add(30*time.Second))
	if !cd.AllCooling([]string{"a", "b"}, now) {
		t.Error("AllCooling should be true")
	}
	if next, ok := cd.NextExpiry(now); !ok || !next.Equal(now.Add(30*time.Second)) {
		t.Errorf("NextExpiry = %v, %v", next, ok)
	}
	if got := cd.Cooling(now.Add(45 * time.Second)); len(got) != 1 || got[0] != "a" {
		t.Errorf("Cooling = %v", got)
	}
	if cd.AllCooling(nil, now) {
		t.Error("AllCooling(nil) should be false")
	}
}

func TestResolve_RateLimitWithoutHintUsesDefaultCooldown(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	crossref := &fakeProvider{
		name: "crossref",
		caps: provider.CapSearch,
		err:  &provider.RateLimitError{Provider: "crossref"},
	}
	c := newChain(t, []provider.Provider{crossref},
		WithDefaultCooldown(5*time.Minute), WithClock(func() time.Time { return now }))

	c.Resolve(context.Background(), reference.Fragment{Title: "Deep residual learning"})
	until, ok := c.Cooldowns().Until("crossref")
	if !ok || !until.Equal(now.Add(5*time.Minute)) {
		t.Errorf("Until() = %v, %v; want %v", until, ok, now.Add(5*time.Minute))
	}
}
