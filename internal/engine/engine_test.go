package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/matsen/citegraph/internal/chain"
	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/provider"
	"github.com/matsen/citegraph/internal/provider/providertest"
	"github.com/matsen/citegraph/internal/reference"
	"github.com/matsen/citegraph/internal/score"
	"github.com/matsen/citegraph/internal/storage"
)

var attention = provider.Candidate{
	DOI:      "10.5555/3295222.3295349",
	Title:    "Attention Is All You Need",
	Authors:  []string{"Ashish Vaswani", "Noam Shazeer", "Niki Parmar"},
	Year:     2017,
	Venue:    "NeurIPS",
	RawScore: 90,
}

var natoWords = []string{
	"Alfa", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot",
	"Golf", "Hotel", "India", "Juliett", "Kilo", "Lima",
}

type fakeMirror struct {
	mu        sync.Mutex
	papers    []reference.Paper
	citations []edge.Citation
}

func (m *fakeMirror) SyncPapers(ctx context.Context, papers []reference.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.papers = append(m.papers, papers...)
	return nil
}

func (m *fakeMirror) SyncCitations(ctx context.Context, citations []edge.Citation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.citations = append(m.citations, citations...)
	return nil
}

func newEngine(t *testing.T, providers []provider.Provider, opts ...Option) (*Engine, *storage.DB) {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	norm, err := score.NewNormalizer(nil)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := chain.New(providers, norm)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}
	e, err := New(db, ch, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e, db
}

func citingPaper(word string) reference.CitingPaper {
	return reference.CitingPaper{Title: word, Authors: []string{"Jane Doe"}, Year: 2024}
}

func attentionFragment() reference.Fragment {
	return reference.Fragment{
		Raw:     "[12] A. Vaswani et al. Attention is all you need. NeurIPS 2017.",
		Title:   "Attention is all you need",
		Authors: []string{"Vaswani, A."},
		Year:    2017,
		Order:   12,
	}
}

func TestResolveAndStore_AttentionScenario(t *testing.T) {
	crossref := providertest.New("crossref")
	crossref.SetResults(attention)
	mirror := &fakeMirror{}
	e, db := newEngine(t, []provider.Provider{crossref}, WithMirror(mirror))
	ctx := context.Background()

	out, err := e.ResolveAndStore(ctx, citingPaper("Alfa"), []reference.Fragment{attentionFragment()})
	if err != nil {
		t.Fatalf("ResolveAndStore() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d outcomes", len(out))
	}
	o := out[0]
	if o.Status != StatusResolved || o.Source != "crossref" || !o.Created || !o.NewEdge {
		t.Errorf("outcome = %+v", o)
	}
	if o.Confidence < chain.DefaultAcceptanceThreshold {
		t.Errorf("Confidence = %v", o.Confidence)
	}
	if o.Order != 12 {
		t.Errorf("Order = %d, want 12", o.Order)
	}

	cited, err := db.FindByDOI(ctx, attention.DOI)
	if err != nil || cited == nil {
		t.Fatalf("FindByDOI() = %v, %v", cited, err)
	}
	if cited.ID != o.PaperID || cited.State != reference.StatePlaceholder {
		t.Errorf("cited node = %+v", cited)
	}

	inbound, _ := e.CitedBy(ctx, cited.ID)
	if len(inbound) != 1 || inbound[0].Extracted.Title != "Attention is all you need" {
		t.Errorf("CitedBy() = %+v", inbound)
	}

	if len(mirror.citations) != 1 || len(mirror.papers) < 2 {
		t.Errorf("mirror got %d papers, %d citations", len(mirror.papers), len(mirror.citations))
	}

	stats := e.Stats()
	if stats.Attempted != 1 || stats.Resolved != 1 || stats.Providers["crossref"].Hits != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestResolveAndStore_Idempotent(t *testing.T) {
	crossref := providertest.New("crossref")
	crossref.SetResults(attention)
	e, db := newEngine(t, []provider.Provider{crossref})
	ctx := context.Background()

	frags := []reference.Fragment{attentionFragment()}
	first, err := e.ResolveAndStore(ctx, citingPaper("Alfa"), frags)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.ResolveAndStore(ctx, citingPaper("Alfa"), frags)
	if err != nil {
		t.Fatal(err)
	}

	if second[0].PaperID != first[0].PaperID || second[0].Created || second[0].NewEdge {
		t.Errorf("second run = %+v, first = %+v", second[0], first[0])
	}
	counts, _ := db.CountPapers(ctx)
	if counts[reference.StatePlaceholder] != 2 {
		t.Errorf("placeholders = %d, want 2", counts[reference.StatePlaceholder])
	}
	cites, _ := db.CountCitations(ctx)
	if cites.Total != 1 {
		t.Errorf("citations = %d, want 1", cites.Total)
	}
}

func TestResolveAndStore_AllProvidersFailing(t *testing.T) {
	crossref := providertest.New("crossref")
	crossref.SetErr(fmt.Errorf("boom: %w", provider.ErrTransient))
	arxiv := providertest.New("arxiv")
	arxiv.SetErr(fmt.Errorf("nope: %w", provider.ErrNotFound))
	e, db := newEngine(t, []provider.Provider{crossref, arxiv})
	ctx := context.Background()

	out, err := e.ResolveAndStore(ctx, citingPaper("Alfa"), []reference.Fragment{attentionFragment()})
	if err != nil {
		t.Fatalf("ResolveAndStore() error = %v", err)
	}
	if out[0].Status != StatusUnresolved || out[0].PaperID != "" {
		t.Errorf("outcome = %+v", out[0])
	}

	counts, _ := db.CountPapers(ctx)
	if counts[reference.StatePlaceholder] != 1 {
		t.Errorf("placeholders = %d, want only the citing paper", counts[reference.StatePlaceholder])
	}
	unresolved, _ := db.UnresolvedCitations(ctx, 10)
	if len(unresolved) != 1 || unresolved[0].Source != edge.SourceUnresolved {
		t.Errorf("unresolved = %+v", unresolved)
	}
}

func TestResolveAndStore_CitingFailure(t *testing.T) {
	e, _ := newEngine(t, nil)
	_, err := e.ResolveAndStore(context.Background(), reference.CitingPaper{}, []reference.Fragment{attentionFragment()})
	if err == nil {
		t.Error("expected error for citing paper without evidence")
	}
}

func TestResolveAndStore_NoEvidenceFragment(t *testing.T) {
	crossref := providertest.New("crossref")
	e, _ := newEngine(t, []provider.Provider{crossref})

	out, err := e.ResolveAndStore(context.Background(), citingPaper("Alfa"), []reference.Fragment{{Raw: "ibid."}})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Status != StatusUnresolved || out[0].Order != 1 {
		t.Errorf("outcome = %+v", out[0])
	}
	if l, s := crossref.Calls(); l+s != 0 {
		t.Errorf("provider called %d times", l+s)
	}
}

func TestSubmit_ConcurrentDOIConverges(t *testing.T) {
	crossref := providertest.New("crossref")
	crossref.AddIdentifier(reference.Identifier{Type: reference.IdentifierDOI, Value: "10.48550/arxiv.1706.03762"}, provider.Candidate{
		DOI:   "10.48550/arxiv.1706.03762",
		Title: "Attention Is All You Need",
		Year:  2017,
	})
	e, db := newEngine(t, []provider.Provider{crossref})
	ctx := context.Background()

	frag := reference.Fragment{Raw: "Vaswani 2017", DOI: "https://doi.org/10.48550/arXiv.1706.03762"}
	t1 := e.Submit(ctx, Job{Citing: citingPaper("Alfa"), Fragments: []reference.Fragment{frag}})
	t2 := e.Submit(ctx, Job{Citing: citingPaper("Bravo"), Fragments: []reference.Fragment{frag}})

	o1, err := t1.Wait()
	if err != nil {
		t.Fatal(err)
	}
	o2, err := t2.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if o1[0].PaperID == "" || o1[0].PaperID != o2[0].PaperID {
		t.Fatalf("outcomes landed on %q and %q", o1[0].PaperID, o2[0].PaperID)
	}

	inbound, _ := db.CitedBy(ctx, o1[0].PaperID)
	if len(inbound) != 2 {
		t.Errorf("CitedBy() = %d edges, want 2", len(inbound))
	}
	cited, _ := db.GetPaper(ctx, o1[0].PaperID)
	if cited.ArXivID != "1706.03762" {
		t.Errorf("ArXivID = %q, want recovered from DOI", cited.ArXivID)
	}
}

func TestPromote_PreservesInboundEdges(t *testing.T) {
	crossref := providertest.New("crossref")
	crossref.SetResults(attention)
	e, db := newEngine(t, []provider.Provider{crossref})
	ctx := context.Background()

	var target string
	for i := 0; i < 11; i++ {
		out, err := e.ResolveAndStore(ctx, citingPaper(natoWords[i]), []reference.Fragment{attentionFragment()})
		if err != nil {
			t.Fatal(err)
		}
		if target == "" {
			target = out[0].PaperID
		} else if out[0].PaperID != target {
			t.Fatalf("citation %d resolved to %s, want %s", i, out[0].PaperID, target)
		}
	}

	p, err := e.Promote(ctx, reference.CitingPaper{Title: "Attention Is All You Need", DOI: attention.DOI}, storage.PromotionFields{
		Abstract: "The dominant sequence transduction models...",
		Content:  []byte(`{"summary":"transformers"}`),
	})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if p.ID != target || p.State != reference.StateFullyProcessed {
		t.Errorf("Promote() = %s/%s, want %s fully_processed", p.ID, p.State, target)
	}

	inbound, _ := e.CitedBy(ctx, target)
	if len(inbound) != 11 {
		t.Errorf("CitedBy() = %d, want 11", len(inbound))
	}
	counts, _ := db.CountPapers(ctx)
	if counts[reference.StateFullyProcessed] != 1 || counts[reference.StatePlaceholder] != 11 {
		t.Errorf("CountPapers() = %v", counts)
	}

	high, err := e.UnresolvedHighDegree(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(high) != 0 {
		t.Errorf("promoted paper still reported as unresolved high degree: %+v", high)
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	e, _ := newEngine(t, nil)
	e.Close()
	_, err := e.Submit(context.Background(), Job{Citing: citingPaper("Alfa")}).Wait()
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Wait() error = %v, want ErrClosed", err)
	}
}

func TestSubmit_CanceledContext(t *testing.T) {
	e, _ := newEngine(t, nil, WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Occupy the only slot so the job must wait on ctx.
	e.jobSlots <- struct{}{}
	_, err := e.Submit(ctx, Job{Citing: citingPaper("Alfa")}).Wait()
	<-e.jobSlots
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestNew_InvalidWorkers(t *testing.T) {
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	norm, _ := score.NewNormalizer(nil)
	ch, _ := chain.New(nil, norm)
	if _, err := New(db, ch, WithWorkers(0)); err == nil {
		t.Error("expected error for zero workers")
	}
	if _, err := New(nil, ch); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestResolveGroup(t *testing.T) {
	crossref := providertest.New("crossref")
	crossref.SetErr(fmt.Errorf("down: %w", provider.ErrTransient))
	e, db := newEngine(t, []provider.Provider{crossref})
	ctx := context.Background()

	e.ResolveAndStore(ctx, citingPaper("Alfa"), []reference.Fragment{attentionFragment()})
	other := attentionFragment()
	other.Raw = "Vaswani, Attention is all you need (2017)"
	e.ResolveAndStore(ctx, citingPaper("Bravo"), []reference.Fragment{other})

	groups, err := db.UnresolvedGroups(ctx, 10)
	if err != nil || len(groups) != 1 || groups[0].Occurrences != 2 {
		t.Fatalf("UnresolvedGroups() = %+v, %v", groups, err)
	}

	crossref.SetErr(nil)
	crossref.SetResults(attention)
	members, _ := db.UnresolvedInGroup(ctx, groups[0].Key)
	out := e.ResolveGroup(ctx, members)
	if out.Status != StatusResolved || out.Updated != 2 {
		t.Errorf("ResolveGroup() = %+v", out)
	}
	counts, _ := db.CountCitations(ctx)
	if counts.Unresolved != 0 || counts.Resolved != 2 {
		t.Errorf("CountCitations() = %+v", counts)
	}
}

func TestEnrichPlaceholder(t *testing.T) {
	crossref := providertest.New("crossref")
	crossref.SetErr(fmt.Errorf("down: %w", provider.ErrTransient))
	e, db := newEngine(t, []provider.Provider{crossref})
	ctx := context.Background()

	// A placeholder without identifiers, created from a citing record
	if _, err := e.ResolveAndStore(ctx, reference.CitingPaper{Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}, Year: 2017}, nil); err != nil {
		t.Fatal(err)
	}
	missing, _ := db.PlaceholdersMissingIdentifiers(ctx, 10)
	if len(missing) != 1 {
		t.Fatalf("PlaceholdersMissingIdentifiers() = %d", len(missing))
	}
	id := missing[0].Paper.ID

	crossref.SetErr(nil)
	crossref.SetResults(attention)
	o, err := e.EnrichPlaceholder(ctx, id)
	if err != nil {
		t.Fatalf("EnrichPlaceholder() error = %v", err)
	}
	if o.Status != StatusResolved || o.PaperID != id {
		t.Errorf("EnrichPlaceholder() = %+v", o)
	}
	got, _ := db.GetPaper(ctx, id)
	if got.DOI != attention.DOI {
		t.Errorf("DOI = %q, want %q", got.DOI, attention.DOI)
	}
}
