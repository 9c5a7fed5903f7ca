package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/reference"
)

// setupTestDB opens an empty database in a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func placeholder(id, title string) reference.Paper {
	return reference.Paper{
		ID:      id,
		Title:   title,
		Authors: []reference.Author{{First: "Ashish", Last: "Vaswani"}},
		State:   reference.StatePlaceholder,
	}
}

func resolvedCitation(citingID, citedID, raw string, order int) edge.Citation {
	return edge.Citation{
		CitingID:    citingID,
		CitedID:     citedID,
		Fingerprint: edge.Fingerprint(raw),
		Raw:         raw,
		Order:       order,
		Confidence:  0.95,
		Source:      "crossref",
	}
}

func unresolvedCitation(citingID, raw, title string, order int) edge.Citation {
	return edge.Citation{
		CitingID:    citingID,
		Fingerprint: edge.Fingerprint(raw),
		Raw:         raw,
		Order:       order,
		Extracted:   edge.Extracted{Title: title, Authors: []string{"Smith, J."}, Year: 2020},
		Source:      edge.SourceUnresolved,
	}
}

func TestOpenDB_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "graph.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	defer db.Close()

	// Reopening an existing schema is fine
	db2, err := OpenDB(path)
	if err != nil {
		t.Fatalf("second OpenDB() error = %v", err)
	}
	db2.Close()
}

func TestUpsertPaper_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := placeholder("p_1", "Attention Is All You Need")
	p.DOI = "https://doi.org/10.48550/ARXIV.1706.03762"

	stored, created, err := db.UpsertPaper(ctx, p)
	if err != nil {
		t.Fatalf("UpsertPaper() error = %v", err)
	}
	if !created {
		t.Error("first UpsertPaper() created = false")
	}
	if stored.DOI != "10.48550/arxiv.1706.03762" {
		t.Errorf("DOI = %q, want normalized", stored.DOI)
	}

	_, created, err = db.UpsertPaper(ctx, p)
	if err != nil {
		t.Fatalf("second UpsertPaper() error = %v", err)
	}
	if created {
		t.Error("second UpsertPaper() created = true")
	}

	counts, err := db.CountPapers(ctx)
	if err != nil {
		t.Fatalf("CountPapers() error = %v", err)
	}
	if counts[reference.StatePlaceholder] != 1 {
		t.Errorf("placeholder count = %d, want 1", counts[reference.StatePlaceholder])
	}
}

func TestUpsertPaper_MergesEmptyFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := db.UpsertPaper(ctx, placeholder("p_1", "Attention Is All You Need")); err != nil {
		t.Fatal(err)
	}

	update := reference.Paper{ID: "p_1", Title: "Attention Is All You Need", Venue: "NeurIPS", Published: reference.PublicationDate{Year: 2017}}
	stored, _, err := db.UpsertPaper(ctx, update)
	if err != nil {
		t.Fatalf("UpsertPaper() error = %v", err)
	}
	if stored.Venue != "NeurIPS" || stored.Published.Year != 2017 {
		t.Errorf("merge did not fill fields: %+v", stored)
	}
	if len(stored.Authors) != 1 || stored.Authors[0].Last != "Vaswani" {
		t.Errorf("authors lost in merge: %+v", stored.Authors)
	}

	got, err := db.GetPaper(ctx, "p_1")
	if err != nil || got == nil {
		t.Fatalf("GetPaper() = %v, %v", got, err)
	}
	if got.Venue != "NeurIPS" {
		t.Errorf("stored venue = %q", got.Venue)
	}
}

func TestUpsertPaper_StateNeverDowngrades(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := placeholder("p_1", "Deep Residual Learning")
	p.State = reference.StateFullyProcessed
	if _, _, err := db.UpsertPaper(ctx, p); err != nil {
		t.Fatal(err)
	}

	stored, _, err := db.UpsertPaper(ctx, placeholder("p_1", "Deep Residual Learning"))
	if err != nil {
		t.Fatalf("UpsertPaper() error = %v", err)
	}
	if stored.State != reference.StateFullyProcessed {
		t.Errorf("State = %q, want fully_processed", stored.State)
	}
}

func TestUpsertPaper_DOIConflict(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := placeholder("p_a", "Paper A")
	a.DOI = "10.1234/shared"
	if _, _, err := db.UpsertPaper(ctx, a); err != nil {
		t.Fatal(err)
	}

	b := placeholder("p_b", "Paper B")
	b.DOI = "10.1234/SHARED"
	_, _, err := db.UpsertPaper(ctx, b)
	if !errors.Is(err, ErrIdentityConflict) {
		t.Fatalf("UpsertPaper() error = %v, want ErrIdentityConflict", err)
	}

	got, err := db.GetPaper(ctx, "p_b")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("conflicting paper was written")
	}
}

func TestUpsertPaper_EmptyID(t *testing.T) {
	db := setupTestDB(t)
	if _, _, err := db.UpsertPaper(context.Background(), reference.Paper{Title: "x"}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestFindByIdentifier(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := placeholder("p_1", "Attention Is All You Need")
	p.ArXivID = "arXiv:1706.03762v5"
	p.DOI = "10.5555/3295222.3295349"
	if _, _, err := db.UpsertPaper(ctx, p); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		id   reference.Identifier
		want string
	}{
		{"arxiv", reference.Identifier{Type: reference.IdentifierArXiv, Value: "1706.03762"}, "p_1"},
		{"arxiv versioned", reference.Identifier{Type: reference.IdentifierArXiv, Value: "1706.03762v2"}, "p_1"},
		{"doi", reference.Identifier{Type: reference.IdentifierDOI, Value: "doi:10.5555/3295222.3295349"}, "p_1"},
		{"unknown doi", reference.Identifier{Type: reference.IdentifierDOI, Value: "10.9999/none"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindByIdentifier(ctx, tt.id)
			if err != nil {
				t.Fatalf("FindByIdentifier() error = %v", err)
			}
			if tt.want == "" {
				if got != nil {
					t.Errorf("FindByIdentifier() = %s, want nil", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.want {
				t.Errorf("FindByIdentifier() = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestFindTitleCandidates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []reference.Paper{
		placeholder("p_1", "Attention Is All You Need"),
		placeholder("p_2", "Deep Residual Learning for Image Recognition"),
		placeholder("p_3", "Neural Machine Translation by Jointly Learning to Align and Translate"),
	} {
		if _, _, err := db.UpsertPaper(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.FindTitleCandidates(ctx, "Attention is all you need!", 5)
	if err != nil {
		t.Fatalf("FindTitleCandidates() error = %v", err)
	}
	if len(got) == 0 || got[0].ID != "p_1" {
		t.Errorf("FindTitleCandidates() first = %v, want p_1", got)
	}

	// FTS operators in the title are matched literally
	if _, err := db.FindTitleCandidates(ctx, `learning AND "NOT" (near*`, 5); err != nil {
		t.Errorf("FindTitleCandidates() with operators error = %v", err)
	}

	got, err = db.FindTitleCandidates(ctx, "   ", 5)
	if err != nil || got != nil {
		t.Errorf("FindTitleCandidates(blank) = %v, %v", got, err)
	}
}

func TestAddCitation_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []reference.Paper{placeholder("p_citing", "Citing"), placeholder("p_cited", "Cited")} {
		if _, _, err := db.UpsertPaper(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	c := resolvedCitation("p_citing", "p_cited", "[1] Vaswani et al. Attention is all you need. 2017.", 1)
	created, err := db.AddCitation(ctx, c)
	if err != nil {
		t.Fatalf("AddCitation() error = %v", err)
	}
	if !created {
		t.Error("first AddCitation() created = false")
	}

	created, err = db.AddCitation(ctx, c)
	if err != nil {
		t.Fatalf("second AddCitation() error = %v", err)
	}
	if created {
		t.Error("second AddCitation() created = true")
	}

	counts, err := db.CountCitations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total != 1 || counts.Resolved != 1 {
		t.Errorf("CountCitations() = %+v, want 1 resolved", counts)
	}
}

func TestAddCitation_DistinctOccurrencesKept(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, raw := range []string{"Vaswani 2017", "Vaswani et al., 2017, NeurIPS"} {
		if _, err := db.AddCitation(ctx, resolvedCitation("p_citing", "p_cited", raw, i+1)); err != nil {
			t.Fatal(err)
		}
	}

	cites, err := db.Citing(ctx, "p_citing")
	if err != nil {
		t.Fatal(err)
	}
	if len(cites) != 2 {
		t.Fatalf("Citing() = %d edges, want 2", len(cites))
	}
	if cites[0].Order != 1 || cites[1].Order != 2 {
		t.Errorf("edges not in document order: %d, %d", cites[0].Order, cites[1].Order)
	}
}

func TestAddCitation_ResolutionFillsButNeverClears(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	raw := "Smith J. An obscure workshop paper. 2020."
	if _, err := db.AddCitation(ctx, unresolvedCitation("p_citing", raw, "An obscure workshop paper", 3)); err != nil {
		t.Fatal(err)
	}

	// Later resolution fills the target
	resolved := resolvedCitation("p_citing", "p_found", raw, 3)
	if _, err := db.AddCitation(ctx, resolved); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetCitation(ctx, resolved.Key())
	if err != nil || got == nil {
		t.Fatalf("GetCitation() = %v, %v", got, err)
	}
	if got.CitedID != "p_found" || got.Source != "crossref" {
		t.Errorf("resolution not applied: %+v", got)
	}
	if got.Extracted.Title != "An obscure workshop paper" {
		t.Errorf("extracted fields lost: %+v", got.Extracted)
	}

	// A re-run that fails to resolve does not clear it
	if _, err := db.AddCitation(ctx, unresolvedCitation("p_citing", raw, "An obscure workshop paper", 3)); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetCitation(ctx, resolved.Key())
	if got.CitedID != "p_found" {
		t.Errorf("CitedID = %q after unresolved re-run, want p_found", got.CitedID)
	}

	// Nor does a different resolution replace it
	other := resolvedCitation("p_citing", "p_other", raw, 3)
	if _, err := db.AddCitation(ctx, other); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetCitation(ctx, resolved.Key())
	if got.CitedID != "p_found" {
		t.Errorf("CitedID = %q after second resolution, want p_found", got.CitedID)
	}
}

func TestAddCitation_Invalid(t *testing.T) {
	db := setupTestDB(t)
	c := resolvedCitation("p_1", "p_1", "self", 1)
	if _, err := db.AddCitation(context.Background(), c); !errors.Is(err, edge.ErrSelfCitation) {
		t.Errorf("AddCitation() error = %v, want ErrSelfCitation", err)
	}
}

func TestPromote_PreservesInboundEdges(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	target := placeholder("p_target", "Attention Is All You Need")
	if _, _, err := db.UpsertPaper(ctx, target); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 11; i++ {
		citing := fmt.Sprintf("p_citing_%02d", i)
		if _, _, err := db.UpsertPaper(ctx, placeholder(citing, "Citing paper "+citing)); err != nil {
			t.Fatal(err)
		}
		if _, err := db.AddCitation(ctx, resolvedCitation(citing, "p_target", "Vaswani 2017", 1)); err != nil {
			t.Fatal(err)
		}
	}

	promoted, err := db.Promote(ctx, "p_target", PromotionFields{
		Abstract: "The dominant sequence transduction models...",
		Content:  []byte(`{"sections":3}`),
		Year:     2017,
	})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if promoted.ID != "p_target" || promoted.State != reference.StateFullyProcessed {
		t.Errorf("Promote() = %s/%s", promoted.ID, promoted.State)
	}
	if promoted.Title != "Attention Is All You Need" {
		t.Errorf("title changed to %q", promoted.Title)
	}

	inbound, err := db.CitedBy(ctx, "p_target")
	if err != nil {
		t.Fatal(err)
	}
	if len(inbound) != 11 {
		t.Errorf("CitedBy() = %d edges after promotion, want 11", len(inbound))
	}

	got, _ := db.GetPaper(ctx, "p_target")
	if string(got.Content) != `{"sections":3}` {
		t.Errorf("content = %s", got.Content)
	}
}

func TestPromote_UnknownPaper(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Promote(context.Background(), "p_missing", PromotionFields{})
	if !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("Promote() error = %v, want ErrPaperNotFound", err)
	}
}

func TestUnresolvedHighDegree(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	popular := placeholder("p_popular", "Popular")
	rare := placeholder("p_rare", "Rare")
	done := placeholder("p_done", "Done")
	done.State = reference.StateFullyProcessed
	for _, p := range []reference.Paper{popular, rare, done} {
		if _, _, err := db.UpsertPaper(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		citing := fmt.Sprintf("p_c%d", i)
		db.AddCitation(ctx, resolvedCitation(citing, "p_popular", "popular", 1))
		db.AddCitation(ctx, resolvedCitation(citing, "p_done", "done", 2))
	}
	db.AddCitation(ctx, resolvedCitation("p_c0", "p_rare", "rare", 3))

	got, err := db.UnresolvedHighDegree(ctx, 2, 10)
	if err != nil {
		t.Fatalf("UnresolvedHighDegree() error = %v", err)
	}
	if len(got) != 1 || got[0].Paper.ID != "p_popular" || got[0].CitedBy != 3 {
		t.Errorf("UnresolvedHighDegree() = %+v", got)
	}

	missing, err := db.PlaceholdersMissingIdentifiers(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 || missing[0].Paper.ID != "p_popular" || missing[1].Paper.ID != "p_rare" {
		t.Errorf("PlaceholdersMissingIdentifiers() = %+v", missing)
	}
}

func TestUnresolvedGroups(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	db.AddCitation(ctx, unresolvedCitation("p_a", "Smith. Obscure Paper. 2020", "Obscure Paper", 1))
	db.AddCitation(ctx, unresolvedCitation("p_b", "J. Smith, obscure paper (2020)", "Obscure paper!", 4))
	db.AddCitation(ctx, unresolvedCitation("p_c", "Lone citation", "Lonely Title", 2))
	db.AddCitation(ctx, unresolvedCitation("p_c", "no title at all", "", 3))

	groups, err := db.UnresolvedGroups(ctx, 10)
	if err != nil {
		t.Fatalf("UnresolvedGroups() error = %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("UnresolvedGroups() = %d groups, want 3", len(groups))
	}
	if groups[0].Key != "obscure paper" || groups[0].Occurrences != 2 {
		t.Errorf("first group = %+v", groups[0])
	}

	members, err := db.UnresolvedInGroup(ctx, groups[0].Key)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("UnresolvedInGroup() = %d, want 2", len(members))
	}

	var fpGroup string
	for _, g := range groups {
		if g.Sample.Extracted.Title == "" {
			fpGroup = g.Key
		}
	}
	members, err = db.UnresolvedInGroup(ctx, fpGroup)
	if err != nil || len(members) != 1 {
		t.Errorf("UnresolvedInGroup(%q) = %d, %v", fpGroup, len(members), err)
	}
}

func TestBackfillRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	items := []QueueItem{
		{Kind: QueuePlaceholder, Key: "p_1", Priority: 5},
		{Kind: QueueCitations, Key: "obscure paper", Priority: 2},
		{Kind: QueueCitations, Key: "other", Priority: 1},
	}
	run, err := db.CreateRun(ctx, "run-1", items)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.Total != 3 || run.Status != RunRunning {
		t.Errorf("CreateRun() = %+v", run)
	}

	if err := db.MarkAttempted(ctx, "run-1", 0); err != nil {
		t.Fatal(err)
	}
	if err := db.AdvanceRun(ctx, "run-1", 1, RunCounters{Processed: 1, Resolved: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun(ctx, "run-1", RunInterrupted); err != nil {
		t.Fatal(err)
	}

	active, err := db.ActiveRun(ctx)
	if err != nil || active == nil {
		t.Fatalf("ActiveRun() = %v, %v", active, err)
	}
	if active.Position != 1 || active.Counters.Resolved != 1 || active.Status != RunInterrupted {
		t.Errorf("ActiveRun() = %+v", active)
	}

	rest, err := db.QueueItems(ctx, "run-1", active.Position, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0].Key != "obscure paper" || rest[0].Attempted {
		t.Errorf("QueueItems() = %+v", rest)
	}

	all, _ := db.QueueItems(ctx, "run-1", 0, 1)
	if len(all) != 1 || !all[0].Attempted {
		t.Errorf("QueueItems(limit 1) = %+v", all)
	}

	if err := db.FinishRun(ctx, "run-1", RunCompleted); err != nil {
		t.Fatal(err)
	}
	active, err = db.ActiveRun(ctx)
	if err != nil || active != nil {
		t.Errorf("ActiveRun() after completion = %v, %v", active, err)
	}
	done, _ := db.GetRun(ctx, "run-1")
	if done.FinishedAt == "" {
		t.Error("completed run has no finish time")
	}
}

func TestBackfillCandidates_Ordering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	db.UpsertPaper(ctx, placeholder("p_b", "B"))
	db.UpsertPaper(ctx, placeholder("p_a", "A"))
	db.AddCitation(ctx, resolvedCitation("p_x", "p_b", "b", 1))
	db.AddCitation(ctx, unresolvedCitation("p_x", "u1", "Unresolved Title", 2))

	items, err := db.BackfillCandidates(ctx, 0)
	if err != nil {
		t.Fatalf("BackfillCandidates() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("BackfillCandidates() = %d items, want 3", len(items))
	}
	// Equal priority puts the citation group ahead of the placeholder.
	want := []string{"unresolved title", "p_b", "p_a"}
	for i, w := range want {
		if items[i].Key != w || items[i].Seq != i {
			t.Errorf("item %d = %+v, want key %s", i, items[i], w)
		}
	}
	limited, err := db.BackfillCandidates(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[1].Key != "p_b" {
		t.Errorf("BackfillCandidates(limit 2) = %+v", limited)
	}
}

func TestBackfillCandidates_MostCitedFirstAcrossKinds(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	db.UpsertPaper(ctx, placeholder("p_lonely", "Nobody Cites This"))
	for i := 0; i < 5; i++ {
		citing := fmt.Sprintf("p_citing_%d", i)
		db.AddCitation(ctx, unresolvedCitation(citing, "popular "+citing, "Popular Unresolved Work", 1))
	}

	items, err := db.BackfillCandidates(ctx, 0)
	if err != nil {
		t.Fatalf("BackfillCandidates() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("BackfillCandidates() = %+v, want 2 items", items)
	}
	if items[0].Kind != QueueCitations || items[0].Priority != 5 || items[0].Seq != 0 {
		t.Errorf("first item = %+v, want the 5-occurrence citation group", items[0])
	}
	if items[1].Key != "p_lonely" || items[1].Seq != 1 {
		t.Errorf("second item = %+v, want p_lonely", items[1])
	}

	limited, err := db.BackfillCandidates(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Kind != QueueCitations {
		t.Errorf("BackfillCandidates(limit 1) = %+v, want the citation group", limited)
	}
}

func TestCooldownPersistence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := db.SaveCooldown(ctx, "crossref", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCooldown(ctx, "arxiv", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	// Overwrite
	if err := db.SaveCooldown(ctx, "crossref", now.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadCooldowns(ctx, now)
	if err != nil {
		t.Fatalf("LoadCooldowns() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("LoadCooldowns() = %v, want only crossref", got)
	}
	if !got["crossref"].Equal(now.Add(2 * time.Minute)) {
		t.Errorf("crossref until = %v", got["crossref"])
	}
}

func TestReviewFlags(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := db.AddReviewFlag(ctx, ReviewFlag{ExistingID: "p_1", NewID: fmt.Sprintf("p_new%d", i), Score: 0.8, Reason: "near miss"})
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Errorf("AddReviewFlag() count = %d, want %d", n, i)
		}
	}
	db.AddReviewFlag(ctx, ReviewFlag{ExistingID: "p_2", NewID: "p_new4", Score: 0.75, Reason: "near miss"})

	if n, _ := db.CountReviewFlags(ctx, "p_1"); n != 3 {
		t.Errorf("CountReviewFlags(p_1) = %d", n)
	}
	if n, _ := db.CountReviewFlags(ctx, ""); n != 4 {
		t.Errorf("CountReviewFlags(all) = %d", n)
	}
	flags, err := db.ReviewFlags(ctx)
	if err != nil || len(flags) != 4 {
		t.Errorf("ReviewFlags() = %d, %v", len(flags), err)
	}
}
