package engine

import (
	"context"
	"fmt"

	"github.com/matsen/citegraph/internal/chain"
	"github.com/matsen/citegraph/internal/edge"
	"github.com/matsen/citegraph/internal/identity"
	"github.com/matsen/citegraph/internal/reference"
)

// GroupOutcome reports the re-resolution of a group of unresolved
// citations sharing a title.
type GroupOutcome struct {
	Outcome
	Updated int `json:"updated"` // Edges that gained a target
}

// FragmentOf rebuilds the fragment a stored citation was created from.
// Identifiers are recovered from the raw text.
func FragmentOf(c edge.Citation) reference.Fragment {
	return reference.Fragment{
		Raw:     c.Raw,
		Title:   c.Extracted.Title,
		Authors: c.Extracted.Authors,
		Year:    c.Extracted.Year,
		Venue:   c.Extracted.Venue,
		Context: c.Context,
		Section: c.Section,
		Order:   c.Order,
	}
}

// ResolveGroup re-runs the chain on the first member's extracted fields and,
// on success, points every still unresolved member at the resolved node.
func (e *Engine) ResolveGroup(ctx context.Context, members []edge.Citation) GroupOutcome {
	if len(members) == 0 {
		return GroupOutcome{Outcome: Outcome{Status: StatusUnresolved}}
	}
	sample := members[0]
	f := FragmentOf(sample)
	out := GroupOutcome{Outcome: Outcome{Order: sample.Order, Fingerprint: sample.Fingerprint, Status: StatusUnresolved}}

	res := e.chain.Resolve(ctx, f)
	out.Skipped = res.Skipped
	if res.Err != nil {
		out.fail(res.Err)
		return out
	}
	if res.Status != chain.Resolved {
		return out
	}

	d, err := e.ids.Upsert(ctx, candidatePaper(res, f), reference.StatePlaceholder)
	if err != nil {
		e.chain.Stats().RecordFailure()
		out.fail(fmt.Errorf("storing cited paper: %w", err))
		return out
	}
	out.Status = StatusResolved
	out.PaperID = d.PaperID
	out.Confidence = res.Confidence
	out.Source = res.Source
	out.Created = d.Created
	out.Flagged = d.Flagged
	e.syncPaper(ctx, d.Paper)

	for _, c := range members {
		if c.Resolved() || c.CitingID == d.PaperID {
			continue
		}
		c.CitedID = d.PaperID
		c.Confidence = res.Confidence
		c.Source = res.Source
		if _, err := e.store.AddCitation(ctx, c); err != nil {
			e.log.Warn("updating citation failed", "citing_id", c.CitingID, "fingerprint", c.Fingerprint, "error", err)
			continue
		}
		out.Updated++
		e.syncCitation(ctx, c)
	}
	return out
}

// EnrichPlaceholder re-runs the chain on a placeholder's own metadata and
// merges any discovered identifiers into it. An identifier already held by
// another node is flagged for review instead of merged.
func (e *Engine) EnrichPlaceholder(ctx context.Context, paperID string) (Outcome, error) {
	p, err := e.store.GetPaper(ctx, paperID)
	if err != nil {
		return Outcome{}, err
	}
	if p == nil {
		return Outcome{}, fmt.Errorf("enrich %s: not found", paperID)
	}
	out := Outcome{PaperID: paperID, Status: StatusUnresolved}
	if p.State != reference.StatePlaceholder || p.HasIdentifier() {
		return out, nil
	}

	f := reference.Fragment{
		Title:   p.Title,
		Authors: p.AuthorNames(),
		Year:    p.Published.Year,
		Venue:   p.Venue,
	}
	res := e.chain.Resolve(ctx, f)
	out.Skipped = res.Skipped
	if res.Err != nil {
		out.fail(res.Err)
		return out, nil
	}
	if res.Status != chain.Resolved {
		return out, nil
	}

	cand := candidatePaper(res, f)
	cand.ID = paperID
	d, err := e.ids.Upsert(ctx, cand, reference.StatePlaceholder)
	if err != nil {
		e.chain.Stats().RecordFailure()
		out.fail(fmt.Errorf("merging identifiers: %w", err))
		return out, nil
	}
	out.Status = StatusResolved
	out.Confidence = res.Confidence
	out.Source = res.Source
	out.Flagged = d.Flagged
	if d.MatchedBy != identity.MatchID {
		// The record landed elsewhere; only possible if paperID vanished.
		out.PaperID = d.PaperID
	}
	e.syncPaper(ctx, d.Paper)
	return out, nil
}
