package reference

import "strings"

// FieldConflict records a field where both records carried different values.
type FieldConflict struct {
	FieldName string `json:"field"`
	Kept      string `json:"kept"`
	Dropped   string `json:"dropped"`
}

// MergePaper merges incoming into existing and returns the result.
//
// Rules:
//   - identity (ID, DOI, arXiv id) is never rewritten once set
//   - empty fields on either side are filled from the other
//   - on disagreement, the record with the higher state wins; at equal state
//     the incoming value wins, except for author lists where the longer wins
//   - the state never downgrades
func MergePaper(existing, incoming Paper) (Paper, []FieldConflict) {
	merged := existing
	var conflicts []FieldConflict

	incomingWins := incoming.State.Rank() >= existing.State.Rank()

	mergeField := func(name string, cur, in string, target *string) {
		switch {
		case in == "":
			return
		case cur == "":
			*target = in
		case cur == in:
			return
		case incomingWins:
			*target = in
			conflicts = append(conflicts, FieldConflict{FieldName: name, Kept: truncate(in, 50), Dropped: truncate(cur, 50)})
		default:
			conflicts = append(conflicts, FieldConflict{FieldName: name, Kept: truncate(cur, 50), Dropped: truncate(in, 50)})
		}
	}

	mergeField("title", existing.Title, incoming.Title, &merged.Title)
	mergeField("venue", existing.Venue, incoming.Venue, &merged.Venue)
	mergeField("abstract", existing.Abstract, incoming.Abstract, &merged.Abstract)
	mergeField("s2_id", existing.S2ID, incoming.S2ID, &merged.S2ID)

	// Identifiers fill in but never change.
	merged.DOI = nonEmpty(NormalizeDOI(existing.DOI), NormalizeDOI(incoming.DOI))
	merged.ArXivID = nonEmpty(NormalizeArXivID(existing.ArXivID), NormalizeArXivID(incoming.ArXivID))
	if existing.DOI != "" && incoming.DOI != "" && NormalizeDOI(existing.DOI) != NormalizeDOI(incoming.DOI) {
		conflicts = append(conflicts, FieldConflict{FieldName: "doi", Kept: existing.DOI, Dropped: incoming.DOI})
	}
	if existing.ArXivID != "" && incoming.ArXivID != "" && NormalizeArXivID(existing.ArXivID) != NormalizeArXivID(incoming.ArXivID) {
		conflicts = append(conflicts, FieldConflict{FieldName: "arxiv_id", Kept: existing.ArXivID, Dropped: incoming.ArXivID})
	}

	merged.Authors = mergeAuthors(existing.Authors, incoming.Authors, incomingWins)
	merged.Published = mergePublicationDate(existing.Published, incoming.Published)

	if incoming.State.Rank() > existing.State.Rank() {
		merged.State = incoming.State
	}
	if len(incoming.Content) > 0 && incomingWins {
		merged.Content = incoming.Content
	}

	return merged, conflicts
}

// mergeAuthors returns the longer author list; at equal length the
// preferred side wins.
func mergeAuthors(existing, incoming []Author, incomingWins bool) []Author {
	if len(incoming) == 0 {
		return existing
	}
	if len(existing) == 0 {
		return incoming
	}
	if len(incoming) > len(existing) {
		return incoming
	}
	if len(existing) > len(incoming) {
		return existing
	}
	if incomingWins {
		return incoming
	}
	return existing
}

// mergePublicationDate returns the more specific publication date.
func mergePublicationDate(existing, incoming PublicationDate) PublicationDate {
	if dateSpecificity(incoming) > dateSpecificity(existing) {
		return incoming
	}
	return existing
}

// dateSpecificity returns a score for how specific a date is.
func dateSpecificity(d PublicationDate) int {
	score := 0
	if d.Year != 0 {
		score++
	}
	if d.Month != 0 {
		score++
	}
	if d.Day != 0 {
		score++
	}
	return score
}

// nonEmpty returns the first non-empty string.
func nonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
