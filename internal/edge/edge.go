// Package edge defines the citation edge type of the knowledge graph.
package edge

import (
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/matsen/citegraph/internal/reference"
	"golang.org/x/crypto/blake2b"
)

// SourceUnresolved is the resolution source of a citation no provider could match.
const SourceUnresolved = "unresolved"

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 32

// Extracted holds the bibliographic fields parsed from the raw citation text,
// independent of whatever the resolved paper record says.
type Extracted struct {
	Title   string   `json:"title,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	Venue   string   `json:"venue,omitempty"`
}

// Citation represents a directed citing → cited relationship.
type Citation struct {
	// Identity: (CitingID, Fingerprint)
	CitingID    string `json:"citing_id"`
	Fingerprint string `json:"fingerprint"`

	// CitedID is empty while the citation is unresolved.
	CitedID string `json:"cited_id,omitempty"`

	// Occurrence
	Order   int    `json:"order"`
	Raw     string `json:"raw"`
	Context string `json:"context,omitempty"`
	Section string `json:"section,omitempty"`

	Extracted Extracted `json:"extracted"`

	// Resolution
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Validation errors.
var (
	ErrEmptyCitingID    = errors.New("citing_id is required")
	ErrEmptyFingerprint = errors.New("fingerprint is required")
	ErrEmptySource      = errors.New("source is required")
	ErrSelfCitation     = errors.New("citing_id and cited_id cannot be the same")
	ErrUnresolvedTarget = errors.New("cited_id must be empty for unresolved citations")
	ErrMissingTarget    = errors.New("cited_id is required for resolved citations")
)

// ValidateForCreate validates a citation before it is written.
func (c *Citation) ValidateForCreate() error {
	if c.CitingID == "" {
		return ErrEmptyCitingID
	}
	if c.Fingerprint == "" {
		return ErrEmptyFingerprint
	}
	if c.Source == "" {
		return ErrEmptySource
	}
	if c.Source == SourceUnresolved && c.CitedID != "" {
		return ErrUnresolvedTarget
	}
	if c.Source != SourceUnresolved && c.CitedID == "" {
		return ErrMissingTarget
	}
	if c.CitingID == c.CitedID {
		return ErrSelfCitation
	}
	return nil
}

// Resolved reports whether the citation points at a paper node.
func (c *Citation) Resolved() bool {
	return c.CitedID != "" && c.Source != SourceUnresolved
}

// SetTimestamps fills CreatedAt if unset and refreshes UpdatedAt.
func (c *Citation) SetTimestamps() {
	now := reference.Now()
	if c.CreatedAt == "" {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

// Key returns the unique identity tuple for this citation.
func (c *Citation) Key() Key {
	return Key{CitingID: c.CitingID, Fingerprint: c.Fingerprint}
}

// Key represents the unique identity of a citation edge.
type Key struct {
	CitingID    string
	Fingerprint string
}

// Fingerprint returns a stable digest of raw citation text. Case and
// whitespace differences do not change the fingerprint.
func Fingerprint(raw string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// FragmentFingerprint fingerprints a fragment's raw text, falling back to its
// structured fields when the extractor produced no raw text.
func FragmentFingerprint(f reference.Fragment) string {
	raw := strings.TrimSpace(f.Raw)
	if raw == "" {
		raw = f.Title + "|" + strings.Join(f.Authors, ";") + "|" + f.Venue
		if f.Year != 0 {
			raw += "|" + strconv.Itoa(f.Year)
		}
	}
	return Fingerprint(raw)
}

// FromFragment builds an unresolved citation from a fragment.
func FromFragment(citingID string, f reference.Fragment) Citation {
	return Citation{
		CitingID:    citingID,
		Fingerprint: FragmentFingerprint(f),
		Order:       f.Order,
		Raw:         f.Raw,
		Context:     f.Context,
		Section:     f.Section,
		Extracted: Extracted{
			Title:   f.Title,
			Authors: f.Authors,
			Year:    f.Year,
			Venue:   f.Venue,
		},
		Source: SourceUnresolved,
	}
}

// OrphanedInfo contains information about a citation with missing endpoints.
type OrphanedInfo struct {
	CitingID    string `json:"citing_id"`
	CitedID     string `json:"cited_id,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason"` // "missing_citing", "missing_cited", or "missing_both"
}

// DetectOrphaned finds citations that reference papers not in the valid ID set.
// Unresolved citations only need a valid citing paper.
func DetectOrphaned(citations []Citation, validIDs map[string]bool) (orphaned []OrphanedInfo, valid []Citation) {
	for _, c := range citations {
		citingOK := validIDs[c.CitingID]
		citedOK := c.CitedID == "" || validIDs[c.CitedID]

		if citingOK && citedOK {
			valid = append(valid, c)
			continue
		}

		info := OrphanedInfo{
			CitingID:    c.CitingID,
			CitedID:     c.CitedID,
			Fingerprint: c.Fingerprint,
		}
		switch {
		case !citingOK && !citedOK:
			info.Reason = "missing_both"
		case !citingOK:
			info.Reason = "missing_citing"
		default:
			info.Reason = "missing_cited"
		}
		orphaned = append(orphaned, info)
	}
	return orphaned, valid
}

// FindDuplicates finds citation keys that appear more than once in the list.
func FindDuplicates(citations []Citation) map[Key]int {
	counts := make(map[Key]int)
	for _, c := range citations {
		counts[c.Key()]++
	}

	duplicates := make(map[Key]int)
	for key, count := range counts {
		if count > 1 {
			duplicates[key] = count
		}
	}
	return duplicates
}
