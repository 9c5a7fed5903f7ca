// Package score converts provider-native match scores into a uniform
// confidence in [0, 1].
package score

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrInvalidScoreKind indicates a score from a provider with no declared range.
var ErrInvalidScoreKind = errors.New("invalid score kind")

// Mapping selects how a clamped raw score is mapped onto [0, 1].
type Mapping string

const (
	// Linear maps (raw-min)/(max-min).
	Linear Mapping = "linear"
	// Log maps log1p(raw-min)/log1p(max-min), for unbounded relevance scores
	// where most of the signal sits near the bottom of the range.
	Log Mapping = "log"
)

// Range is a provider's declared native score range.
type Range struct {
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Mapping Mapping `yaml:"mapping" json:"mapping"`
}

// Validate checks that the range is usable.
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Max <= r.Min {
		return fmt.Errorf("range [%v, %v] is empty", r.Min, r.Max)
	}
	switch r.Mapping {
	case Linear, Log, "":
		return nil
	default:
		return fmt.Errorf("unknown mapping %q", r.Mapping)
	}
}

// apply clamps raw into the range and maps it onto [0, 1].
func (r Range) apply(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	clamped := math.Max(r.Min, math.Min(r.Max, raw))

	var v float64
	switch r.Mapping {
	case Log:
		v = math.Log1p(clamped-r.Min) / math.Log1p(r.Max-r.Min)
	default:
		v = (clamped - r.Min) / (r.Max - r.Min)
	}
	return math.Max(0, math.Min(1, v))
}

// DefaultRanges are the declared ranges of the built-in providers.
func DefaultRanges() map[string]Range {
	return map[string]Range{
		"crossref":         {Min: 0, Max: 100, Mapping: Linear},
		"arxiv":            {Min: 0, Max: 1, Mapping: Linear},
		"openalex":         {Min: 0, Max: 1000, Mapping: Log},
		"semantic_scholar": {Min: 0, Max: 300, Mapping: Linear},
	}
}

// Normalizer maps raw provider scores to confidences. Safe for concurrent use.
type Normalizer struct {
	mu     sync.RWMutex
	ranges map[string]Range
}

// NewNormalizer creates a normalizer with the given ranges.
// A nil map uses DefaultRanges.
func NewNormalizer(ranges map[string]Range) (*Normalizer, error) {
	if ranges == nil {
		ranges = DefaultRanges()
	}
	n := &Normalizer{ranges: make(map[string]Range, len(ranges))}
	for name, r := range ranges {
		if err := n.Register(name, r); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Register declares (or replaces) a provider's native range.
func (n *Normalizer) Register(provider string, r Range) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("provider %s: %w", provider, err)
	}
	if r.Mapping == "" {
		r.Mapping = Linear
	}
	n.mu.Lock()
	n.ranges[provider] = r
	n.mu.Unlock()
	return nil
}

// Normalize returns the confidence for a provider's raw score. Values outside
// the declared range are clamped, so the result is always within [0, 1].
func (n *Normalizer) Normalize(provider string, raw float64) (float64, error) {
	n.mu.RLock()
	r, ok := n.ranges[provider]
	n.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: no score range declared for provider %q", ErrInvalidScoreKind, provider)
	}
	return r.apply(raw), nil
}

// Known reports whether a provider has a declared range.
func (n *Normalizer) Known(provider string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.ranges[provider]
	return ok
}

// Providers lists the providers with declared ranges, sorted.
func (n *Normalizer) Providers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.ranges))
	for name := range n.ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
