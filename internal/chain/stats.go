package chain

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Provider call outcomes recorded in statistics.
const (
	OutcomeHit         = "hit"
	OutcomeMiss        = "miss"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
	OutcomeSkipped     = "skipped"
)

// Stats accumulates resolution statistics. Safe for concurrent use.
type Stats struct {
	attempted  atomic.Int64
	resolved   atomic.Int64
	unresolved atomic.Int64
	errored    atomic.Int64

	mu        sync.Mutex
	providers map[string]*ProviderStats

	resolutions *prometheus.CounterVec
	calls       *prometheus.CounterVec
}

// ProviderStats are per-provider call counts.
type ProviderStats struct {
	Calls       int64 `json:"calls"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Rejected    int64 `json:"rejected"`
	RateLimited int64 `json:"rate_limited"`
	Errors      int64 `json:"errors"`
	Skipped     int64 `json:"skipped"`
}

// Snapshot is a point-in-time copy of the statistics.
type Snapshot struct {
	Attempted  int64                    `json:"attempted"`
	Resolved   int64                    `json:"resolved"`
	Unresolved int64                    `json:"unresolved"`
	Errored    int64                    `json:"errored"`
	Providers  map[string]ProviderStats `json:"providers"`
}

// ResolutionRate is resolved / attempted, or 0 before any attempt.
func (s Snapshot) ResolutionRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Resolved) / float64(s.Attempted)
}

// ProviderNames lists the providers seen, sorted.
func (s Snapshot) ProviderNames() []string {
	names := make([]string, 0, len(s.Providers))
	for name := range s.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStats creates a statistics collector. When reg is non-nil the
// Prometheus counters are registered on it.
func NewStats(reg prometheus.Registerer) (*Stats, error) {
	s := &Stats{
		providers: make(map[string]*ProviderStats),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegraph",
			Name:      "resolutions_total",
			Help:      "Citation resolutions by final status.",
		}, []string{"status"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegraph",
			Name:      "provider_calls_total",
			Help:      "Provider calls by outcome.",
		}, []string{"provider", "outcome"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{s.resolutions, s.calls} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *Stats) recordAttempt() {
	s.attempted.Add(1)
}

func (s *Stats) recordStatus(status Status) {
	switch status {
	case Resolved:
		s.resolved.Add(1)
	case Unresolved:
		s.unresolved.Add(1)
	}
	s.resolutions.WithLabelValues(string(status)).Inc()
}

// RecordFailure counts a citation whose processing failed outright.
func (s *Stats) RecordFailure() {
	s.errored.Add(1)
	s.resolutions.WithLabelValues("failed").Inc()
}

func (s *Stats) recordCall(provider, outcome string) {
	s.calls.WithLabelValues(provider, outcome).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.providers[provider]
	if !ok {
		ps = &ProviderStats{}
		s.providers[provider] = ps
	}
	if outcome != OutcomeSkipped {
		ps.Calls++
	}
	switch outcome {
	case OutcomeHit:
		ps.Hits++
	case OutcomeMiss:
		ps.Misses++
	case OutcomeRejected:
		ps.Rejected++
	case OutcomeRateLimited:
		ps.RateLimited++
	case OutcomeError:
		ps.Errors++
	case OutcomeSkipped:
		ps.Skipped++
	}
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	providers := make(map[string]ProviderStats, len(s.providers))
	for name, ps := range s.providers {
		providers[name] = *ps
	}
	s.mu.Unlock()

	return Snapshot{
		Attempted:  s.attempted.Load(),
		Resolved:   s.resolved.Load(),
		Unresolved: s.unresolved.Load(),
		Errored:    s.errored.Load(),
		Providers:  providers,
	}
}
