package provider

import (
	"fmt"

	"github.com/matsen/citegraph/internal/config"
)

// FromConfig builds the enabled providers in configured priority order.
func FromConfig(cfg *config.Config) ([]Provider, error) {
	var out []Provider
	for _, name := range cfg.Resolution.Order {
		pc := cfg.Provider(name)
		if !pc.IsEnabled() {
			continue
		}
		p, err := New(name,
			WithBaseURL(pc.BaseURL),
			WithRateLimit(pc.RatePerSec, pc.Burst),
			WithTimeout(pc.Timeout),
			WithAPIKey(pc.APIKey),
			WithMailto(pc.Mailto),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// New creates a built-in provider by name.
func New(name string, opts ...Option) (Provider, error) {
	switch name {
	case config.ProviderCrossref:
		return NewCrossref(opts...), nil
	case config.ProviderArXiv:
		return NewArXiv(opts...), nil
	case config.ProviderOpenAlex:
		return NewOpenAlex(opts...), nil
	case config.ProviderSemanticScholar:
		return NewSemanticScholar(opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
