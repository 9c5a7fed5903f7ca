// Package config loads citegraph configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/matsen/citegraph/internal/match"
	"github.com/matsen/citegraph/internal/score"
	"gopkg.in/yaml.v3"
)

// Provider names known to the resolution chain.
const (
	ProviderCrossref        = "crossref"
	ProviderArXiv           = "arxiv"
	ProviderOpenAlex        = "openalex"
	ProviderSemanticScholar = "semantic_scholar"
)

// KnownProviders lists the built-in providers in default priority order.
var KnownProviders = []string{ProviderCrossref, ProviderArXiv, ProviderOpenAlex, ProviderSemanticScholar}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full citegraph configuration.
type Config struct {
	Database   DatabaseConfig            `yaml:"database"`
	Log        LogConfig                 `yaml:"log"`
	Resolution ResolutionConfig          `yaml:"resolution"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Workers    int                       `yaml:"workers"`
	Backfill   BackfillConfig            `yaml:"backfill"`
	Neo4j      Neo4jConfig               `yaml:"neo4j"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Mode string `yaml:"mode"` // dev, prod or quiet
}

// ResolutionConfig holds chain and dedup thresholds.
type ResolutionConfig struct {
	AcceptanceThreshold  float64       `yaml:"acceptance_threshold"`
	DedupThreshold       float64       `yaml:"dedup_threshold"`
	IdentifierConfidence float64       `yaml:"identifier_confidence"`
	Weights              match.Weights `yaml:"weights"`
	Order                []string      `yaml:"order"`
	ReviewRecurrence     int           `yaml:"review_recurrence"`
}

// ProviderConfig configures one provider client.
type ProviderConfig struct {
	Enabled    *bool         `yaml:"enabled,omitempty"`
	BaseURL    string        `yaml:"base_url,omitempty"`
	RatePerSec float64       `yaml:"rate_per_sec,omitempty"`
	Burst      int           `yaml:"burst,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	APIKey     string        `yaml:"api_key,omitempty"`
	Mailto     string        `yaml:"mailto,omitempty"`
	ScoreRange *score.Range  `yaml:"score_range,omitempty"`
}

// IsEnabled reports whether the provider is enabled (default true).
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type BackfillConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
	MinCitedBy      int           `yaml:"min_cited_by"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
}

// Enabled reports whether a Neo4j mirror is configured.
func (n Neo4jConfig) Enabled() bool {
	return n.URI != ""
}

// Default returns a complete configuration with built-in defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDBPath()},
		Log:      LogConfig{Mode: "dev"},
		Resolution: ResolutionConfig{
			AcceptanceThreshold:  0.70,
			DedupThreshold:       0.90,
			IdentifierConfidence: 0.95,
			Weights:              match.DefaultWeights(),
			Order:                append([]string(nil), KnownProviders...),
			ReviewRecurrence:     3,
		},
		Providers: map[string]ProviderConfig{
			ProviderCrossref:        {BaseURL: "https://api.crossref.org", RatePerSec: 5, Burst: 5, Timeout: 15 * time.Second},
			ProviderArXiv:           {BaseURL: "https://export.arxiv.org", RatePerSec: 0.34, Burst: 1, Timeout: 20 * time.Second},
			ProviderOpenAlex:        {BaseURL: "https://api.openalex.org", RatePerSec: 5, Burst: 5, Timeout: 15 * time.Second},
			ProviderSemanticScholar: {BaseURL: "https://api.semanticscholar.org", RatePerSec: 1, Burst: 1, Timeout: 15 * time.Second},
		},
		Workers: 8,
		Backfill: BackfillConfig{
			BatchSize:       50,
			DefaultCooldown: 60 * time.Second,
			MinCitedBy:      1,
		},
	}
}

// Provider returns the config for a provider, filling unset fields from the
// defaults.
func (c *Config) Provider(name string) ProviderConfig {
	p := c.Providers[name]
	d := Default().Providers[name]
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	if p.RatePerSec <= 0 {
		p.RatePerSec = d.RatePerSec
	}
	if p.Burst <= 0 {
		p.Burst = d.Burst
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// ScoreRanges returns the default score ranges with any configured overrides.
func (c *Config) ScoreRanges() map[string]score.Range {
	ranges := score.DefaultRanges()
	for name, p := range c.Providers {
		if p.ScoreRange != nil {
			ranges[name] = *p.ScoreRange
		}
	}
	return ranges
}

// Validate rejects out-of-range thresholds, unknown providers and
// non-positive worker counts.
func (c *Config) Validate() error {
	r := c.Resolution
	for name, v := range map[string]float64{
		"acceptance_threshold":  r.AcceptanceThreshold,
		"dedup_threshold":       r.DedupThreshold,
		"identifier_confidence": r.IdentifierConfidence,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: resolution.%s must be in (0, 1], got %v", ErrInvalidConfig, name, v)
		}
	}
	if r.DedupThreshold < r.AcceptanceThreshold {
		return fmt.Errorf("%w: dedup_threshold (%v) below acceptance_threshold (%v)", ErrInvalidConfig, r.DedupThreshold, r.AcceptanceThreshold)
	}
	if r.Weights.Title <= 0 || r.Weights.Authors < 0 || r.Weights.Year < 0 {
		return fmt.Errorf("%w: resolution.weights must be non-negative with a positive title weight", ErrInvalidConfig)
	}
	if len(r.Order) == 0 {
		return fmt.Errorf("%w: resolution.order is empty", ErrInvalidConfig)
	}
	seen := make(map[string]bool)
	for _, name := range r.Order {
		if !isKnownProvider(name) {
			return fmt.Errorf("%w: unknown provider %q in resolution.order", ErrInvalidConfig, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: provider %q listed twice in resolution.order", ErrInvalidConfig, name)
		}
		seen[name] = true
	}
	for name, p := range c.Providers {
		if !isKnownProvider(name) {
			return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, name)
		}
		if p.ScoreRange != nil {
			if err := p.ScoreRange.Validate(); err != nil {
				return fmt.Errorf("%w: providers.%s.score_range: %v", ErrInvalidConfig, name, err)
			}
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.Backfill.BatchSize <= 0 {
		return fmt.Errorf("%w: backfill.batch_size must be positive, got %d", ErrInvalidConfig, c.Backfill.BatchSize)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	}
	return nil
}

func isKnownProvider(name string) bool {
	for _, k := range KnownProviders {
		if k == name {
			return true
		}
	}
	return false
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
// An empty path uses ConfigPath().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = ConfigPath()
	}

	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CITEGRAPH_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CITEGRAPH_LOG"); v != "" {
		c.Log.Mode = v
	}
	if v := os.Getenv("CITEGRAPH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: CITEGRAPH_WORKERS=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Workers = n
	}
	if v := os.Getenv("S2_API_KEY"); v != "" {
		c.setProvider(ProviderSemanticScholar, func(p *ProviderConfig) { p.APIKey = v })
	}
	if v := os.Getenv("CROSSREF_MAILTO"); v != "" {
		c.setProvider(ProviderCrossref, func(p *ProviderConfig) { p.Mailto = v })
	}
	if v := os.Getenv("OPENALEX_MAILTO"); v != "" {
		c.setProvider(ProviderOpenAlex, func(p *ProviderConfig) { p.Mailto = v })
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		c.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		c.Neo4j.User = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Neo4j.Password = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		c.Neo4j.Database = v
	}
	return nil
}

func (c *Config) setProvider(name string, fn func(*ProviderConfig)) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	p := c.Providers[name]
	fn(&p)
	c.Providers[name] = p
}
