package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/matsen/citegraph/internal/chain"
	"github.com/matsen/citegraph/internal/config"
	"github.com/matsen/citegraph/internal/engine"
	"github.com/matsen/citegraph/internal/graphsync"
	"github.com/matsen/citegraph/internal/identity"
	"github.com/matsen/citegraph/internal/logger"
	"github.com/matsen/citegraph/internal/match"
	"github.com/matsen/citegraph/internal/provider"
	"github.com/matsen/citegraph/internal/score"
	"github.com/matsen/citegraph/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *storage.DB
	engine   *engine.Engine
	mirror   *graphsync.Neo4j
	registry *prometheus.Registry
}

// commandContext is canceled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// mustLoadConfig loads and validates the configuration, exits on error.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return cfg
}

func mustNewLogger(cfg *config.Config) *logger.Logger {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		exitWithError(ExitConfigError, "creating logger: %v", err)
	}
	return log
}

// mustOpenStore opens the graph database only, for commands that never
// call a provider.
func mustOpenStore() (*config.Config, *logger.Logger, *storage.DB) {
	cfg := mustLoadConfig()
	log := mustNewLogger(cfg)
	db, err := storage.OpenDB(cfg.Database.Path)
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return cfg, log, db
}

// mustOpenApp wires the full resolution pipeline.
func mustOpenApp(ctx context.Context) *app {
	cfg, log, db := mustOpenStore()
	a := &app{cfg: cfg, log: log, db: db, registry: prometheus.NewRegistry()}

	providers, err := provider.FromConfig(cfg)
	if err != nil {
		a.close()
		exitWithError(ExitConfigError, "building providers: %v", err)
	}
	normalizer, err := score.NewNormalizer(cfg.ScoreRanges())
	if err != nil {
		a.close()
		exitWithError(ExitConfigError, "score ranges: %v", err)
	}
	stats, err := chain.NewStats(a.registry)
	if err != nil {
		a.close()
		exitWithError(ExitError, "registering metrics: %v", err)
	}

	r := cfg.Resolution
	matcher := match.New(r.Weights)
	ch, err := chain.New(providers, normalizer,
		chain.WithAcceptanceThreshold(r.AcceptanceThreshold),
		chain.WithIdentifierConfidence(r.IdentifierConfidence),
		chain.WithMatcher(matcher),
		chain.WithStats(stats),
		chain.WithDefaultCooldown(cfg.Backfill.DefaultCooldown),
		chain.WithLogger(log),
	)
	if err != nil {
		a.close()
		if errors.Is(err, score.ErrInvalidScoreKind) {
			exitWithError(ExitConfigError, "%v", err)
		}
		exitWithError(ExitError, "building resolution chain: %v", err)
	}

	ids := identity.New(db,
		identity.WithDedupThreshold(r.DedupThreshold),
		identity.WithReviewThreshold(r.AcceptanceThreshold),
		identity.WithReviewRecurrence(r.ReviewRecurrence),
		identity.WithMatcher(matcher),
		identity.WithLogger(log),
	)

	opts := []engine.Option{
		engine.WithIdentity(ids),
		engine.WithWorkers(cfg.Workers),
		engine.WithLogger(log),
	}
	if a.mirror = a.mustOpenMirror(ctx); a.mirror != nil {
		opts = append(opts, engine.WithMirror(a.mirror))
	}
	a.engine, err = engine.New(db, ch, opts...)
	if err != nil {
		a.close()
		exitWithError(ExitConfigError, "building engine: %v", err)
	}
	return a
}

// mustOpenMirror connects the Neo4j mirror when one is configured.
func (a *app) mustOpenMirror(ctx context.Context) *graphsync.Neo4j {
	m, err := graphsync.New(ctx, a.cfg.Neo4j, a.log)
	if err != nil {
		a.close()
		exitWithError(ExitConfigError, "connecting to neo4j: %v", err)
	}
	return m
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.mirror != nil {
		_ = a.mirror.Close(context.Background())
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	a.log.Sync()
}

// counters flattens the registry's counters into "name{label=value}" keys.
func (a *app) counters() map[string]float64 {
	out := make(map[string]float64)
	families, err := a.registry.Gather()
	if err != nil {
		a.log.Warn("gathering metrics", "error", err)
		return out
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out
}
