// Package main provides the citegraph CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// SilenceErrors is set, so cobra errors (bad flags, missing args) are printed here
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "citegraph",
	Short: "Citation resolution and knowledge graph engine",
	Long: `citegraph resolves raw citation fragments against bibliographic providers
(Crossref, arXiv, OpenAlex, Semantic Scholar) and stores the results as a
deduplicated graph of papers and citation edges in SQLite.

All commands output JSON by default for easy integration with agents and
other tools. Configuration is read from ~/.config/citegraph/config.yml and
the environment (a .env file in the working directory is honored).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Load .env if present; a missing file is fine
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.config/citegraph/config.yml)")
	rootCmd.Version = Version
}
