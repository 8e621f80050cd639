// Command poicollector is the CLI front-end for the POI collection and tile
// download engines, grounded on the teacher's main.go (flag.NewFlagSet
// subcommands, log/slog setup, signal-driven graceful shutdown), adapted
// from Go's stdlib flag package to github.com/spf13/cobra per SPEC_FULL.md
// §6.1 — the same subcommand-per-verb shape, generalized with a maintained
// CLI library the way internal/config generalizes the teacher's env parser
// to viper.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chenqi92/poi-collector/internal/config"
	"github.com/chenqi92/poi-collector/internal/store"
	"github.com/chenqi92/poi-collector/internal/surface"
)

var (
	configPath string
	debug      bool

	cfg       *config.Config
	svc       *surface.Service
	poiStore  *store.PoiStore
	tileStore *store.TileStore
)

func main() {
	root := &cobra.Command{
		Use:   "poicollector",
		Short: "Collect points of interest and download map tiles across eight platforms",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml/json/toml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return openServiceFor(cmd)
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if tileStore != nil {
			tileStore.Close()
		}
		if poiStore != nil {
			poiStore.Close()
		}
	}

	root.AddCommand(
		newCollectCmd(),
		newCategoriesCmd(),
		newSearchCmd(),
		newRegionsCmd(),
		newExportCmd(),
		newAPIKeysCmd(),
		newTilesCmd(),
		newBoundaryCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openServiceFor lazily loads config and opens both stores once per process
// invocation. Every subcommand but "serve --help"-style introspection needs
// at least one of the two stores, so there is no value in deferring further.
func openServiceFor(cmd *cobra.Command) error {
	if svc != nil {
		return nil
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	if err := os.MkdirAll(filepath.Dir(cfg.PoiDBPath), 0o755); err != nil {
		return fmt.Errorf("create poi db directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.TileDBPath), 0o755); err != nil {
		return fmt.Errorf("create tile db directory: %w", err)
	}

	p, err := store.OpenPoiStore(cfg.PoiDBPath)
	if err != nil {
		return fmt.Errorf("open poi store at %s: %w", cfg.PoiDBPath, err)
	}
	t, err := store.OpenTileStore(cfg.TileDBPath)
	if err != nil {
		p.Close()
		return fmt.Errorf("open tile store at %s: %w", cfg.TileDBPath, err)
	}
	poiStore, tileStore = p, t

	svc = surface.New(poiStore, tileStore)
	return nil
}
