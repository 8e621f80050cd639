// Package config loads layered configuration (env > config file > defaults)
// for cmd/poicollector, grounded on the teacher's config.go
// (.env/.env.local precedence over process env, numeric defaults), adapted
// from its hand-rolled env-file parser to github.com/spf13/viper per
// SPEC_FULL.md §6.1 — generalizing rather than dropping the teacher's
// layering intent: viper's config-file/env/default precedence is the same
// shape, just backed by a maintained library instead of a bespoke splitter.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds every setting cmd/poicollector's subcommands read.
type Config struct {
	// Store paths for the two independent SQLite-WAL files (SPEC_FULL.md §4.2).
	PoiDBPath  string
	TileDBPath string

	// OutputDir is the default root for tile downloads/conversions when a
	// subcommand doesn't override it with an explicit path.
	OutputDir string

	// ServePort is the listen port for `poicollector serve`'s JSON-over-HTTP
	// command surface.
	ServePort int

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// DefaultWorkers seeds new tile tasks' thread_count when a subcommand
	// doesn't specify one.
	DefaultWorkers int

	// DefaultRetries seeds new tile tasks' retry_count.
	DefaultRetries int
}

// Load builds a Config from (in ascending precedence) built-in defaults, an
// optional config file at configPath, and environment variables prefixed
// POICOLLECTOR_ (e.g. POICOLLECTOR_SERVE_PORT). A missing or absent
// configPath is not an error — matching the teacher's "fall back to
// process env if no .env/.env.local is present" behavior.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("poi_db_path", defaultDataPath("poi.db"))
	v.SetDefault("tile_db_path", defaultDataPath("tiles.db"))
	v.SetDefault("output_dir", defaultDataPath("tiles"))
	v.SetDefault("serve_port", 8787)
	v.SetDefault("log_level", "info")
	v.SetDefault("default_workers", 8)
	v.SetDefault("default_retries", 3)

	v.SetEnvPrefix("poicollector")
	v.AutomaticEnv()

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", configPath, err)
			}
		}
	}

	return &Config{
		PoiDBPath:      v.GetString("poi_db_path"),
		TileDBPath:     v.GetString("tile_db_path"),
		OutputDir:      v.GetString("output_dir"),
		ServePort:      v.GetInt("serve_port"),
		LogLevel:       v.GetString("log_level"),
		DefaultWorkers: v.GetInt("default_workers"),
		DefaultRetries: v.GetInt("default_retries"),
	}, nil
}

// defaultDataPath mirrors the teacher's "~/data/df/tiles"-style default
// output location, rebased to this module's own data directory name.
func defaultDataPath(leaf string) string {
	return filepath.Join(".", "data", leaf)
}
