package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
	"github.com/dendrascience/dendra-dedup-fuse/internal/config"
)

// addEngineFlags registers the flags that shape a dedup engine. They only
// override the config file when set explicitly.
func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("digest", dedup.DefaultDigest, "Digest algorithm (blake3, highway, sha256, md5)")
	cmd.Flags().String("transform", dedup.DefaultTransform, "At-rest transform (shift, xor, none)")
	cmd.Flags().Int("transform-param", 0, "Shift amount or XOR mask, 0 for the transform default")
	cmd.Flags().String("granularity", string(dedup.GranularityFile), "Dedup unit (file, write)")
	cmd.Flags().Int("index-capacity", dedup.DefaultIndexCapacity, "Expected number of distinct contents")
	cmd.Flags().Int("workers", 0, "Hashing workers for index rebuild, 0 for one per CPU")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

// loadConfig reads the config file named by --config or DEDUPFS_CONFIG and
// applies every flag the user set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(config.Path(path))
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"root":        &cfg.Root,
		"mountpoint":  &cfg.Mountpoint,
		"digest":      &cfg.Digest,
		"transform":   &cfg.Transform.Name,
		"granularity": &cfg.Granularity,
		"log-level":   &cfg.LogLevel,
	}
	for name, dst := range stringFlags {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	intFlags := map[string]*int{
		"transform-param": &cfg.Transform.Param,
		"index-capacity":  &cfg.IndexCapacity,
		"workers":         &cfg.Workers,
	}
	for name, dst := range intFlags {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	boolFlags := map[string]*bool{
		"rebuild":     &cfg.Rebuild,
		"adopt":       &cfg.Adopt,
		"allow-other": &cfg.AllowOther,
	}
	for name, dst := range boolFlags {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

// newEngine builds the engine described by cfg, logging to stderr.
func newEngine(cfg *config.Config) (*dedup.Engine, *slog.Logger, error) {
	logger := cfg.Logger(os.Stderr)
	opts, err := cfg.EngineOptions(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("backing root %s: %w", cfg.Root, err)
	}
	engine, err := dedup.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}
