package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
	"github.com/dendrascience/dendra-dedup-fuse/dedupfs"
	"github.com/dendrascience/dendra-dedup-fuse/version"
)

// NewMountCmd creates and returns the mount subcommand for the dedupfs CLI.
// It handles mounting a backing directory at a mountpoint.
func NewMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount [ROOT MOUNTPOINT]",
		Short: "Mount a deduplicating view of a directory",
		Long: `Mount a dedupfs filesystem at the specified mountpoint.

ROOT is the backing directory whose files are exposed.
MOUNTPOINT is the directory where the filesystem will be mounted.

Both may instead come from the config file. Before serving, the digest
index is rebuilt from the sidecar records under ROOT unless --rebuild=false.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
			}
			return nil
		},
		Run: runMount,
	}

	addEngineFlags(cmd)
	cmd.Flags().Bool("rebuild", true, "Rebuild the digest index from sidecars before serving")
	cmd.Flags().Bool("adopt", false, "Encode files that have no sidecar during rebuild")
	cmd.Flags().Bool("allow-other", false, "Allow other users to access the mount")

	return cmd
}

func runMount(cmd *cobra.Command, args []string) {
	// Print version info on startup
	fmt.Printf("dedupfs %s starting...\n", version.GetFullVersion())

	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(args) == 2 {
		cfg.Root, cfg.Mountpoint = args[0], args[1]
	}
	if err := cfg.ValidateMount(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	engine, logger, err := newEngine(cfg)
	if errors.Is(err, dedup.ErrOutOfMemory) {
		log.Fatalf("Failed to allocate digest index: %v", err)
	}
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	logger = logger.With("session", uuid.NewString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Rebuild {
		report, err := engine.Rebuild(ctx, dedup.RebuildOptions{Workers: cfg.Workers, Adopt: cfg.Adopt})
		if err != nil {
			logger.Error("index rebuild incomplete", "error", err)
			if ctx.Err() != nil {
				os.Exit(1)
			}
		}
		for _, loc := range report.Orphans {
			logger.Warn("placeholder has no canonical copy", "location", loc)
		}
		if n := len(report.Unmanaged); n > 0 {
			logger.Warn("files without sidecar will fail to read", "count", n, "hint", "mount with --adopt")
		}
	}

	options := []fuse.MountOption{
		fuse.FSName("dedupfs"),
		fuse.Subtype("dedupfs"),
	}
	if cfg.AllowOther {
		options = append(options, fuse.AllowOther())
	}
	c, err := fuse.Mount(cfg.Mountpoint, options...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	go func() {
		<-ctx.Done()
		log.Println("Received interrupt signal, shutting down...")

		// Unmount filesystem
		if err := fuse.Unmount(cfg.Mountpoint); err != nil {
			logger.Error("unmount failed", "mountpoint", cfg.Mountpoint, "error", err)
			return
		}
		log.Println("Shutdown complete")
	}()

	logger.Info("mounted",
		"version", version.GetVersion(),
		"mountpoint", cfg.Mountpoint,
		"root", cfg.Root,
		"digest", engine.Digester().Name(),
		"transform", engine.Transform().Name(),
		"granularity", engine.Granularity())
	if err := fs.Serve(c, dedupfs.New(engine)); err != nil {
		log.Fatal(err)
	}
	stats := engine.Stats()
	logger.Info("unmounted", "digests", stats.Digests, "placeholders", stats.Placeholders)
}
