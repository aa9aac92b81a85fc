package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

// NewStatsCmd creates and returns the stats subcommand for the dedupfs CLI.
// It reports how much space deduplication saves under a backing root.
func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [ROOT]",
		Short: "Report deduplication savings for a dedupfs root",
		Long: `Report file and content counts for a dedupfs backing directory.

This is a utility command that walks ROOT, reads every sidecar record and
counts distinct contents, placeholders and the logical bytes that
placeholders do not store.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}
			if len(args) > 0 {
				cfg.Root = args[0]
			}
			if err := cfg.Validate(); err != nil {
				log.Fatalf("Invalid configuration: %v", err)
			}
			engine, _, err := newEngine(cfg)
			if err != nil {
				log.Fatalf("Failed to create engine: %v", err)
			}
			s, err := collectStats(cmd.Context(), engine, cfg.Workers)
			if err != nil {
				fmt.Printf("Error collecting stats: %v\n", err)
				return
			}
			s.print(os.Stdout)
		},
	}

	addEngineFlags(cmd)
	cmd.Flags().StringP("root", "p", "", "Path to dedupfs backing directory")

	return cmd
}

type rootStats struct {
	Files        int
	Unique       int
	Placeholders int
	Unmanaged    int
	Errors       int
	LogicalBytes int64
	SavedBytes   int64
}

func collectStats(ctx context.Context, engine *dedup.Engine, workers int) (rootStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var s rootStats
	scan, err := engine.Scan(ctx, workers)
	if err != nil {
		return s, err
	}
	unique := make(map[dedup.Digest]struct{})
	for _, f := range scan.Files {
		if f.Err != nil {
			s.Errors++
			continue
		}
		s.Files++
		s.LogicalBytes += f.Size
		switch f.State {
		case dedup.StateCanonical:
			unique[f.Sidecar] = struct{}{}
		case dedup.StatePlaceholder:
			s.Placeholders++
			s.SavedBytes += f.Size
		case dedup.StateUnmanaged:
			s.Unmanaged++
		}
	}
	s.Unique = len(unique)
	return s, nil
}

func (s rootStats) print(w io.Writer) {
	fmt.Fprintf(w, "Total files: %d\n", s.Files)
	fmt.Fprintf(w, "Unique contents: %d\n", s.Unique)
	fmt.Fprintf(w, "Placeholders: %d\n", s.Placeholders)
	fmt.Fprintf(w, "Unmanaged files: %d\n", s.Unmanaged)
	if s.Errors > 0 {
		fmt.Fprintf(w, "Unreadable files: %d\n", s.Errors)
	}
	fmt.Fprintf(w, "Logical size: %d bytes\n", s.LogicalBytes)
	fmt.Fprintf(w, "Saved: %d bytes\n", s.SavedBytes)
}
