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

// NewValidateCmd creates and returns the validate subcommand for the dedupfs CLI.
// It checks every backing file against its sidecar record.
func NewValidateCmd() *cobra.Command {
	var (
		verbose bool
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "validate [ROOT]",
		Short: "Check sidecars and redirects in a dedupfs root",
		Long: `Validate a dedupfs backing directory for consistency.

This command reads every file under ROOT together with its .hash sidecar and
reports files without a sidecar, placeholders whose content no file holds,
sidecars left behind by removed files, and unreadable records.
With --repair, unmanaged files are encoded in place and stray sidecars are
deleted. Orphaned placeholders cannot be repaired.`,
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
			problems, err := validateRoot(cmd.Context(), engine, os.Stdout, cfg.Workers, verbose, repair)
			if err != nil {
				log.Fatalf("Error scanning %s: %v", cfg.Root, err)
			}
			if problems > 0 {
				os.Exit(1)
			}
		},
	}

	addEngineFlags(cmd)
	cmd.Flags().StringP("root", "p", "", "Path to dedupfs backing directory to validate")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVarP(&repair, "repair", "r", false, "Adopt unmanaged files and delete stray sidecars")

	return cmd
}

// validateRoot scans engine's backing root and writes a report to w. It
// returns the number of problems left after any repair.
func validateRoot(ctx context.Context, engine *dedup.Engine, w io.Writer, workers int, verbose, repair bool) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	scan, err := engine.Scan(ctx, workers)
	if err != nil {
		return 0, err
	}

	held := make(map[dedup.Digest]bool)
	for _, f := range scan.Files {
		if f.Err == nil && f.State == dedup.StateCanonical {
			held[f.Sidecar] = true
		}
	}

	var (
		problems  int
		unmanaged int
		byState   = make(map[dedup.FileState]int)
	)
	for _, f := range scan.Files {
		switch {
		case f.Err != nil:
			fmt.Fprintf(w, "error: %s: %v\n", f.Location, f.Err)
			problems++
			continue
		case f.State == dedup.StateUnmanaged:
			fmt.Fprintf(w, "unmanaged: %s has no sidecar\n", f.Location)
			unmanaged++
		case f.State == dedup.StatePlaceholder && !held[f.Sidecar]:
			fmt.Fprintf(w, "orphan: %s points at %s, which no file holds\n", f.Location, f.Sidecar)
			problems++
		case verbose:
			fmt.Fprintf(w, "ok: %s (%s, %d bytes)\n", f.Location, f.State, f.Size)
		}
		byState[f.State]++
	}
	for _, loc := range scan.StraySidecars {
		fmt.Fprintf(w, "stray: sidecar for missing file %s\n", loc)
	}
	strays := len(scan.StraySidecars)

	if repair && (unmanaged > 0 || strays > 0) {
		fmt.Fprintf(w, "Repairing...\n")
		for _, loc := range scan.StraySidecars {
			if err := engine.Sidecars().Remove(loc); err != nil {
				fmt.Fprintf(w, "Failed to remove sidecar for %s: %v\n", loc, err)
				continue
			}
			strays--
		}
		if unmanaged > 0 {
			report, err := engine.Rebuild(ctx, dedup.RebuildOptions{Workers: workers, Adopt: true})
			if err != nil {
				fmt.Fprintf(w, "Failed to adopt some files: %v\n", err)
			}
			unmanaged = len(report.Unmanaged)
			fmt.Fprintf(w, "Adopted %d files\n", report.Adopted)
		}
	}
	problems += unmanaged + strays

	fmt.Fprintf(w, "\nValidation complete:\n")
	fmt.Fprintf(w, "  Files checked: %d\n", len(scan.Files))
	fmt.Fprintf(w, "  Canonical: %d\n", byState[dedup.StateCanonical])
	fmt.Fprintf(w, "  Placeholders: %d\n", byState[dedup.StatePlaceholder])
	fmt.Fprintf(w, "  Total problems: %d\n", problems)
	return problems, nil
}
