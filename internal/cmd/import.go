package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

// NewImportCmd creates and returns the import subcommand for the dedupfs CLI.
// It copies an existing directory tree into a dedupfs backing root.
func NewImportCmd() *cobra.Command {
	var (
		inputPath  string
		outputPath string
		verbose    bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy a directory tree into a dedupfs root",
		Long: `Import an existing directory tree into a dedupfs backing directory.

Every regular file under the input is written through the same path the
mounted filesystem uses, so files whose contents already exist in the output
become placeholders. The output's existing sidecars are indexed first, which
makes repeated imports into the same root deduplicate against each other.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}
			if outputPath != "" {
				cfg.Root = outputPath
			}

			// Validate input directory exists
			if _, err := os.Stat(inputPath); os.IsNotExist(err) {
				log.Fatalf("Input directory does not exist: %s", inputPath)
			}
			if err := cfg.Validate(); err != nil {
				log.Fatalf("Invalid configuration: %v", err)
			}

			// Create output directory if it doesn't exist
			if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
				log.Fatalf("Failed to create output directory: %v", err)
			}
			engine, _, err := newEngine(cfg)
			if err != nil {
				log.Fatalf("Failed to create engine: %v", err)
			}

			if verbose {
				fmt.Printf("Importing %s into %s\n", inputPath, cfg.Root)
				if dryRun {
					fmt.Println("DRY RUN - no changes will be made")
				}
			}
			if _, err := engine.Rebuild(cmd.Context(), dedup.RebuildOptions{Workers: cfg.Workers}); err != nil {
				log.Printf("Warning: index of %s is incomplete: %v", cfg.Root, err)
			}

			report, err := importTree(engine, inputPath, os.Stdout, verbose, dryRun)
			if err != nil {
				log.Fatalf("Import failed: %v", err)
			}
			if dryRun {
				return
			}
			stats := engine.Stats()
			fmt.Printf("Import complete!\n")
			fmt.Printf("  Files imported: %d\n", report.Files)
			fmt.Printf("  Bytes imported: %d\n", report.Bytes)
			fmt.Printf("  Failed: %d\n", report.Failed)
			fmt.Printf("  Unique contents: %d\n", stats.Digests)
			fmt.Printf("  Placeholders: %d\n", stats.Placeholders)
		},
	}

	addEngineFlags(cmd)
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to input directory (required)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to output dedupfs backing directory")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")

	cmd.MarkFlagRequired("input")

	return cmd
}

type importReport struct {
	Files  int
	Bytes  int64
	Failed int
}

// importTree writes every regular file below inputPath into engine's backing
// root at the same relative location. Shadow directories in the input are
// skipped. Per-file failures are logged and counted.
func importTree(engine *dedup.Engine, inputPath string, w io.Writer, verbose, dryRun bool) (importReport, error) {
	var report importReport
	err := filepath.WalkDir(inputPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(inputPath, path)
		if err != nil {
			return err
		}
		loc := dedup.CleanLocation(rel)

		switch {
		case d.IsDir() && dedup.IsShadowDir(d.Name()):
			return filepath.SkipDir
		case d.IsDir():
			if loc == "." || dryRun {
				return nil
			}
			if err := engine.Backing().Mkdir(loc, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("mkdir %s: %w", loc, err)
			}
			return nil
		case !d.Type().IsRegular():
			return nil
		}

		if dryRun {
			fmt.Fprintf(w, "  %s -> %s\n", path, loc)
			report.Files++
			return nil
		}
		n, err := importFile(engine, path, loc)
		if err != nil {
			log.Printf("Warning: Failed to import %s: %v", path, err)
			report.Failed++
			return nil
		}
		report.Files++
		report.Bytes += n
		if verbose {
			fmt.Fprintf(w, "Imported %s (%d bytes)\n", loc, n)
		}
		return nil
	})
	return report, err
}

func importFile(engine *dedup.Engine, path string, loc dedup.Location) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	h, err := engine.Backing().Open(loc, os.O_RDWR|os.O_CREATE, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	err = engine.Commit(loc, h, data)
	if cerr := h.Close(); err == nil {
		err = cerr
	}
	return int64(len(data)), err
}
