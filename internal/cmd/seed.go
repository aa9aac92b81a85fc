package cmd

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

const (
	seedPoolSize   = 50
	seedDirMaxSize = 1000
)

// NewSeedCmd creates and returns the seed subcommand for the dedupfs CLI.
// It generates many small files with heavily repeated contents.
func NewSeedCmd() *cobra.Command {
	var (
		outputPath string
		fileCount  int
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate test files with repeated contents",
		Long: `Generate a large number of test files for exercising dedupfs.

Creates files in a YYYY/MM/DD/HH/mm/SS directory structure below the output
root. Files are distributed across the hierarchy with most files at the
deepest level (SS). Each file contains a single UUID line drawn from a pool
of 50, so nearly every file is a duplicate. Files are written through the
dedup engine, leaving one canonical copy per UUID.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				log.Fatalf("Failed to load config: %v", err)
			}
			if outputPath != "" {
				cfg.Root = outputPath
			}
			if err := cfg.Validate(); err != nil {
				log.Fatalf("Invalid configuration: %v", err)
			}

			// Create output directory
			if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
				log.Fatalf("Failed to create output directory: %v", err)
			}
			engine, _, err := newEngine(cfg)
			if err != nil {
				log.Fatalf("Failed to create engine: %v", err)
			}
			if verbose {
				fmt.Printf("Generating %d test files in %s\n", fileCount, cfg.Root)
			}
			if err := seedRoot(engine, fileCount, os.Stdout, verbose); err != nil {
				log.Fatalf("Seed failed: %v", err)
			}
		},
	}

	addEngineFlags(cmd)
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to output dedupfs backing directory")
	cmd.Flags().IntVarP(&fileCount, "count", "c", 10000, "Number of files to generate")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func randInt(n int64) int64 {
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// seedDir picks the directory for a file stamped t. roll is a percentage
// that selects how deep in the YYYY/MM/DD/HH/mm/SS hierarchy it lands.
func seedDir(t time.Time, roll int64) dedup.Location {
	parts := []string{
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()),
		fmt.Sprintf("%02d", t.Minute()),
		fmt.Sprintf("%02d", t.Second()),
	}
	var depth int
	switch {
	case roll < 5: // 5% at year level
		depth = 1
	case roll < 10: // 5% at month level
		depth = 2
	case roll < 15: // 5% at day level
		depth = 3
	case roll < 25: // 10% at hour level
		depth = 4
	case roll < 40: // 15% at minute level
		depth = 5
	default: // 60% at second level
		depth = 6
	}
	return dedup.CleanLocation(strings.Join(parts[:depth], "/"))
}

// mkdirAll creates loc and its parents in the backing root.
func mkdirAll(b dedup.Backing, loc dedup.Location) error {
	if loc == "." {
		return nil
	}
	if info, err := b.Stat(loc); err == nil && info.IsDir() {
		return nil
	}
	if err := mkdirAll(b, loc.Dir()); err != nil {
		return err
	}
	if err := b.Mkdir(loc, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

func seedRoot(engine *dedup.Engine, fileCount int, w io.Writer, verbose bool) error {
	uuidPool := make([]string, seedPoolSize)
	for i := range uuidPool {
		uuidPool[i] = uuid.NewString()
	}

	filesCreated := 0
	dirFileCounts := make(map[dedup.Location]int)

	// Start from a base time and vary it
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backing := engine.Backing()

	for filesCreated < fileCount {
		fileTime := baseTime.AddDate(0, 0, int(randInt(365))).
			Add(time.Duration(randInt(24)) * time.Hour).
			Add(time.Duration(randInt(60)) * time.Minute).
			Add(time.Duration(randInt(60)) * time.Second)

		dir := seedDir(fileTime, randInt(100))
		if dirFileCounts[dir] >= seedDirMaxSize {
			continue // Try a different time/directory
		}
		if err := mkdirAll(backing, dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}

		ext := ".json"
		if randInt(2) == 1 {
			ext = ".txt"
		}
		loc := dir.Join(fmt.Sprintf("%08x%s", randInt(0xFFFFFFFF), ext))

		h, err := backing.Open(loc, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create %s: %w", loc, err)
		}
		content := uuidPool[randInt(seedPoolSize)] + "\n"
		err = engine.Commit(loc, h, []byte(content))
		if cerr := h.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			log.Printf("Warning: Failed to write file %s: %v", loc, err)
			continue
		}

		dirFileCounts[dir]++
		filesCreated++

		if verbose && filesCreated%1000 == 0 {
			fmt.Fprintf(w, "Created %d/%d files...\n", filesCreated, fileCount)
		}
	}

	if verbose {
		stats := engine.Stats()
		fmt.Fprintf(w, "Successfully created %d files\n", filesCreated)
		fmt.Fprintf(w, "Files distributed across %d directories\n", len(dirFileCounts))
		fmt.Fprintf(w, "Unique contents: %d, placeholders: %d\n", stats.Digests, stats.Placeholders)
	}
	return nil
}
