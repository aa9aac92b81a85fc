package cmd

import (
	"github.com/dendrascience/dendra-dedup-fuse/internal/config"
	"github.com/dendrascience/dendra-dedup-fuse/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the dedupfs CLI.
// It sets up all subcommands, command groups, and basic configuration.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dedupfs",
		Short: "dedupfs - A FUSE filesystem that deduplicates identical file contents",
		Long: `dedupfs is a FUSE filesystem that exposes a backing directory unchanged
while storing each distinct content only once.

Files with identical contents share one encoded copy. The others are kept as
sparse placeholders whose .hash sidecar record names the content digest.

Use subcommands to perform different operations:
  - mount: Mount a dedupfs filesystem at a specified mountpoint
  - import: Copy an existing directory tree into a dedupfs root
  - validate: Check sidecars and redirects in a dedupfs root
  - stats: Report deduplication savings for a dedupfs root
  - seed: Generate test data in a dedupfs root`,
		Version: version.GetFullVersion(),
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (default $"+config.EnvVar+")")

	groupUtilities := "utilities"
	groupFilesystem := "filesystem"

	// Add command groups for better organization
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	mountCmd := NewMountCmd()
	importCmd := NewImportCmd()
	validateCmd := NewValidateCmd()
	statsCmd := NewStatsCmd()
	seedCmd := NewSeedCmd()
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.Fprint(cmd.OutOrStdout(), "dedupfs")
		},
	}

	mountCmd.GroupID = groupFilesystem
	statsCmd.GroupID = groupUtilities
	importCmd.GroupID = groupUtilities
	validateCmd.GroupID = groupUtilities
	seedCmd.GroupID = groupUtilities
	versionCmd.GroupID = groupUtilities

	// Add subcommands
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}
