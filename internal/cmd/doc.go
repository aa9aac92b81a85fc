// Package cmd provides the command-line interface implementation for dedupfs.
//
// This package contains all the subcommand implementations for the dedupfs CLI tool.
// It uses the Cobra library for command structure and Fang for styling.
//
// The package is organized into the following commands:
//   - root: Main command coordinator and entry point
//   - mount: FUSE filesystem mounting functionality
//   - import: Copying existing directory trees into a dedupfs root
//   - validate: Sidecar and redirect consistency checking
//   - stats: Deduplication statistics
//   - seed: Test data generation
//
// Each command is implemented as a separate file with its own constructor function
// that returns a *cobra.Command. Commands that open a backing root share the
// engine flags and config loading in flags.go: a YAML file named by --config
// supplies settings, and explicitly set flags override it.
package cmd
