// Package main provides the dedupfs command-line interface.
//
// dedupfs is a FUSE filesystem that mirrors a backing directory while storing
// each distinct file content once. Duplicate files are kept as sparse
// placeholders, and a .hash sidecar next to every file records the digest of
// its encoded content so reads can be redirected to the canonical copy.
//
// The main binary supports multiple subcommands:
//   - mount: Mount a dedupfs filesystem at a specified mountpoint
//   - import: Copy an existing directory tree into a dedupfs root
//   - validate: Check sidecars and redirects in a dedupfs root
//   - stats: Report deduplication savings
//   - seed: Generate test data
package main
