// Package version provides version information and build metadata for dedupfs.
//
// Version information comes from, in order of preference:
//   - Compile-time variables (Version, Commit, Date) set via -ldflags
//   - Runtime build info from debug.ReadBuildInfo()
//   - Fallback defaults for development builds
//
// GetFullVersion formats the version with a short commit and build date, and
// Fprint writes the complete Info for the version subcommand.
//
// Set at build time with:
//
//	-ldflags "-X github.com/dendrascience/dendra-dedup-fuse/version.Version=v1.0.0 -X github.com/dendrascience/dendra-dedup-fuse/version.Commit=abc123"
package version
