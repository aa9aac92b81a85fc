// Package config loads and validates dedupfs settings.
//
// Settings come from three layers, each overriding the one before:
//   - Default(): the built-in defaults
//   - a YAML file named by --config or the DEDUPFS_CONFIG environment variable
//   - command-line flags that were explicitly set
//
// The third layer is applied by the CLI, which knows which flags changed.
// A minimal file looks like:
//
//	root: /srv/data
//	mountpoint: /mnt/data
//	digest: blake3
//	transform:
//	  name: shift
//	  param: 5
//	granularity: file
package config
