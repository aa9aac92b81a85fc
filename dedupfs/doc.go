// Package dedupfs exposes a backing directory through FUSE with content
// deduplication.
//
// Every node maps one-to-one onto a file or directory under the backing root.
// Directory operations pass straight through. File content goes through a
// dedup.Engine: identical content written to several files is stored once,
// and the other files become placeholders whose reads are redirected to the
// copy that holds the bytes.
//
// The per-directory .hash folders that hold the sidecar digest records are
// never visible through the mount and cannot be created, renamed or removed
// through it.
//
// With whole-file granularity (the default) a handle buffers the file in
// memory and commits it on flush, fsync or release. With write granularity
// each write request is deduplicated on its own.
//
// The main entry point is New, whose result is served with bazil.org/fuse/fs.
package dedupfs
