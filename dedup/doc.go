// Package dedup implements the content-addressable deduplication core of dedupfs.
//
// Every write that passes through the filesystem is encoded with a reversible
// at-rest transform, hashed, and registered in an in-memory digest index. The
// first backing file to store a given content digest becomes its canonical
// location and receives the real encoded bytes. Later files with the same
// content become placeholders: nothing is stored for them, and reads are
// redirected to the canonical file.
//
// Key Components:
//
// Digests and Transforms:
//   - Digest is a fixed-width 128-bit content identifier rendered as lowercase hex
//   - Digester implementations for BLAKE3, HighwayHash, SHA-256 and MD5
//   - Transform implementations for byte shift, single byte XOR and identity
//
// Digest Index:
//   - Sharded map from Digest to an ordered LocationSet
//   - The first location of each set is canonical
//   - Per-shard read/write locks linearize operations on the same digest
//
// Sidecar Records:
//   - For a backing file <dir>/<name> the digest of its logical content is
//     stored in <dir>/.hash/<name>
//   - Records are replaced atomically on every write
//
// Coordinators:
//   - Engine.Write and Engine.Commit store real bytes or placeholders
//   - Engine.Read detects placeholders through the sidecar record and
//     serves the read from the canonical location
//   - Engine.Rebuild reconstructs the index from sidecars after a restart
//
// The index lives for the lifetime of an Engine and is not persisted.
package dedup
