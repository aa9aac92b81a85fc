package dedup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/minio/highwayhash"
	"lukechampine.com/blake3"
)

// DigestSize is the width of every content digest in bytes.
const DigestSize = 16

// Digest identifies a byte sequence by content. Two equal buffers always
// produce the same Digest for a given Digester.
type Digest [DigestSize]byte

// String renders the digest as lowercase hex, the form stored in sidecars.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses the hex form produced by Digest.String.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(DigestSize) {
		return d, fmt.Errorf("%w: got %d characters, want %d", ErrCorruptSidecar, len(s), hex.EncodedLen(DigestSize))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("%w: %w", ErrCorruptSidecar, err)
	}
	return d, nil
}

// Digester maps a whole buffer to its Digest.
type Digester interface {
	Sum(p []byte) Digest
	Name() string
}

// Supported digest algorithm names.
const (
	DigestBLAKE3  = "blake3"
	DigestHighway = "highway"
	DigestSHA256  = "sha256"
	DigestMD5     = "md5"
)

// DefaultDigest is used when no algorithm is configured.
const DefaultDigest = DigestBLAKE3

// highwayKey is the fixed HighwayHash key. Changing it changes every digest,
// so existing sidecars would no longer match their files.
var highwayKey = []byte("dedupfs.highwayhash.key.v1......")

// NewDigester returns the Digester registered under name.
func NewDigester(name string) (Digester, error) {
	switch name {
	case DigestBLAKE3, "":
		return blake3Digester{}, nil
	case DigestHighway:
		return highwayDigester{}, nil
	case DigestSHA256:
		return sha256Digester{}, nil
	case DigestMD5:
		return md5Digester{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDigest, name)
	}
}

type blake3Digester struct{}

func (blake3Digester) Name() string { return DigestBLAKE3 }

func (blake3Digester) Sum(p []byte) Digest {
	h := blake3.New(DigestSize, nil)
	h.Write(p)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

type highwayDigester struct{}

func (highwayDigester) Name() string { return DigestHighway }

func (highwayDigester) Sum(p []byte) Digest {
	return Digest(highwayhash.Sum128(p, highwayKey))
}

type sha256Digester struct{}

func (sha256Digester) Name() string { return DigestSHA256 }

func (sha256Digester) Sum(p []byte) Digest {
	sum := sha256.Sum256(p)
	var d Digest
	copy(d[:], sum[:DigestSize])
	return d
}

type md5Digester struct{}

func (md5Digester) Name() string { return DigestMD5 }

func (md5Digester) Sum(p []byte) Digest {
	return Digest(md5.Sum(p))
}
