package dedup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ShadowDirName is the per-directory folder that holds sidecar records.
const ShadowDirName = ".hash"

const (
	shadowDirPerm   os.FileMode = 0o700
	sidecarFilePerm os.FileMode = 0o600
	tempSuffix                  = ".tmp"
)

// IsShadowDir reports whether a directory entry name is reserved for sidecars.
func IsShadowDir(name string) bool {
	return name == ShadowDirName
}

// SidecarStore persists, next to each backing file, the digest of the content
// that file logically represents.
type SidecarStore struct {
	backing Backing
}

// NewSidecarStore returns a store writing through b.
func NewSidecarStore(b Backing) *SidecarStore {
	return &SidecarStore{backing: b}
}

// Location returns the sidecar location for a backing file.
func (s *SidecarStore) Location(loc Location) Location {
	return loc.Dir().Join(ShadowDirName).Join(loc.Base())
}

// Path returns the host path of the sidecar for loc.
func (s *SidecarStore) Path(loc Location) string {
	return s.backing.Path(s.Location(loc))
}

func (s *SidecarStore) ensureShadow(dir Location) error {
	shadow := dir.Join(ShadowDirName)
	err := s.backing.Mkdir(shadow, shadowDirPerm)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return backingErr("mkdir", shadow, err)
	}
	return nil
}

// Put replaces the sidecar for loc with d. The record is written to a
// temporary file and renamed into place so readers never see a torn value.
func (s *SidecarStore) Put(loc Location, d Digest) error {
	if err := s.ensureShadow(loc.Dir()); err != nil {
		return err
	}
	target := s.Location(loc)
	tmp := loc.Dir().Join(ShadowDirName).Join("." + loc.Base() + "." + uuid.NewString() + tempSuffix)

	h, err := s.backing.Open(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, sidecarFilePerm)
	if errors.Is(err, fs.ErrNotExist) {
		// A concurrent Remove pruned the emptied shadow directory.
		if err = s.ensureShadow(loc.Dir()); err == nil {
			h, err = s.backing.Open(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, sidecarFilePerm)
		}
	}
	if err != nil {
		return backingErr("create", tmp, err)
	}
	_, err = h.WriteAt([]byte(d.String()), 0)
	err = errors.Join(err, h.Close())
	if err == nil {
		err = s.backing.Rename(tmp, target)
	}
	if err != nil {
		s.backing.Remove(tmp)
		return backingErr("write sidecar", target, err)
	}
	return nil
}

// Get returns the recorded digest for loc. ok is false when no record exists.
func (s *SidecarStore) Get(loc Location) (d Digest, ok bool, err error) {
	target := s.Location(loc)
	h, err := s.backing.Open(target, os.O_RDONLY, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return d, false, nil
	}
	if err != nil {
		return d, false, backingErr("open sidecar", target, err)
	}
	defer h.Close()

	// One extra byte so an oversized record is reported instead of truncated.
	raw, err := readFull(h, 0, 2*DigestSize+1)
	if err != nil {
		return d, false, backingErr("read sidecar", target, err)
	}
	d, err = ParseDigest(string(raw))
	if err != nil {
		return d, false, fmt.Errorf("%s: %w", target, err)
	}
	return d, true, nil
}

// Move carries the sidecar of oldLoc over to newLoc. A stale record at newLoc
// is removed when oldLoc has none.
func (s *SidecarStore) Move(oldLoc, newLoc Location) error {
	src, dst := s.Location(oldLoc), s.Location(newLoc)
	if _, err := s.backing.Lstat(src); errors.Is(err, fs.ErrNotExist) {
		return s.Remove(newLoc)
	}
	if err := s.ensureShadow(newLoc.Dir()); err != nil {
		return err
	}
	if err := s.backing.Rename(src, dst); err != nil {
		return backingErr("rename sidecar", src, err)
	}
	s.pruneShadow(oldLoc.Dir())
	return nil
}

// Remove deletes the sidecar for loc. A missing record is not an error.
func (s *SidecarStore) Remove(loc Location) error {
	target := s.Location(loc)
	err := s.backing.Remove(target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return backingErr("remove sidecar", target, err)
	}
	s.pruneShadow(loc.Dir())
	return nil
}

// pruneShadow removes the shadow directory of dir once it is empty.
func (s *SidecarStore) pruneShadow(dir Location) {
	s.backing.Remove(dir.Join(ShadowDirName))
}

// RemoveShadow deletes the shadow directory of dir with every record and
// leftover temporary file in it. Used before removing dir itself.
func (s *SidecarStore) RemoveShadow(dir Location) error {
	shadow := dir.Join(ShadowDirName)
	entries, err := s.backing.ReadDir(shadow)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return backingErr("readdir", shadow, err)
	}
	for _, e := range entries {
		if err := s.backing.Remove(shadow.Join(e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return backingErr("remove", shadow.Join(e.Name()), err)
		}
	}
	if err := s.backing.Remove(shadow); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return backingErr("rmdir", shadow, err)
	}
	return nil
}

// IsTemp reports whether a name inside a shadow directory is an in-flight
// temporary record rather than a sidecar.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}
