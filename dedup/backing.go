package dedup

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Location names a backing file by its slash-separated path relative to the
// backing root, e.g. "a" or "dir/b". The root itself is ".".
type Location string

// CleanLocation normalizes p into a Location. Leading slashes and ".."
// segments that would escape the root are removed.
func CleanLocation(p string) Location {
	p = path.Clean("/" + filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return Location(p)
}

// Join appends a child name to a directory location.
func (l Location) Join(name string) Location {
	if l == "." || l == "" {
		return CleanLocation(name)
	}
	return CleanLocation(string(l) + "/" + name)
}

// Dir returns the parent directory location.
func (l Location) Dir() Location {
	return CleanLocation(path.Dir(string(l)))
}

// Base returns the final path element.
func (l Location) Base() string {
	return path.Base(string(l))
}

// Handle is an opened backing object. *os.File satisfies it.
type Handle interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Sync() error
}

// Backing is the pass-through collaborator the coordinators read and write
// through. It performs plain filesystem calls with no transformation.
type Backing interface {
	Open(loc Location, flag int, perm os.FileMode) (Handle, error)
	Mkdir(loc Location, perm os.FileMode) error
	Stat(loc Location) (os.FileInfo, error)
	Lstat(loc Location) (os.FileInfo, error)
	Rename(oldLoc, newLoc Location) error
	Remove(loc Location) error
	ReadDir(loc Location) ([]fs.DirEntry, error)
	Path(loc Location) string
}

// OSBacking maps locations onto a single root directory of the host filesystem.
type OSBacking struct {
	Root string
}

// NewOSBacking returns a Backing rooted at root, which must be a directory.
func NewOSBacking(root string) (*OSBacking, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: abs, Err: fs.ErrInvalid}
	}
	return &OSBacking{Root: abs}, nil
}

// Path returns the host path of loc.
func (b *OSBacking) Path(loc Location) string {
	return filepath.Join(b.Root, filepath.FromSlash(string(CleanLocation(string(loc)))))
}

func (b *OSBacking) Open(loc Location, flag int, perm os.FileMode) (Handle, error) {
	f, err := os.OpenFile(b.Path(loc), flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (b *OSBacking) Mkdir(loc Location, perm os.FileMode) error {
	return os.Mkdir(b.Path(loc), perm)
}

func (b *OSBacking) Stat(loc Location) (os.FileInfo, error) {
	return os.Stat(b.Path(loc))
}

func (b *OSBacking) Lstat(loc Location) (os.FileInfo, error) {
	return os.Lstat(b.Path(loc))
}

func (b *OSBacking) Rename(oldLoc, newLoc Location) error {
	return os.Rename(b.Path(oldLoc), b.Path(newLoc))
}

func (b *OSBacking) Remove(loc Location) error {
	return os.Remove(b.Path(loc))
}

func (b *OSBacking) ReadDir(loc Location) ([]fs.DirEntry, error) {
	return os.ReadDir(b.Path(loc))
}

// readFull reads up to size bytes at off, treating EOF as a short read.
func readFull(h io.ReaderAt, off int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := h.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
