package dedupfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

// FS implements the dedup FUSE filesystem over one Engine.
type FS struct {
	engine *dedup.Engine
	files  map[dedup.Location]*File // live file nodes, so handles can be found
	mu     sync.Mutex               // protects files
}

// New creates a filesystem serving engine's backing root.
func New(engine *dedup.Engine) *FS {
	return &FS{
		engine: engine,
		files:  make(map[dedup.Location]*File),
	}
}

// Root returns the root directory node
func (f *FS) Root() (fusefs.Node, error) {
	return &Dir{fs: f, loc: "."}, nil
}

// Engine returns the dedup engine the filesystem writes through.
func (f *FS) Engine() *dedup.Engine {
	return f.engine
}

// file returns the node for loc, creating it on first use.
func (f *FS) file(loc dedup.Location) *File {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.files[loc]
	if !ok {
		node = &File{fs: f, loc: loc}
		f.files[loc] = node
	}
	return node
}

// lookupFile returns the node for loc if one is live.
func (f *FS) lookupFile(loc dedup.Location) *File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[loc]
}

func (f *FS) forgetFile(loc dedup.Location, node *File) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[loc] == node {
		delete(f.files, loc)
	}
}

// moveFiles rekeys cached nodes after a rename of from to to. Renaming a
// directory moves every node below it.
func (f *FS) moveFiles(from, to dedup.Location) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for loc, node := range f.files {
		moved := to
		if loc != from {
			rest, ok := strings.CutPrefix(string(loc), string(from)+"/")
			if !ok {
				continue
			}
			moved = to.Join(rest)
		}
		delete(f.files, loc)
		node.setLocation(moved)
		f.files[moved] = node
	}
}

// dropFile unregisters the node for loc after its backing file is gone.
// Handles still open on it stop committing.
func (f *FS) dropFile(loc dedup.Location) {
	f.mu.Lock()
	node := f.files[loc]
	delete(f.files, loc)
	f.mu.Unlock()
	if node != nil {
		node.unlink()
	}
}

// fillAttr copies backing metadata into a.
func fillAttr(info os.FileInfo, a *fuse.Attr) {
	a.Mode = info.Mode()
	a.Size = uint64(info.Size())
	a.Mtime = info.ModTime()
	a.Ctime = info.ModTime()
	a.Atime = time.Now()
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		a.Inode = st.Ino
		a.Nlink = uint32(st.Nlink)
		a.Uid = st.Uid
		a.Gid = st.Gid
		a.Blocks = uint64(st.Blocks)
	}
}

// toErrno maps an error from the backing or the engine onto the errno
// returned to the kernel.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return fuse.Errno(errno)
	case errors.Is(err, fs.ErrNotExist):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, fs.ErrExist):
		return fuse.Errno(syscall.EEXIST)
	case errors.Is(err, fs.ErrPermission):
		return fuse.Errno(syscall.EACCES)
	case errors.Is(err, context.Canceled):
		return fuse.Errno(syscall.EINTR)
	default:
		return fuse.Errno(syscall.EIO)
	}
}
