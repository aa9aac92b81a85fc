package dedupfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

// Dir is a pass-through directory node.
type Dir struct {
	fs  *FS
	loc dedup.Location
}

var (
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
	_ fusefs.NodeCreater        = (*Dir)(nil)
	_ fusefs.NodeMkdirer        = (*Dir)(nil)
	_ fusefs.NodeRemover        = (*Dir)(nil)
	_ fusefs.NodeRenamer        = (*Dir)(nil)
)

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := d.fs.engine.Backing().Stat(d.loc)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(info, a)
	return nil
}

// Lookup resolves a name to a file or directory node. Shadow directories
// do not exist as far as the mount is concerned.
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	if dedup.IsShadowDir(name) {
		return nil, fuse.Errno(syscall.ENOENT)
	}
	loc := d.loc.Join(name)
	info, err := d.fs.engine.Backing().Lstat(loc)
	if err != nil {
		return nil, toErrno(err)
	}
	switch {
	case info.IsDir():
		return &Dir{fs: d.fs, loc: loc}, nil
	case info.Mode().IsRegular():
		return d.fs.file(loc), nil
	default:
		// Links, devices and sockets are outside what the mount serves.
		return nil, fuse.Errno(syscall.ENOENT)
	}
}

// ReadDirAll lists the backing directory without its shadow directory.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	entries, err := d.fs.engine.Backing().ReadDir(d.loc)
	if err != nil {
		return nil, toErrno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(entries))
	for _, entry := range entries {
		var typ fuse.DirentType
		switch {
		case entry.IsDir() && dedup.IsShadowDir(entry.Name()):
			continue
		case entry.IsDir():
			typ = fuse.DT_Dir
		case entry.Type().IsRegular():
			typ = fuse.DT_File
		default:
			continue
		}
		dirent := fuse.Dirent{Name: entry.Name(), Type: typ}
		if info, err := entry.Info(); err == nil {
			var a fuse.Attr
			fillAttr(info, &a)
			dirent.Inode = a.Inode
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

// Create creates a new file and opens it. The new file is registered as
// holding empty content so it reads back before anything is written.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	if dedup.IsShadowDir(req.Name) {
		return nil, nil, fuse.Errno(syscall.EPERM)
	}
	loc := d.loc.Join(req.Name)
	engine := d.fs.engine

	flag := os.O_RDWR | os.O_CREATE
	if req.Flags&fuse.OpenExclusive != 0 {
		flag |= os.O_EXCL
	}
	h, err := engine.Backing().Open(loc, flag, req.Mode.Perm())
	if err != nil {
		return nil, nil, toErrno(err)
	}
	if err := engine.Commit(loc, h, nil); err != nil {
		h.Close()
		return nil, nil, toErrno(err)
	}

	node := d.fs.file(loc)
	handle := node.attach(h, true)
	if err := node.Attr(ctx, &resp.Attr); err != nil {
		node.detach(handle)
		h.Close()
		return nil, nil, err
	}
	return node, handle, nil
}

// Mkdir creates a new directory
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	if dedup.IsShadowDir(req.Name) {
		return nil, fuse.Errno(syscall.EPERM)
	}
	loc := d.loc.Join(req.Name)
	if err := d.fs.engine.Backing().Mkdir(loc, req.Mode.Perm()); err != nil {
		return nil, toErrno(err)
	}
	return &Dir{fs: d.fs, loc: loc}, nil
}

// Remove deletes a file or an empty directory. A file's placeholders are
// promoted and its sidecar dropped before the backing file goes away.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if dedup.IsShadowDir(req.Name) {
		return fuse.Errno(syscall.EPERM)
	}
	loc := d.loc.Join(req.Name)
	engine := d.fs.engine

	if req.Dir {
		if err := d.removeDir(loc); err != nil {
			return toErrno(err)
		}
		return nil
	}

	if err := engine.Forget(loc); err != nil {
		return toErrno(err)
	}
	if err := engine.Backing().Remove(loc); err != nil {
		return toErrno(err)
	}
	d.fs.dropFile(loc)
	return nil
}

// removeDir removes loc, whose only allowed leftover is its shadow directory.
func (d *Dir) removeDir(loc dedup.Location) error {
	backing := d.fs.engine.Backing()
	entries, err := backing.ReadDir(loc)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !dedup.IsShadowDir(entry.Name()) {
			return syscall.ENOTEMPTY
		}
	}
	if err := d.fs.engine.Sidecars().RemoveShadow(loc); err != nil {
		return err
	}
	if err := backing.Remove(loc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Rename moves a file or directory, keeping its dedup records attached.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EXDEV)
	}
	if dedup.IsShadowDir(req.OldName) || dedup.IsShadowDir(req.NewName) {
		return fuse.Errno(syscall.EPERM)
	}
	from := d.loc.Join(req.OldName)
	to := target.loc.Join(req.NewName)
	if from == to {
		return nil
	}

	// Pending buffered writes are committed under the old name first.
	if node := d.fs.lookupFile(from); node != nil {
		if err := node.flushAll(); err != nil {
			return toErrno(err)
		}
	}
	if err := d.fs.engine.Rename(from, to); err != nil {
		return toErrno(err)
	}
	d.fs.dropFile(to)
	d.fs.moveFiles(from, to)
	return nil
}
