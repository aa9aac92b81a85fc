package dedupfs

import (
	"context"
	"errors"
	"os"
	"sync"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

// File is a regular file node. The node stays the same while it is open so
// that fsync and size changes reach every handle.
type File struct {
	fs       *FS
	loc      dedup.Location
	handles  map[*Handle]struct{}
	unlinked bool // backing file removed, handles must not commit
	mu       sync.Mutex
}

var (
	_ fusefs.Node          = (*File)(nil)
	_ fusefs.NodeOpener    = (*File)(nil)
	_ fusefs.NodeSetattrer = (*File)(nil)
	_ fusefs.NodeFsyncer   = (*File)(nil)
	_ fusefs.NodeForgetter = (*File)(nil)
)

func (f *File) location() dedup.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc
}

func (f *File) setLocation(loc dedup.Location) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loc = loc
}

func (f *File) unlink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlinked = true
}

func (f *File) isUnlinked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlinked
}

// openHandles returns a snapshot of the open handles. Callers lock handles
// only after f.mu is released.
func (f *File) openHandles() []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Handle, 0, len(f.handles))
	for h := range f.handles {
		out = append(out, h)
	}
	return out
}

func (f *File) attach(h dedup.Handle, loaded bool) *Handle {
	handle := &Handle{file: f, h: h, loaded: loaded && f.buffered()}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handles == nil {
		f.handles = make(map[*Handle]struct{})
	}
	f.handles[handle] = struct{}{}
	return handle
}

func (f *File) detach(handle *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, handle)
}

func (f *File) buffered() bool {
	return f.fs.engine.Granularity() == dedup.GranularityFile
}

// flushAll commits every open handle's pending writes.
func (f *File) flushAll() error {
	var errs []error
	for _, h := range f.openHandles() {
		errs = append(errs, h.commit())
	}
	return errors.Join(errs...)
}

// Attr returns file attributes. While a handle holds uncommitted writes
// the size is that of its buffer.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := f.fs.engine.Backing().Lstat(f.location())
	if err != nil {
		return toErrno(err)
	}
	fillAttr(info, a)
	for _, h := range f.openHandles() {
		if size, ok := h.pendingSize(); ok {
			a.Size = uint64(size)
		}
	}
	return nil
}

// Open opens the backing file. Truncation requested by the opener is applied
// through the engine rather than passed to the backing open.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	loc := f.location()
	engine := f.fs.engine

	flag := os.O_RDWR
	if req.Flags.IsReadOnly() {
		flag = os.O_RDONLY
	}
	h, err := engine.Backing().Open(loc, flag, 0)
	if err != nil {
		return nil, toErrno(err)
	}

	handle := f.attach(h, false)
	if req.Flags&fuse.OpenTruncate != 0 && flag != os.O_RDONLY {
		if err := handle.truncate(0); err != nil {
			f.detach(handle)
			h.Close()
			return nil, toErrno(err)
		}
	}
	return handle, nil
}

// Setattr applies size changes. Other attributes pass through unchanged.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.resize(int64(req.Size)); err != nil {
			return toErrno(err)
		}
	}
	return f.Attr(ctx, &resp.Attr)
}

func (f *File) resize(size int64) error {
	handles := f.openHandles()
	if f.buffered() && len(handles) > 0 {
		for _, h := range handles {
			if err := h.truncate(size); err != nil {
				return err
			}
		}
		return nil
	}

	loc := f.location()
	engine := f.fs.engine
	h, err := engine.Backing().Open(loc, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer h.Close()
	data, err := logicalContent(engine, loc, h)
	if err != nil {
		return err
	}
	return engine.Commit(loc, h, resized(data, size))
}

// Fsync commits pending writes and syncs the backing file.
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	if err := f.flushAll(); err != nil {
		return toErrno(err)
	}
	for _, h := range f.openHandles() {
		if err := h.h.Sync(); err != nil {
			return toErrno(err)
		}
	}
	return nil
}

// Forget drops the node from the cache once the kernel lets go of it.
func (f *File) Forget() {
	if len(f.openHandles()) > 0 {
		return
	}
	f.fs.forgetFile(f.location(), f)
}

// logicalContent reads the whole decoded content of loc. An empty backing
// file reads as empty even without a sidecar.
func logicalContent(engine *dedup.Engine, loc dedup.Location, h dedup.Handle) ([]byte, error) {
	info, err := h.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, nil
	}
	return engine.ReadAll(loc, h)
}

func resized(data []byte, size int64) []byte {
	if int64(len(data)) >= size {
		return data[:size]
	}
	grown := make([]byte, size)
	copy(grown, data)
	return grown
}

// Handle is an open file. Under whole-file granularity it buffers the
// decoded content and commits it through the engine on flush.
type Handle struct {
	file   *File
	h      dedup.Handle
	buf    []byte
	loaded bool // buf holds the whole file
	dirty  bool // buf differs from what was last committed
	mu     sync.Mutex
}

var (
	_ fusefs.Handle         = (*Handle)(nil)
	_ fusefs.HandleReader   = (*Handle)(nil)
	_ fusefs.HandleWriter   = (*Handle)(nil)
	_ fusefs.HandleFlusher  = (*Handle)(nil)
	_ fusefs.HandleReleaser = (*Handle)(nil)
)

func (h *Handle) pendingSize() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buf), h.dirty
}

// load fills the buffer from the backing file. h.mu must be held.
func (h *Handle) load() error {
	if h.loaded {
		return nil
	}
	data, err := logicalContent(h.file.fs.engine, h.file.location(), h.h)
	if err != nil {
		return err
	}
	h.buf = data
	h.loaded = true
	return nil
}

// Read serves a read from the buffer when loaded, otherwise through the
// engine, which redirects placeholder reads to the canonical file.
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		off := min(req.Offset, int64(len(h.buf)))
		end := min(off+int64(req.Size), int64(len(h.buf)))
		resp.Data = append(resp.Data[:0], h.buf[off:end]...)
		return nil
	}
	data, err := h.file.fs.engine.Read(h.file.location(), h.h, req.Offset, req.Size)
	if err != nil {
		return toErrno(err)
	}
	resp.Data = data
	return nil
}

// Write buffers the data, or under write granularity stores it through the
// engine immediately.
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.file.buffered() {
		n, err := h.file.fs.engine.Write(h.file.location(), h.h, req.Data, req.Offset)
		if err != nil {
			return toErrno(err)
		}
		resp.Size = n
		return nil
	}

	if err := h.load(); err != nil {
		return toErrno(err)
	}
	newLen := int(req.Offset) + len(req.Data)
	if newLen > len(h.buf) {
		h.buf = resized(h.buf, int64(newLen))
	}
	copy(h.buf[req.Offset:], req.Data)
	h.dirty = true
	resp.Size = len(req.Data)
	return nil
}

// truncate resizes the file content to size.
func (h *Handle) truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.file.buffered() {
		loc := h.file.location()
		data, err := logicalContent(h.file.fs.engine, loc, h.h)
		if err != nil {
			return err
		}
		return h.file.fs.engine.Commit(loc, h.h, resized(data, size))
	}

	if size == 0 {
		h.buf, h.loaded = nil, true
	} else if err := h.load(); err != nil {
		return err
	}
	h.buf = resized(h.buf, size)
	h.dirty = true
	return nil
}

// commit writes the buffer through the engine if it has changed.
func (h *Handle) commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty || h.file.isUnlinked() {
		return nil
	}
	if err := h.file.fs.engine.Commit(h.file.location(), h.h, h.buf); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

// Flush commits pending writes.
func (h *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return toErrno(h.commit())
}

// Release commits pending writes and closes the backing file.
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	err := h.commit()
	h.file.detach(h)
	return toErrno(errors.Join(err, h.h.Close()))
}
