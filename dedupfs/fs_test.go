package dedupfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

func newTestFS(t *testing.T, g dedup.Granularity) (*FS, *Dir, string) {
	t.Helper()
	root := t.TempDir()
	b, err := dedup.NewOSBacking(root)
	if err != nil {
		t.Fatal(err)
	}
	e, err := dedup.New(dedup.Options{Backing: b, Granularity: g})
	if err != nil {
		t.Fatal(err)
	}
	fsys := New(e)
	node, err := fsys.Root()
	if err != nil {
		t.Fatal(err)
	}
	return fsys, node.(*Dir), root
}

func createFile(t *testing.T, d *Dir, name, content string) *File {
	t.Helper()
	ctx := context.Background()
	node, handle, err := d.Create(ctx, &fuse.CreateRequest{
		Name:  name,
		Flags: fuse.OpenReadWrite,
		Mode:  0o644,
	}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create(%s) error: %v", name, err)
	}
	h := handle.(*Handle)
	resp := &fuse.WriteResponse{}
	if err := h.Write(ctx, &fuse.WriteRequest{Data: []byte(content)}, resp); err != nil {
		t.Fatalf("Write(%s) error: %v", name, err)
	}
	if resp.Size != len(content) {
		t.Errorf("Write(%s) size = %d, want %d", name, resp.Size, len(content))
	}
	if err := h.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Fatalf("Release(%s) error: %v", name, err)
	}
	return node.(*File)
}

func readFile(t *testing.T, f *File) (string, error) {
	t.Helper()
	ctx := context.Background()
	handle, err := f.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	h := handle.(*Handle)
	defer h.Release(ctx, &fuse.ReleaseRequest{})
	resp := &fuse.ReadResponse{}
	if err := h.Read(ctx, &fuse.ReadRequest{Size: 4096}, resp); err != nil {
		return "", err
	}
	return string(resp.Data), nil
}

func lookupFile(t *testing.T, d *Dir, name string) *File {
	t.Helper()
	node, err := d.Lookup(context.Background(), name)
	if err != nil {
		t.Fatalf("Lookup(%s) error: %v", name, err)
	}
	f, ok := node.(*File)
	if !ok {
		t.Fatalf("Lookup(%s) = %T, want *File", name, node)
	}
	return f
}

func TestCreateWriteReadDeduplicates(t *testing.T) {
	for _, g := range []dedup.Granularity{dedup.GranularityFile, dedup.GranularityWrite} {
		t.Run(string(g), func(t *testing.T) {
			_, root, dir := newTestFS(t, g)
			a := createFile(t, root, "a", "hello")
			b := createFile(t, root, "b", "hello")

			raw, _ := os.ReadFile(filepath.Join(dir, "b"))
			if string(raw) != "\x00\x00\x00\x00\x00" {
				t.Errorf("b on disk = %q, want placeholder hole", raw)
			}
			for name, f := range map[string]*File{"a": a, "b": b} {
				got, err := readFile(t, f)
				if err != nil {
					t.Fatalf("read %s: %v", name, err)
				}
				if got != "hello" {
					t.Errorf("read %s = %q, want %q", name, got, "hello")
				}
			}

			var attr fuse.Attr
			if err := b.Attr(context.Background(), &attr); err != nil {
				t.Fatal(err)
			}
			if attr.Size != 5 {
				t.Errorf("placeholder size = %d, want 5", attr.Size)
			}
		})
	}
}

func TestEmptyFileReadable(t *testing.T) {
	_, root, _ := newTestFS(t, dedup.GranularityFile)
	f := createFile(t, root, "empty", "")
	got, err := readFile(t, f)
	if err != nil {
		t.Fatalf("read empty file: %v", err)
	}
	if got != "" {
		t.Errorf("read empty file = %q", got)
	}
}

func TestShadowDirHidden(t *testing.T) {
	ctx := context.Background()
	_, root, dir := newTestFS(t, dedup.GranularityFile)
	createFile(t, root, "a", "content")
	if _, err := os.Stat(filepath.Join(dir, dedup.ShadowDirName)); err != nil {
		t.Fatalf("shadow directory missing from backing root: %v", err)
	}

	if _, err := root.Lookup(ctx, dedup.ShadowDirName); err != fuse.Errno(syscall.ENOENT) {
		t.Errorf("Lookup(.hash) error = %v, want ENOENT", err)
	}

	dirents, err := root.ReadDirAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirents) != 1 || dirents[0].Name != "a" || dirents[0].Type != fuse.DT_File {
		t.Errorf("ReadDirAll() = %+v, want only file a", dirents)
	}

	eperm := fuse.Errno(syscall.EPERM)
	if _, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: dedup.ShadowDirName, Mode: os.ModeDir | 0o755}); err != eperm {
		t.Errorf("Mkdir(.hash) error = %v, want EPERM", err)
	}
	if _, _, err := root.Create(ctx, &fuse.CreateRequest{Name: dedup.ShadowDirName, Mode: 0o644}, &fuse.CreateResponse{}); err != eperm {
		t.Errorf("Create(.hash) error = %v, want EPERM", err)
	}
	if err := root.Remove(ctx, &fuse.RemoveRequest{Name: dedup.ShadowDirName, Dir: true}); err != eperm {
		t.Errorf("Remove(.hash) error = %v, want EPERM", err)
	}
	if err := root.Rename(ctx, &fuse.RenameRequest{OldName: "a", NewName: dedup.ShadowDirName}, root); err != eperm {
		t.Errorf("Rename(a, .hash) error = %v, want EPERM", err)
	}
}

func TestRemovePromotesPlaceholder(t *testing.T) {
	ctx := context.Background()
	_, root, dir := newTestFS(t, dedup.GranularityFile)
	createFile(t, root, "a", "hello")
	b := createFile(t, root, "b", "hello")

	if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "a"}); err != nil {
		t.Fatalf("Remove(a) error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("backing file a still exists: %v", err)
	}
	if _, err := root.Lookup(ctx, "a"); err != fuse.Errno(syscall.ENOENT) {
		t.Errorf("Lookup(a) after remove error = %v", err)
	}
	got, err := readFile(t, b)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("read b = %q, want %q", got, "hello")
	}
}

func TestRenameKeepsContent(t *testing.T) {
	ctx := context.Background()
	_, root, _ := newTestFS(t, dedup.GranularityFile)
	createFile(t, root, "a", "hello")
	b := createFile(t, root, "b", "hello")

	sub, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "sub", Mode: os.ModeDir | 0o755})
	if err != nil {
		t.Fatal(err)
	}
	if err := root.Rename(ctx, &fuse.RenameRequest{OldName: "a", NewName: "moved"}, sub); err != nil {
		t.Fatalf("Rename() error: %v", err)
	}

	moved := lookupFile(t, sub.(*Dir), "moved")
	for name, f := range map[string]*File{"moved": moved, "b": b} {
		got, err := readFile(t, f)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if got != "hello" {
			t.Errorf("read %s = %q", name, got)
		}
	}
}

func TestRemoveDir(t *testing.T) {
	ctx := context.Background()
	_, root, dir := newTestFS(t, dedup.GranularityFile)
	node, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "d", Mode: os.ModeDir | 0o755})
	if err != nil {
		t.Fatal(err)
	}
	sub := node.(*Dir)
	createFile(t, sub, "f", "data")

	if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "d", Dir: true}); err != fuse.Errno(syscall.ENOTEMPTY) {
		t.Errorf("Remove(non-empty dir) error = %v, want ENOTEMPTY", err)
	}
	if err := sub.Remove(ctx, &fuse.RemoveRequest{Name: "f"}); err != nil {
		t.Fatal(err)
	}
	if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "d", Dir: true}); err != nil {
		t.Fatalf("Remove(empty dir) error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "d")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("directory still exists: %v", err)
	}
}

func TestOverwriteThroughHandle(t *testing.T) {
	ctx := context.Background()
	_, root, _ := newTestFS(t, dedup.GranularityFile)
	f := createFile(t, root, "a", "hello world")

	handle, err := f.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatal(err)
	}
	h := handle.(*Handle)
	if err := h.Write(ctx, &fuse.WriteRequest{Data: []byte("HELLO"), Offset: 0}, &fuse.WriteResponse{}); err != nil {
		t.Fatal(err)
	}

	// Uncommitted writes are visible through the same handle and in Attr.
	resp := &fuse.ReadResponse{}
	if err := h.Read(ctx, &fuse.ReadRequest{Offset: 0, Size: 64}, resp); err != nil {
		t.Fatal(err)
	}
	if string(resp.Data) != "HELLO world" {
		t.Errorf("buffered read = %q", resp.Data)
	}
	if err := h.Write(ctx, &fuse.WriteRequest{Data: []byte("!!"), Offset: 11}, &fuse.WriteResponse{}); err != nil {
		t.Fatal(err)
	}
	var attr fuse.Attr
	f.Attr(ctx, &attr)
	if attr.Size != 13 {
		t.Errorf("Attr size with pending write = %d, want 13", attr.Size)
	}

	if err := h.Flush(ctx, &fuse.FlushRequest{}); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Fatal(err)
	}
	got, err := readFile(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if got != "HELLO world!!" {
		t.Errorf("read after commit = %q", got)
	}
}

func TestOpenTruncate(t *testing.T) {
	ctx := context.Background()
	for _, g := range []dedup.Granularity{dedup.GranularityFile, dedup.GranularityWrite} {
		t.Run(string(g), func(t *testing.T) {
			_, root, _ := newTestFS(t, g)
			f := createFile(t, root, "a", "old content")

			handle, err := f.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenWriteOnly | fuse.OpenTruncate}, &fuse.OpenResponse{})
			if err != nil {
				t.Fatal(err)
			}
			h := handle.(*Handle)
			h.Write(ctx, &fuse.WriteRequest{Data: []byte("new")}, &fuse.WriteResponse{})
			if err := h.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
				t.Fatal(err)
			}
			got, err := readFile(t, f)
			if err != nil {
				t.Fatal(err)
			}
			if got != "new" {
				t.Errorf("read = %q, want %q", got, "new")
			}
		})
	}
}

func TestFsyncCommits(t *testing.T) {
	ctx := context.Background()
	fsys, root, _ := newTestFS(t, dedup.GranularityFile)
	f := createFile(t, root, "a", "")

	handle, _ := f.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{})
	h := handle.(*Handle)
	defer h.Release(ctx, &fuse.ReleaseRequest{})
	h.Write(ctx, &fuse.WriteRequest{Data: []byte("synced")}, &fuse.WriteResponse{})

	if err := f.Fsync(ctx, &fuse.FsyncRequest{}); err != nil {
		t.Fatal(err)
	}
	e := fsys.Engine()
	bh, err := e.Backing().Open("a", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer bh.Close()
	data, err := e.ReadAll("a", bh)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "synced" {
		t.Errorf("committed content = %q", data)
	}
}

// TestSetattrDoesNotDeadlock verifies that Setattr returns while handles are open.
func TestSetattrDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	_, root, _ := newTestFS(t, dedup.GranularityFile)
	f := createFile(t, root, "a", "test data")

	handle, err := f.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatal(err)
	}
	h := handle.(*Handle)

	req := &fuse.SetattrRequest{Valid: fuse.SetattrSize | fuse.SetattrMtime, Size: 4, Mtime: time.Now()}
	resp := &fuse.SetattrResponse{}
	done := make(chan error, 1)
	go func() {
		done <- f.Setattr(ctx, req, resp)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Setattr failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Setattr deadlocked - test timed out")
	}
	if resp.Attr.Size != 4 {
		t.Errorf("Setattr size = %d, want 4", resp.Attr.Size)
	}
	if err := h.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Fatal(err)
	}
	got, err := readFile(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if got != "test" {
		t.Errorf("read after truncate = %q, want %q", got, "test")
	}
}

func TestSetattrWithoutHandles(t *testing.T) {
	ctx := context.Background()
	_, root, _ := newTestFS(t, dedup.GranularityFile)
	f := createFile(t, root, "a", "abc")

	resp := &fuse.SetattrResponse{}
	if err := f.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 6}, resp); err != nil {
		t.Fatal(err)
	}
	got, err := readFile(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc\x00\x00\x00" {
		t.Errorf("read after extend = %q", got)
	}
}

func TestWriteGranularityOffsets(t *testing.T) {
	ctx := context.Background()
	_, root, _ := newTestFS(t, dedup.GranularityWrite)
	f := createFile(t, root, "a", "")

	handle, _ := f.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{})
	h := handle.(*Handle)
	for i, chunk := range []string{"abc", "def"} {
		req := &fuse.WriteRequest{Data: []byte(chunk), Offset: int64(3 * i)}
		if err := h.Write(ctx, req, &fuse.WriteResponse{}); err != nil {
			t.Fatal(err)
		}
	}
	resp := &fuse.ReadResponse{}
	if err := h.Read(ctx, &fuse.ReadRequest{Offset: 3, Size: 3}, resp); err != nil {
		t.Fatal(err)
	}
	if string(resp.Data) != "def" {
		t.Errorf("read of last write = %q, want %q", resp.Data, "def")
	}
	h.Release(ctx, &fuse.ReleaseRequest{})
}

func TestLookupReturnsSameNode(t *testing.T) {
	_, root, _ := newTestFS(t, dedup.GranularityFile)
	created := createFile(t, root, "a", "x")
	if got := lookupFile(t, root, "a"); got != created {
		t.Error("Lookup returned a different node than Create")
	}
	created.Forget()
	if got := lookupFile(t, root, "a"); got == created {
		t.Error("Lookup returned a forgotten node")
	}
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "errno passes through", err: fmt.Errorf("wrapped: %w", syscall.ENOSPC), want: fuse.Errno(syscall.ENOSPC)},
		{name: "path error", err: &fs.PathError{Op: "open", Path: "x", Err: syscall.EACCES}, want: fuse.Errno(syscall.EACCES)},
		{name: "not exist", err: fs.ErrNotExist, want: fuse.Errno(syscall.ENOENT)},
		{name: "missing sidecar", err: dedup.ErrMissingSidecar, want: fuse.Errno(syscall.EIO)},
		{name: "broken redirect", err: dedup.ErrBrokenRedirect, want: fuse.Errno(syscall.EIO)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toErrno(tt.err); got != tt.want {
				t.Errorf("toErrno(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

var _ fusefs.FS = (*FS)(nil)
