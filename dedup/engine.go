package dedup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// Granularity selects the unit of content that is deduplicated.
type Granularity string

const (
	// GranularityFile hashes whole files: writes are buffered by the caller
	// and committed with Engine.Commit.
	GranularityFile Granularity = "file"

	// GranularityWrite hashes each write call's buffer on its own with
	// Engine.Write.
	GranularityWrite Granularity = "write"
)

// ParseGranularity validates a granularity name. Empty selects GranularityFile.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case GranularityFile, "":
		return GranularityFile, nil
	case GranularityWrite:
		return GranularityWrite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// Options configures an Engine.
type Options struct {
	// Backing is the pass-through storage. Required.
	Backing Backing

	// Digester hashes encoded content. Defaults to DefaultDigest.
	Digester Digester

	// Transform is the at-rest byte map. Defaults to Shift(DefaultShift).
	Transform Transform

	// Granularity defaults to GranularityFile.
	Granularity Granularity

	// IndexCapacity is the expected number of distinct digests. Zero selects
	// DefaultIndexCapacity.
	IndexCapacity int

	// Logger receives diagnostic messages. If nil, only errors are logged
	// to stderr.
	Logger *slog.Logger
}

// Engine is the shared dedup context: one per mounted backing root. All
// methods are safe for concurrent use.
type Engine struct {
	backing     Backing
	index       *Index
	sidecars    *SidecarStore
	digester    Digester
	transform   Transform
	granularity Granularity
	logger      *slog.Logger
}

// New builds an Engine with an empty index.
func New(opts Options) (*Engine, error) {
	if opts.Backing == nil {
		return nil, fmt.Errorf("backing is required")
	}
	if opts.Digester == nil {
		opts.Digester, _ = NewDigester(DefaultDigest)
	}
	if opts.Transform == nil {
		opts.Transform = Shift(DefaultShift)
	}
	g, err := ParseGranularity(string(opts.Granularity))
	if err != nil {
		return nil, err
	}
	if opts.IndexCapacity == 0 {
		opts.IndexCapacity = DefaultIndexCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	index, err := NewIndex(opts.IndexCapacity)
	if err != nil {
		return nil, err
	}
	return &Engine{
		backing:     opts.Backing,
		index:       index,
		sidecars:    NewSidecarStore(opts.Backing),
		digester:    opts.Digester,
		transform:   opts.Transform,
		granularity: g,
		logger:      opts.Logger,
	}, nil
}

func (e *Engine) Backing() Backing { return e.backing }
func (e *Engine) Index() *Index { return e.index }
func (e *Engine) Sidecars() *SidecarStore { return e.sidecars }
func (e *Engine) Digester() Digester { return e.digester }
func (e *Engine) Transform() Transform { return e.transform }
func (e *Engine) Granularity() Granularity { return e.granularity }
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Write stores buf at off in the backing file loc through h. Content already
// held by another location is not written again: loc becomes a placeholder
// whose size covers the write. The sidecar of loc is always updated. The
// returned count is always len(buf) on success.
func (e *Engine) Write(loc Location, h Handle, buf []byte, off int64) (int, error) {
	encoded := encode(e.transform, buf)
	d := e.digester.Sum(encoded)
	if err := e.store(loc, h, encoded, d, off); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (e *Engine) store(loc Location, h Handle, encoded []byte, d Digest, off int64) error {
	created, canonical := e.index.Upsert(d, loc)
	if created || canonical == loc {
		if _, err := h.WriteAt(encoded, off); err != nil {
			return backingErr("write", loc, err)
		}
		e.logger.Debug("stored content", "location", loc, "digest", d, "offset", off, "size", len(encoded))
	} else {
		if err := extend(h, off+int64(len(encoded))); err != nil {
			return backingErr("extend", loc, err)
		}
		e.logger.Debug("stored placeholder", "location", loc, "digest", d, "canonical", canonical)
	}
	return e.sidecars.Put(loc, d)
}

// extend grows the file to size without writing data, leaving a hole.
func extend(h Handle, size int64) error {
	info, err := h.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= size {
		return nil
	}
	return h.Truncate(size)
}

// Commit replaces the whole content of loc with data. It is the write path
// for GranularityFile. If loc already represents data nothing is rewritten;
// otherwise dependents of loc's previous content are promoted first.
func (e *Engine) Commit(loc Location, h Handle, data []byte) error {
	encoded := encode(e.transform, data)
	d := e.digester.Sum(encoded)

	if cur, ok, err := e.sidecars.Get(loc); err == nil && ok && cur == d {
		if set, ok := e.index.Lookup(d); ok && set.Contains(loc) {
			return nil
		}
	}
	if err := e.detach(loc); err != nil {
		return err
	}
	if err := h.Truncate(0); err != nil {
		return backingErr("truncate", loc, err)
	}
	return e.store(loc, h, encoded, d, 0)
}

// Read returns up to size decoded bytes of loc at off. When the sidecar shows
// that loc does not hold its own content the read is served from the
// canonical location at the same offset.
func (e *Engine) Read(loc Location, h Handle, off int64, size int) ([]byte, error) {
	raw, err := readFull(h, off, size)
	if err != nil {
		return nil, backingErr("read", loc, err)
	}
	expected, ok, err := e.sidecars.Get(loc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSidecar, loc)
	}
	if e.digester.Sum(raw) == expected {
		return decode(e.transform, raw), nil
	}

	set, ok := e.index.Lookup(expected)
	if !ok {
		return nil, fmt.Errorf("%w: %s wants %s", ErrBrokenRedirect, loc, expected)
	}
	canonical := set.Canonical()
	if canonical == loc {
		return decode(e.transform, raw), nil
	}

	ch, err := e.backing.Open(canonical, os.O_RDONLY, 0)
	if err != nil {
		return nil, backingErr("open", canonical, err)
	}
	defer ch.Close()
	raw, err = readFull(ch, off, size)
	if err != nil {
		return nil, backingErr("read", canonical, err)
	}
	e.logger.Debug("redirected read", "location", loc, "canonical", canonical, "offset", off, "size", len(raw))
	return decode(e.transform, raw), nil
}

// ReadAll returns the whole decoded logical content of loc.
func (e *Engine) ReadAll(loc Location, h Handle) ([]byte, error) {
	info, err := h.Stat()
	if err != nil {
		return nil, backingErr("stat", loc, err)
	}
	return e.Read(loc, h, 0, int(info.Size()))
}

// Forget drops loc from the index and deletes its sidecar. Locations that
// were redirected to loc are promoted first. Call before removing loc.
func (e *Engine) Forget(loc Location) error {
	if err := e.detach(loc); err != nil {
		return err
	}
	return e.sidecars.Remove(loc)
}

// Rename moves the backing file or directory from oldLoc to newLoc and
// carries its index entries and sidecar along. Content previously at newLoc
// is forgotten.
func (e *Engine) Rename(oldLoc, newLoc Location) error {
	info, err := e.backing.Lstat(oldLoc)
	if err != nil {
		return backingErr("stat", oldLoc, err)
	}
	isFile := info.Mode().IsRegular()
	if isFile {
		if err := e.Forget(newLoc); err != nil {
			return err
		}
	}
	if err := e.backing.Rename(oldLoc, newLoc); err != nil {
		return backingErr("rename", oldLoc, err)
	}
	e.index.Rename(oldLoc, newLoc)
	if isFile {
		return e.sidecars.Move(oldLoc, newLoc)
	}
	return nil
}

// detach removes loc from the index. Under GranularityFile the raw bytes of
// loc are first copied to each successor so they hold real content before
// loc stops being canonical. Otherwise digests for which loc was canonical
// are dropped and their placeholders read as broken redirects.
func (e *Engine) detach(loc Location) error {
	pending := e.index.Successors(loc)
	if len(pending) > 0 && e.granularity == GranularityFile {
		raw, err := e.rawContent(loc)
		if err != nil {
			return err
		}
		done := make(map[Promotion]bool, len(pending))
		for _, p := range pending {
			if err := e.materialize(p, raw); err != nil {
				return err
			}
			done[p] = true
		}
		for _, p := range e.index.Detach(loc) {
			if done[p] {
				continue
			}
			// The set changed between the scan and the detach.
			if err := e.materialize(p, raw); err != nil {
				e.logger.Error("promotion failed", "digest", p.Digest, "from", p.From, "to", p.To, "error", err)
			}
		}
		return nil
	}

	// Without a whole-file copy the remaining placeholders cannot be served.
	for _, p := range e.index.Detach(loc) {
		orphans := e.index.Delete(p.Digest)
		e.logger.Warn("canonical location detached without copy",
			"digest", p.Digest, "from", p.From, "orphans", len(orphans))
	}
	return nil
}

func (e *Engine) rawContent(loc Location) ([]byte, error) {
	h, err := e.backing.Open(loc, os.O_RDONLY, 0)
	if err != nil {
		return nil, backingErr("open", loc, err)
	}
	defer h.Close()
	info, err := h.Stat()
	if err != nil {
		return nil, backingErr("stat", loc, err)
	}
	raw, err := readFull(h, 0, int(info.Size()))
	if err != nil {
		return nil, backingErr("read", loc, err)
	}
	return raw, nil
}

// materialize writes raw into p.To, turning the placeholder into a real copy.
func (e *Engine) materialize(p Promotion, raw []byte) error {
	h, err := e.backing.Open(p.To, os.O_WRONLY, 0)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("promotion target vanished", "digest", p.Digest, "to", p.To)
		e.index.Detach(p.To)
		return nil
	}
	if err != nil {
		return backingErr("open", p.To, err)
	}
	err = h.Truncate(0)
	if err == nil {
		_, err = h.WriteAt(raw, 0)
	}
	err = errors.Join(err, h.Close())
	if err != nil {
		return backingErr("promote", p.To, err)
	}
	e.logger.Info("promoted placeholder", "digest", p.Digest, "from", p.From, "to", p.To)
	return nil
}

// Stats summarizes the index.
type Stats struct {
	Digests      int
	Locations    int
	Placeholders int
}

// Stats walks the index and counts its entries.
func (e *Engine) Stats() Stats {
	var s Stats
	e.index.Range(func(_ Digest, set LocationSet) bool {
		s.Digests++
		s.Locations += len(set)
		s.Placeholders += len(set) - 1
		return true
	})
	return s
}
