package dedup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"runtime"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// FileState classifies a backing file found by Scan.
type FileState int

const (
	// StateUnmanaged files have no sidecar record.
	StateUnmanaged FileState = iota
	// StateCanonical files hold the content their sidecar names.
	StateCanonical
	// StatePlaceholder files do not hold the content their sidecar names.
	StatePlaceholder
)

func (s FileState) String() string {
	switch s {
	case StateCanonical:
		return "canonical"
	case StatePlaceholder:
		return "placeholder"
	default:
		return "unmanaged"
	}
}

// FileStatus is the result of checking one backing file against its sidecar.
type FileStatus struct {
	Location Location
	State    FileState
	Sidecar  Digest // recorded digest, zero when unmanaged
	Actual   Digest // digest of the whole on-disk bytes
	Size     int64
	Err      error
}

// ScanResult is the outcome of walking a backing root.
type ScanResult struct {
	Files []FileStatus // sorted by location
	// StraySidecars are records whose backing file no longer exists.
	StraySidecars []Location
}

// Scan walks the backing root and checks every regular file against its
// sidecar using a pool of workers. Zero workers selects runtime.NumCPU().
// The index is not touched. Per-file failures are reported in FileStatus.Err.
func (e *Engine) Scan(ctx context.Context, workers int) (ScanResult, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return ScanResult{}, err
	}
	defer pool.Release()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result ScanResult
	)
	walkErr := e.walk(ctx, ".", func(loc Location, isFile bool) error {
		if !isFile {
			strays, err := e.straySidecars(loc)
			if err != nil {
				return err
			}
			mu.Lock()
			result.StraySidecars = append(result.StraySidecars, strays...)
			mu.Unlock()
			return nil
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			status := e.check(loc)
			mu.Lock()
			result.Files = append(result.Files, status)
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			return submitErr
		}
		return nil
	})
	wg.Wait()

	slices.SortFunc(result.Files, func(a, b FileStatus) int {
		return compareLocations(a.Location, b.Location)
	})
	slices.SortFunc(result.StraySidecars, compareLocations)
	return result, walkErr
}

func compareLocations(a, b Location) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// walk visits every directory (isFile false) and regular file below dir,
// skipping shadow directories. Directories are visited before their entries.
func (e *Engine) walk(ctx context.Context, dir Location, fn func(loc Location, isFile bool) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(dir, false); err != nil {
		return err
	}
	entries, err := e.backing.ReadDir(dir)
	if err != nil {
		return backingErr("readdir", dir, err)
	}
	for _, entry := range entries {
		loc := dir.Join(entry.Name())
		switch {
		case entry.IsDir() && IsShadowDir(entry.Name()):
			continue
		case entry.IsDir():
			if err := e.walk(ctx, loc, fn); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := fn(loc, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) check(loc Location) FileStatus {
	status := FileStatus{Location: loc}
	d, ok, err := e.sidecars.Get(loc)
	if err != nil {
		status.Err = err
		return status
	}
	raw, err := e.rawContent(loc)
	if err != nil {
		status.Err = err
		return status
	}
	status.Size = int64(len(raw))
	status.Actual = e.digester.Sum(raw)
	if !ok {
		return status
	}
	status.Sidecar = d
	if status.Actual == d {
		status.State = StateCanonical
	} else {
		status.State = StatePlaceholder
	}
	return status
}

// straySidecars lists the sidecar records in dir's shadow directory whose
// backing file is missing.
func (e *Engine) straySidecars(dir Location) ([]Location, error) {
	shadow := dir.Join(ShadowDirName)
	entries, err := e.backing.ReadDir(shadow)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, backingErr("readdir", shadow, err)
	}
	var strays []Location
	for _, entry := range entries {
		if entry.IsDir() || IsTemp(entry.Name()) {
			continue
		}
		owner := dir.Join(entry.Name())
		if _, err := e.backing.Lstat(owner); errors.Is(err, fs.ErrNotExist) {
			strays = append(strays, owner)
		}
	}
	return strays, nil
}

// RebuildOptions controls Rebuild.
type RebuildOptions struct {
	// Workers is the hashing pool size. Zero selects runtime.NumCPU().
	Workers int

	// Adopt re-encodes unmanaged files through the write path so they
	// become readable. Without it they are only reported.
	Adopt bool
}

// RebuildReport summarizes a Rebuild.
type RebuildReport struct {
	Files        int
	Canonical    int
	Placeholders int
	Adopted      int
	Orphans      []Location // placeholders whose content no file holds
	Unmanaged    []Location // files without a sidecar, not adopted
}

// Rebuild repopulates the index from the sidecar records under the backing
// root. Files holding their own content are registered first, in location
// order, so the lexically first copy of each digest becomes canonical.
// Placeholders are then appended behind the canonical of their digest.
func (e *Engine) Rebuild(ctx context.Context, opts RebuildOptions) (RebuildReport, error) {
	var report RebuildReport
	scan, err := e.Scan(ctx, opts.Workers)
	if err != nil {
		return report, err
	}

	var errs []error
	var unmanaged []FileStatus
	for _, f := range scan.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
			continue
		}
		report.Files++
		switch f.State {
		case StateCanonical:
			e.index.Upsert(f.Sidecar, f.Location)
			report.Canonical++
		case StateUnmanaged:
			unmanaged = append(unmanaged, f)
		}
	}
	for _, f := range scan.Files {
		if f.Err != nil || f.State != StatePlaceholder {
			continue
		}
		if _, ok := e.index.Lookup(f.Sidecar); !ok {
			report.Orphans = append(report.Orphans, f.Location)
			continue
		}
		e.index.Upsert(f.Sidecar, f.Location)
		report.Placeholders++
	}

	for _, f := range unmanaged {
		if !opts.Adopt {
			report.Unmanaged = append(report.Unmanaged, f.Location)
			continue
		}
		if err := e.adopt(f.Location); err != nil {
			errs = append(errs, err)
			report.Unmanaged = append(report.Unmanaged, f.Location)
			continue
		}
		report.Adopted++
	}

	e.logger.Info("index rebuilt",
		"files", report.Files,
		"canonical", report.Canonical,
		"placeholders", report.Placeholders,
		"adopted", report.Adopted,
		"orphans", len(report.Orphans),
		"unmanaged", len(report.Unmanaged),
		"digests", e.index.Len())
	return report, errors.Join(errs...)
}

// adopt reads the plain bytes of an unmanaged file and commits them through
// the write path, encoding them in place.
func (e *Engine) adopt(loc Location) error {
	plain, err := e.rawContent(loc)
	if err != nil {
		return err
	}
	h, err := e.backing.Open(loc, os.O_RDWR, 0)
	if err != nil {
		return backingErr("open", loc, err)
	}
	err = e.Commit(loc, h, plain)
	return errors.Join(err, h.Close())
}
