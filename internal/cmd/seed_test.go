package cmd

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

func TestSeedDir(t *testing.T) {
	stamp := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		roll int64
		want dedup.Location
	}{
		{roll: 0, want: "2024"},
		{roll: 7, want: "2024/03"},
		{roll: 12, want: "2024/03/04"},
		{roll: 20, want: "2024/03/04/05"},
		{roll: 30, want: "2024/03/04/05/06"},
		{roll: 99, want: "2024/03/04/05/06/07"},
	}
	for _, tt := range tests {
		if got := seedDir(stamp, tt.roll); got != tt.want {
			t.Errorf("seedDir(%d) = %q, want %q", tt.roll, got, tt.want)
		}
	}
}

func TestMkdirAll(t *testing.T) {
	engine := newTestEngine(t, t.TempDir())
	for i := 0; i < 2; i++ {
		if err := mkdirAll(engine.Backing(), "x/y/z"); err != nil {
			t.Fatalf("mkdirAll() pass %d error: %v", i, err)
		}
	}
	info, err := engine.Backing().Stat("x/y/z")
	if err != nil || !info.IsDir() {
		t.Errorf("x/y/z not created: %v", err)
	}
}

func TestSeedRoot(t *testing.T) {
	engine := newTestEngine(t, t.TempDir())
	if err := seedRoot(engine, 200, io.Discard, true); err != nil {
		t.Fatalf("seedRoot() error: %v", err)
	}
	stats := engine.Stats()
	if stats.Locations != 200 {
		t.Errorf("Locations = %d, want 200", stats.Locations)
	}
	if stats.Digests > seedPoolSize {
		t.Errorf("Digests = %d, want at most %d", stats.Digests, seedPoolSize)
	}

	scan, err := engine.Scan(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(scan.Files) != 200 {
		t.Fatalf("Scan found %d files, want 200", len(scan.Files))
	}
	for _, f := range scan.Files {
		if f.Err != nil || f.State == dedup.StateUnmanaged {
			t.Errorf("%s: state %s, err %v", f.Location, f.State, f.Err)
		}
	}
}
