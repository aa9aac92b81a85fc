package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
	"github.com/dendrascience/dendra-dedup-fuse/internal/config"
)

// newTestEngine returns an engine over a fresh backing root.
func newTestEngine(t *testing.T, root string) *dedup.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Root = root
	cfg.LogLevel = "error"
	engine, _, err := newEngine(cfg)
	if err != nil {
		t.Fatalf("newEngine() error: %v", err)
	}
	return engine
}

// writeTree creates files (relative path to content) under dir.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func readManaged(t *testing.T, engine *dedup.Engine, loc dedup.Location) string {
	t.Helper()
	h, err := engine.Backing().Open(loc, os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	data, err := engine.ReadAll(loc, h)
	if err != nil {
		t.Fatalf("ReadAll(%s) error: %v", loc, err)
	}
	return string(data)
}
