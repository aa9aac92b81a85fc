package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
	"github.com/dendrascience/dendra-dedup-fuse/internal/config"
)

func TestApplyFlags(t *testing.T) {
	cmd := NewMountCmd()
	if err := cmd.ParseFlags([]string{"--digest", "md5", "--workers", "3", "--adopt", "--transform-param", "7"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	if err := applyFlags(cmd, cfg); err != nil {
		t.Fatalf("applyFlags() error: %v", err)
	}
	if cfg.Digest != dedup.DigestMD5 {
		t.Errorf("Digest = %q, want md5", cfg.Digest)
	}
	if cfg.Workers != 3 || cfg.Transform.Param != 7 || !cfg.Adopt {
		t.Errorf("applyFlags() = %+v", cfg)
	}
	// Flags left at their defaults do not override.
	if cfg.Transform.Name != dedup.DefaultTransform || !cfg.Rebuild {
		t.Errorf("unset flags changed config: %+v", cfg)
	}
}

func TestApplyFlagsRootShorthand(t *testing.T) {
	cmd := NewValidateCmd()
	if err := cmd.ParseFlags([]string{"-p", "/srv/data"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	if err := applyFlags(cmd, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Root != "/srv/data" {
		t.Errorf("Root = %q", cfg.Root)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedupfs.yaml")
	content := "root: /srv/data\ndigest: sha256\ngranularity: file\nworkers: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := NewStatsCmd()
	cmd.Flags().String("config", "", "")
	if err := cmd.ParseFlags([]string{"--config", path, "--granularity", "write"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.Root != "/srv/data" || cfg.Digest != dedup.DigestSHA256 || cfg.Workers != 2 {
		t.Errorf("file settings lost: %+v", cfg)
	}
	if cfg.Granularity != string(dedup.GranularityWrite) {
		t.Errorf("Granularity = %q, want flag value", cfg.Granularity)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cmd := NewStatsCmd()
	cmd.Flags().String("config", "", "")
	if err := cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(cmd); err == nil {
		t.Error("loadConfig() succeeded for a missing file")
	}
}

func TestRootCmdCommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"mount", "import", "validate", "stats", "seed", "version"} {
		sub, _, err := root.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, sub, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("root command has no --config flag")
	}
}
