package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dendrascience/dendra-dedup-fuse/dedup"
)

// EnvVar names the environment variable holding the config file path when
// --config is not given.
const EnvVar = "DEDUPFS_CONFIG"

// Config is the complete runtime configuration of a dedupfs mount.
type Config struct {
	// Root is the backing directory whose files are exposed.
	Root string `yaml:"root"`

	// Mountpoint is where the FUSE filesystem is attached.
	Mountpoint string `yaml:"mountpoint"`

	// Digest names the content digest algorithm.
	Digest string `yaml:"digest"`

	// Transform selects the at-rest byte transform.
	Transform TransformConfig `yaml:"transform"`

	// Granularity is "file" or "write".
	Granularity string `yaml:"granularity"`

	// IndexCapacity is the expected number of distinct contents.
	IndexCapacity int `yaml:"index_capacity"`

	// Rebuild repopulates the index from sidecars before serving.
	Rebuild bool `yaml:"rebuild"`

	// Adopt re-encodes files found without a sidecar during rebuild.
	Adopt bool `yaml:"adopt"`

	// Workers sizes the rebuild hashing pool. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// AllowOther lets users other than the mounter access the filesystem.
	AllowOther bool `yaml:"allow_other"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// TransformConfig selects an at-rest transform and its byte parameter.
type TransformConfig struct {
	Name  string `yaml:"name"`
	Param int    `yaml:"param"` // zero selects the transform's default
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Digest: dedup.DefaultDigest,
		Transform: TransformConfig{
			Name: dedup.DefaultTransform,
		},
		Granularity:   string(dedup.GranularityFile),
		IndexCapacity: dedup.DefaultIndexCapacity,
		Rebuild:       true,
		LogLevel:      "info",
	}
}

// Path returns the config file to load: flagValue if set, otherwise the
// value of EnvVar. Empty means no file.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvVar)
}

// LoadFile returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigRead, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigParse, path, err)
	}
	return nil
}

// expandVariables expands ${HOME} and similar references in paths.
func (c *Config) expandVariables() {
	c.Root = os.ExpandEnv(c.Root)
	c.Mountpoint = os.ExpandEnv(c.Mountpoint)
}

// Validate checks the settings every command needs: a backing root and
// known algorithm names.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, ErrNoRoot)
	}
	if _, err := dedup.NewDigester(c.Digest); err != nil {
		errs = append(errs, err)
	}
	if _, err := dedup.NewTransform(c.Transform.Name, c.Transform.Param); err != nil {
		errs = append(errs, err)
	}
	if _, err := dedup.ParseGranularity(c.Granularity); err != nil {
		errs = append(errs, err)
	}
	if c.IndexCapacity < 0 || c.IndexCapacity > dedup.MaxIndexCapacity {
		errs = append(errs, fmt.Errorf("%w: %d", ErrIndexCapacity, c.IndexCapacity))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrWorkers, c.Workers))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateMount runs Validate and also checks the mountpoint.
func (c *Config) ValidateMount() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Mountpoint == "" {
		return ErrNoMountpoint
	}
	if pathsOverlap(c.Root, c.Mountpoint) {
		return fmt.Errorf("%w: root %s, mountpoint %s", ErrPathsOverlap, c.Root, c.Mountpoint)
	}
	return nil
}

// EngineOptions turns the configuration into dedup engine options.
func (c *Config) EngineOptions(logger *slog.Logger) (dedup.Options, error) {
	backing, err := dedup.NewOSBacking(c.Root)
	if err != nil {
		return dedup.Options{}, err
	}
	digester, err := dedup.NewDigester(c.Digest)
	if err != nil {
		return dedup.Options{}, err
	}
	transform, err := dedup.NewTransform(c.Transform.Name, c.Transform.Param)
	if err != nil {
		return dedup.Options{}, err
	}
	granularity, err := dedup.ParseGranularity(c.Granularity)
	if err != nil {
		return dedup.Options{}, err
	}
	return dedup.Options{
		Backing:       backing,
		Digester:      digester,
		Transform:     transform,
		Granularity:   granularity,
		IndexCapacity: c.IndexCapacity,
		Logger:        logger,
	}, nil
}

// ParseLevel maps a log level name onto its slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrLogLevel, name)
	}
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// pathsOverlap reports whether one path is equal to or nested inside the other.
func pathsOverlap(path1, path2 string) bool {
	abs1, err1 := filepath.Abs(path1)
	abs2, err2 := filepath.Abs(path2)
	if err1 != nil || err2 != nil {
		abs1, abs2 = filepath.Clean(path1), filepath.Clean(path2)
	}
	if abs1 == abs2 {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(abs1, strings.TrimSuffix(abs2, sep)+sep) ||
		strings.HasPrefix(abs2, strings.TrimSuffix(abs1, sep)+sep)
}
