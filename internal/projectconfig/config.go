// Package projectconfig provides the ProjectConfig struct and loader for
// .promptlint.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up from the suite directory.
const FileName = ".promptlint.yaml"

// maxWalkUp bounds how many parent directories Load searches.
const maxWalkUp = 10

// DefaultsConfig holds defaults for `promptlint run` flags.
type DefaultsConfig struct {
	Concurrency int     `yaml:"concurrency,omitempty"`
	TimeoutSec  int     `yaml:"timeout_s,omitempty"`
	Threshold   float64 `yaml:"threshold,omitempty"`
	Format      string  `yaml:"format,omitempty"`
	Verbose     *bool   `yaml:"verbose,omitempty"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .promptlint.yaml.
type ProjectConfig struct {
	Defaults DefaultsConfig `yaml:"defaults,omitempty"`
	Cache    CacheConfig    `yaml:"cache,omitempty"`

	// Root is the directory the file was found in, empty when none was.
	// Relative paths in the file resolve against it.
	Root string `yaml:"-"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		Defaults: DefaultsConfig{
			Verbose: boolPtr(false),
		},
		Cache: CacheConfig{
			Enabled: boolPtr(true),
		},
	}
}

// Load finds .promptlint.yaml by walking up from startDir, unmarshals it,
// and fills in missing fields with defaults.
// If no config file is found, returns defaults with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	path, data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if fileCfg.Defaults.Threshold < 0 || fileCfg.Defaults.Threshold > 1 {
		return nil, fmt.Errorf("%s: defaults.threshold must be within [0,1], got %v", path, fileCfg.Defaults.Threshold)
	}

	mergeConfig(cfg, &fileCfg)
	cfg.Root = filepath.Dir(path)
	return cfg, nil
}

// findConfigFile walks up from dir looking for .promptlint.yaml.
// Returns os.ErrNotExist if no config file is found.
func findConfigFile(dir string) (string, []byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for range maxWalkUp {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return p, data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	if src.Defaults.Concurrency != 0 {
		dst.Defaults.Concurrency = src.Defaults.Concurrency
	}
	if src.Defaults.TimeoutSec != 0 {
		dst.Defaults.TimeoutSec = src.Defaults.TimeoutSec
	}
	if src.Defaults.Threshold != 0 {
		dst.Defaults.Threshold = src.Defaults.Threshold
	}
	if src.Defaults.Format != "" {
		dst.Defaults.Format = src.Defaults.Format
	}
	if src.Defaults.Verbose != nil {
		dst.Defaults.Verbose = src.Defaults.Verbose
	}

	if src.Cache.Enabled != nil {
		dst.Cache.Enabled = src.Cache.Enabled
	}
	if src.Cache.Dir != "" {
		dst.Cache.Dir = src.Cache.Dir
	}
}

// CacheDir returns the configured cache directory resolved against Root,
// or "" when none is set.
func (c *ProjectConfig) CacheDir() string {
	if c.Cache.Dir == "" {
		return ""
	}
	if filepath.IsAbs(c.Cache.Dir) || c.Root == "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.Root, c.Cache.Dir)
}

func boolPtr(b bool) *bool {
	return &b
}
