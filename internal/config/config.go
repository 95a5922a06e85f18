package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the optional per-project configuration file, looked up in the
// input root only (no upward search).
const FileName = "py2pyd.toml"

// BuildConfig controls a package or single-module build. Zero value is not
// usable; start from Default and overlay file/flag values.
type BuildConfig struct {
	OutputDir    string `toml:"output_dir" validate:"required"`
	Annotate     bool   `toml:"annotate"`
	ForceRebuild bool   `toml:"force_rebuild"`

	// Toolchain is an explicit candidate override: "msvc", "mingw" or "cc".
	// Empty selects the highest-ranked available candidate.
	Toolchain string `toml:"toolchain" validate:"omitempty,oneof=msvc mingw cc"`

	// Python overrides the interpreter used for runtime introspection.
	Python string `toml:"python"`

	LanguageLevel int `toml:"language_level" validate:"oneof=2 3"`

	ExtraCompileArgs []string `toml:"extra_compile_args"`
	ExtraLinkArgs    []string `toml:"extra_link_args"`

	// Defines are preprocessor macros, NAME or NAME=VALUE.
	Defines []string `toml:"defines"`

	Cleanup    bool   `toml:"cleanup"`
	KeepCFiles bool   `toml:"keep_c_files"`
	TempDir    string `toml:"temp_dir"`

	// Exclude lists directory names skipped during package discovery, in
	// addition to hidden directories and __pycache__.
	Exclude []string `toml:"exclude"`

	// Jobs caps concurrent module pipelines. 1 means sequential.
	Jobs int `toml:"jobs" validate:"gte=1,lte=64"`

	// Timeout bounds each external process invocation.
	Timeout time.Duration `toml:"-"`

	// TimeoutStr is the file/flag form of Timeout, e.g. "5m".
	TimeoutStr string `toml:"timeout"`

	Verbose bool `toml:"verbose"`
}

// Default returns the baseline configuration matching CLI defaults.
func Default() BuildConfig {
	return BuildConfig{
		OutputDir:     "build_pyd",
		LanguageLevel: 3,
		Cleanup:       true,
		Jobs:          1,
		Timeout:       5 * time.Minute,
	}
}

var validate = validator.New()

// Validate checks field constraints and normalizes the timeout.
func (c *BuildConfig) Validate() error {
	if c.TimeoutStr != "" {
		d, err := time.ParseDuration(c.TimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", c.TimeoutStr, err)
		}
		c.Timeout = d
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid build config: %w", err)
	}
	return nil
}

// Load reads FileName from dir onto base, if present. A missing file is not
// an error; a malformed one is.
func Load(dir string, base BuildConfig) (BuildConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("read %s: %w", path, err)
	}
	cfg := base
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
