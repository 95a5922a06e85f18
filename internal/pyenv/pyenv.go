// Package pyenv locates the Python runtime's development headers and
// libraries by asking the interpreter itself.
package pyenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Runtime describes one Python installation's build-relevant paths.
// Virtualenv interpreters are resolved to their base installation, which is
// where the headers and import libraries live.
type Runtime struct {
	Executable string
	Version    string // "3.12"
	BasePrefix string
	IncludeDir string
	LibDir     string // import-library dir; only meaningful on Windows
	LibName    string // link library, e.g. "python312"
	ExtSuffix  string // sysconfig EXT_SUFFIX, e.g. ".cp312-win_amd64.pyd"
	Arch       string // "x86_64" or "i686"
	GOOS       string
}

// Options configures Discover.
type Options struct {
	// Python overrides interpreter lookup with an explicit executable.
	Python string
	// GOOS overrides the platform, for tests. Empty means the interpreter's
	// reported platform.
	GOOS string
	// Run overrides process execution, for tests.
	Run Runner
}

// introspect is executed by the target interpreter; one key=value per line.
const introspect = `import sys, sysconfig
print("executable=" + sys.executable)
print("version=%d.%d" % sys.version_info[:2])
print("vernum=%d%d" % sys.version_info[:2])
print("base_prefix=" + sys.base_exec_prefix)
print("include=" + sysconfig.get_path("include"))
print("ext_suffix=" + (sysconfig.get_config_var("EXT_SUFFIX") or ""))
print("platform=" + sys.platform)
print("is64=" + str(sys.maxsize > 2**32))
`

// Discover locates an interpreter and queries it for development paths.
// A missing interpreter or malformed reply is an error; missing dev files are
// not, they are reported by MissingDev.
func Discover(ctx context.Context, opts Options) (*Runtime, error) {
	run := opts.Run
	if run == nil {
		run = execRunner
	}

	exe := opts.Python
	if exe == "" {
		for _, name := range []string{"python3", "python"} {
			if p, err := exec.LookPath(name); err == nil {
				exe = p
				break
			}
		}
	}
	if exe == "" {
		return nil, fmt.Errorf("no python interpreter found on PATH")
	}

	out, err := run(ctx, exe, "-c", introspect)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w: %s", exe, err, strings.TrimSpace(string(out)))
	}

	kv := map[string]string{}
	for _, line := range strings.Split(string(out), "\n") {
		if k, v, ok := strings.Cut(strings.TrimRight(line, "\r"), "="); ok {
			kv[k] = v
		}
	}
	for _, key := range []string{"executable", "version", "base_prefix", "include"} {
		if kv[key] == "" {
			return nil, fmt.Errorf("interpreter %s returned no %q", exe, key)
		}
	}

	goos := opts.GOOS
	if goos == "" {
		switch kv["platform"] {
		case "win32":
			goos = "windows"
		case "darwin":
			goos = "darwin"
		default:
			goos = "linux"
		}
	}

	arch := "x86_64"
	if kv["is64"] != "True" {
		arch = "i686"
	}

	rt := &Runtime{
		Executable: kv["executable"],
		Version:    kv["version"],
		BasePrefix: kv["base_prefix"],
		IncludeDir: kv["include"],
		ExtSuffix:  kv["ext_suffix"],
		Arch:       arch,
		GOOS:       goos,
	}
	if goos == "windows" {
		rt.LibDir = filepath.Join(rt.BasePrefix, "libs")
		rt.LibName = "python" + kv["vernum"]
		rt.resolveLibName()
	}
	return rt, nil
}

// resolveLibName falls back to any python*.lib present when the expected
// versioned import library is missing.
func (r *Runtime) resolveLibName() {
	if _, err := os.Stat(filepath.Join(r.LibDir, r.LibName+".lib")); err == nil {
		return
	}
	entries, err := os.ReadDir(r.LibDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "python") && strings.HasSuffix(name, ".lib") {
			r.LibName = strings.TrimSuffix(name, ".lib")
			return
		}
	}
}

// MissingDev reports which development prerequisites are absent. Empty means
// the runtime is buildable against.
func (r *Runtime) MissingDev() []string {
	var missing []string
	if _, err := os.Stat(filepath.Join(r.IncludeDir, "Python.h")); err != nil {
		missing = append(missing, fmt.Sprintf("header Python.h not found under %s", r.IncludeDir))
	}
	if r.GOOS == "windows" {
		if _, err := os.Stat(filepath.Join(r.LibDir, r.LibName+".lib")); err != nil {
			missing = append(missing, fmt.Sprintf("import library %s.lib not found under %s", r.LibName, r.LibDir))
		}
	}
	return missing
}

// ArtifactExt returns the platform extension suffix for built modules.
func (r *Runtime) ArtifactExt() string {
	if r.GOOS == "windows" {
		return ".pyd"
	}
	return ".so"
}
