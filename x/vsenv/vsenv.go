// Package vsenv initializes the MSVC build environment by running the
// vendor's vcvarsall.bat and capturing the variables it exports.
package vsenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Setup captures the environment produced by one vcvarsall.bat invocation.
type Setup struct {
	VCVarsAll string
	Arch      string // "x64" or "x86"

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New creates a Setup for the given script and target architecture.
func New(vcvarsall, arch string) *Setup {
	return &Setup{
		VCVarsAll: vcvarsall,
		Arch:      arch,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// ArchFor maps a Python architecture label to the vcvarsall argument.
func ArchFor(pyArch string) string {
	if pyArch == "i686" {
		return "x86"
	}
	return "x64"
}

// Initialized reports whether the process environment already carries the
// variables MSVC needs, so Capture can be skipped.
func Initialized(getenv func(string) string) bool {
	return getenv("INCLUDE") != "" && getenv("LIB") != "" && getenv("VCToolsInstallDir") != ""
}

// Capture runs the setup script in a throwaway batch file and returns the
// resulting variable block. Nothing in the current process environment is
// modified; callers merge the result into child process environments.
func (s *Setup) Capture(ctx context.Context) (map[string]string, error) {
	if s.VCVarsAll == "" {
		return nil, fmt.Errorf("vsenv: no vcvarsall.bat configured")
	}

	dir, err := os.MkdirTemp("", "vsenv-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, "env.txt")
	batPath := filepath.Join(dir, "capture.bat")
	script := fmt.Sprintf("@echo off\r\ncall \"%s\" %s\r\nset > \"%s\"\r\n", s.VCVarsAll, s.Arch, outPath)
	if err := os.WriteFile(batPath, []byte(script), 0o644); err != nil {
		return nil, err
	}

	if raw, err := s.run(ctx, "cmd", "/C", batPath); err != nil {
		return nil, fmt.Errorf("vsenv: vcvarsall failed: %w: %s", err, strings.TrimSpace(string(raw)))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("vsenv: environment capture produced no output: %w", err)
	}
	env := ParseEnvBlock(data)
	if len(env) == 0 {
		return nil, fmt.Errorf("vsenv: environment capture produced no variables")
	}
	return env, nil
}

// ParseEnvBlock parses `set` output into a variable map.
func ParseEnvBlock(data []byte) map[string]string {
	env := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if k, v, ok := strings.Cut(line, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

// Merge overlays captured variables onto a base environment, returning a
// sorted KEY=value slice suitable for exec.Cmd.Env.
func Merge(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
