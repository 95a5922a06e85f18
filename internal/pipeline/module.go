package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/py2pyd/py2pyd/internal/toolchain"
)

// ModuleUnit is one translatable source file resolved during discovery.
type ModuleUnit struct {
	// Name is the dotted import name, e.g. "pkg.sub.mod".
	Name string
	// Source is the absolute path to the .py file.
	Source string
	// RelPath is the output-relative path without extension, e.g. "sub/mod".
	// Discovery preserves it so the output tree mirrors the input tree.
	RelPath string
}

// NewModuleUnit resolves a source file into a unit, verifying it exists.
func NewModuleUnit(name, source, relPath string) (ModuleUnit, error) {
	if _, err := os.Stat(source); err != nil {
		return ModuleUnit{}, fmt.Errorf("module source: %w", err)
	}
	return ModuleUnit{Name: name, Source: source, RelPath: relPath}, nil
}

// stem returns the source path without its .py suffix.
func (m ModuleUnit) stem() string {
	return strings.TrimSuffix(m.Source, ".py")
}

// Artifact is the final native extension output for one module. It is only
// created after a completed link and an atomic move into place.
type Artifact struct {
	Path      string
	Ext       string
	Toolchain toolchain.Kind
}

// Status distinguishes how a successful module reached Done.
type Status int

const (
	Built Status = iota
	Skipped
	FailedStatus
)

func (s Status) String() string {
	switch s {
	case Built:
		return "built"
	case Skipped:
		return "skipped"
	case FailedStatus:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the per-module build result. Failures carry the stage they
// occurred at; Built and Skipped both count as success for aggregates.
type Outcome struct {
	Module   ModuleUnit
	State    State
	Status   Status
	Artifact *Artifact // set when Status is Built or Skipped
	Stage    Stage     // meaningful when Status is FailedStatus
	Err      error
}

// Success reports whether the module reached Done.
func (o Outcome) Success() bool { return o.Status != FailedStatus }
