package pipeline

import (
	"fmt"
	"time"
)

// Stage identifies where in the pipeline a failure occurred.
type Stage int

const (
	StageTranslate Stage = iota
	StageEnvSetup
	StageCompile
	StageLink
	StageCleanup
)

func (s Stage) String() string {
	switch s {
	case StageTranslate:
		return "translate"
	case StageEnvSetup:
		return "env-setup"
	case StageCompile:
		return "compile"
	case StageLink:
		return "link"
	case StageCleanup:
		return "cleanup"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError wraps a stage failure with the stage identity and the module it
// concerns. It is returned inside a per-module Outcome, never thrown across
// module boundaries.
type StageError struct {
	Stage  Stage
	Module string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Module, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// TranslationError carries the translator's diagnostic text verbatim so
// downstream reporting can show it unmodified.
type TranslationError struct {
	Module string
	Output string
	Err    error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation of %s failed: %v\n%s", e.Module, e.Err, e.Output)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// CompileError carries the compiler's diagnostic text verbatim.
type CompileError struct {
	Module string
	Output string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compilation of %s failed: %v\n%s", e.Module, e.Err, e.Output)
}

func (e *CompileError) Unwrap() error { return e.Err }

// LinkError carries the linker's diagnostic text verbatim.
type LinkError struct {
	Module string
	Output string
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("linking of %s failed: %v\n%s", e.Module, e.Err, e.Output)
}

func (e *LinkError) Unwrap() error { return e.Err }

// EnvironmentSetupError reports a failed MSVC environment initialization,
// distinct from compile failure.
type EnvironmentSetupError struct {
	Err error
}

func (e *EnvironmentSetupError) Error() string {
	return fmt.Sprintf("compiler environment setup failed: %v", e.Err)
}

func (e *EnvironmentSetupError) Unwrap() error { return e.Err }

// TimeoutError reports a killed external process.
type TimeoutError struct {
	Stage   Stage
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", e.Stage, e.Tool, e.Timeout)
}
