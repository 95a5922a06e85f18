// Package toolchain discovers C compilers usable for building Python
// extension modules and classifies the host's buildability.
package toolchain

import (
	"fmt"

	"golang.org/x/mod/semver"

	"github.com/py2pyd/py2pyd/internal/pyenv"
)

// Kind identifies a toolchain family. The set is closed: the two Windows
// toolchains are mutually incompatible and Unix compilers are interchangeable
// enough to share one kind.
type Kind int

const (
	MSVC Kind = iota
	MinGW
	UnixCC
)

func (k Kind) String() string {
	switch k {
	case MSVC:
		return "msvc"
	case MinGW:
		return "mingw"
	case UnixCC:
		return "cc"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindFromName maps a config override string to a Kind.
func KindFromName(name string) (Kind, bool) {
	switch name {
	case "msvc":
		return MSVC, true
	case "mingw":
		return MinGW, true
	case "cc":
		return UnixCC, true
	}
	return 0, false
}

// Candidate is one discovered compiler+linker pair. Constructed fresh on each
// probe, immutable afterwards.
type Candidate struct {
	Kind      Kind
	Compiler  string // compiler executable path
	Linker    string // linker executable path; equals Compiler for driver-style linking
	Version   string
	Arch      string // "x86_64" or "i686"
	VCVarsAll string // MSVC only: environment setup script, when known

	Available bool
	Missing   []string // reasons when not Available
}

// Verdict is the probe's summary judgment of host buildability.
type Verdict int

const (
	Ready Verdict = iota
	Degraded
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Blocked:
		return "blocked"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Hint codes, stable across releases so tooling can assert on them.
const (
	HintNoCompiler      = "NoCompilerFound"
	HintNoPythonRuntime = "NoPythonRuntime"
	HintNoPythonDev     = "NoPythonDev"
	HintNoTranslator    = "NoTranslatorFound"
	HintArchMismatch    = "ArchMismatch"
	HintNoVCVarsAll     = "NoVCVarsAll"
)

// Hint pairs a machine-checkable code with human remediation text.
type Hint struct {
	Code string
	Text string
}

// EnvironmentReport aggregates everything one probe run learned about the
// host. Read-only after construction; safe to share across module builds.
type EnvironmentReport struct {
	GOOS           string
	Candidates     []Candidate // ranked, best first
	Runtime        *pyenv.Runtime
	RuntimeMissing []string // empty means dev headers/libs resolved
	TranslatorPath string   // empty when the translator is not on PATH
	Verdict        Verdict
	Hints          []Hint
}

// RuntimeOK reports whether the Python development files were found.
func (r *EnvironmentReport) RuntimeOK() bool {
	return r.Runtime != nil && len(r.RuntimeMissing) == 0
}

// Best returns the highest-ranked available candidate, or nil.
func (r *EnvironmentReport) Best() *Candidate {
	for i := range r.Candidates {
		if r.Candidates[i].Available {
			return &r.Candidates[i]
		}
	}
	return nil
}

// NoToolchainError reports that no usable compiler satisfies the request.
type NoToolchainError struct {
	Override string // requested kind, empty when any would do
}

func (e *NoToolchainError) Error() string {
	if e.Override != "" {
		return fmt.Sprintf("no usable %s toolchain found", e.Override)
	}
	return "no usable C toolchain found"
}

// ProbeError is an I/O fault encountered during discovery. Tool absence is
// never a ProbeError; it is recorded on the report instead.
type ProbeError struct {
	Op  string
	Err error
}

func (e *ProbeError) Error() string { return fmt.Sprintf("probe %s: %v", e.Op, e.Err) }
func (e *ProbeError) Unwrap() error { return e.Err }

// Select picks exactly one candidate. An explicit override always wins and
// requires that kind to be available; otherwise the highest-ranked available
// candidate is returned.
func Select(report *EnvironmentReport, override string) (*Candidate, error) {
	if override != "" {
		kind, ok := KindFromName(override)
		if !ok {
			return nil, fmt.Errorf("unknown toolchain %q", override)
		}
		for i := range report.Candidates {
			c := &report.Candidates[i]
			if c.Kind == kind && c.Available {
				return c, nil
			}
		}
		return nil, &NoToolchainError{Override: override}
	}
	if c := report.Best(); c != nil {
		return c, nil
	}
	return nil, &NoToolchainError{}
}

// rankLess orders candidates: available first, then MSVC before MinGW on
// Windows, then newer versions first.
func rankLess(a, b *Candidate) bool {
	if a.Available != b.Available {
		return a.Available
	}
	ka, kb := kindRank(a.Kind), kindRank(b.Kind)
	if ka != kb {
		return ka > kb
	}
	return compareVersions(a.Version, b.Version) > 0
}

func kindRank(k Kind) int {
	switch k {
	case MSVC:
		return 2
	case MinGW:
		return 1
	default:
		return 1
	}
}

// compareVersions compares dotted version strings, tolerating non-semver
// forms like gcc's bare "14".
func compareVersions(a, b string) int {
	va, vb := semver.Canonical("v"+a), semver.Canonical("v"+b)
	if va != "" && vb != "" {
		return semver.Compare(va, vb)
	}
	switch {
	case a == b:
		return 0
	case a > b:
		return 1
	}
	return -1
}
