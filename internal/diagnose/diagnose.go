// Package diagnose renders toolchain probe results into a human-actionable
// report with machine-checkable remediation codes.
package diagnose

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/py2pyd/py2pyd/internal/toolchain"
)

// Exit codes for standalone diagnostics runs. Ready maps to 0 so scripted
// pre-flight checks can gate on the process status alone.
const (
	ExitReady    = 0
	ExitDegraded = 3
	ExitBlocked  = 4
)

// Document is the formatted diagnostics output for one EnvironmentReport.
type Document struct {
	Report *toolchain.EnvironmentReport
	Lines  []string
}

func (d *Document) String() string { return strings.Join(d.Lines, "\n") + "\n" }

// ExitCode maps a verdict to the diagnostics process exit status.
func ExitCode(v toolchain.Verdict) int {
	switch v {
	case toolchain.Ready:
		return ExitReady
	case toolchain.Degraded:
		return ExitDegraded
	}
	return ExitBlocked
}

// Render formats a report. Pure; the report is not modified.
func Render(r *toolchain.EnvironmentReport) *Document {
	d := &Document{Report: r}
	add := func(format string, args ...any) {
		d.Lines = append(d.Lines, fmt.Sprintf(format, args...))
	}

	add("build environment diagnostics (%s)", r.GOOS)
	add("")

	if rt := r.Runtime; rt != nil {
		add("python runtime:")
		add("  interpreter: %s (%s, %s)", rt.Executable, rt.Version, rt.Arch)
		add("  include dir: %s", rt.IncludeDir)
		if r.GOOS == "windows" {
			add("  library dir: %s (%s)", rt.LibDir, rt.LibName)
		}
		if rt.ExtSuffix != "" {
			add("  ext suffix:  %s", rt.ExtSuffix)
		}
		if len(r.RuntimeMissing) == 0 {
			add("  development files: ok")
		} else {
			for _, m := range r.RuntimeMissing {
				add("  missing: %s", m)
			}
		}
	} else {
		add("python runtime: not found")
		for _, m := range r.RuntimeMissing {
			add("  %s", m)
		}
	}
	add("")

	if r.TranslatorPath != "" {
		add("translator: %s", r.TranslatorPath)
	} else {
		add("translator: cython not found")
	}
	add("")

	if len(r.Candidates) == 0 {
		add("toolchains: none found")
	} else {
		add("toolchains:")
		for _, c := range r.Candidates {
			status := "unavailable"
			if c.Available {
				status = "available"
			}
			loc := c.Compiler
			if loc == "" {
				loc = c.VCVarsAll
			}
			add("  %-6s %-12s %s %s", c.Kind, status, c.Version, loc)
			for _, m := range c.Missing {
				add("         %s", m)
			}
		}
	}
	add("")

	add("verdict: %s", r.Verdict)
	for _, h := range r.Hints {
		add("  [%s] %s", h.Code, h.Text)
	}
	return d
}

// Run probes the host, renders the result and writes it to w. It returns the
// document and the exit code the caller should terminate with.
func Run(ctx context.Context, opts toolchain.Options, w io.Writer) (*Document, int, error) {
	report, err := toolchain.Probe(ctx, opts)
	if err != nil {
		return nil, ExitBlocked, err
	}
	doc := Render(report)
	if _, err := io.WriteString(w, doc.String()); err != nil {
		return doc, ExitCode(report.Verdict), err
	}
	return doc, ExitCode(report.Verdict), nil
}
