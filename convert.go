// Package py2pyd converts Python source modules into compiled native
// extension modules by driving an external translator and a platform C
// toolchain.
package py2pyd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/phuslu/log"

	"github.com/py2pyd/py2pyd/internal/config"
	"github.com/py2pyd/py2pyd/internal/diagnose"
	"github.com/py2pyd/py2pyd/internal/pipeline"
	"github.com/py2pyd/py2pyd/internal/toolchain"
	"github.com/py2pyd/py2pyd/internal/walker"
)

// BuildError aggregates a package build with at least one failed module.
// Successful sibling outcomes are retained.
type BuildError struct {
	Outcomes []pipeline.Outcome
	Summary  walker.Summary
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed: %s", e.Summary)
}

// Blocked reports whether every failure was the absence of a usable
// toolchain, the condition reserved for the blocked exit code.
func (e *BuildError) Blocked() bool {
	blocked := false
	for _, o := range e.Outcomes {
		if o.Success() {
			continue
		}
		var nt *toolchain.NoToolchainError
		if !errors.As(o.Err, &nt) {
			return false
		}
		blocked = true
	}
	return blocked
}

// Convert builds the module or package at input and returns the produced
// artifact paths in discovery order. On partial or total failure it returns
// the successful artifacts alongside a *BuildError.
func Convert(ctx context.Context, input string, cfg config.BuildConfig, logger log.Logger) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	units, err := walker.Discover(input, cfg.Exclude)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no python modules found under %s", input)
	}

	report, err := toolchain.Probe(ctx, toolchain.Options{Python: cfg.Python})
	if err != nil {
		return nil, err
	}

	if err := ensureWritableDir(cfg.OutputDir); err != nil {
		return nil, err
	}

	p := pipeline.New(report, &cfg, logger)
	w := &walker.Walker{Config: &cfg, Log: logger, Build: p.Build}

	logger.Info().Int("modules", len(units)).Str("input", input).Msg("building")
	outcomes, sum, err := w.BuildPackage(ctx, units)
	if err != nil {
		return nil, err
	}

	artifacts, err := collectArtifacts(outcomes, sum)
	if err != nil {
		return artifacts, err
	}
	logger.Info().Str("summary", sum.String()).Msg("build complete")
	return artifacts, nil
}

// collectArtifacts gathers successful artifact paths in outcome order. When
// any module failed it returns them alongside a *BuildError so partial
// results survive.
func collectArtifacts(outcomes []pipeline.Outcome, sum walker.Summary) ([]string, error) {
	var artifacts []string
	for _, o := range outcomes {
		if o.Success() && o.Artifact != nil {
			artifacts = append(artifacts, o.Artifact.Path)
		}
	}
	if sum.Failed > 0 {
		return artifacts, &BuildError{Outcomes: outcomes, Summary: sum}
	}
	return artifacts, nil
}

// Diagnose probes the host and returns the raw report with its formatted
// document. It never gates anything; verdicts are advisory.
func Diagnose(ctx context.Context, opts toolchain.Options) (*toolchain.EnvironmentReport, *diagnose.Document, error) {
	report, err := toolchain.Probe(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return report, diagnose.Render(report), nil
}

// ensureWritableDir creates the output directory if absent and verifies it
// is writable before any stage runs.
func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".write-check-")
	if err != nil {
		return fmt.Errorf("output dir %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
