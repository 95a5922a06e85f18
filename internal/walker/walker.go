// Package walker discovers translatable modules under a package root and
// drives one build pipeline per module, aggregating per-module outcomes.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/phuslu/log"

	"github.com/py2pyd/py2pyd/internal/config"
	"github.com/py2pyd/py2pyd/internal/pipeline"
)

// BuildFunc builds one module. Swappable in tests.
type BuildFunc func(ctx context.Context, unit pipeline.ModuleUnit) pipeline.Outcome

// Walker builds every discovered module under a root. A failing module never
// aborts its siblings; outcomes are aggregated in discovery order.
type Walker struct {
	Config *config.BuildConfig
	Log    log.Logger
	Build  BuildFunc
}

// Summary aggregates package-level counts. Built and Skipped both count as
// success.
type Summary struct {
	Built   int
	Skipped int
	Failed  int
}

func (s Summary) Total() int { return s.Built + s.Skipped + s.Failed }

func (s Summary) String() string {
	return fmt.Sprintf("%d built, %d skipped, %d failed", s.Built, s.Skipped, s.Failed)
}

// Discover resolves the input path into module units in deterministic
// lexicographic order.
//
// A single .py file is one unit. A directory containing __init__.py is a
// package: module names are dotted and rooted at the directory's own name.
// Any other directory contributes each .py as a top-level module. Hidden
// directories, __pycache__ and configured exclusions are skipped.
func Discover(root string, exclude []string) ([]pipeline.ModuleUnit, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input path: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if filepath.Ext(root) != ".py" {
			return nil, fmt.Errorf("input file must be a .py file: %s", root)
		}
		stem := strings.TrimSuffix(filepath.Base(root), ".py")
		unit, err := pipeline.NewModuleUnit(stem, abs, stem)
		if err != nil {
			return nil, err
		}
		return []pipeline.ModuleUnit{unit}, nil
	}

	isPackage := false
	if _, err := os.Stat(filepath.Join(abs, "__init__.py")); err == nil {
		isPackage = true
	}
	pkgName := filepath.Base(abs)

	skipDir := func(name string) bool {
		if strings.HasPrefix(name, ".") || name == "__pycache__" {
			return true
		}
		for _, ex := range exclude {
			if name == ex {
				return true
			}
		}
		return false
	}

	var units []pipeline.ModuleUnit
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != abs && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".py" {
			return nil
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		relStem := strings.TrimSuffix(filepath.ToSlash(rel), ".py")

		parts := strings.Split(relStem, "/")
		if isPackage {
			parts = append([]string{pkgName}, parts...)
		}
		name := strings.Join(parts, ".")

		relOut := relStem
		if isPackage {
			relOut = pkgName + "/" + relStem
		}

		unit, err := pipeline.NewModuleUnit(name, path, relOut)
		if err != nil {
			return err
		}
		units = append(units, unit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover modules under %s: %w", root, err)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].RelPath < units[j].RelPath })
	return units, nil
}

// BuildPackage builds every unit. Cancellation is cooperative and checked
// between modules only: an in-flight pipeline runs to its terminal state,
// then no further modules are scheduled. The returned error is non-nil only
// for cancellation or infrastructure faults, never for per-module failures.
func (w *Walker) BuildPackage(ctx context.Context, units []pipeline.ModuleUnit) ([]pipeline.Outcome, Summary, error) {
	jobs := w.Config.Jobs
	if jobs < 1 {
		jobs = 1
	}

	var outcomes []pipeline.Outcome
	if jobs == 1 || len(units) < 2 {
		outcomes = w.runSequential(ctx, units)
	} else {
		outcomes = w.runParallel(ctx, units, jobs)
	}

	var sum Summary
	for _, o := range outcomes {
		switch o.Status {
		case pipeline.Built:
			sum.Built++
		case pipeline.Skipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	return outcomes, sum, ctx.Err()
}

func (w *Walker) runSequential(ctx context.Context, units []pipeline.ModuleUnit) []pipeline.Outcome {
	// Modules in flight must reach their terminal state even when the
	// package build is cancelled, so the per-module context is detached.
	moduleCtx := context.WithoutCancel(ctx)

	var outcomes []pipeline.Outcome
	for _, unit := range units {
		if ctx.Err() != nil {
			w.Log.Warn().Str("module", unit.Name).Msg("cancelled before module was scheduled")
			break
		}
		outcomes = append(outcomes, w.Build(moduleCtx, unit))
	}
	return outcomes
}

// runParallel processes units with a bounded worker pool. External toolchains
// are often unsafe to invoke in unbounded parallel, so the cap is hard.
// Result order stays the discovery order regardless of completion order.
func (w *Walker) runParallel(ctx context.Context, units []pipeline.ModuleUnit, jobs int) []pipeline.Outcome {
	moduleCtx := context.WithoutCancel(ctx)

	type task struct {
		idx  int
		unit pipeline.ModuleUnit
	}
	tasks := make(chan task)
	results := make([]*pipeline.Outcome, len(units))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				out := w.Build(moduleCtx, t.unit)
				mu.Lock()
				results[t.idx] = &out
				mu.Unlock()
			}
		}()
	}

	for i, unit := range units {
		if ctx.Err() != nil {
			break
		}
		tasks <- task{idx: i, unit: unit}
	}
	close(tasks)
	wg.Wait()

	outcomes := make([]pipeline.Outcome, 0, len(units))
	for _, r := range results {
		if r != nil {
			outcomes = append(outcomes, *r)
		}
	}
	return outcomes
}
