package walker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/py2pyd/py2pyd/internal/config"
	"github.com/py2pyd/py2pyd/internal/logging"
	"github.com/py2pyd/py2pyd/internal/pipeline"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
}

func relPaths(units []pipeline.ModuleUnit) []string {
	var out []string
	for _, u := range units {
		out = append(out, u.RelPath)
	}
	return out
}

func TestDiscoverSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, "m.py")

	units, err := Discover(filepath.Join(dir, "m.py"), nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(units) != 1 || units[0].Name != "m" || units[0].RelPath != "m" {
		t.Fatalf("units = %+v", units)
	}
	if !filepath.IsAbs(units[0].Source) {
		t.Fatalf("source must be absolute: %q", units[0].Source)
	}
}

func TestDiscoverRejectsNonPython(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, "m.txt")
	if _, err := Discover(filepath.Join(dir, "m.txt"), nil); err == nil {
		t.Fatal("expected error for non-.py input")
	}
}

func TestDiscoverMissingInput(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestDiscoverPlainDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, "a.py", "b/c.py", "README.md")

	units, err := Discover(dir, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	got := relPaths(units)
	want := []string{"a", "b/c"}
	if len(got) != len(want) {
		t.Fatalf("units = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("units = %v, want %v", got, want)
		}
	}
	if units[1].Name != "b.c" {
		t.Errorf("dotted name = %q, want b.c", units[1].Name)
	}
}

func TestDiscoverPackageDottedNames(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mypkg")
	writeTree(t, dir, "__init__.py", "a.py", "sub/b.py")

	units, err := Discover(dir, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	names := map[string]bool{}
	for _, u := range units {
		names[u.Name] = true
	}
	for _, want := range []string{"mypkg.__init__", "mypkg.a", "mypkg.sub.b"} {
		if !names[want] {
			t.Errorf("missing module %s in %v", want, names)
		}
	}
	// Output layout is rooted at the package name.
	for _, u := range units {
		if u.Name == "mypkg.sub.b" && u.RelPath != "mypkg/sub/b" {
			t.Errorf("RelPath = %q, want mypkg/sub/b", u.RelPath)
		}
	}
}

func TestDiscoverExclusions(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir,
		"a.py",
		".hidden/x.py",
		"__pycache__/y.py",
		"tests/t.py",
	)

	units, err := Discover(dir, []string{"tests"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got := relPaths(units); len(got) != 1 || got[0] != "a" {
		t.Fatalf("units = %v, want [a]", got)
	}
}

func TestDiscoverDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, "z.py", "a.py", "m/k.py", "b.py")

	first, err := Discover(dir, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	second, err := Discover(dir, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	got := relPaths(first)
	if !sort.StringsAreSorted(got) {
		t.Fatalf("order not lexicographic: %v", got)
	}
	for i := range got {
		if got[i] != second[i].RelPath {
			t.Fatalf("order not stable: %v vs %v", got, relPaths(second))
		}
	}
}

func fakeBuild(failName string) BuildFunc {
	return func(ctx context.Context, unit pipeline.ModuleUnit) pipeline.Outcome {
		if unit.Name == failName {
			return pipeline.Outcome{
				Module: unit, State: pipeline.Failed, Status: pipeline.FailedStatus,
				Stage: pipeline.StageTranslate,
				Err:   errors.New("translation failed"),
			}
		}
		return pipeline.Outcome{
			Module: unit, State: pipeline.Done, Status: pipeline.Built,
			Artifact: &pipeline.Artifact{Path: unit.RelPath + ".so"},
		}
	}
}

func newWalker(jobs int, build BuildFunc) *Walker {
	cfg := config.Default()
	cfg.Jobs = jobs
	return &Walker{Config: &cfg, Log: logging.Discard(), Build: build}
}

func discoverUnits(t *testing.T, files ...string) []pipeline.ModuleUnit {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, files...)
	units, err := Discover(dir, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	return units
}

func TestBuildPackageFailureDoesNotAbortSiblings(t *testing.T) {
	units := discoverUnits(t, "a.py", "bad.py", "c.py")

	w := newWalker(1, fakeBuild("bad"))
	outcomes, sum, err := w.BuildPackage(context.Background(), units)
	if err != nil {
		t.Fatalf("build package: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if sum.Built != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	// Discovery order is preserved.
	for i, want := range []string{"a", "bad", "c"} {
		if outcomes[i].Module.Name != want {
			t.Fatalf("outcome[%d] = %s, want %s", i, outcomes[i].Module.Name, want)
		}
	}
	if outcomes[1].Success() {
		t.Fatal("bad module must fail")
	}
}

func TestBuildPackageParallelPreservesOrder(t *testing.T) {
	units := discoverUnits(t, "a.py", "b.py", "c.py", "d.py", "e.py")

	var inFlight, peak atomic.Int32
	build := func(ctx context.Context, unit pipeline.ModuleUnit) pipeline.Outcome {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return pipeline.Outcome{Module: unit, State: pipeline.Done, Status: pipeline.Built}
	}

	w := newWalker(3, build)
	outcomes, sum, err := w.BuildPackage(context.Background(), units)
	if err != nil {
		t.Fatalf("build package: %v", err)
	}
	if sum.Built != 5 {
		t.Fatalf("summary = %+v", sum)
	}
	for i, want := range []string{"a", "b", "c", "d", "e"} {
		if outcomes[i].Module.Name != want {
			t.Fatalf("order not preserved: %v", outcomes)
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("worker pool exceeded cap: %d", peak.Load())
	}
}

func TestBuildPackageCancellationBetweenModules(t *testing.T) {
	units := discoverUnits(t, "a.py", "b.py", "c.py")

	ctx, cancel := context.WithCancel(context.Background())
	build := func(bctx context.Context, unit pipeline.ModuleUnit) pipeline.Outcome {
		cancel() // request cancellation while a module is in flight
		if bctx.Err() != nil {
			t.Error("in-flight module must not observe cancellation")
		}
		return pipeline.Outcome{Module: unit, State: pipeline.Done, Status: pipeline.Built}
	}

	w := newWalker(1, build)
	outcomes, _, err := w.BuildPackage(ctx, units)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1 (no further modules scheduled)", len(outcomes))
	}
	if !outcomes[0].Success() {
		t.Fatal("in-flight module must run to its terminal state")
	}
}
