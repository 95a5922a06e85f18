package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/py2pyd/py2pyd/internal/config"
	"github.com/py2pyd/py2pyd/internal/logging"
	"github.com/py2pyd/py2pyd/internal/toolchain"
)

// fakeRunner simulates the translator and toolchain by writing the output
// files the real tools would produce.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Command

	failTranslate string // stderr text; non-empty makes translation fail
	failCompile   string
	failLink      string
	hang          bool // block until ctx is done
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.hang {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}

	outArg := func(flag string) string {
		for i, a := range cmd.Args {
			if a == flag && i+1 < len(cmd.Args) {
				return cmd.Args[i+1]
			}
			if strings.HasPrefix(a, flag) && len(a) > len(flag) && flag != "-o" {
				return a[len(flag):]
			}
		}
		return ""
	}

	switch {
	case strings.Contains(cmd.Name, "cython"):
		if f.failTranslate != "" {
			return Result{Stderr: []byte(f.failTranslate)}, errors.New("exit status 1")
		}
		out := outArg("-o")
		if err := os.WriteFile(out, []byte("/* generated */"), 0o644); err != nil {
			return Result{}, err
		}
		for _, a := range cmd.Args {
			if a == "--annotate" {
				html := strings.TrimSuffix(out, ".c") + ".html"
				os.WriteFile(html, []byte("<html></html>"), 0o644)
			}
		}
		return Result{}, nil
	case contains(cmd.Args, "-c"):
		if f.failCompile != "" {
			return Result{Stderr: []byte(f.failCompile)}, errors.New("exit status 1")
		}
		return Result{}, os.WriteFile(outArg("-o"), []byte("obj"), 0o644)
	case contains(cmd.Args, "-shared"):
		if f.failLink != "" {
			return Result{Stderr: []byte(f.failLink)}, errors.New("exit status 1")
		}
		return Result{}, os.WriteFile(outArg("-o"), []byte("elf"), 0o644)
	}
	return Result{}, nil
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func (f *fakeRunner) toolNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, filepath.Base(c.Name))
	}
	return names
}

func unixReport() *toolchain.EnvironmentReport {
	return &toolchain.EnvironmentReport{
		GOOS: "linux",
		Candidates: []toolchain.Candidate{
			{Kind: toolchain.UnixCC, Compiler: "cc", Linker: "cc", Version: "13.2.0", Available: true},
		},
		TranslatorPath: "cython",
		Verdict:        toolchain.Degraded,
	}
}

func testSetup(t *testing.T, cfg config.BuildConfig) (*Pipeline, *fakeRunner, ModuleUnit) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "m.py")
	if err := os.WriteFile(src, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if cfg.OutputDir == "" || cfg.OutputDir == "build_pyd" {
		cfg.OutputDir = filepath.Join(dir, "build_pyd")
	}
	cfg.TempDir = filepath.Join(dir, "tmp")

	unit, err := NewModuleUnit("m", src, "m")
	if err != nil {
		t.Fatalf("new unit: %v", err)
	}

	runner := &fakeRunner{}
	p := New(unixReport(), &cfg, logging.Discard())
	p.Runner = runner
	return p, runner, unit
}

func TestBuildSingleModule(t *testing.T) {
	p, runner, unit := testSetup(t, config.Default())

	out := p.Build(context.Background(), unit)
	if !out.Success() || out.Status != Built {
		t.Fatalf("outcome = %v (%v), want built", out.Status, out.Err)
	}
	if out.State != Done {
		t.Fatalf("state = %v, want done", out.State)
	}

	want := filepath.Join(p.Config.OutputDir, "m.so")
	if out.Artifact == nil || out.Artifact.Path != want {
		t.Fatalf("artifact = %+v, want path %s", out.Artifact, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if got := runner.toolNames(); len(got) != 3 {
		t.Fatalf("tool invocations = %v, want translate+compile+link", got)
	}

	// No partially written artifact left behind.
	entries, err := os.ReadDir(p.Config.OutputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp artifact left in output dir: %s", e.Name())
		}
	}
}

func TestBuildSkipsWhenUpToDate(t *testing.T) {
	p, runner, unit := testSetup(t, config.Default())

	if out := p.Build(context.Background(), unit); out.Status != Built {
		t.Fatalf("first build: %v (%v)", out.Status, out.Err)
	}
	artifact := filepath.Join(p.Config.OutputDir, "m.so")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(artifact, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	before, _ := os.ReadFile(artifact)

	out := p.Build(context.Background(), unit)
	if out.Status != Skipped {
		t.Fatalf("second build = %v, want skipped", out.Status)
	}
	if !out.Success() {
		t.Fatal("skipped must count as success")
	}
	if got := runner.toolNames(); len(got) != 3 {
		t.Fatalf("skip must not invoke tools, got %v", got)
	}
	after, _ := os.ReadFile(artifact)
	if string(before) != string(after) {
		t.Fatal("artifact changed on skipped rebuild")
	}
}

func TestBuildForceRebuilds(t *testing.T) {
	cfg := config.Default()
	cfg.ForceRebuild = true
	p, runner, unit := testSetup(t, cfg)

	if out := p.Build(context.Background(), unit); out.Status != Built {
		t.Fatalf("first build: %v", out.Status)
	}
	artifact := filepath.Join(p.Config.OutputDir, "m.so")
	future := time.Now().Add(time.Hour)
	os.Chtimes(artifact, future, future)

	if out := p.Build(context.Background(), unit); out.Status != Built {
		t.Fatalf("forced build = %v, want built", out.Status)
	}
	if got := runner.toolNames(); len(got) != 6 {
		t.Fatalf("forced rebuild must re-run tools, got %v", got)
	}
}

func TestTranslationFailureCarriesStderrVerbatim(t *testing.T) {
	p, runner, unit := testSetup(t, config.Default())
	runner.failTranslate = "m.py:3:7: undeclared name 'frob'"

	out := p.Build(context.Background(), unit)
	if out.Success() {
		t.Fatal("expected failure")
	}
	if out.Stage != StageTranslate {
		t.Fatalf("stage = %v, want translate", out.Stage)
	}
	var terr *TranslationError
	if !errors.As(out.Err, &terr) {
		t.Fatalf("err = %v, want TranslationError", out.Err)
	}
	if terr.Output != runner.failTranslate {
		t.Fatalf("diagnostic text rewritten: %q", terr.Output)
	}
	if got := runner.toolNames(); len(got) != 1 {
		t.Fatalf("compiler must not run after failed translation, got %v", got)
	}
}

func TestCompileFailure(t *testing.T) {
	p, runner, unit := testSetup(t, config.Default())
	runner.failCompile = "m.c:1: error: expected expression"

	out := p.Build(context.Background(), unit)
	var cerr *CompileError
	if !errors.As(out.Err, &cerr) {
		t.Fatalf("err = %v, want CompileError", out.Err)
	}
	if out.Stage != StageCompile {
		t.Fatalf("stage = %v, want compile", out.Stage)
	}
	if !strings.Contains(cerr.Output, "expected expression") {
		t.Fatalf("compiler output lost: %q", cerr.Output)
	}
}

func TestLinkFailure(t *testing.T) {
	p, runner, unit := testSetup(t, config.Default())
	runner.failLink = "undefined reference to PyInit_m"

	out := p.Build(context.Background(), unit)
	var lerr *LinkError
	if !errors.As(out.Err, &lerr) {
		t.Fatalf("err = %v, want LinkError", out.Err)
	}
	if out.Stage != StageLink {
		t.Fatalf("stage = %v, want link", out.Stage)
	}
	if _, err := os.Stat(filepath.Join(p.Config.OutputDir, "m.so")); !os.IsNotExist(err) {
		t.Fatal("failed link must not leave an artifact at the destination")
	}
}

func TestNoToolchainFailsFast(t *testing.T) {
	p, runner, unit := testSetup(t, config.Default())
	p.Report = &toolchain.EnvironmentReport{GOOS: "linux", TranslatorPath: "cython"}

	out := p.Build(context.Background(), unit)
	var nt *toolchain.NoToolchainError
	if !errors.As(out.Err, &nt) {
		t.Fatalf("err = %v, want NoToolchainError", out.Err)
	}
	if out.Stage != StageCompile {
		t.Fatalf("stage = %v, want compile", out.Stage)
	}
	for _, name := range runner.toolNames() {
		if name == "cc" {
			t.Fatal("compiler invoked despite missing toolchain")
		}
	}
}

func TestTimeoutKillsTool(t *testing.T) {
	cfg := config.Default()
	cfg.Timeout = 20 * time.Millisecond
	p, runner, unit := testSetup(t, cfg)
	runner.hang = true

	out := p.Build(context.Background(), unit)
	var te *TimeoutError
	if !errors.As(out.Err, &te) {
		t.Fatalf("err = %v, want TimeoutError", out.Err)
	}
	if te.Stage != StageTranslate {
		t.Fatalf("timeout stage = %v, want translate", te.Stage)
	}
}

func TestCleanupRemovesIntermediates(t *testing.T) {
	p, _, unit := testSetup(t, config.Default())

	out := p.Build(context.Background(), unit)
	if out.Status != Built {
		t.Fatalf("build: %v", out.Err)
	}
	cSource := strings.TrimSuffix(unit.Source, ".py") + ".c"
	if _, err := os.Stat(cSource); !os.IsNotExist(err) {
		t.Error("translated C source not cleaned up")
	}
	entries, _ := os.ReadDir(p.Config.TempDir)
	if len(entries) != 0 {
		t.Errorf("temp build dirs not cleaned up: %v", entries)
	}
}

func TestCleanupKeepsCFiles(t *testing.T) {
	cfg := config.Default()
	cfg.KeepCFiles = true
	p, _, unit := testSetup(t, cfg)

	if out := p.Build(context.Background(), unit); out.Status != Built {
		t.Fatalf("build: %v", out.Err)
	}
	cSource := strings.TrimSuffix(unit.Source, ".py") + ".c"
	if _, err := os.Stat(cSource); err != nil {
		t.Errorf("keep_c_files must retain the translated source: %v", err)
	}
	entries, _ := os.ReadDir(p.Config.TempDir)
	if len(entries) != 0 {
		t.Errorf("object intermediates must still be removed: %v", entries)
	}
}

func TestNoCleanupKeepsEverything(t *testing.T) {
	cfg := config.Default()
	cfg.Cleanup = false
	p, _, unit := testSetup(t, cfg)

	if out := p.Build(context.Background(), unit); out.Status != Built {
		t.Fatalf("build: %v", out.Err)
	}
	cSource := strings.TrimSuffix(unit.Source, ".py") + ".c"
	if _, err := os.Stat(cSource); err != nil {
		t.Errorf("no-cleanup must retain the translated source: %v", err)
	}
}

func TestAnnotatePlacesReportAlongsideArtifact(t *testing.T) {
	cfg := config.Default()
	cfg.Annotate = true
	p, _, unit := testSetup(t, cfg)

	if out := p.Build(context.Background(), unit); out.Status != Built {
		t.Fatalf("build: %v", out.Err)
	}
	if _, err := os.Stat(filepath.Join(p.Config.OutputDir, "m.html")); err != nil {
		t.Errorf("annotation file missing next to artifact: %v", err)
	}
	// Cleanup is on by default and must not claim the requested report.
	source := strings.TrimSuffix(unit.Source, ".py") + ".html"
	if _, err := os.Stat(source); err != nil {
		t.Errorf("annotation report next to the source must survive cleanup: %v", err)
	}
}

func TestMSVCWithoutEnvSetupFailsDistinctly(t *testing.T) {
	p, _, unit := testSetup(t, config.Default())
	p.Report = &toolchain.EnvironmentReport{
		GOOS: "windows",
		Candidates: []toolchain.Candidate{
			{Kind: toolchain.MSVC, Compiler: `C:\VS\cl.exe`, Linker: `C:\VS\link.exe`, Arch: "x86_64", Available: true},
		},
		TranslatorPath: "cython",
	}

	out := p.Build(context.Background(), unit)
	if out.Stage != StageEnvSetup {
		t.Fatalf("stage = %v (%v), want env-setup", out.Stage, out.Err)
	}
	var ee *EnvironmentSetupError
	if !errors.As(out.Err, &ee) {
		t.Fatalf("err = %v, want EnvironmentSetupError", out.Err)
	}
}
