// Package pipeline drives one module through translate, compile and link to
// a placed native extension artifact.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/py2pyd/py2pyd/internal/config"
	"github.com/py2pyd/py2pyd/internal/toolchain"
	"github.com/py2pyd/py2pyd/x/vsenv"
)

// Pipeline builds modules against one resolved environment. It is safe for
// concurrent Build calls: the report and config are read-only and every
// module owns disjoint intermediate and output paths.
type Pipeline struct {
	Report  *toolchain.EnvironmentReport
	Config  *config.BuildConfig
	Log     log.Logger
	Runner  Runner
	Session string // names per-module temp dirs; unique per process run

	envOnce sync.Once
	msvcEnv []string
	envErr  error
}

// New creates a Pipeline with the default exec-backed runner.
func New(report *toolchain.EnvironmentReport, cfg *config.BuildConfig, logger log.Logger) *Pipeline {
	return &Pipeline{
		Report:  report,
		Config:  cfg,
		Log:     logger,
		Runner:  ExecRunner{},
		Session: uuid.NewString()[:8],
	}
}

// build is the per-module state; owned by exactly one Build call.
type build struct {
	p    *Pipeline
	unit ModuleUnit

	state     State
	candidate *toolchain.Candidate

	tempDir    string
	cSource    string
	annotation string
	object     string
	linked     string   // temp artifact before the atomic move
	sidecars   []string // linker side products (.exp/.lib/.pdb)

	cleaned bool
}

// Build runs the full state machine for one module and returns its Outcome.
// Errors never escape: they are wrapped with the stage and module identity.
func (p *Pipeline) Build(ctx context.Context, unit ModuleUnit) Outcome {
	b := &build{p: p, unit: unit, state: Pending}
	ext := p.ArtifactExt()
	outPath := p.ArtifactPath(unit)

	if !p.Config.ForceRebuild && upToDate(outPath, unit.Source) {
		b.transition(Done)
		p.Log.Debug().Str("module", unit.Name).Msg("up to date, skipping")
		return Outcome{Module: unit, State: Done, Status: Skipped,
			Artifact: &Artifact{Path: outPath, Ext: ext}}
	}

	defer b.cleanup()

	fail := func(stage Stage, err error) Outcome {
		b.transition(Failed)
		p.Log.Error().Str("module", unit.Name).Str("stage", stage.String()).Err(err).Msg("module build failed")
		return Outcome{Module: unit, State: Failed, Status: FailedStatus, Stage: stage,
			Err: &StageError{Stage: stage, Module: unit.Name, Err: err}}
	}

	b.transition(Translating)
	if err := b.prepareTemp(); err != nil {
		return fail(StageTranslate, err)
	}
	if err := b.translate(ctx); err != nil {
		return fail(StageTranslate, err)
	}

	b.transition(Compiling)
	cand, err := toolchain.Select(p.Report, p.Config.Toolchain)
	if err != nil {
		// Fail fast before invoking any compiler process.
		return fail(StageCompile, err)
	}
	b.candidate = cand

	env, err := p.compilerEnv(ctx, cand)
	if err != nil {
		return fail(StageEnvSetup, &EnvironmentSetupError{Err: err})
	}
	if err := b.compile(ctx, env); err != nil {
		return fail(StageCompile, err)
	}

	b.transition(Linking)
	if err := b.link(ctx, env); err != nil {
		return fail(StageLink, err)
	}
	if err := b.place(outPath); err != nil {
		return fail(StageLink, err)
	}
	b.placeAnnotation(outPath)

	b.transition(Done)
	p.Log.Info().Str("module", unit.Name).Str("artifact", outPath).Msg("built")
	return Outcome{Module: unit, State: Done, Status: Built,
		Artifact: &Artifact{Path: outPath, Ext: ext, Toolchain: cand.Kind}}
}

// ArtifactExt returns the native extension suffix for this environment.
func (p *Pipeline) ArtifactExt() string {
	if p.Report.Runtime != nil {
		return p.Report.Runtime.ArtifactExt()
	}
	if p.Report.GOOS == "windows" {
		return ".pyd"
	}
	return ".so"
}

// ArtifactPath returns the final output location for a unit, mirroring the
// input's relative structure under the output directory.
func (p *Pipeline) ArtifactPath(unit ModuleUnit) string {
	return filepath.Join(p.Config.OutputDir, filepath.FromSlash(unit.RelPath)+p.ArtifactExt())
}

// upToDate reports whether an existing artifact is newer than its source.
func upToDate(artifact, source string) bool {
	ai, err := os.Stat(artifact)
	if err != nil {
		return false
	}
	si, err := os.Stat(source)
	if err != nil {
		return false
	}
	return ai.ModTime().After(si.ModTime())
}

func (b *build) prepareTemp() error {
	base := b.p.Config.TempDir
	if base == "" {
		base = os.TempDir()
	}
	name := strings.NewReplacer(".", "_", string(filepath.Separator), "_").Replace(b.unit.Name)
	dir := filepath.Join(base, fmt.Sprintf("py2pyd-%s-%s", b.p.Session, name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	b.tempDir = dir
	return nil
}

// runTool executes one external invocation under the configured timeout.
// On timeout the process is killed and a *TimeoutError is returned.
func (p *Pipeline) runTool(ctx context.Context, stage Stage, cmd Command) (Result, error) {
	tctx, cancel := context.WithTimeout(ctx, p.Config.Timeout)
	defer cancel()

	p.Log.Debug().Str("stage", stage.String()).Str("tool", cmd.Name).Strs("args", cmd.Args).Msg("exec")
	res, err := p.Runner.Run(tctx, cmd)
	if err != nil && tctx.Err() == context.DeadlineExceeded {
		return res, &TimeoutError{Stage: stage, Tool: cmd.Name, Timeout: p.Config.Timeout}
	}
	return res, err
}

// compilerEnv prepares the environment for toolchain invocations. For MSVC it
// applies the vendor's setup script once per pipeline when the required
// variables are absent; other toolchains inherit the process environment.
func (p *Pipeline) compilerEnv(ctx context.Context, cand *toolchain.Candidate) ([]string, error) {
	if cand.Kind != toolchain.MSVC || vsenv.Initialized(os.Getenv) {
		return nil, nil
	}
	p.envOnce.Do(func() {
		if cand.VCVarsAll == "" {
			p.envErr = fmt.Errorf("cl.exe environment not initialized and no vcvarsall.bat known")
			return
		}
		tctx, cancel := context.WithTimeout(ctx, p.Config.Timeout)
		defer cancel()

		setup := vsenv.New(cand.VCVarsAll, vsenv.ArchFor(cand.Arch))
		captured, err := setup.Capture(tctx)
		if err != nil {
			p.envErr = err
			return
		}
		p.msvcEnv = vsenv.Merge(os.Environ(), captured)
	})
	return p.msvcEnv, p.envErr
}
