package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/py2pyd/py2pyd/internal/toolchain"
)

// compile turns the translated C source into an object file in the module's
// temp dir. Implicit flags come first so user-supplied extra args can shadow
// them positionally.
func (b *build) compile(ctx context.Context, env []string) error {
	p := b.p
	base := filepath.Base(b.unit.stem())

	var args []string
	switch b.candidate.Kind {
	case toolchain.MSVC:
		b.object = filepath.Join(b.tempDir, base+".obj")
		args = []string{"/nologo", "/c", b.cSource, "/Fo" + b.object, "/O2"}
		if inc := p.includeDir(); inc != "" {
			args = append(args, "/I"+inc)
		}
		for _, d := range p.Config.Defines {
			args = append(args, "/D"+d)
		}
	default:
		b.object = filepath.Join(b.tempDir, base+".o")
		args = []string{"-c", b.cSource, "-o", b.object, "-O2"}
		if b.candidate.Kind == toolchain.UnixCC {
			args = append(args, "-fPIC")
		}
		if inc := p.includeDir(); inc != "" {
			args = append(args, "-I"+inc)
		}
		for _, d := range p.Config.Defines {
			args = append(args, "-D"+d)
		}
	}
	args = append(args, p.Config.ExtraCompileArgs...)

	res, err := p.runTool(ctx, StageCompile, Command{Name: b.candidate.Compiler, Args: args, Env: env})
	if err != nil {
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			return err
		}
		return &CompileError{Module: b.unit.Name, Output: res.Combined(), Err: err}
	}
	return nil
}

// link produces the shared module at a temporary path inside the output
// directory; place moves it into its final name afterwards so an interrupted
// link never leaves a partial artifact at the destination.
func (b *build) link(ctx context.Context, env []string) error {
	p := b.p
	outPath := p.ArtifactPath(b.unit)
	outDir := filepath.Dir(outPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmpOut := filepath.Join(outDir, fmt.Sprintf(".tmp-%s-%s%s",
		filepath.Base(b.unit.RelPath), p.Session, p.ArtifactExt()))

	linker := b.candidate.Linker
	if linker == "" {
		linker = b.candidate.Compiler
	}

	var args []string
	switch b.candidate.Kind {
	case toolchain.MSVC:
		args = []string{"/nologo", "/DLL", b.object, "/OUT:" + tmpOut}
		if rt := p.Report.Runtime; rt != nil && rt.LibDir != "" {
			args = append(args, "/LIBPATH:"+rt.LibDir, rt.LibName+".lib")
		}
		// link also emits an export lib and friends next to /OUT.
		tmpBase := strings.TrimSuffix(tmpOut, p.ArtifactExt())
		for _, ext := range []string{".exp", ".lib", ".pdb"} {
			b.sidecars = append(b.sidecars, tmpBase+ext)
		}
	case toolchain.MinGW:
		args = []string{"-shared", b.object, "-o", tmpOut}
		if rt := p.Report.Runtime; rt != nil && rt.LibDir != "" {
			args = append(args, "-L"+rt.LibDir, "-l"+rt.LibName)
		}
	default:
		args = []string{"-shared", b.object, "-o", tmpOut}
		if p.Report.GOOS == "darwin" {
			args = append(args, "-undefined", "dynamic_lookup")
		}
	}
	args = append(args, p.Config.ExtraLinkArgs...)

	res, err := p.runTool(ctx, StageLink, Command{Name: linker, Args: args, Env: env})
	if err != nil {
		os.Remove(tmpOut)
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			return err
		}
		return &LinkError{Module: b.unit.Name, Output: res.Combined(), Err: err}
	}
	b.linked = tmpOut
	return nil
}

// place atomically moves the linked module into its final location.
func (b *build) place(outPath string) error {
	if err := os.Rename(b.linked, outPath); err != nil {
		return fmt.Errorf("place artifact: %w", err)
	}
	b.linked = ""
	return nil
}

func (p *Pipeline) includeDir() string {
	if p.Report.Runtime != nil {
		return p.Report.Runtime.IncludeDir
	}
	return ""
}
