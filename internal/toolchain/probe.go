package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/py2pyd/py2pyd/internal/pyenv"
)

// Options configures a probe run. The zero value probes the current host.
type Options struct {
	// GOOS overrides the platform, for tests.
	GOOS string
	// CompilerPath is an explicitly configured compiler, checked first.
	CompilerPath string
	// Python overrides interpreter lookup.
	Python string
	// VSRoots replaces the default Visual Studio search roots, for tests.
	VSRoots []string
	// LookPath overrides PATH lookup, for tests.
	LookPath func(file string) (string, error)
	// Run overrides external process execution, for tests.
	Run pyenv.Runner
}

func (o *Options) fill() {
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	if o.Run == nil {
		o.Run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		}
	}
}

// Probe inspects the host and returns an EnvironmentReport. Absent tools are
// recorded as data, never as errors; only I/O faults while querying the
// filesystem surface as a *ProbeError.
func Probe(ctx context.Context, opts Options) (*EnvironmentReport, error) {
	opts.fill()

	report := &EnvironmentReport{GOOS: opts.GOOS}

	rt, err := pyenv.Discover(ctx, pyenv.Options{
		Python: opts.Python,
		GOOS:   opts.GOOS,
		Run:    opts.Run,
	})
	if err != nil {
		report.RuntimeMissing = []string{err.Error()}
	} else {
		report.Runtime = rt
		report.RuntimeMissing = rt.MissingDev()
	}

	if path, err := opts.LookPath("cython"); err == nil {
		report.TranslatorPath = path
	}

	var candidates []Candidate
	if opts.GOOS == "windows" {
		candidates, err = probeWindows(ctx, &opts, report)
	} else {
		candidates, err = probeUnix(ctx, &opts)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rankLess(&candidates[i], &candidates[j])
	})
	report.Candidates = candidates

	classify(report)
	return report, nil
}

// classify derives the verdict and remediation hints. Ready iff a candidate
// is available and the runtime dev files resolved; blocked iff neither holds.
func classify(r *EnvironmentReport) {
	haveCompiler := r.Best() != nil
	haveRuntime := r.RuntimeOK()

	switch {
	case haveCompiler && haveRuntime:
		r.Verdict = Ready
	case !haveCompiler && !haveRuntime:
		r.Verdict = Blocked
	default:
		r.Verdict = Degraded
	}

	if !haveCompiler {
		text := "no C compiler found; install gcc or clang"
		if r.GOOS == "windows" {
			text = "no usable compiler found; install Visual Studio Build Tools with the C++ workload, or MinGW-w64 matching your Python's architecture"
		}
		r.Hints = append(r.Hints, Hint{Code: HintNoCompiler, Text: text})
	}
	if r.Runtime == nil {
		r.Hints = append(r.Hints, Hint{
			Code: HintNoPythonRuntime,
			Text: "no Python interpreter found; install Python or pass an explicit interpreter path",
		})
	} else if len(r.RuntimeMissing) > 0 {
		r.Hints = append(r.Hints, Hint{
			Code: HintNoPythonDev,
			Text: "Python development files missing: " + strings.Join(r.RuntimeMissing, "; "),
		})
	}
	if r.TranslatorPath == "" {
		r.Hints = append(r.Hints, Hint{
			Code: HintNoTranslator,
			Text: "cython executable not found on PATH; install with: pip install cython",
		})
	}
	for _, c := range r.Candidates {
		if c.Kind == MinGW && !c.Available {
			for _, reason := range c.Missing {
				if strings.Contains(reason, "architecture mismatch") {
					r.Hints = append(r.Hints, Hint{Code: HintArchMismatch, Text: reason})
				}
			}
		}
		if c.Kind == MSVC && !c.Available {
			for _, reason := range c.Missing {
				if strings.Contains(reason, "vcvarsall.bat not found") {
					r.Hints = append(r.Hints, Hint{
						Code: HintNoVCVarsAll,
						Text: reason + "; repair the Build Tools installation",
					})
				}
			}
		}
	}
}

func hostArch(r *EnvironmentReport) string {
	if r.Runtime != nil {
		return r.Runtime.Arch
	}
	if runtime.GOARCH == "386" || runtime.GOARCH == "arm" {
		return "i686"
	}
	return "x86_64"
}

var versionRE = regexp.MustCompile(`\d+(\.\d+)+`)

// probeUnix looks for C compiler drivers on PATH. Each distinct executable
// becomes one UnixCC candidate.
func probeUnix(ctx context.Context, opts *Options) ([]Candidate, error) {
	names := []string{"cc", "gcc", "clang"}
	if opts.CompilerPath != "" {
		names = append([]string{opts.CompilerPath}, names...)
	}

	seen := map[string]bool{}
	var out []Candidate
	for _, name := range names {
		path, err := opts.LookPath(name)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
		if seen[path] {
			continue
		}
		seen[path] = true

		c := Candidate{Kind: UnixCC, Compiler: path, Linker: path, Arch: "x86_64"}
		if raw, err := opts.Run(ctx, path, "--version"); err != nil {
			c.Missing = append(c.Missing, fmt.Sprintf("%s --version failed: %v", path, err))
		} else {
			c.Version = versionRE.FindString(string(raw))
			c.Available = true
		}
		out = append(out, c)
	}
	return out, nil
}

// probeWindows searches in ranked order: explicit compiler path, compilers on
// PATH, then known Visual Studio installation roots.
func probeWindows(ctx context.Context, opts *Options, report *EnvironmentReport) ([]Candidate, error) {
	arch := hostArch(report)
	var out []Candidate

	if opts.CompilerPath != "" {
		out = append(out, classifyExplicit(ctx, opts, opts.CompilerPath, arch))
	}

	// Compiler already initialized on PATH (e.g. a VS developer prompt).
	if cl, err := opts.LookPath("cl"); err == nil {
		c := Candidate{Kind: MSVC, Compiler: cl, Arch: arch}
		if link, err := opts.LookPath("link"); err == nil {
			c.Linker = link
		} else {
			c.Linker = cl
		}
		if raw, err := opts.Run(ctx, cl); err != nil {
			c.Missing = append(c.Missing, fmt.Sprintf("cl failed to run: %v", err))
		} else {
			c.Version = versionRE.FindString(string(raw))
			c.Available = true
		}
		out = append(out, c)
	}

	if gcc, err := opts.LookPath("gcc"); err == nil {
		out = append(out, probeMinGW(ctx, opts, gcc, arch))
	}

	roots := opts.VSRoots
	if roots == nil {
		roots = defaultVSRoots()
		roots = append(roots, vswhereRoots(ctx, opts)...)
		roots = append(roots, registryVSRoots()...)
	}
	vs, err := probeVSInstalls(roots, arch)
	if err != nil {
		return nil, err
	}
	return append(out, vs...), nil
}

func classifyExplicit(ctx context.Context, opts *Options, path, arch string) Candidate {
	kind := MinGW
	if strings.HasPrefix(strings.ToLower(filepath.Base(path)), "cl") {
		kind = MSVC
	}
	c := Candidate{Kind: kind, Compiler: path, Linker: path, Arch: arch}
	if _, err := os.Stat(path); err != nil {
		c.Missing = append(c.Missing, fmt.Sprintf("configured compiler not found: %s", path))
		return c
	}
	args := []string{"--version"}
	if kind == MSVC {
		args = nil
	}
	if raw, err := opts.Run(ctx, path, args...); err != nil {
		c.Missing = append(c.Missing, fmt.Sprintf("configured compiler failed to run: %v", err))
	} else {
		c.Version = versionRE.FindString(string(raw))
		c.Available = true
	}
	return c
}

// probeMinGW verifies that a gcc on PATH targets mingw and matches the
// Python interpreter's architecture.
func probeMinGW(ctx context.Context, opts *Options, gcc, pyArch string) Candidate {
	c := Candidate{Kind: MinGW, Compiler: gcc, Linker: gcc}

	raw, err := opts.Run(ctx, gcc, "-dumpmachine")
	if err != nil {
		c.Missing = append(c.Missing, fmt.Sprintf("gcc -dumpmachine failed: %v", err))
		return c
	}
	triple := strings.ToLower(strings.TrimSpace(string(raw)))

	var gccArch string
	switch {
	case strings.Contains(triple, "x86_64"), strings.Contains(triple, "amd64"):
		gccArch = "x86_64"
	case strings.Contains(triple, "i686"), strings.Contains(triple, "i386"), strings.Contains(triple, "i586"):
		gccArch = "i686"
	default:
		c.Missing = append(c.Missing, fmt.Sprintf("gcc target %q has unknown architecture", triple))
		return c
	}
	c.Arch = gccArch

	if gccArch != pyArch {
		c.Missing = append(c.Missing,
			fmt.Sprintf("architecture mismatch: gcc target %q (%s) != python (%s)", triple, gccArch, pyArch))
		return c
	}
	if !strings.Contains(triple, "mingw") {
		c.Missing = append(c.Missing, fmt.Sprintf("gcc target %q is not a mingw toolchain", triple))
		return c
	}

	if raw, err := opts.Run(ctx, gcc, "-dumpversion"); err == nil {
		c.Version = strings.TrimSpace(string(raw))
	}
	c.Available = true
	return c
}

// probeVSInstalls scans Visual Studio roots for a usable cl.exe/link.exe pair
// and the vcvarsall.bat environment script.
func probeVSInstalls(roots []string, arch string) ([]Candidate, error) {
	var out []Candidate
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &ProbeError{Op: "stat " + root, Err: err}
		}

		c := Candidate{Kind: MSVC, Arch: arch}
		vcvars := filepath.Join(root, "VC", "Auxiliary", "Build", "vcvarsall.bat")
		if _, err := os.Stat(vcvars); err == nil {
			c.VCVarsAll = vcvars
		}

		host := "Hostx64"
		target := "x64"
		if arch == "i686" {
			host, target = "Hostx86", "x86"
		}
		toolVers, _ := filepath.Glob(filepath.Join(root, "VC", "Tools", "MSVC", "*"))
		sort.Sort(sort.Reverse(sort.StringSlice(toolVers)))
		for _, dir := range toolVers {
			cl := filepath.Join(dir, "bin", host, target, "cl.exe")
			link := filepath.Join(dir, "bin", host, target, "link.exe")
			if _, err := os.Stat(cl); err != nil {
				continue
			}
			if _, err := os.Stat(link); err != nil {
				continue
			}
			c.Compiler = cl
			c.Linker = link
			c.Version = filepath.Base(dir)
			break
		}

		switch {
		case c.Compiler != "" && c.VCVarsAll != "":
			c.Available = true
		case c.Compiler == "":
			c.Missing = append(c.Missing, fmt.Sprintf("no cl.exe/link.exe pair under %s for %s", root, arch))
		case c.VCVarsAll == "":
			c.Missing = append(c.Missing, fmt.Sprintf("vcvarsall.bat not found under %s", root))
		}
		out = append(out, c)
	}
	return out, nil
}

func defaultVSRoots() []string {
	pf := os.Getenv("ProgramFiles")
	if pf == "" {
		pf = `C:\Program Files`
	}
	pf86 := os.Getenv("ProgramFiles(x86)")
	if pf86 == "" {
		pf86 = `C:\Program Files (x86)`
	}
	var roots []string
	for _, year := range []string{"2022", "2019", "2017"} {
		base := pf
		if year != "2022" {
			base = pf86
		}
		for _, edition := range []string{"BuildTools", "Community", "Professional", "Enterprise"} {
			roots = append(roots, filepath.Join(base, "Microsoft Visual Studio", year, edition))
		}
	}
	return roots
}

// vswhereRoots asks the vswhere locator for installations with the C++
// toolset. Absence of vswhere is not an error.
func vswhereRoots(ctx context.Context, opts *Options) []string {
	locations := []string{
		filepath.Join(os.Getenv("ProgramFiles(x86)"), "Microsoft Visual Studio", "Installer", "vswhere.exe"),
		filepath.Join(os.Getenv("ProgramFiles"), "Microsoft Visual Studio", "Installer", "vswhere.exe"),
	}
	if p, err := opts.LookPath("vswhere"); err == nil {
		locations = append(locations, p)
	}
	for _, vswhere := range locations {
		if _, err := os.Stat(vswhere); err != nil {
			continue
		}
		raw, err := opts.Run(ctx, vswhere,
			"-latest", "-products", "*",
			"-requires", "Microsoft.VisualStudio.Component.VC.Tools.x86.x64",
			"-property", "installationPath")
		if err != nil {
			continue
		}
		var roots []string
		for _, line := range strings.Split(string(raw), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				roots = append(roots, line)
			}
		}
		return roots
	}
	return nil
}
