package internal

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/py2pyd/py2pyd"
	"github.com/py2pyd/py2pyd/internal/config"
	"github.com/py2pyd/py2pyd/internal/diagnose"
	"github.com/py2pyd/py2pyd/internal/logging"
	"github.com/py2pyd/py2pyd/internal/toolchain"
)

var (
	flagOutput           string
	flagAnnotate         bool
	flagForce            bool
	flagUseMinGW         bool
	flagToolchain        string
	flagPython           string
	flagNoCleanup        bool
	flagKeepCFiles       bool
	flagExtraCompileArgs string
	flagExtraLinkArgs    string
	flagDefines          []string
	flagTempDir          string
	flagLanguageLevel    int
	flagJobs             int
	flagTimeout          string
	flagExclude          []string
	flagVerbose          bool
	flagDiagnose         bool
)

var rootCmd = &cobra.Command{
	Use:   "py2pyd [input]",
	Short: "Convert Python modules to compiled extension modules",
	Long: `py2pyd converts .py files or packages into native extension modules
(.pyd on Windows, .so elsewhere) by translating them to C with Cython and
compiling with the platform toolchain.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagOutput, "output", "o", "build_pyd", "Output directory for built extensions")
	f.BoolVar(&flagAnnotate, "annotate", false, "Generate HTML annotation files alongside artifacts")
	f.BoolVar(&flagForce, "force", false, "Force rebuild even if artifacts are up to date")
	f.BoolVar(&flagUseMinGW, "use-mingw", false, "Force the MinGW toolchain on Windows")
	f.StringVar(&flagToolchain, "toolchain", "", "Toolchain override: msvc, mingw or cc")
	f.StringVar(&flagPython, "python", "", "Python interpreter to build against")
	f.BoolVar(&flagNoCleanup, "no-cleanup", false, "Keep intermediate files after the build")
	f.BoolVar(&flagKeepCFiles, "keep-c-files", false, "Keep generated C files during cleanup")
	f.StringVar(&flagExtraCompileArgs, "extra-compile-args", "", "Extra compiler arguments (space-separated)")
	f.StringVar(&flagExtraLinkArgs, "extra-link-args", "", "Extra linker arguments (space-separated)")
	f.StringArrayVar(&flagDefines, "define", nil, "Preprocessor macro NAME or NAME=VALUE (repeatable)")
	f.StringVar(&flagTempDir, "temp-dir", "", "Directory for temporary build files")
	f.IntVar(&flagLanguageLevel, "language-level", 3, "Python language level (2 or 3)")
	f.IntVarP(&flagJobs, "jobs", "j", 1, "Number of modules to build concurrently")
	f.StringVar(&flagTimeout, "timeout", "", "Per-tool timeout, e.g. 90s or 5m")
	f.StringArrayVar(&flagExclude, "exclude", nil, "Directory name to skip during discovery (repeatable)")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose logging")
	f.BoolVar(&flagDiagnose, "diagnose", false, "Run build environment diagnostics and exit")
}

// exitError carries a specific process exit code through cobra.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the root command and terminates the process with the
// appropriate exit code: 0 success/ready, 1 build failure, 3 degraded,
// 4 blocked.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagDiagnose {
		_, code, err := diagnose.Run(ctx, toolchain.Options{Python: flagPython}, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if code != diagnose.ExitReady {
			return &exitError{code: code}
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("input path required (or --diagnose)")
	}
	input := args[0]

	cfg, err := buildConfig(cmd, input)
	if err != nil {
		return err
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Verbose)

	artifacts, err := py2pyd.Convert(ctx, input, cfg, logger)
	for _, a := range artifacts {
		fmt.Fprintln(cmd.OutOrStdout(), a)
	}
	if err != nil {
		var be *py2pyd.BuildError
		if errors.As(err, &be) {
			for _, o := range be.Outcomes {
				if !o.Success() {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed: %v\n", o.Err)
				}
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", be.Summary)
			if be.Blocked() {
				fmt.Fprintln(cmd.ErrOrStderr(), "hint: run py2pyd --diagnose to inspect the build environment")
				return &exitError{code: diagnose.ExitBlocked}
			}
			return &exitError{code: 1}
		}
		return err
	}
	return nil
}

// buildConfig layers defaults, the optional py2pyd.toml next to the input,
// then explicitly set flags, which always win.
func buildConfig(cmd *cobra.Command, input string) (config.BuildConfig, error) {
	cfg := config.Default()

	root := input
	if info, err := os.Stat(input); err == nil && !info.IsDir() {
		root = filepath.Dir(input)
	}
	cfg, err := config.Load(root, cfg)
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("output") {
		cfg.OutputDir = flagOutput
	}
	if f.Changed("annotate") {
		cfg.Annotate = flagAnnotate
	}
	if f.Changed("force") {
		cfg.ForceRebuild = flagForce
	}
	if f.Changed("toolchain") {
		cfg.Toolchain = flagToolchain
	}
	if flagUseMinGW {
		cfg.Toolchain = "mingw"
	}
	if f.Changed("python") {
		cfg.Python = flagPython
	}
	if flagNoCleanup {
		cfg.Cleanup = false
	}
	if f.Changed("keep-c-files") {
		cfg.KeepCFiles = flagKeepCFiles
	}
	if f.Changed("extra-compile-args") {
		cfg.ExtraCompileArgs = strings.Fields(flagExtraCompileArgs)
	}
	if f.Changed("extra-link-args") {
		cfg.ExtraLinkArgs = strings.Fields(flagExtraLinkArgs)
	}
	if f.Changed("define") {
		cfg.Defines = flagDefines
	}
	if f.Changed("temp-dir") {
		cfg.TempDir = flagTempDir
	}
	if f.Changed("language-level") {
		cfg.LanguageLevel = flagLanguageLevel
	}
	if f.Changed("jobs") {
		cfg.Jobs = flagJobs
	}
	if f.Changed("timeout") {
		cfg.TimeoutStr = flagTimeout
	}
	if f.Changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, flagExclude...)
	}
	if f.Changed("verbose") {
		cfg.Verbose = flagVerbose
	}
	return cfg, nil
}
