package pipeline

import (
	"fmt"
	"os"
)

// CleanupWarning records a failed intermediate removal. It is logged and
// never escalates a successful build to a failure.
type CleanupWarning struct {
	Path string
	Err  error
}

func (w *CleanupWarning) Error() string {
	return fmt.Sprintf("cleanup of %s failed: %v", w.Path, w.Err)
}

func (w *CleanupWarning) Unwrap() error { return w.Err }

// cleanup runs exactly once at pipeline exit, success or failure. Retention
// is governed solely by the config: with cleanup off everything stays; with
// it on, all stage-owned intermediates go except translated C sources when
// keep_c_files is set and annotation reports when annotation was requested.
func (b *build) cleanup() {
	if b.cleaned {
		return
	}
	b.cleaned = true

	cfg := b.p.Config
	if !cfg.Cleanup {
		return
	}

	var targets []string
	if b.cSource != "" && !cfg.KeepCFiles {
		targets = append(targets, b.cSource)
	}
	if b.object != "" {
		targets = append(targets, b.object)
	}
	if b.linked != "" {
		targets = append(targets, b.linked)
	}
	targets = append(targets, b.sidecars...)
	for _, path := range targets {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			b.warn(&CleanupWarning{Path: path, Err: err})
		}
	}
	if b.tempDir != "" {
		if err := os.RemoveAll(b.tempDir); err != nil {
			b.warn(&CleanupWarning{Path: b.tempDir, Err: err})
		}
	}
}

func (b *build) warn(w *CleanupWarning) {
	b.p.Log.Warn().Str("module", b.unit.Name).Str("stage", StageCleanup.String()).Msg(w.Error())
}
