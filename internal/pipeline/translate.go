package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// translate invokes the external translator on the module source, producing
// C source next to it. With annotation enabled the translator also writes an
// HTML report; its absence is a warning, never a build failure.
func (b *build) translate(ctx context.Context) error {
	p := b.p

	translator := p.Report.TranslatorPath
	if translator == "" {
		// Not found at probe time; let PATH resolution have the last word so
		// a degraded report does not gate the build.
		translator = "cython"
	}

	cSource := b.unit.stem() + ".c"
	args := []string{"-" + strconv.Itoa(p.Config.LanguageLevel)}
	if p.Config.Annotate {
		args = append(args, "--annotate")
	}
	args = append(args, "-o", cSource, b.unit.Source)

	res, err := p.runTool(ctx, StageTranslate, Command{Name: translator, Args: args})
	if err != nil {
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			return err
		}
		return &TranslationError{Module: b.unit.Name, Output: res.Combined(), Err: err}
	}
	if _, err := os.Stat(cSource); err != nil {
		return &TranslationError{Module: b.unit.Name, Output: res.Combined(),
			Err: fmt.Errorf("translator exited 0 but wrote no output: %w", err)}
	}
	b.cSource = cSource

	if p.Config.Annotate {
		annotation := b.unit.stem() + ".html"
		if _, err := os.Stat(annotation); err != nil {
			p.Log.Warn().Str("module", b.unit.Name).Msg("annotation requested but no annotation file was produced")
		} else {
			b.annotation = annotation
		}
	}
	return nil
}

// placeAnnotation copies the annotation report alongside the artifact.
// Best effort: failures are logged as warnings.
func (b *build) placeAnnotation(artifactPath string) {
	if b.annotation == "" {
		return
	}
	dest := artifactPath[:len(artifactPath)-len(b.p.ArtifactExt())] + ".html"
	data, err := os.ReadFile(b.annotation)
	if err == nil {
		err = os.WriteFile(dest, data, 0o644)
	}
	if err != nil {
		b.p.Log.Warn().Str("module", b.unit.Name).Err(err).Msg("could not place annotation file")
	}
}
