// Package logging constructs the process logger used across the build pipeline.
package logging

import (
	"io"

	"github.com/phuslu/log"
)

// New returns a console logger writing to w. Verbose lowers the level to debug.
func New(w io.Writer, verbose bool) log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.Logger{
		Level:      level,
		TimeFormat: "15:04:05",
		Writer: &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    false,
			EndWithMessage: true,
		},
	}
}

// Discard returns a logger that drops every record, for tests.
func Discard() log.Logger {
	return log.Logger{Level: log.PanicLevel, Writer: log.IOWriter{Writer: io.Discard}}
}
