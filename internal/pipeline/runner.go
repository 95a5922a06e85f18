package pipeline

import (
	"bytes"
	"context"
	"os/exec"
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // nil inherits the process environment
}

// Result holds the raw output streams of a finished invocation.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Combined returns both streams for diagnostics, stderr last.
func (r Result) Combined() string {
	if len(r.Stdout) == 0 {
		return string(r.Stderr)
	}
	if len(r.Stderr) == 0 {
		return string(r.Stdout)
	}
	return string(r.Stdout) + "\n" + string(r.Stderr)
}

// Runner executes external tools. The pipeline owns timeout and cancellation
// through ctx; implementations must kill the process when ctx ends.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err
}
