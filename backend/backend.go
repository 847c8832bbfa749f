// Package backend drives the platform disk tools that enumerate, erase,
// partition, format and mount a target disk.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"mkoc/disk"
	"mkoc/volume"
)

// Backend is the platform disk-management surface. Each step is one
// blocking call; nothing is retried here.
type Backend interface {
	Name() string
	// Tools lists the external commands the backend needs on PATH.
	Tools() []string
	List(ctx context.Context) ([]disk.Handle, error)
	Wipe(ctx context.Context, d disk.Handle) error
	CreateTable(ctx context.Context, d disk.Handle) error
	// CreatePartition creates one partition spanning the disk. The new
	// partition shows up in a later List.
	CreatePartition(ctx context.Context, d disk.Handle, label string) error
	Format(ctx context.Context, p disk.Partition, label string) error
	Mount(ctx context.Context, p disk.Partition) (volume.Volume, error)
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError carries the output of a failed tool unmodified.
type CommandError struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimRight(e.Output, "\n"); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger *zap.SugaredLogger
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Logger != nil {
		r.Logger.Debugw("exec", "cmd", name, "args", args)
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), &CommandError{Name: name, Args: args, Output: out.String(), Err: err}
	}
	return out.Bytes(), nil
}

func nopLogger(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
