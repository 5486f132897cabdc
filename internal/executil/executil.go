// Package executil runs external tools (docker buildx, trivy) and captures
// their output for diagnostics.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long output pipes are drained after the process is killed
const waitDelay = 5 * time.Second

// Result is the captured outcome of a command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a command and captures its output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExitError is returned when a command exits non-zero
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command failed (exit=%d): %s", e.ExitCode, e.Command)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	// Redact rewrites arguments before they are logged
	Redact func(args []string) []string
	// Stream mirrors stderr while the command runs, if set
	Stream io.Writer
}

// NewExecRunner returns a Runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes name with args, returning an *ExitError on non-zero exit
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	logged := args
	if r.Redact != nil {
		logged = r.Redact(args)
	}
	fullCmd := name + " " + ShellQuoteArgs(logged)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if r.Stream != nil {
		cmd.Stderr = io.MultiWriter(&stderr, r.Stream)
	}

	log.Debug().Str("command", fullCmd).Msg("Running command")

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		return result, nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return result, fmt.Errorf("command canceled: %s: %w", fullCmd, ctx.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("command timed out: %s: %w", fullCmd, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{
			Command:  fullCmd,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}

	return result, fmt.Errorf("failed to run command: %s: %w", fullCmd, err)
}

// LookPath reports whether a tool is installed
func LookPath(name string) (string, bool) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return path, true
}

// ShellQuoteArgs returns a printable, shell-safe representation of args.
func ShellQuoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'`$\\*?[]{}()<>|&;") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
