// Package system runs host commands: arbitrary programs, systemd units and
// power control.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result is the outcome of a command that was started.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// CommandRunner runs a program to completion. A non-zero exit status is not an
// error: callers inspect Result.ExitCode. An error means the program could not
// be run at all.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	// Env, when set, replaces the environment of every command.
	Env []string

	// WorkDir is the working directory of every command.
	WorkDir string

	logger zerolog.Logger
}

// NewExecRunner creates a runner that logs each command at debug level.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With().Str("component", "exec").Logger()}
}

// Run executes name with args and captures its output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug().
		Str("command", commandLine(name, args)).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")

	return result, nil
}

// DryRunRunner logs commands instead of running them and reports success.
// It backs the local development mode.
type DryRunRunner struct {
	logger zerolog.Logger
}

// NewDryRunRunner creates a dry-run runner.
func NewDryRunRunner(logger zerolog.Logger) *DryRunRunner {
	return &DryRunRunner{logger: logger.With().Str("component", "exec").Logger()}
}

// Run logs the command line.
func (r *DryRunRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	r.logger.Info().Str("command", commandLine(name, args)).Msg("dry run, command not executed")
	return &Result{}, nil
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// ExitError describes a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Check runs a command and converts a non-zero exit status into an *ExitError.
func Check(ctx context.Context, runner CommandRunner, name string, args ...string) (*Result, error) {
	res, err := runner.Run(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return res, &ExitError{Command: commandLine(name, args), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}
