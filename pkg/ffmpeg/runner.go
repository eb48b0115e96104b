package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Binary is the ffmpeg executable used by every command in this package.
var Binary = "ffmpeg"

// RunResult is the outcome of one ffmpeg invocation.
type RunResult struct {
	// Logs is the full stderr output, kept on success and failure.
	Logs string
	// Err is non-nil when ffmpeg could not start or exited non-zero.
	Err error
}

func run(ctx context.Context, args []string) error {
	return runCapture(ctx, args).Err
}

func runCapture(ctx context.Context, args []string) RunResult {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, Binary, args...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr), ctx.Err() != nil:
		err = &Error{Args: args, Stderr: stderr.String(), Err: err}
	default:
		err = fmt.Errorf("ffmpeg: failed to start: %w", err)
	}
	return RunResult{Logs: stderr.String(), Err: err}
}

// Error is a failed ffmpeg run with its stderr.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	// Only the tail of stderr carries the failure reason.
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	if tail := strings.Join(lines, "\n"); tail != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, tail)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Command is the command line that failed.
func (e *Error) Command() string {
	return Binary + " " + strings.Join(e.Args, " ")
}
