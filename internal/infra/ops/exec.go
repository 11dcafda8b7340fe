package ops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/hxann/curator/internal/resilience/fault"
)

// ToolResult carries the output of a successful tool invocation.
type ToolResult struct {
	Stdout   []byte
	Duration time.Duration
}

// ToolRunner invokes the external content-processing tool as a
// subprocess with a per-call timeout.
type ToolRunner struct {
	command string
	args    []string
	timeout time.Duration
}

// NewToolRunner creates a runner for the given command.
func NewToolRunner(command string, args []string, timeout time.Duration) *ToolRunner {
	return &ToolRunner{command: command, args: args, timeout: timeout}
}

// Run invokes the tool with input on stdin. Non-zero exits become typed
// *fault.ExecError; a deadline hit surfaces as context.DeadlineExceeded
// and classifies as a timeout.
func (r *ToolRunner) Run(ctx context.Context, input []byte, extraArgs ...string) (*ToolResult, error) {
	start := time.Now()

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), r.args...), extraArgs...)
	cmd := exec.CommandContext(runCtx, r.command, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("tool %s: %w", r.command, runCtx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &fault.ExecError{
				Command:  r.command,
				ExitCode: exitErr.ExitCode(),
				Stderr:   truncate(stderr.String(), 512),
			}
		}
		return nil, fmt.Errorf("tool %s: %w", r.command, err)
	}

	return &ToolResult{
		Stdout:   stdout.Bytes(),
		Duration: time.Since(start),
	}, nil
}
