// Package toolchain runs the external compiler against a workspace and
// captures its raw outcome. Subprocess lifecycle is the one place requiring
// explicit resource ownership: every invocation is spawned, bounded by a wall
// clock timeout, force-terminated together with its children when the limit
// fires, and always reaped before Run returns.
package toolchain

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
)

// RawResult is the unmediated outcome of one toolchain invocation.
type RawResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Output returns stderr followed by stdout; PlatformIO reports diagnostics on
// either stream depending on the stage that failed.
func (r RawResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stderr + "\n" + r.Stdout
}

// reapDelay bounds how long Wait blocks on a killed process before the
// runtime force-closes its pipes.
const reapDelay = 5 * time.Second

// Invoker launches the compiler binary.
type Invoker struct {
	Command        string   // e.g. "platformio"
	Args           []string // e.g. ["run"]
	MaxOutputBytes int64    // per-stream capture cap; <=0 means 1 MiB
}

// NewInvoker returns an invoker for the given compiler command.
func NewInvoker(command string, args []string, maxOutputBytes int64) *Invoker {
	if command == "" {
		command = "platformio"
	}
	if len(args) == 0 {
		args = []string{"run"}
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = 1 << 20
	}
	return &Invoker{Command: command, Args: args, MaxOutputBytes: maxOutputBytes}
}

// Run executes the compiler in dir with the given wall clock timeout. The
// subprocess and any children are terminated when the timeout fires or ctx is
// cancelled; in the timeout case the result reports TimedOut instead of a
// meaningful exit code. A non-zero compiler exit is a valid result, not an
// error; the returned error is non-nil only for spawn failures and caller
// cancellation.
func (inv *Invoker) Run(ctx context.Context, dir string, timeout time.Duration) (RawResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, inv.Command, inv.Args...)
	cmd.Dir = dir
	cmd.WaitDelay = reapDelay
	isolateProcessGroup(cmd)

	stdout := newCappedBuffer(inv.MaxOutputBytes)
	stderr := newCappedBuffer(inv.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RawResult{}, ferrors.ToolchainLaunchError(inv.Command, err)
	}

	waitErr := cmd.Wait()
	result := RawResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = -1
		slog.Info("Toolchain invocation timed out",
			logfields.Path(dir),
			logfields.DurationMS(float64(result.Duration.Milliseconds())))
		return result, nil
	case ctx.Err() != nil:
		// Caller-initiated cancellation; the subprocess is already dead.
		return result, ctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, ferrors.InternalError("toolchain wait failed", waitErr)
	}

	result.ExitCode = 0
	return result, nil
}
