package toolchain

import (
	"context"
	"strings"
	"testing"
	"time"
)

// fakeCompiler builds an invoker that runs a shell snippet instead of a real
// toolchain. Tests in this package require a POSIX sh.
func fakeCompiler(script string, maxOutput int64) *Invoker {
	return NewInvoker("sh", []string{"-c", script}, maxOutput)
}

func TestRunSuccess(t *testing.T) {
	inv := fakeCompiler(`echo building; echo done >&2`, 0)

	result, err := inv.Run(context.Background(), t.TempDir(), 10*time.Second)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("unexpected timeout")
	}
	if !strings.Contains(result.Stdout, "building") {
		t.Errorf("stdout not captured: %q", result.Stdout)
	}
	if !strings.Contains(result.Stderr, "done") {
		t.Errorf("stderr not captured: %q", result.Stderr)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	inv := fakeCompiler(`echo "main.cpp:1:1: error: nope" >&2; exit 1`, 0)

	result, err := inv.Run(context.Background(), t.TempDir(), 10*time.Second)
	if err != nil {
		t.Fatalf("compile failure must not surface as error: %v", err)
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit 1, got %d", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("unexpected timeout")
	}
}

func TestRunTimeout(t *testing.T) {
	inv := fakeCompiler(`sleep 30`, 0)

	start := time.Now()
	result, err := inv.Run(context.Background(), t.TempDir(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must be reported in the result, not as error: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("subprocess not reaped promptly, took %v", elapsed)
	}
}

func TestRunCancellation(t *testing.T) {
	inv := fakeCompiler(`sleep 30`, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := inv.Run(ctx, t.TempDir(), time.Minute)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	inv := NewInvoker("/nonexistent/compiler-binary", []string{"run"}, 0)

	_, err := inv.Run(context.Background(), t.TempDir(), time.Second)
	if err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestOutputCapped(t *testing.T) {
	// Emit ~64 KiB against a 1 KiB cap.
	inv := fakeCompiler(`i=0; while [ $i -lt 1024 ]; do echo "0123456789012345678901234567890123456789012345678901234567890123"; i=$((i+1)); done`, 1024)

	result, err := inv.Run(context.Background(), t.TempDir(), 10*time.Second)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !strings.HasSuffix(result.Stdout, truncationMarker) {
		t.Error("expected truncation marker on capped output")
	}
	if len(result.Stdout) > 1024+len(truncationMarker) {
		t.Errorf("output exceeds cap: %d bytes", len(result.Stdout))
	}
}

func TestRawResultOutputMergesStreams(t *testing.T) {
	r := RawResult{Stdout: "out", Stderr: "err"}
	if r.Output() != "err\nout" {
		t.Errorf("unexpected merge: %q", r.Output())
	}
	if (RawResult{Stdout: "out"}).Output() != "out" {
		t.Error("stdout-only merge broken")
	}
	if (RawResult{Stderr: "err"}).Output() != "err" {
		t.Error("stderr-only merge broken")
	}
}
