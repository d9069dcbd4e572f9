// Package builder turns an admitted compile request into a toolchain run:
// it resolves the board profile, installs requested libraries, lays out a
// workspace with the sketch prelude and generated platformio.ini, runs the
// compiler, and translates the raw outcome into a build result.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/fwbuilder/internal/board"
	"git.home.luguber.info/inful/fwbuilder/internal/diag"
	"git.home.luguber.info/inful/fwbuilder/internal/library"
	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
	"git.home.luguber.info/inful/fwbuilder/internal/toolchain"
	"git.home.luguber.info/inful/fwbuilder/internal/workspace"
)

// sketchPrelude is prepended to the main sketch file so bare editor sketches
// compile without their own includes.
const sketchPrelude = "#include <SPI.h>\n#include <Wire.h>\n#include <Arduino.h>\n"

// mainSketchFile is the translation unit the toolchain compiles; a lone
// submitted file of any name is treated as the sketch body.
const mainSketchFile = "main.cpp"

// Builder executes one build per call. Safe for concurrent use; each build
// gets its own workspace.
type Builder struct {
	registry   *board.Registry
	workspaces *workspace.Manager
	invoker    *toolchain.Invoker
	libraries  *library.Store // nil disables library installs
	timeout    time.Duration
}

// New creates a builder over the given registry, workspace manager and
// toolchain invoker. timeout bounds each compile run.
func New(registry *board.Registry, workspaces *workspace.Manager, invoker *toolchain.Invoker, timeout time.Duration) *Builder {
	return &Builder{
		registry:   registry,
		workspaces: workspaces,
		invoker:    invoker,
		timeout:    timeout,
	}
}

// SetLibraryStore enables library installs for requests that ask for them.
func (b *Builder) SetLibraryStore(s *library.Store) { b.libraries = s }

// Build compiles one request and returns its terminal result. The scheduler
// fills in BuildID and overrides the outcome if the request was canceled
// mid-run.
func (b *Builder) Build(ctx context.Context, req *scheduler.Request) scheduler.Result {
	start := time.Now()

	profile, err := b.registry.Resolve(req.Board)
	if err != nil {
		// Admission already validated the board; hitting this means the
		// registry changed between Submit and Build.
		return internalResult(start, "board no longer available")
	}

	var installed []library.Installed
	if len(req.Libraries) > 0 {
		if b.libraries == nil {
			return internalResult(start, "library installs are not enabled")
		}
		installed, err = b.libraries.Ensure(ctx, req.Libraries)
		if err != nil {
			slog.Warn("Library install failed",
				logfields.BuildID(req.ID),
				logfields.Error(err))
			return internalResult(start, err.Error())
		}
	}

	ws, err := b.workspaces.Acquire(req.ID, applyPrelude(req.Files))
	if err != nil {
		slog.Error("Workspace setup failed",
			logfields.BuildID(req.ID),
			logfields.Error(err))
		return internalResult(start, "workspace setup failed")
	}
	defer ws.Release()

	ini := renderINI(profile, req.Flags, installed)
	if err := ws.WriteFile("platformio.ini", []byte(ini)); err != nil {
		return internalResult(start, "workspace setup failed")
	}

	raw, err := b.invoker.Run(ctx, ws.Path(), b.timeout)
	if err != nil {
		if ctx.Err() != nil {
			return scheduler.Result{
				Outcome:  scheduler.OutcomeCanceled,
				Cause:    "build canceled",
				Duration: time.Since(start),
			}
		}
		slog.Error("Toolchain launch failed",
			logfields.BuildID(req.ID),
			logfields.Error(err))
		return internalResult(start, "compiler could not be started")
	}

	return b.translate(req, profile, ws, raw, start)
}

// translate maps a finished toolchain run onto a build result.
func (b *Builder) translate(req *scheduler.Request, profile board.Profile, ws *workspace.Workspace, raw toolchain.RawResult, start time.Time) scheduler.Result {
	diags, tail := diag.Parse(raw.Output())

	if raw.TimedOut {
		// Timeout wins over whatever exit code the killed process reported.
		return scheduler.Result{
			Outcome:  scheduler.OutcomeTimeout,
			Cause:    fmt.Sprintf("build exceeded the %s time limit", b.timeout),
			Duration: time.Since(start),
		}
	}

	if raw.ExitCode != 0 {
		return scheduler.Result{
			Outcome:     scheduler.OutcomeCompileError,
			Diagnostics: diag.Errors(diags),
			Warnings:    diag.Warnings(diags),
			RawLog:      strings.Join(tail, "\n"),
			Duration:    time.Since(start),
		}
	}

	if cause, exceeded := checkSizeLimits(profile, raw.Output()); exceeded {
		return scheduler.Result{
			Outcome: scheduler.OutcomeCompileError,
			Diagnostics: []diag.Diagnostic{{
				File:     mainSketchFile,
				Severity: diag.SeverityError,
				Message:  cause,
			}},
			Warnings: diag.Warnings(diags),
			Duration: time.Since(start),
		}
	}

	artifactRel := filepath.Join(".pio", "build", profile.Board, "firmware.hex")
	artifact, err := ws.ReadArtifact(artifactRel)
	if err != nil {
		slog.Error("Artifact missing after successful compile",
			logfields.BuildID(req.ID),
			logfields.Board(req.Board),
			logfields.Path(artifactRel))
		return internalResult(start, "artifact missing despite successful compile")
	}

	return scheduler.Result{
		Outcome:      scheduler.OutcomeSuccess,
		Artifact:     artifact,
		ArtifactSize: int64(len(artifact)),
		Warnings:     diag.Warnings(diags),
		Duration:     time.Since(start),
	}
}

func internalResult(start time.Time, cause string) scheduler.Result {
	return scheduler.Result{
		Outcome:  scheduler.OutcomeInternalError,
		Cause:    cause,
		Duration: time.Since(start),
	}
}

// applyPrelude prepends the sketch prelude to the main translation unit. A
// single submitted file of any name becomes main.cpp so the toolchain finds
// it.
func applyPrelude(files map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for name, content := range files {
		out[name] = content
	}

	if _, ok := out[mainSketchFile]; !ok && len(out) == 1 {
		for name, content := range out {
			delete(out, name)
			out[mainSketchFile] = content
		}
	}

	if body, ok := out[mainSketchFile]; ok {
		out[mainSketchFile] = append([]byte(sketchPrelude), body...)
	}
	return out
}

// sizeLine matches PlatformIO's memory usage summary, e.g.
// "Flash: [===       ]  25.1% (used 7718 bytes from 30720 bytes)".
var sizeLine = regexp.MustCompile(`(?m)^(RAM|Flash):.*\(used (\d+) bytes from \d+ bytes\)`)

// checkSizeLimits enforces the profile's flash/RAM caps against the usage
// summary the toolchain prints. Missing summary lines pass; limits of zero
// are not enforced.
func checkSizeLimits(profile board.Profile, output string) (string, bool) {
	for _, m := range sizeLine.FindAllStringSubmatch(output, -1) {
		used, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		switch m[1] {
		case "Flash":
			if profile.MaxFlashBytes > 0 && used > profile.MaxFlashBytes {
				return fmt.Sprintf("program uses %d bytes of flash, board limit is %d", used, profile.MaxFlashBytes), true
			}
		case "RAM":
			if profile.MaxRAMBytes > 0 && used > profile.MaxRAMBytes {
				return fmt.Sprintf("program uses %d bytes of RAM, board limit is %d", used, profile.MaxRAMBytes), true
			}
		}
	}
	return "", false
}
