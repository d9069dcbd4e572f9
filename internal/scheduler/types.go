package scheduler

import (
	"time"

	"git.home.luguber.info/inful/fwbuilder/internal/diag"
)

// Request is one admitted compile request. Immutable once submitted except
// for the ID and SubmittedAt fields the scheduler fills in.
type Request struct {
	ID          string
	Board       string            // FQBN-style identifier, resolved at admission
	Files       map[string][]byte // name -> source bytes; at least one required
	Flags       []string          // extra compiler flags
	Libraries   []string          // library specs, e.g. "Servo" or "Servo@1.2.1"
	SessionID   string            // quota identity, informational here
	SubmittedAt time.Time
}

// Outcome tags the terminal state of a build.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeCompileError  Outcome = "compile_error"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeInternalError Outcome = "internal_error"
	OutcomeCanceled      Outcome = "canceled"
)

// Result is the single terminal outcome of a build request.
//
//   - Success: Artifact holds the firmware bytes, Warnings any non-fatal
//     diagnostics.
//   - CompileError: Diagnostics holds the structured errors, RawLog the
//     unparsed remainder of the compiler output.
//   - Timeout / InternalError / Canceled: Cause holds a human-readable
//     explanation; internal details stay server-side.
type Result struct {
	BuildID      string            `json:"build_id"`
	Outcome      Outcome           `json:"outcome"`
	Artifact     []byte            `json:"artifact,omitempty"`
	ArtifactSize int64             `json:"artifact_size,omitempty"`
	Warnings     []diag.Diagnostic `json:"warnings,omitempty"`
	Diagnostics  []diag.Diagnostic `json:"diagnostics,omitempty"`
	RawLog       string            `json:"raw_log,omitempty"`
	Cause        string            `json:"cause,omitempty"`
	Duration     time.Duration     `json:"duration,omitempty"`
	CacheHit     bool              `json:"cache_hit,omitempty"`
}
