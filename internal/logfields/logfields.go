package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyBoard      = "board"
	KeyOutcome    = "outcome"
	KeyWorker     = "worker"
	KeySessionID  = "session_id"
	KeyLibrary    = "library"
	KeyPath       = "path"
	KeyDurationMS = "duration_ms"
	KeyExitCode   = "exit_code"
	KeyQueueDepth = "queue_depth"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func Board(b string) slog.Attr         { return slog.String(KeyBoard, b) }
func Outcome(o string) slog.Attr       { return slog.String(KeyOutcome, o) }
func Worker(w string) slog.Attr        { return slog.String(KeyWorker, w) }
func SessionID(s string) slog.Attr     { return slog.String(KeySessionID, s) }
func Library(l string) slog.Attr       { return slog.String(KeyLibrary, l) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func ExitCode(code int) slog.Attr      { return slog.Int(KeyExitCode, code) }
func QueueDepth(n int) slog.Attr       { return slog.Int(KeyQueueDepth, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
