// Package diag turns free-form compiler output into structured diagnostics.
// Parsing is best-effort: lines matching the common gcc/clang diagnostic
// format become Diagnostics, everything else is retained as a raw tail so no
// information is lost when the toolchain output cannot be parsed precisely.
package diag

import (
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is a structured compiler message extracted from build output.
// Line and Column are best-effort; Column is 0 when the toolchain omitted it.
type Diagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Severity values emitted by gcc/clang style toolchains.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityNote    = "note"
)

// diagnosticLine matches `file:line:column: severity: message` and the
// column-less `file:line: severity: message` variant. "fatal error" is
// normalized to "error".
var diagnosticLine = regexp.MustCompile(`^([^:\s][^:]*):(\d+):(?:(\d+):)?\s*(fatal error|error|warning|note):\s*(.*)$`)

// ParseLine extracts a single Diagnostic from one output line. The first
// match wins: nested-include prefixes that make a line match more than once
// are not re-scanned.
func ParseLine(line string) (Diagnostic, bool) {
	m := diagnosticLine.FindStringSubmatch(line)
	if m == nil {
		return Diagnostic{}, false
	}

	lineNo, err := strconv.Atoi(m[2])
	if err != nil {
		return Diagnostic{}, false
	}
	col := 0
	if m[3] != "" {
		col, _ = strconv.Atoi(m[3])
	}
	severity := m[4]
	if severity == "fatal error" {
		severity = SeverityError
	}

	return Diagnostic{
		File:     m[1],
		Line:     lineNo,
		Column:   col,
		Severity: severity,
		Message:  m[5],
	}, true
}

// Parse scans compiler output and returns the diagnostics it could extract
// plus the unmatched lines as a raw tail. Blank lines are dropped from the
// tail; diagnostic ordering follows output order.
func Parse(output string) (diags []Diagnostic, tail []string) {
	for _, line := range strings.Split(output, "\n") {
		if d, ok := ParseLine(line); ok {
			diags = append(diags, d)
			continue
		}
		if strings.TrimSpace(line) != "" {
			tail = append(tail, line)
		}
	}
	return diags, tail
}

// Errors filters diagnostics down to severity error.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings filters diagnostics down to severity warning.
func Warnings(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}
