// Package errors provides a lightweight structured error type (BuildServiceError)
// for category-based classification and retry semantics in HTTP adapters and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a fwbuilder error for classification
type ErrorCategory string

const (
	// User-facing input errors
	CategoryValidation ErrorCategory = "validation"
	CategoryBoard      ErrorCategory = "board"
	CategoryQuota      ErrorCategory = "quota"

	// Build and toolchain errors
	CategoryCompile   ErrorCategory = "compile"
	CategoryTimeout   ErrorCategory = "timeout"
	CategoryToolchain ErrorCategory = "toolchain"
	CategoryWorkspace ErrorCategory = "workspace"
	CategoryLibrary   ErrorCategory = "library"

	// External system and infrastructure errors
	CategoryNetwork  ErrorCategory = "network"
	CategoryConfig   ErrorCategory = "config"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// BuildServiceError is a structured error with category, retryability, and context
type BuildServiceError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for BuildServiceError
type ContextFields map[string]any

// Error implements the error interface
func (e *BuildServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *BuildServiceError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *BuildServiceError) WithContext(key string, value any) *BuildServiceError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new BuildServiceError
func New(category ErrorCategory, severity ErrorSeverity, message string) *BuildServiceError {
	return &BuildServiceError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new BuildServiceError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildServiceError {
	return &BuildServiceError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable BuildServiceError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *BuildServiceError {
	return &BuildServiceError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable BuildServiceError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildServiceError {
	return &BuildServiceError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if bse, ok := err.(*BuildServiceError); ok {
		return bse.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if bse, ok := err.(*BuildServiceError); ok {
		return bse.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a BuildServiceError
func GetCategory(err error) ErrorCategory {
	if bse, ok := err.(*BuildServiceError); ok {
		return bse.Category
	}
	return CategoryInternal
}
