package errors

// Convenience functions for common error patterns

// Request validation errors

func UnknownBoard(boardID string) *BuildServiceError {
	return New(CategoryBoard, SeverityError, "unknown board identifier").
		WithContext("board", boardID)
}

func EmptySource() *BuildServiceError {
	return New(CategoryValidation, SeverityError, "request contains no source files")
}

func SourceTooLarge(size, limit int64) *BuildServiceError {
	return New(CategoryValidation, SeverityError, "source exceeds size limit").
		WithContext("size", size).
		WithContext("limit", limit)
}

func InvalidLibraryName(name string) *BuildServiceError {
	return New(CategoryLibrary, SeverityError, "library name contains forbidden characters").
		WithContext("library", name)
}

// Build pipeline errors

func WorkspaceError(operation string, cause error) *BuildServiceError {
	return Wrap(cause, CategoryWorkspace, SeverityFatal, "workspace operation failed").
		WithContext("operation", operation)
}

func ToolchainLaunchError(command string, cause error) *BuildServiceError {
	return Wrap(cause, CategoryToolchain, SeverityFatal, "toolchain process failed to start").
		WithContext("command", command)
}

func ArtifactMissing(path string) *BuildServiceError {
	return New(CategoryInternal, SeverityFatal, "artifact missing despite success exit").
		WithContext("path", path)
}

func BuildTimeout(boardID string) *BuildServiceError {
	return New(CategoryTimeout, SeverityError, "build exceeded its time limit").
		WithContext("board", boardID)
}

// Library errors

func LibraryNotFound(name, version string) *BuildServiceError {
	e := New(CategoryLibrary, SeverityError, "library not found in index").
		WithContext("library", name)
	if version != "" {
		e = e.WithContext("version", version)
	}
	return e
}

func LibraryDownloadError(name string, cause error) *BuildServiceError {
	return WrapRetryable(cause, CategoryNetwork, SeverityWarning, "library download failed").
		WithContext("library", name)
}

// Config errors

func ConfigNotFound(path string) *BuildServiceError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ValidationFailed(field, reason string) *BuildServiceError {
	return New(CategoryConfig, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Internal errors

func InternalError(message string, cause error) *BuildServiceError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
