package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
)

// Manager allocates isolated workspace directories for builds.
type Manager struct {
	baseDir string
}

// NewManager creates a workspace manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// Workspace is the filesystem scope of a single build request.
type Workspace struct {
	buildID string
	root    string

	releaseOnce sync.Once
}

// Acquire creates a workspace for the given build ID and materializes the
// submitted files into its src/ directory. File names must be plain names or
// relative paths that stay inside the workspace.
func (m *Manager) Acquire(buildID string, files map[string][]byte) (*Workspace, error) {
	if buildID == "" {
		return nil, fmt.Errorf("workspace requires a build ID")
	}

	root := filepath.Join(m.baseDir, "fwbuilder-"+buildID)
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	ws := &Workspace{buildID: buildID, root: root}
	for name, content := range files {
		if err := ws.WriteSource(name, content); err != nil {
			ws.Release()
			return nil, err
		}
	}

	slog.Debug("Created workspace", logfields.BuildID(buildID), logfields.Path(root))
	return ws, nil
}

// BuildID returns the owning build's identifier.
func (w *Workspace) BuildID() string { return w.buildID }

// Path returns the workspace root directory.
func (w *Workspace) Path() string { return w.root }

// SourceDir returns the src/ directory compiled as one translation unit.
func (w *Workspace) SourceDir() string { return filepath.Join(w.root, "src") }

// WriteSource writes a source file into src/, rejecting path escapes.
func (w *Workspace) WriteSource(name string, content []byte) error {
	return w.write(filepath.Join("src", name), content)
}

// WriteFile writes a file relative to the workspace root (e.g. platformio.ini).
func (w *Workspace) WriteFile(name string, content []byte) error {
	return w.write(name, content)
}

func (w *Workspace) write(rel string, content []byte) error {
	dest := filepath.Join(w.root, rel)
	clean, err := filepath.Rel(w.root, dest)
	if err != nil || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("file name escapes workspace: %s", rel)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(dest, content, 0o640); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

// ReadArtifact reads a file produced by the toolchain, relative to the root.
func (w *Workspace) ReadArtifact(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(w.root, rel))
}

// Exists reports whether the workspace directory is still on disk.
func (w *Workspace) Exists() bool {
	_, err := os.Stat(w.root)
	return err == nil
}

// Release removes the workspace recursively. It is idempotent and never
// returns an error: removal failures must not block delivering the build
// result, so they are logged and the directory is left for operators.
func (w *Workspace) Release() {
	w.releaseOnce.Do(func() {
		if err := os.RemoveAll(w.root); err != nil {
			slog.Warn("Failed to clean up workspace",
				logfields.BuildID(w.buildID),
				logfields.Path(w.root),
				logfields.Error(err))
			return
		}
		slog.Debug("Cleaned up workspace", logfields.BuildID(w.buildID), logfields.Path(w.root))
	})
}
