package library

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
	"git.home.luguber.info/inful/fwbuilder/internal/metrics"
	"git.home.luguber.info/inful/fwbuilder/internal/retry"
)

// Installed describes one library made available to a build.
type Installed struct {
	Name    string
	Version string
	Dir     string // install root; sources live under Dir/lib/lib
}

// SourceDir returns the directory PlatformIO should add to lib_deps.
func (i Installed) SourceDir() string {
	return filepath.Join(i.Dir, "lib", "lib")
}

// Store installs libraries into a shared directory, once per name@version,
// and hands out their paths to builds. Install is idempotent: an existing
// install directory is reused without touching the network.
type Store struct {
	dir      string
	index    indexHolder
	client   *http.Client
	policy   retry.Policy
	recorder metrics.Recorder
}

// NewStore creates a library store over dir with the given index snapshot
// (nil is allowed; only git+ specs will resolve until an index is loaded).
func NewStore(dir string, idx *Index, policy retry.Policy) *Store {
	s := &Store{
		dir:      dir,
		client:   &http.Client{Timeout: 60 * time.Second},
		policy:   policy,
		recorder: metrics.NoopRecorder{},
	}
	if idx != nil {
		s.index.set(idx)
	}
	return s
}

// SetRecorder injects a metrics recorder (optional).
func (s *Store) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	s.recorder = r
}

// SwapIndex replaces the index snapshot; used by the refresher and watcher.
func (s *Store) SwapIndex(idx *Index) {
	if idx != nil {
		s.index.set(idx)
	}
}

// Ensure resolves and installs every requested spec, returning their install
// locations in request order. Index dependencies are installed transitively.
func (s *Store) Ensure(ctx context.Context, specs []string) ([]Installed, error) {
	var out []Installed
	seen := make(map[string]bool)
	for _, raw := range specs {
		spec, err := ParseSpec(raw)
		if err != nil {
			return nil, err
		}
		if _, err := s.ensureOne(ctx, spec, seen, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) ensureOne(ctx context.Context, spec Spec, seen map[string]bool, out *[]Installed) (Installed, error) {
	if spec.GitURL != "" {
		return s.installGit(ctx, spec, seen, out)
	}

	idx := s.index.get()
	if idx == nil {
		return Installed{}, ferrors.LibraryNotFound(spec.Name, spec.Version)
	}
	entry, err := idx.Resolve(spec.Name, spec.Version)
	if err != nil {
		return Installed{}, err
	}

	key := entry.Name + "@" + entry.Version
	if seen[key] {
		return Installed{Name: entry.Name, Version: entry.Version, Dir: filepath.Join(s.dir, key)}, nil
	}
	seen[key] = true

	// Dependencies first, mirroring how the toolchain links them.
	for _, dep := range entry.Dependencies {
		depSpec := Spec{Name: dep.Name, Version: dep.Version}
		if _, err := s.ensureOne(ctx, depSpec, seen, out); err != nil {
			return Installed{}, err
		}
	}

	dir := filepath.Join(s.dir, key)
	inst := Installed{Name: entry.Name, Version: entry.Version, Dir: dir}
	if _, err := os.Stat(dir); err == nil {
		s.recorder.IncLibraryInstall("cached")
		*out = append(*out, inst)
		return inst, nil
	}

	archive, err := s.download(ctx, entry)
	if err != nil {
		return Installed{}, err
	}
	if err := extractArchive(archive, entry, dir); err != nil {
		s.recorder.IncLibraryInstall("failed")
		return Installed{}, ferrors.InternalError("library extraction failed", err)
	}

	s.recorder.IncLibraryInstall("success")
	slog.Info("Installed library",
		logfields.Library(entry.Name),
		slog.String("version", entry.Version),
		logfields.Path(dir))
	*out = append(*out, inst)
	return inst, nil
}

// download fetches the release archive, retrying transient failures per the
// store's backoff policy.
func (s *Store) download(ctx context.Context, entry IndexEntry) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := s.policy.Delay(attempt)
			slog.Warn("Retrying library download",
				logfields.Library(entry.Name),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				logfields.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := s.fetch(ctx, entry.URL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if attempt >= s.policy.MaxRetries {
			s.recorder.IncLibraryInstall("failed")
			return nil, ferrors.LibraryDownloadError(entry.Name, lastErr)
		}
	}
}

func (s *Store) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// installGit clones a library straight from a git URL, shallow, optionally at
// a tag. Mirrors arduino-cli's --git-url install path.
func (s *Store) installGit(ctx context.Context, spec Spec, seen map[string]bool, out *[]Installed) (Installed, error) {
	version := spec.Version
	if version == "" {
		version = "HEAD"
	}
	key := spec.Name + "@" + version
	dir := filepath.Join(s.dir, key)
	inst := Installed{Name: spec.Name, Version: version, Dir: dir}

	if seen[key] {
		return inst, nil
	}
	seen[key] = true

	if _, err := os.Stat(dir); err == nil {
		s.recorder.IncLibraryInstall("cached")
		*out = append(*out, inst)
		return inst, nil
	}

	cloneDir := filepath.Join(dir, "lib", "lib")
	opts := &git.CloneOptions{URL: spec.GitURL, Depth: 1}
	if spec.Version != "" {
		opts.ReferenceName = plumbing.NewTagReferenceName(spec.Version)
		opts.SingleBranch = true
	}
	if _, err := git.PlainCloneContext(ctx, cloneDir, false, opts); err != nil {
		s.recorder.IncLibraryInstall("failed")
		_ = os.RemoveAll(dir)
		return Installed{}, ferrors.LibraryDownloadError(spec.Name, err)
	}

	s.recorder.IncLibraryInstall("success")
	slog.Info("Installed library from git",
		logfields.Library(spec.Name),
		slog.String("ref", version),
		logfields.Path(dir))
	*out = append(*out, inst)
	return inst, nil
}

// extractArchive unpacks the source files of a release zip into
// dir/lib/lib, flattening the archive's top-level folder the way the
// toolchain expects. Only C/C++ sources and headers are kept.
func extractArchive(data []byte, entry IndexEntry, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	prefix := strings.TrimSuffix(entry.ArchiveFileName, ".zip") + "/"
	libDir := filepath.Join(dir, "lib", "lib")
	if err := os.MkdirAll(libDir, 0o750); err != nil {
		return err
	}

	for _, f := range zr.File {
		if !isSourceFile(f.Name) {
			continue
		}

		// Keep paths under src/ as-is; keep root-level files; skip extras
		// (examples, docs) the way the upstream installer does.
		rel := strings.TrimPrefix(f.Name, prefix)
		switch {
		case strings.HasPrefix(rel, "src/"):
			rel = strings.TrimPrefix(rel, "src/")
		case !strings.Contains(rel, "/"):
			// root-level source, keep
		default:
			continue
		}

		dest := filepath.Join(libDir, filepath.FromSlash(rel))
		clean, relErr := filepath.Rel(libDir, dest)
		if relErr != nil || strings.HasPrefix(clean, "..") {
			continue // zip-slip guard
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, content, 0o640); err != nil {
			return err
		}
	}
	return nil
}

func isSourceFile(name string) bool {
	switch filepath.Ext(name) {
	case ".c", ".cpp", ".h", ".hpp":
		return true
	}
	return false
}
