// Package library resolves and installs Arduino libraries requested by
// compile requests. Libraries come from the upstream library index (archive
// downloads) or directly from a git URL, and are installed once into a shared
// store reused across builds.
package library

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
)

// IndexEntry is one library release in the upstream index.
type IndexEntry struct {
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	URL             string       `json:"url"`
	ArchiveFileName string       `json:"archiveFileName"`
	Architectures   []string     `json:"architectures"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`
}

// Dependency names another library an entry depends on.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type indexFile struct {
	Libraries []IndexEntry `json:"libraries"`
}

// Index is an immutable snapshot of the library index, grouped by name.
type Index struct {
	byName map[string][]IndexEntry
}

// ParseIndex builds an Index from raw library_index.json bytes.
func ParseIndex(data []byte) (*Index, error) {
	var file indexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse library index: %w", err)
	}
	byName := make(map[string][]IndexEntry)
	for _, e := range file.Libraries {
		byName[e.Name] = append(byName[e.Name], e)
	}
	return &Index{byName: byName}, nil
}

// LoadIndex reads and parses an index file from disk.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read library index: %w", err)
	}
	return ParseIndex(data)
}

// Resolve finds the entry for a library name and version. An empty version
// selects the latest release.
func (idx *Index) Resolve(name, version string) (IndexEntry, error) {
	entries := idx.byName[name]
	if len(entries) == 0 {
		return IndexEntry{}, ferrors.LibraryNotFound(name, version)
	}
	if version == "" {
		best := entries[0]
		for _, e := range entries[1:] {
			if compareVersions(e.Version, best.Version) > 0 {
				best = e
			}
		}
		return best, nil
	}
	for _, e := range entries {
		if e.Version == version {
			return e, nil
		}
	}
	return IndexEntry{}, ferrors.LibraryNotFound(name, version)
}

// Len returns the number of distinct library names in the index.
func (idx *Index) Len() int {
	return len(idx.byName)
}

// compareVersions orders dotted release strings numerically, segment by
// segment; non-numeric noise is stripped the way the upstream index needs
// (e.g. "1.2.0-rc1" compares as 1.2.0).
func compareVersions(a, b string) int {
	as := versionSegments(a)
	bs := versionSegments(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}
	return 0
}

var nonVersionChars = regexp.MustCompile(`[^.0-9]`)

func versionSegments(v string) []int {
	v = nonVersionChars.ReplaceAllString(v, "")
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			out = append(out, 0)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}

// indexHolder allows lock-free swaps when the refresher or watcher reloads
// the index file.
type indexHolder struct {
	v atomic.Pointer[Index]
}

func (h *indexHolder) get() *Index      { return h.v.Load() }
func (h *indexHolder) set(idx *Index)   { h.v.Store(idx) }
