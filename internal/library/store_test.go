package library

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
	"git.home.luguber.info/inful/fwbuilder/internal/retry"
)

func quickPolicy() retry.Policy {
	return retry.Policy{Mode: retry.BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2}
}

// buildZip assembles a release archive with the given name->content entries.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func indexFor(t *testing.T, baseURL string, entries ...IndexEntry) *Index {
	t.Helper()
	byName := make(map[string][]IndexEntry)
	for _, e := range entries {
		e.URL = baseURL + "/" + e.ArchiveFileName
		byName[e.Name] = append(byName[e.Name], e)
	}
	return &Index{byName: byName}
}

func TestEnsureInstallsArchive(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"Servo-1.2.1/src/Servo.h":            "#pragma once",
		"Servo-1.2.1/src/Servo.cpp":          "// impl",
		"Servo-1.2.1/src/avr/ServoTimers.h":  "// timers",
		"Servo-1.2.1/keywords.txt":           "Servo KEYWORD1",
		"Servo-1.2.1/examples/Sweep/Sweep.c": "// example, skipped",
	})

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := NewStore(dir, nil, quickPolicy())
	store.SwapIndex(indexFor(t, srv.URL, IndexEntry{
		Name: "Servo", Version: "1.2.1", ArchiveFileName: "Servo-1.2.1.zip",
	}))

	installed, err := store.Ensure(context.Background(), []string{"Servo@1.2.1"})
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "Servo", installed[0].Name)

	src := installed[0].SourceDir()
	assert.FileExists(t, filepath.Join(src, "Servo.h"))
	assert.FileExists(t, filepath.Join(src, "Servo.cpp"))
	assert.FileExists(t, filepath.Join(src, "avr", "ServoTimers.h"))
	assert.NoFileExists(t, filepath.Join(src, "keywords.txt"))
	assert.NoFileExists(t, filepath.Join(src, "examples", "Sweep", "Sweep.c"))

	// Second Ensure reuses the install without touching the network.
	_, err = store.Ensure(context.Background(), []string{"Servo@1.2.1"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestEnsureInstallsDependenciesFirst(t *testing.T) {
	servoZip := buildZip(t, map[string]string{"Servo-1.2.1/src/Servo.h": "h"})
	ledZip := buildZip(t, map[string]string{"FastLED-3.6.0/src/FastLED.h": "h"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch filepath.Base(r.URL.Path) {
		case "Servo-1.2.1.zip":
			w.Write(servoZip)
		case "FastLED-3.6.0.zip":
			w.Write(ledZip)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := NewStore(t.TempDir(), nil, quickPolicy())
	store.SwapIndex(indexFor(t, srv.URL,
		IndexEntry{Name: "Servo", Version: "1.2.1", ArchiveFileName: "Servo-1.2.1.zip"},
		IndexEntry{
			Name: "FastLED", Version: "3.6.0", ArchiveFileName: "FastLED-3.6.0.zip",
			Dependencies: []Dependency{{Name: "Servo"}},
		},
	))

	installed, err := store.Ensure(context.Background(), []string{"FastLED"})
	require.NoError(t, err)
	require.Len(t, installed, 2)
	assert.Equal(t, "Servo", installed[0].Name)
	assert.Equal(t, "FastLED", installed[1].Name)
}

func TestEnsureUnknownLibrary(t *testing.T) {
	store := NewStore(t.TempDir(), nil, quickPolicy())
	store.SwapIndex(&Index{byName: map[string][]IndexEntry{}})

	_, err := store.Ensure(context.Background(), []string{"NoSuchLib"})
	require.Error(t, err)
	assert.True(t, ferrors.IsCategory(err, ferrors.CategoryLibrary))
}

func TestEnsureRetriesTransientDownloadFailures(t *testing.T) {
	archive := buildZip(t, map[string]string{"Flaky-1.0.0/src/Flaky.h": "h"})

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	store := NewStore(t.TempDir(), nil, quickPolicy())
	store.SwapIndex(indexFor(t, srv.URL, IndexEntry{
		Name: "Flaky", Version: "1.0.0", ArchiveFileName: "Flaky-1.0.0.zip",
	}))

	installed, err := store.Ensure(context.Background(), []string{"Flaky"})
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestEnsureGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := NewStore(t.TempDir(), nil, quickPolicy())
	store.SwapIndex(indexFor(t, srv.URL, IndexEntry{
		Name: "Down", Version: "1.0.0", ArchiveFileName: "Down-1.0.0.zip",
	}))

	_, err := store.Ensure(context.Background(), []string{"Down"})
	require.Error(t, err)
	assert.True(t, ferrors.IsCategory(err, ferrors.CategoryLibrary))
}

func TestRefresherRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleIndex)
	}))
	defer srv.Close()

	dir := t.TempDir()
	indexFile := filepath.Join(dir, "library_index.json")
	store := NewStore(dir, nil, quickPolicy())

	refresher, err := NewRefresher(store, srv.URL, indexFile, 0)
	require.NoError(t, err)
	require.NoError(t, refresher.Refresh(context.Background()))

	assert.FileExists(t, indexFile)
	idx := store.index.get()
	require.NotNil(t, idx)
	assert.Equal(t, 2, idx.Len())
}

func TestRefresherRejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not an index</html>")
	}))
	defer srv.Close()

	dir := t.TempDir()
	indexFile := filepath.Join(dir, "library_index.json")
	store := NewStore(dir, nil, quickPolicy())

	refresher, err := NewRefresher(store, srv.URL, indexFile, 0)
	require.NoError(t, err)
	require.Error(t, refresher.Refresh(context.Background()))

	// A bad payload must never clobber the on-disk index.
	_, statErr := os.Stat(indexFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestIndexWatcherReload(t *testing.T) {
	dir := t.TempDir()
	indexFile := filepath.Join(dir, "library_index.json")
	require.NoError(t, os.WriteFile(indexFile, []byte(sampleIndex), 0o640))

	store := NewStore(dir, nil, quickPolicy())
	watcher, err := NewIndexWatcher(indexFile, store)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.performReload()

	idx := store.index.get()
	require.NotNil(t, idx)
	assert.Equal(t, 2, idx.Len())
}
