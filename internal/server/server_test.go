package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/fwbuilder/internal/board"
	"git.home.luguber.info/inful/fwbuilder/internal/cache"
	"git.home.luguber.info/inful/fwbuilder/internal/diag"
	"git.home.luguber.info/inful/fwbuilder/internal/metrics"
	"git.home.luguber.info/inful/fwbuilder/internal/quota"
	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
)

// fakeBuilder returns a canned result and counts invocations.
type fakeBuilder struct {
	mu     sync.Mutex
	calls  int
	result scheduler.Result
}

func (f *fakeBuilder) Build(ctx context.Context, req *scheduler.Request) scheduler.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.result
}

func (f *fakeBuilder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestServer(t *testing.T, b *fakeBuilder) (*Server, *scheduler.Scheduler) {
	t.Helper()
	registry, err := board.NewRegistry(board.DefaultProfiles())
	require.NoError(t, err)

	sched := scheduler.New(registry, b, scheduler.Options{Workers: 2, QueueSize: 10})
	sched.Start(t.Context())
	t.Cleanup(func() { sched.Stop(t.Context()) })

	srv := New(Options{CORSOrigins: []string{"*"}}, registry, sched)
	return srv, sched
}

func successBuilder() *fakeBuilder {
	return &fakeBuilder{result: scheduler.Result{
		Outcome:      scheduler.OutcomeSuccess,
		Artifact:     []byte(":00000001FF\n"),
		ArtifactSize: 12,
		Duration:     50 * time.Millisecond,
	}}
}

func postCompile(t *testing.T, handler http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/compile", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCompileSuccess(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())
	handler := srv.Handler()

	rec := postCompile(t, handler, map[string]any{
		"source_code": "void setup() {}",
		"board":       "arduino:avr:uno",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, scheduler.OutcomeSuccess, resp.Outcome)
	assert.Equal(t, ":00000001FF\n", resp.Hex)
	assert.NotEmpty(t, resp.BuildID)

	// First contact mints a session cookie.
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, sessionCookie, cookies[0].Name)
}

func TestCompileUnknownBoard(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	rec := postCompile(t, srv.Handler(), map[string]any{
		"source_code": "void setup() {}",
		"board":       "acme:unknown:board",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompileMissingBoard(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	rec := postCompile(t, srv.Handler(), map[string]any{"source_code": "void setup() {}"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompileMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	req := httptest.NewRequest(http.MethodPost, "/compile", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompileEmptySource(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	rec := postCompile(t, srv.Handler(), map[string]any{"board": "arduino:avr:uno"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// cacheCountingRecorder counts cache hit/miss observations.
type cacheCountingRecorder struct {
	metrics.NoopRecorder
	hits   atomic.Int64
	misses atomic.Int64
}

func (r *cacheCountingRecorder) IncCacheHit()  { r.hits.Add(1) }
func (r *cacheCountingRecorder) IncCacheMiss() { r.misses.Add(1) }

func TestCompileCacheHit(t *testing.T) {
	b := successBuilder()
	srv, _ := newTestServer(t, b)
	srv.SetCache(cache.New(16, time.Hour))
	recorder := &cacheCountingRecorder{}
	srv.SetRecorder(recorder)
	handler := srv.Handler()

	body := map[string]any{
		"source_code": "void setup() {}",
		"board":       "arduino:avr:uno",
	}

	rec := postCompile(t, handler, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postCompile(t, handler, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.CacheHit)
	assert.Equal(t, 1, b.callCount(), "cache hit must not reach the builder")
	assert.Equal(t, int64(1), recorder.misses.Load())
	assert.Equal(t, int64(1), recorder.hits.Load())
}

func TestCompileErrorIsDataNotFault(t *testing.T) {
	b := &fakeBuilder{result: scheduler.Result{
		Outcome: scheduler.OutcomeCompileError,
		Diagnostics: []diag.Diagnostic{
			{File: "main.cpp", Line: 5, Severity: diag.SeverityError, Message: "expected ';'"},
		},
	}}
	srv, _ := newTestServer(t, b)

	rec := postCompile(t, srv.Handler(), map[string]any{
		"source_code": "broken",
		"board":       "arduino:avr:uno",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, scheduler.OutcomeCompileError, resp.Outcome)
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, 5, resp.Diagnostics[0].Line)
}

func TestQuotaRejection(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())
	srv.SetQuotas(quota.NewManager(quota.Limits{MaxPerHour: 1}))
	handler := srv.Handler()

	body := map[string]any{
		"source_code": "void setup() {}",
		"board":       "arduino:avr:uno",
	}

	rec := postCompile(t, handler, body)
	require.Equal(t, http.StatusOK, rec.Code)
	session := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/compile", bytes.NewReader(mustJSON(t, body)))
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestBuildStatus(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())
	handler := srv.Handler()

	rec := postCompile(t, handler, map[string]any{
		"source_code": "void setup() {}",
		"board":       "arduino:avr:uno",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/builds/"+resp.BuildID, nil)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)
	assert.Contains(t, statusRec.Body.String(), `"outcome":"success"`)
}

func TestBuildStatusUnknown(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	req := httptest.NewRequest(http.MethodGet, "/builds/no-such-id", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBoards(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	req := httptest.NewRequest(http.MethodGet, "/boards", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arduino:avr:uno")
	assert.Contains(t, rec.Body.String(), "atmelavr")
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, successBuilder())

	req := httptest.NewRequest(http.MethodOptions, "/compile", nil)
	req.Header.Set("Origin", "https://editor.example.org")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://editor.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
