package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/fwbuilder/internal/buildstore"
	"git.home.luguber.info/inful/fwbuilder/internal/cache"
	"git.home.luguber.info/inful/fwbuilder/internal/diag"
	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
	"git.home.luguber.info/inful/fwbuilder/internal/quota"
	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
)

const sessionCookie = "session_id"

// compileRequest is the submission body. source_code carries the sketch;
// files allows multi-file submissions, with source_code becoming main.cpp.
type compileRequest struct {
	SourceCode string            `json:"source_code"`
	Files      map[string]string `json:"files,omitempty"`
	Board      string            `json:"board"`
	Flags      []string          `json:"flags,omitempty"`
	Libraries  []string          `json:"libraries,omitempty"`
}

// compileResponse is the terminal result of a build. Compile errors and
// timeouts are data, not HTTP faults; only internal errors map to 5xx.
type compileResponse struct {
	BuildID     string            `json:"build_id"`
	Outcome     scheduler.Outcome `json:"outcome"`
	Hex         string            `json:"hex,omitempty"`
	Warnings    []diag.Diagnostic `json:"warnings,omitempty"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
	RawLog      string            `json:"raw_log,omitempty"`
	Cause       string            `json:"cause,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	CacheHit    bool              `json:"cache_hit,omitempty"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Board == "" {
		writeError(w, http.StatusBadRequest, "board is required")
		return
	}

	files := make(map[string][]byte, len(req.Files)+1)
	for name, content := range req.Files {
		files[name] = []byte(content)
	}
	if req.SourceCode != "" {
		files["main.cpp"] = []byte(req.SourceCode)
	}

	sessionID := s.sessionID(w, r)
	if s.quotas != nil {
		if err := s.quotas.Acquire(sessionID); err != nil {
			var limitErr *quota.LimitError
			if errors.As(err, &limitErr) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limitErr.RetryAfter.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, limitErr.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		defer s.quotas.Release(sessionID)
	}

	var cacheKey string
	if s.cache != nil {
		cacheKey = cache.Key(req.Board, files, req.Flags, req.Libraries)
		if result, ok := s.cache.Get(cacheKey); ok {
			s.recorder.IncCacheHit()
			result.CacheHit = true
			writeJSON(w, http.StatusOK, toResponse(result))
			return
		}
		s.recorder.IncCacheMiss()
	}

	handle, err := s.sched.Submit(r.Context(), &scheduler.Request{
		Board:     req.Board,
		Files:     files,
		Flags:     req.Flags,
		Libraries: req.Libraries,
		SessionID: sessionID,
	})
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), s.opts.WaitTimeout)
	defer cancel()

	result, err := handle.Wait(waitCtx)
	if err != nil {
		// The client went away or the wait cap fired; the build itself was
		// cancelled by Wait and still produces its one terminal result.
		writeError(w, http.StatusServiceUnavailable, "build wait aborted")
		return
	}

	if s.cache != nil && cacheable(result.Outcome) {
		s.cache.Put(cacheKey, result)
	}

	status := http.StatusOK
	if result.Outcome == scheduler.OutcomeInternalError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, toResponse(result))
}

func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("id")

	type statusResponse struct {
		compileResponse
		Events []buildstore.Event `json:"events,omitempty"`
	}

	result, done := s.sched.Lookup(buildID)
	resp := statusResponse{}
	if done {
		resp.compileResponse = toResponse(result)
	} else {
		resp.BuildID = buildID
		resp.Outcome = "pending"
	}

	if s.records != nil {
		events, err := s.records.Events(r.Context(), buildID)
		if err == nil {
			resp.Events = events
		}
	}

	if !done && len(resp.Events) == 0 {
		writeError(w, http.StatusNotFound, "unknown build")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	type boardInfo struct {
		FQBN     string `json:"fqbn"`
		Platform string `json:"platform"`
		Board    string `json:"board"`
	}
	profiles := s.registry.List()
	out := make([]boardInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, boardInfo{FQBN: p.FQBN, Platform: p.Platform, Board: p.Board})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.sched.QueueDepth(),
		"running":     s.sched.RunningCount(),
	})
}

// sessionID returns the caller's session cookie, minting one on first
// contact.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
	return id
}

// submitStatus maps admission errors onto HTTP statuses.
func submitStatus(err error) int {
	switch {
	case ferrors.IsCategory(err, ferrors.CategoryBoard):
		return http.StatusNotFound
	case ferrors.IsCategory(err, ferrors.CategoryValidation):
		return http.StatusBadRequest
	case ferrors.IsCategory(err, ferrors.CategoryQuota):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// cacheable reports whether an outcome is worth caching. Timeouts and
// internal errors are transient; canceled builds have no result to reuse.
func cacheable(outcome scheduler.Outcome) bool {
	return outcome == scheduler.OutcomeSuccess || outcome == scheduler.OutcomeCompileError
}

func toResponse(result scheduler.Result) compileResponse {
	resp := compileResponse{
		BuildID:     result.BuildID,
		Outcome:     result.Outcome,
		Hex:         string(result.Artifact),
		Warnings:    result.Warnings,
		Diagnostics: result.Diagnostics,
		RawLog:      result.RawLog,
		Cause:       result.Cause,
		DurationMS:  result.Duration.Milliseconds(),
		CacheHit:    result.CacheHit,
	}
	if result.Outcome == scheduler.OutcomeInternalError && resp.Cause == "" {
		resp.Cause = "internal server error"
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
