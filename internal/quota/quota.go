// Package quota enforces per-session compile limits: a cap on in-flight
// builds and an hourly rate limit. Sessions are identified by an opaque ID
// (the browser session cookie) and expire after a TTL of inactivity.
package quota

import (
	"sync"
	"time"
)

// LimitError indicates a session limit has been exceeded.
type LimitError struct {
	Limit      string
	Current    int64
	Maximum    int64
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return "quota limit exceeded: " + e.Limit
}

// Limits defines the per-session caps. Zero values disable the
// corresponding check.
type Limits struct {
	MaxInFlight int64         // concurrent builds per session
	MaxPerHour  int64         // builds started per rolling hour window
	SessionTTL  time.Duration // idle time before a session record is dropped
}

// sessionUsage tracks one session's counters.
type sessionUsage struct {
	inFlight    int64
	thisHour    int64
	windowStart time.Time
	lastSeen    time.Time
}

// Manager tracks usage per session. Safe for concurrent use.
type Manager struct {
	limits   Limits
	mu       sync.Mutex
	sessions map[string]*sessionUsage

	now func() time.Time // test hook
}

// NewManager creates a quota manager with the given limits.
func NewManager(limits Limits) *Manager {
	if limits.SessionTTL <= 0 {
		limits.SessionTTL = time.Hour
	}
	return &Manager{
		limits:   limits,
		sessions: make(map[string]*sessionUsage),
		now:      time.Now,
	}
}

// Acquire admits one build for the session, incrementing its counters.
// Returns a *LimitError when a cap is reached; the caller must pair every
// successful Acquire with a Release.
func (m *Manager) Acquire(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	usage, ok := m.sessions[sessionID]
	if !ok {
		usage = &sessionUsage{windowStart: now}
		m.sessions[sessionID] = usage
	}
	usage.lastSeen = now

	if now.Sub(usage.windowStart) >= time.Hour {
		usage.windowStart = now
		usage.thisHour = 0
	}

	if m.limits.MaxInFlight > 0 && usage.inFlight >= m.limits.MaxInFlight {
		return &LimitError{
			Limit:      "concurrent builds",
			Current:    usage.inFlight,
			Maximum:    m.limits.MaxInFlight,
			RetryAfter: 10 * time.Second,
		}
	}

	if m.limits.MaxPerHour > 0 && usage.thisHour >= m.limits.MaxPerHour {
		return &LimitError{
			Limit:      "builds per hour",
			Current:    usage.thisHour,
			Maximum:    m.limits.MaxPerHour,
			RetryAfter: usage.windowStart.Add(time.Hour).Sub(now),
		}
	}

	usage.inFlight++
	usage.thisHour++
	return nil
}

// Release returns one in-flight slot to the session. Unknown sessions are
// ignored.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if usage.inFlight > 0 {
		usage.inFlight--
	}
	usage.lastSeen = m.now()
}

// Prune drops session records idle beyond the TTL with no builds in flight.
// Call periodically; unbounded session growth is otherwise a slow leak.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, usage := range m.sessions {
		if usage.inFlight == 0 && now.Sub(usage.lastSeen) > m.limits.SessionTTL {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveSessions returns the number of tracked sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
