package quota

import (
	"errors"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(Limits{MaxInFlight: 2, MaxPerHour: 10})

	if err := m.Acquire("s1"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := m.Acquire("s1"); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	err := m.Acquire("s1")
	if err == nil {
		t.Fatal("expected concurrent limit error")
	}
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %T", err)
	}
	if limitErr.Limit != "concurrent builds" {
		t.Errorf("unexpected limit: %s", limitErr.Limit)
	}
	if limitErr.RetryAfter <= 0 {
		t.Error("expected positive RetryAfter")
	}

	m.Release("s1")
	if err := m.Acquire("s1"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	m := NewManager(Limits{MaxInFlight: 1})

	if err := m.Acquire("s1"); err != nil {
		t.Fatalf("s1 acquire failed: %v", err)
	}
	if err := m.Acquire("s2"); err != nil {
		t.Fatalf("s2 acquire failed: %v", err)
	}
	if err := m.Acquire("s1"); err == nil {
		t.Error("expected s1 to hit its limit")
	}
}

func TestHourlyRateLimit(t *testing.T) {
	m := NewManager(Limits{MaxPerHour: 2})
	now := time.Now()
	m.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if err := m.Acquire("s1"); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		m.Release("s1")
	}

	err := m.Acquire("s1")
	var limitErr *LimitError
	if !errors.As(err, &limitErr) || limitErr.Limit != "builds per hour" {
		t.Fatalf("expected hourly limit error, got %v", err)
	}

	// RetryAfter is measured on the injected clock: 40 minutes into the
	// window, exactly 20 minutes remain.
	now = now.Add(40 * time.Minute)
	err = m.Acquire("s1")
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected hourly limit error, got %v", err)
	}
	if limitErr.RetryAfter != 20*time.Minute {
		t.Errorf("expected RetryAfter of 20m, got %s", limitErr.RetryAfter)
	}

	// The window resets an hour after the first build.
	now = now.Add(61 * time.Minute)
	if err := m.Acquire("s1"); err != nil {
		t.Fatalf("acquire after window reset failed: %v", err)
	}
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	m := NewManager(Limits{})
	for i := 0; i < 50; i++ {
		if err := m.Acquire("s1"); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
}

func TestReleaseUnknownSession(t *testing.T) {
	m := NewManager(Limits{MaxInFlight: 1})
	m.Release("never-seen") // must not panic or create a record
	if n := m.ActiveSessions(); n != 0 {
		t.Errorf("expected 0 sessions, got %d", n)
	}
}

func TestPrune(t *testing.T) {
	m := NewManager(Limits{MaxInFlight: 2, SessionTTL: time.Hour})
	now := time.Now()
	m.now = func() time.Time { return now }

	if err := m.Acquire("idle"); err != nil {
		t.Fatal(err)
	}
	m.Release("idle")
	if err := m.Acquire("busy"); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	removed := m.Prune()
	if removed != 1 {
		t.Errorf("expected 1 pruned session, got %d", removed)
	}
	// Sessions with builds in flight survive the TTL.
	if n := m.ActiveSessions(); n != 1 {
		t.Errorf("expected busy session to survive, got %d sessions", n)
	}
}
