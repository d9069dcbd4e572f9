// Package buildstore persists build lifecycle events to SQLite. The store is
// append-only: one row per queued/started/finished transition, queryable by
// build ID for the status endpoint and post-hoc debugging.
package buildstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
)

// Event types recorded per build.
const (
	EventQueued   = "queued"
	EventStarted  = "started"
	EventFinished = "finished"
)

// Event is one recorded lifecycle transition.
type Event struct {
	ID        int64             `json:"id"`
	BuildID   string            `json:"build_id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Store is a SQLite-backed build event log.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the store at dbPath. Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_build_events_build_id ON build_events(build_id);
	CREATE INDEX IF NOT EXISTS idx_build_events_timestamp ON build_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one event for a build.
func (s *Store) Append(ctx context.Context, buildID, eventType string, detail map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailJSON []byte
	if detail != nil {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal detail: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO build_events (build_id, event_type, timestamp, detail) VALUES (?, ?, ?, ?)",
		buildID, eventType, time.Now().Unix(), detailJSON,
	)
	if err != nil {
		return fmt.Errorf("insert build event: %w", err)
	}
	return nil
}

// Events returns all recorded events for a build in insertion order.
func (s *Store) Events(ctx context.Context, buildID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, event_type, timestamp, detail FROM build_events WHERE build_id = ? ORDER BY id",
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query build events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Recent returns the newest events across all builds, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, event_type, timestamp, detail FROM build_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Prune deletes events older than the retention window. Returns the number
// of rows removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM build_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune build events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.BuildID, &e.Type, &ts, &detailJSON); err != nil {
			return nil, fmt.Errorf("scan build event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal event detail: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// BuildQueued implements scheduler.Observer.
func (s *Store) BuildQueued(ctx context.Context, req *scheduler.Request) {
	detail := map[string]string{"board": req.Board}
	if req.SessionID != "" {
		detail["session_id"] = req.SessionID
	}
	if err := s.Append(ctx, req.ID, EventQueued, detail); err != nil {
		slog.Error("Failed to record queued event",
			logfields.BuildID(req.ID), logfields.Error(err))
	}
}

// BuildStarted implements scheduler.Observer.
func (s *Store) BuildStarted(ctx context.Context, req *scheduler.Request, worker string) {
	if err := s.Append(ctx, req.ID, EventStarted, map[string]string{"worker": worker}); err != nil {
		slog.Error("Failed to record started event",
			logfields.BuildID(req.ID), logfields.Error(err))
	}
}

// BuildFinished implements scheduler.Observer.
func (s *Store) BuildFinished(ctx context.Context, req *scheduler.Request, result scheduler.Result) {
	detail := map[string]string{
		"outcome":     string(result.Outcome),
		"duration_ms": strconv.FormatInt(result.Duration.Milliseconds(), 10),
	}
	if result.ArtifactSize > 0 {
		detail["artifact_size"] = strconv.FormatInt(result.ArtifactSize, 10)
	}
	if err := s.Append(ctx, req.ID, EventFinished, detail); err != nil {
		slog.Error("Failed to record finished event",
			logfields.BuildID(req.ID), logfields.Error(err))
	}
}
