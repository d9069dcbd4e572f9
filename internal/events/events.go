// Package events publishes build lifecycle events to NATS so external
// consumers (the browser editor, dashboards) can follow build progress.
// Publishing is fire and forget; a slow or absent broker never blocks a
// build.
package events

import (
	"context"
	"time"
)

// Event types published per build.
const (
	TypeQueued   = "queued"
	TypeStarted  = "started"
	TypeFinished = "finished"
)

// BuildEvent is the wire form of one lifecycle transition.
type BuildEvent struct {
	BuildID    string    `json:"build_id"`
	Type       string    `json:"type"`
	Board      string    `json:"board,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Worker     string    `json:"worker,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers build events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, event BuildEvent) error
	Close()
}

// NoopPublisher discards all events. Used when eventing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event BuildEvent) error { return nil }
func (NoopPublisher) Close()                                              {}
