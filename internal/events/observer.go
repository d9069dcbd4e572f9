package events

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
	"git.home.luguber.info/inful/fwbuilder/internal/scheduler"
)

// Observer adapts a Publisher to the scheduler's lifecycle notifications.
// Publish failures are logged and swallowed.
type Observer struct {
	publisher Publisher
}

// NewObserver wraps a publisher for scheduler registration.
func NewObserver(p Publisher) *Observer {
	return &Observer{publisher: p}
}

// BuildQueued implements scheduler.Observer.
func (o *Observer) BuildQueued(ctx context.Context, req *scheduler.Request) {
	o.publish(ctx, BuildEvent{
		BuildID:   req.ID,
		Type:      TypeQueued,
		Board:     req.Board,
		SessionID: req.SessionID,
	})
}

// BuildStarted implements scheduler.Observer.
func (o *Observer) BuildStarted(ctx context.Context, req *scheduler.Request, worker string) {
	o.publish(ctx, BuildEvent{
		BuildID: req.ID,
		Type:    TypeStarted,
		Board:   req.Board,
		Worker:  worker,
	})
}

// BuildFinished implements scheduler.Observer.
func (o *Observer) BuildFinished(ctx context.Context, req *scheduler.Request, result scheduler.Result) {
	o.publish(ctx, BuildEvent{
		BuildID:    req.ID,
		Type:       TypeFinished,
		Board:      req.Board,
		Outcome:    string(result.Outcome),
		DurationMS: result.Duration.Milliseconds(),
	})
}

func (o *Observer) publish(ctx context.Context, event BuildEvent) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		slog.Warn("Failed to publish build event",
			logfields.BuildID(event.BuildID),
			slog.String("type", event.Type),
			logfields.Error(err))
	}
}
