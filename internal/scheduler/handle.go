package scheduler

import (
	"context"
	"sync"
)

// Handle is the caller's reference to an admitted build. Exactly one Result
// is delivered through it, on every path.
type Handle struct {
	buildID string
	done    chan struct{}
	once    sync.Once
	result  Result
	cancel  func()
}

func newHandle(buildID string, cancel func()) *Handle {
	return &Handle{
		buildID: buildID,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
}

// BuildID returns the identifier assigned at admission.
func (h *Handle) BuildID() string { return h.buildID }

// Wait blocks until the build reaches a terminal state or ctx is done. A ctx
// error cancels the build: queued requests are removed before consuming a
// slot, running ones have their subprocess terminated.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		h.Cancel()
		// The worker still finalizes the handle; wait briefly so callers that
		// race cancellation against completion get the real result.
		select {
		case <-h.done:
			return h.result, nil
		default:
			return Result{}, ctx.Err()
		}
	}
}

// Poll returns the result and true once the build is terminal.
func (h *Handle) Poll() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// Cancel requests cancellation. Safe to call at any time and after
// completion, where it has no effect.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// complete stores the result and unblocks waiters, exactly once.
func (h *Handle) complete(result Result) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}
