// Package scheduler is the concurrency core of the build service. It admits
// build requests, bounds the number of simultaneously running toolchain
// invocations with a fixed worker pool, queues overflow in FIFO order, and
// guarantees exactly one BuildResult per admitted request on every path
// including timeout and cancellation.
package scheduler

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/fwbuilder/internal/board"
	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
	"git.home.luguber.info/inful/fwbuilder/internal/metrics"
)

// Builder executes one admitted build request and returns its result. The
// context passed to Build is cancelled when the request is cancelled; the
// per-build timeout is the builder's concern and starts when Build is called,
// never earlier; queueing delay must not count against the compiler.
type Builder interface {
	Build(ctx context.Context, req *Request) Result
}

// Observer receives build lifecycle notifications (record store, event bus).
// Implementations must not block the scheduler; failures are logged, not
// propagated.
type Observer interface {
	BuildQueued(ctx context.Context, req *Request)
	BuildStarted(ctx context.Context, req *Request, worker string)
	BuildFinished(ctx context.Context, req *Request, result Result)
}

// Options configure a Scheduler.
type Options struct {
	Workers        int
	QueueSize      int
	MaxSourceBytes int64
}

// Scheduler owns the worker pool and the FIFO admission queue.
type Scheduler struct {
	registry *board.Registry
	builder  Builder
	opts     Options

	jobs     chan *job
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*job
	history map[string]Result
	stopped bool

	recorder  metrics.Recorder
	observers []Observer
}

type job struct {
	req    *Request
	handle *Handle

	mu        sync.Mutex
	cancelRun context.CancelFunc // set while running
	cancelled bool
}

// cancel marks the job cancelled; a queued job is skipped by its worker, a
// running job has its subprocess context torn down.
func (j *job) cancel() {
	j.mu.Lock()
	j.cancelled = true
	running := j.cancelRun
	j.mu.Unlock()
	if running != nil {
		running()
	}
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// New creates a scheduler over the given registry and builder.
func New(registry *board.Registry, builder Builder, opts Options) *Scheduler {
	if builder == nil {
		panic("scheduler: builder is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = 512 * 1024
	}

	return &Scheduler{
		registry: registry,
		builder:  builder,
		opts:     opts,
		jobs:     make(chan *job, opts.QueueSize),
		stopChan: make(chan struct{}),
		active:   make(map[string]*job),
		history:  make(map[string]Result),
		recorder: metrics.NoopRecorder{},
	}
}

// SetRecorder injects a metrics recorder (optional).
func (s *Scheduler) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	s.recorder = r
}

// AddObserver registers a lifecycle observer (must be called before Start).
func (s *Scheduler) AddObserver(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting build scheduler", "workers", s.opts.Workers, "queue_size", s.opts.QueueSize)
	for i := range s.opts.Workers {
		s.wg.Add(1)
		go s.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop shuts the scheduler down, cancelling all active builds and waiting for
// workers to drain.
func (s *Scheduler) Stop(_ context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, j := range s.active {
		j.cancel()
	}
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	// Drain the queue so every admitted request still reaches a terminal
	// state with a delivered result, even across shutdown.
	for {
		select {
		case j := <-s.jobs:
			s.finalize(context.Background(), j, Result{
				BuildID: j.req.ID,
				Outcome: OutcomeCanceled,
				Cause:   "service shutting down",
			})
		default:
			return
		}
	}
}

// QueueDepth returns the number of requests waiting for a slot.
func (s *Scheduler) QueueDepth() int {
	return len(s.jobs)
}

// RunningCount returns the number of builds currently holding a slot.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Submit validates and admits a build request, returning a handle the caller
// can wait on, poll, or cancel. Validation failures (unknown board, empty or
// oversized source, full queue) are rejected synchronously before any
// workspace or slot is consumed.
func (s *Scheduler) Submit(ctx context.Context, req *Request) (*Handle, error) {
	if req == nil {
		return nil, stdErrors.New("request cannot be nil")
	}
	if len(req.Files) == 0 {
		return nil, ferrors.EmptySource()
	}
	var total int64
	for _, content := range req.Files {
		total += int64(len(content))
	}
	if total > s.opts.MaxSourceBytes {
		return nil, ferrors.SourceTooLarge(total, s.opts.MaxSourceBytes)
	}
	if _, err := s.registry.Resolve(req.Board); err != nil {
		return nil, err
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.SubmittedAt = time.Now()

	j := &job{req: req}
	j.handle = newHandle(req.ID, j.cancel)

	// The enqueue happens under the same lock Stop uses to flip stopped, so a
	// request admitted here is either seen by a worker or by Stop's drain.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ferrors.New(ferrors.CategoryInternal, ferrors.SeverityError, "scheduler is shutting down")
	}
	select {
	case s.jobs <- j:
	default:
		s.mu.Unlock()
		return nil, ferrors.Retryable(ferrors.CategoryQuota, ferrors.SeverityError, "build queue is full")
	}
	s.mu.Unlock()

	s.recorder.SetQueueDepth(len(s.jobs))
	s.notifyQueued(ctx, req)
	slog.Debug("Build queued",
		logfields.BuildID(req.ID),
		logfields.Board(req.Board),
		logfields.QueueDepth(len(s.jobs)))
	return j.handle, nil
}

// Lookup returns the result of a finished build, or the zero Result and false
// while it is still queued or running.
func (s *Scheduler) Lookup(buildID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.history[buildID]
	return r, ok
}

func (s *Scheduler) worker(ctx context.Context, workerID string) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case j := <-s.jobs:
			if j != nil {
				s.process(ctx, j, workerID)
			}
		}
	}
}

func (s *Scheduler) process(ctx context.Context, j *job, workerID string) {
	s.recorder.SetQueueDepth(len(s.jobs))

	// Cancelled while queued: the builder is never invoked and no slot time
	// is spent.
	if j.isCancelled() {
		s.finalize(ctx, j, Result{
			BuildID: j.req.ID,
			Outcome: OutcomeCanceled,
			Cause:   "cancelled while queued",
		})
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		s.finalize(ctx, j, Result{
			BuildID: j.req.ID,
			Outcome: OutcomeCanceled,
			Cause:   "cancelled while queued",
		})
		return
	}
	j.cancelRun = cancel
	j.mu.Unlock()

	s.mu.Lock()
	s.active[j.req.ID] = j
	s.recorder.SetRunningBuilds(len(s.active))
	s.mu.Unlock()

	queueWait := time.Since(j.req.SubmittedAt)
	s.recorder.ObserveQueueWait(queueWait)
	s.notifyStarted(ctx, j.req, workerID)
	slog.Info("Build started",
		logfields.BuildID(j.req.ID),
		logfields.Board(j.req.Board),
		logfields.Worker(workerID),
		logfields.DurationMS(float64(queueWait.Milliseconds())))

	result := s.builder.Build(runCtx, j.req)
	result.BuildID = j.req.ID
	if j.isCancelled() && result.Outcome != OutcomeSuccess {
		result.Outcome = OutcomeCanceled
		if result.Cause == "" {
			result.Cause = "cancelled while running"
		}
	}

	s.mu.Lock()
	delete(s.active, j.req.ID)
	s.recorder.SetRunningBuilds(len(s.active))
	s.mu.Unlock()

	s.finalize(ctx, j, result)
}

// finalize delivers the result exactly once and fans out completion
// notifications.
func (s *Scheduler) finalize(ctx context.Context, j *job, result Result) {
	s.mu.Lock()
	s.history[j.req.ID] = result
	s.mu.Unlock()

	j.handle.complete(result)

	s.recorder.IncBuildOutcome(string(result.Outcome))
	s.recorder.ObserveBuildDuration(string(result.Outcome), result.Duration)
	s.notifyFinished(ctx, j.req, result)

	slog.Info("Build finished",
		logfields.BuildID(j.req.ID),
		logfields.Board(j.req.Board),
		logfields.Outcome(string(result.Outcome)),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))
}

func (s *Scheduler) notifyQueued(ctx context.Context, req *Request) {
	for _, o := range s.observers {
		o.BuildQueued(ctx, req)
	}
}

func (s *Scheduler) notifyStarted(ctx context.Context, req *Request, worker string) {
	for _, o := range s.observers {
		o.BuildStarted(ctx, req, worker)
	}
}

func (s *Scheduler) notifyFinished(ctx context.Context, req *Request, result Result) {
	for _, o := range s.observers {
		o.BuildFinished(ctx, req, result)
	}
}
