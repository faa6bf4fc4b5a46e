package prescheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/supersonic-audio/supersonic/internal/constants"
	"github.com/supersonic-audio/supersonic/internal/logging"
	"github.com/supersonic-audio/supersonic/internal/timing"
)

// RingWriter is the blocking write surface the release loop drives —
// satisfied by *ring.Writer's WriteBlocking method without importing
// internal/ring directly, avoiding a layering dependency the release
// loop doesn't otherwise need.
type RingWriter interface {
	WriteBlocking(ctx context.Context, payload []byte, sourceID uint32) (uint32, error)
}

// MetricsSink is the subset of the root Observer contract the
// prescheduler reports through; satisfied structurally by
// *supersonic.MetricsObserver and supersonic.NoOpObserver without an
// import (the root package owns the adaptor that constructs a Worker and
// would otherwise form an import cycle back into this package).
type MetricsSink interface {
	ObserveHeapDepth(depth uint32)
	ObserveCancelled(n uint64)
	ObserveRingWriteRetry()
	ObserveAllocationFailed()
	ObserveScheduleError(deltaNs int64)
}

// Config tunes one Worker.
type Config struct {
	Capacity      int           // spec.md §6.3 prescheduler_capacity, default 65536
	DispatchSlack time.Duration // spec.md §4.6 DISPATCH_SLACK, default one audio buffer
}

// DefaultConfig matches spec.md's defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:      constants.DefaultPreschedulerCapacity,
		DispatchSlack: constants.DefaultDispatchSlack,
	}
}

// EnqueueRequest is one bundle waiting for its release time.
type EnqueueRequest struct {
	Bytes      []byte
	SourceID   uint32
	ReleaseNTP float64
	SessionID  uint32
	RunTag     uint32
}

// Worker is the single-threaded priority-heap release loop (spec.md
// §4.6). Its lifecycle (Config -> constructor -> Start spawns a goroutine
// and blocks on a start-error channel -> select on ctx.Done()
// -> Stop/Close) follows go-ublk's internal/queue/runner.go shape.
type Worker struct {
	cfg     Config
	writer  RingWriter
	metrics MetricsSink
	logger  *logging.Logger

	mu  sync.Mutex
	idx *index

	arrivalSeq atomic.Uint64
	wake       chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker constructs a Worker. Start must be called before Enqueue/
// DirectDispatch have any effect on ring delivery, though both may be
// called beforehand — the release loop drains whatever is queued once
// it starts.
func NewWorker(cfg Config, writer RingWriter, metrics MetricsSink) *Worker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = constants.DefaultPreschedulerCapacity
	}
	if cfg.DispatchSlack <= 0 {
		cfg.DispatchSlack = constants.DefaultDispatchSlack
	}
	return &Worker{
		cfg:     cfg,
		writer:  writer,
		metrics: metrics,
		logger:  logging.Default(),
		idx:     newIndex(),
		wake:    make(chan struct{}, 1),
	}
}

// Start spawns the release-loop goroutine.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	started := make(chan error, 1)
	go func() {
		started <- nil
		w.runLoop(ctx)
		close(w.done)
	}()
	return <-started
}

// Stop cancels the release loop and waits for it to exit.
func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

// Enqueue accepts a FarFuture bundle onto the heap (spec.md §4.6's
// "Enqueue" step): assigns an arrival sequence and wakes the release
// loop in case this record is now the earliest release.
func (w *Worker) Enqueue(req EnqueueRequest) error {
	w.mu.Lock()
	if w.idx.len() >= w.cfg.Capacity {
		w.mu.Unlock()
		w.metrics.ObserveAllocationFailed()
		return fmt.Errorf("prescheduler: heap at capacity (%d)", w.cfg.Capacity)
	}
	e := &entry{
		bytes:      req.Bytes,
		sourceID:   req.SourceID,
		releaseNTP: req.ReleaseNTP,
		arrivalSeq: w.arrivalSeq.Add(1),
		sessionID:  req.SessionID,
		runTag:     req.RunTag,
	}
	w.idx.insert(e)
	depth := w.idx.len()
	w.mu.Unlock()

	w.metrics.ObserveHeapDepth(uint32(depth))
	w.wakeLoop()
	return nil
}

// DirectDispatch implements spec.md §4.6's "Directness short-circuit":
// a bypass write that lost the main-thread lock race is forwarded here
// with release_ntp = 0, which sorts to the top of the heap and is
// released on the very next wake without joining the cancellation
// indices (it was never a scheduled bundle).
func (w *Worker) DirectDispatch(bytes []byte, sourceID uint32) {
	e := &entry{
		bytes:      bytes,
		sourceID:   sourceID,
		releaseNTP: 0,
		direct:     true,
	}
	w.mu.Lock()
	e.arrivalSeq = w.arrivalSeq.Add(1)
	w.idx.insert(e)
	w.mu.Unlock()
	w.wakeLoop()
}

func (w *Worker) wakeLoop() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// CancelSessionTag drops every queued record matching (sessionID, runTag).
func (w *Worker) CancelSessionTag(sessionID, runTag uint32) int {
	return w.cancel_(func() int { return w.idx.cancelSessionTag(sessionID, runTag) })
}

// CancelSession drops every queued record for sessionID.
func (w *Worker) CancelSession(sessionID uint32) int {
	return w.cancel_(func() int { return w.idx.cancelSession(sessionID) })
}

// CancelTag drops every queued record with runTag, across sessions.
func (w *Worker) CancelTag(runTag uint32) int {
	return w.cancel_(func() int { return w.idx.cancelTag(runTag) })
}

// CancelAll clears the heap.
func (w *Worker) CancelAll() int {
	return w.cancel_(func() int { return w.idx.cancelAll() })
}

func (w *Worker) cancel_(op func() int) int {
	w.mu.Lock()
	n := op()
	w.mu.Unlock()
	if n > 0 {
		w.metrics.ObserveCancelled(uint64(n))
	}
	return n
}

// Len returns the current heap depth.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.len()
}

// runLoop is spec.md §4.6's release loop: sleep until the earliest
// release time (or forever, woken early by Enqueue/cancel), then pop and
// write every record now due.
func (w *Worker) runLoop(ctx context.Context) {
	for {
		wait := w.nextWait()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}

		w.releaseDue(ctx)
	}
}

func (w *Worker) nextWait() time.Duration {
	w.mu.Lock()
	next, ok := w.idx.peekReleaseNTP()
	w.mu.Unlock()

	if !ok {
		return time.Hour
	}
	delta := next - timing.CurrentNTP()
	if delta <= 0 {
		return 0
	}
	return time.Duration(delta * float64(time.Second))
}

func (w *Worker) releaseDue(ctx context.Context) {
	threshold := timing.CurrentNTP() + w.cfg.DispatchSlack.Seconds()

	w.mu.Lock()
	due := w.idx.popDue(threshold)
	depth := w.idx.len()
	w.mu.Unlock()
	w.metrics.ObserveHeapDepth(uint32(depth))

	now := timing.CurrentNTP()
	for _, e := range due {
		if _, err := w.writer.WriteBlocking(ctx, e.bytes, e.sourceID); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.metrics.ObserveRingWriteRetry()
			w.logger.Warnf("prescheduler: dropping record after ring write error: %v", err)
			continue
		}
		if !e.direct {
			deltaNs := int64((now - e.releaseNTP) * 1e9)
			w.metrics.ObserveScheduleError(deltaNs)
		}
	}
}
