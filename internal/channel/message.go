package channel

import (
	"context"
	"sync"

	"github.com/supersonic-audio/supersonic/internal/classify"
	"github.com/supersonic-audio/supersonic/internal/constants"
	"github.com/supersonic-audio/supersonic/internal/logging"
	"github.com/supersonic-audio/supersonic/internal/timing"
)

// RangeSource hands out fixed-size node-ID ranges to a message-passing
// channel, standing in for the control port to the owning host that
// spec.md §4.7 describes. AllocateRange blocks only when called
// synchronously after exhaustion; prefetch calls race tolerate a slow
// host without stalling producers.
type RangeSource interface {
	AllocateRange(ctx context.Context, size uint32) (start uint32, err error)
}

// MessageChannel is the message-passing variant of spec.md §4.7: it has
// no direct access to the shared region, so every record — bypass or
// scheduled — is forwarded through a port to the engine host, and node
// IDs arrive as pre-fetched ranges rather than a shared atomic counter.
type MessageChannel struct {
	cfg          Config
	writer       RingWriter
	prescheduler PreschedulerPort
	metrics      MetricsSink
	logger       *logging.Logger
	stats        Stats

	nodeIDs *rangeAllocator
}

// NewMessageChannel constructs a message-passing channel. initialRangeSize
// is the size of the first range fetched (spec.md §4.7 default 10000 for
// a worker channel); subsequent ranges use rangeSize (default 1000).
func NewMessageChannel(cfg Config, writer RingWriter, prescheduler PreschedulerPort, source RangeSource, rangeSize, initialRangeSize uint32, metrics MetricsSink) *MessageChannel {
	return &MessageChannel{
		cfg:          cfg,
		writer:       writer,
		prescheduler: prescheduler,
		metrics:      metrics,
		logger:       logging.Default().WithDevice(cfg.SourceID),
		nodeIDs:      newRangeAllocator(source, rangeSize, initialRangeSize),
	}
}

func (c *MessageChannel) Send(bytes []byte) error {
	now := timing.CurrentNTP()
	category, releaseNTP := classify.Classify(bytes, now, c.cfg.LookaheadSeconds)
	c.metrics.ObserveClassification(category)

	if category.Bypass() {
		return c.sendBypass(bytes, true)
	}
	return c.sendScheduled(bytes, releaseNTP, true, 0)
}

func (c *MessageChannel) SendDirect(bytes []byte) error {
	return c.sendBypass(bytes, false)
}

func (c *MessageChannel) SendToPrescheduler(bytes []byte) error {
	_, releaseNTP := classify.Classify(bytes, timing.CurrentNTP(), c.cfg.LookaheadSeconds)
	return c.sendScheduled(bytes, releaseNTP, false, 0)
}

// SendTagged behaves like Send but attaches runTag to a far-future
// record for later cancel_tag/cancel_session_tag targeting (spec.md
// §6.3), same as SharedChannel.SendTagged.
func (c *MessageChannel) SendTagged(bytes []byte, runTag uint32) error {
	now := timing.CurrentNTP()
	category, releaseNTP := classify.Classify(bytes, now, c.cfg.LookaheadSeconds)
	c.metrics.ObserveClassification(category)

	if category.Bypass() {
		return c.sendBypass(bytes, true)
	}
	return c.sendScheduled(bytes, releaseNTP, true, runTag)
}

func (c *MessageChannel) sendBypass(bytes []byte, observe bool) error {
	// The engine host, not this process, owns the write lock in
	// message-passing mode; bypass still goes direct (spec.md §4.7), but
	// there is no local fallback path to a prescheduler lock-miss since
	// the port write either succeeds or the host rejects it outright.
	if _, err := c.writer.Write(context.Background(), bytes, c.cfg.SourceID); err != nil {
		return err
	}
	c.stats.bypassed.Add(1)
	c.stats.sent.Add(1)
	if observe {
		c.metrics.ObserveBypass()
		c.metrics.ObserveSend(uint64(len(bytes)))
	}
	return nil
}

func (c *MessageChannel) sendScheduled(bytes []byte, releaseNTP float64, observe bool, runTag uint32) error {
	if err := c.prescheduler.Enqueue(preschedulerRequest(bytes, c.cfg.SourceID, releaseNTP, runTag)); err != nil {
		return err
	}
	c.stats.scheduled.Add(1)
	c.stats.sent.Add(1)
	if observe {
		c.metrics.ObserveScheduled()
		c.metrics.ObserveSend(uint64(len(bytes)))
	}
	return nil
}

func (c *MessageChannel) CancelSessionTag(sessionID, runTag uint32) int {
	n := c.prescheduler.CancelSessionTag(sessionID, runTag)
	c.observeCancelled(n)
	return n
}

func (c *MessageChannel) CancelSession(sessionID uint32) int {
	n := c.prescheduler.CancelSession(sessionID)
	c.observeCancelled(n)
	return n
}

func (c *MessageChannel) CancelTag(runTag uint32) int {
	n := c.prescheduler.CancelTag(runTag)
	c.observeCancelled(n)
	return n
}

func (c *MessageChannel) CancelAll() int {
	n := c.prescheduler.CancelAll()
	c.observeCancelled(n)
	return n
}

func (c *MessageChannel) observeCancelled(n int) {
	if n <= 0 {
		return
	}
	c.stats.cancelled.Add(uint64(n))
	c.metrics.ObserveCancelled(uint64(n))
}

// NextNodeID draws from the channel's pre-fetched range, triggering a
// background refill once fewer than NodeIDRangeRefillThreshold remain
// (spec.md §4.7).
func (c *MessageChannel) NextNodeID() (uint32, error) {
	return c.nodeIDs.next(context.Background(), c.logger)
}

// Transfer hands over the remainder of this channel's node-ID range so
// the receiving thread doesn't need to fetch its own starting range.
func (c *MessageChannel) Transfer() (Descriptor, error) {
	next, end := c.nodeIDs.snapshot()
	return Descriptor{
		SourceID:        c.cfg.SourceID,
		Mode:            "message",
		NodeIDRangeNext: next,
		NodeIDRangeEnd:  end,
	}, nil
}

func (c *MessageChannel) Metrics() StatsSnapshot { return c.stats.snapshot() }

func (c *MessageChannel) Close() error { return nil }

// rangeAllocator implements spec.md §4.7's message-passing node-ID
// policy: fixed-size ranges fetched from the owning host, pre-fetched
// asynchronously below a low-water threshold so producers rarely wait
// synchronously on the control port.
type rangeAllocator struct {
	source   RangeSource
	rangeSize uint32

	mu          sync.Mutex
	next, end   uint32
	haveRange   bool
	prefetching bool
}

func newRangeAllocator(source RangeSource, rangeSize, initialRangeSize uint32) *rangeAllocator {
	if rangeSize == 0 {
		rangeSize = constants.DefaultWorkerNodeIDRangeSize
	}
	a := &rangeAllocator{source: source, rangeSize: rangeSize}
	if initialRangeSize == 0 {
		initialRangeSize = constants.InitialWorkerNodeIDRangeSize
	}
	if start, err := source.AllocateRange(context.Background(), initialRangeSize); err == nil {
		a.next, a.end, a.haveRange = start, start+initialRangeSize, true
	}
	return a
}

func (a *rangeAllocator) next(ctx context.Context, logger *logging.Logger) (uint32, error) {
	a.mu.Lock()
	if !a.haveRange || a.next >= a.end {
		// Exhausted before an async refill arrived: report a warning and
		// block synchronously, per spec.md §4.7.
		a.mu.Unlock()
		if logger != nil {
			logger.Warnf("node-id range exhausted before refill, blocking on control port")
		}
		start, err := a.source.AllocateRange(ctx, a.rangeSize)
		if err != nil {
			return 0, err
		}
		a.mu.Lock()
		a.next, a.end, a.haveRange = start, start+a.rangeSize, true
	}

	id := a.next
	a.next++
	remaining := a.end - a.next
	shouldPrefetch := remaining < constants.NodeIDRangeRefillThreshold && !a.prefetching
	if shouldPrefetch {
		a.prefetching = true
	}
	a.mu.Unlock()

	if shouldPrefetch {
		go a.prefetch(logger)
	}
	return id, nil
}

func (a *rangeAllocator) prefetch(logger *logging.Logger) {
	start, err := a.source.AllocateRange(context.Background(), a.rangeSize)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prefetching = false
	if err != nil {
		if logger != nil {
			logger.Warnf("node-id range prefetch failed: %v", err)
		}
		return
	}
	// Only adopt the prefetched range once the current one is actually
	// exhausted; a slow prefetch racing a synchronous refill must not
	// clobber a range already granted by that refill.
	if a.next >= a.end {
		a.next, a.end = start, start+a.rangeSize
	}
}

func (a *rangeAllocator) snapshot() (next, end uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next, a.end
}
