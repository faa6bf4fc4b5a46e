package channel

import (
	"context"
	"errors"

	"github.com/supersonic-audio/supersonic/internal/classify"
	"github.com/supersonic-audio/supersonic/internal/logging"
	"github.com/supersonic-audio/supersonic/internal/ring"
	"github.com/supersonic-audio/supersonic/internal/timing"
)

// NodeIDSource hands out shared-memory node IDs via fetch-add — satisfied
// by *region.Region's NextNodeID without an import.
type NodeIDSource interface {
	NextNodeID(start uint32) uint32
}

// SharedChannel is the shared-memory variant of spec.md §4.7: it writes
// straight into the IN ring for bypass categories and hands far-future
// bundles to the prescheduler, with the main-thread 0-spin fallback
// policy from spec.md §4.7/§5.
type SharedChannel struct {
	cfg          Config
	writer       RingWriter
	prescheduler PreschedulerPort
	nodeIDs      NodeIDSource
	metrics      MetricsSink
	logger       *logging.Logger
	stats        Stats
	nodeIDStart  uint32
}

// NewSharedChannel constructs a shared-memory channel bound to one
// producer's source_id.
func NewSharedChannel(cfg Config, writer RingWriter, prescheduler PreschedulerPort, nodeIDs NodeIDSource, nodeIDStart uint32, metrics MetricsSink) *SharedChannel {
	return &SharedChannel{
		cfg:          cfg,
		writer:       writer,
		prescheduler: prescheduler,
		nodeIDs:      nodeIDs,
		nodeIDStart:  nodeIDStart,
		metrics:      metrics,
		logger:       logging.Default().WithDevice(cfg.SourceID),
	}
}

// Send classifies bytes and routes them per spec.md §4.5/§4.7: bypass
// categories go straight to the ring (falling back to the prescheduler's
// DirectDispatch on lock contention), far-future bundles are enqueued for
// later release.
func (c *SharedChannel) Send(bytes []byte) error {
	now := timing.CurrentNTP()
	category, releaseNTP := classify.Classify(bytes, now, c.cfg.LookaheadSeconds)
	c.metrics.ObserveClassification(category)

	if category.Bypass() {
		return c.sendBypass(bytes, true)
	}
	return c.sendScheduled(bytes, releaseNTP, true, 0)
}

// SendDirect asserts bypass without reclassifying or recording metrics —
// the caller already knows this record belongs on the ring immediately
// (spec.md §4.7).
func (c *SharedChannel) SendDirect(bytes []byte) error {
	return c.sendBypass(bytes, false)
}

// SendToPrescheduler asserts scheduling without reclassifying.
func (c *SharedChannel) SendToPrescheduler(bytes []byte) error {
	_, releaseNTP := classify.Classify(bytes, timing.CurrentNTP(), c.cfg.LookaheadSeconds)
	return c.sendScheduled(bytes, releaseNTP, false, 0)
}

// SendTagged behaves like Send but attaches runTag to a far-future
// record so a later cancel_tag/cancel_session_tag can target it
// (spec.md §6.3). A record that classifies as bypass ignores the tag —
// it leaves the ring immediately and can't be cancelled either way.
func (c *SharedChannel) SendTagged(bytes []byte, runTag uint32) error {
	now := timing.CurrentNTP()
	category, releaseNTP := classify.Classify(bytes, now, c.cfg.LookaheadSeconds)
	c.metrics.ObserveClassification(category)

	if category.Bypass() {
		return c.sendBypass(bytes, true)
	}
	return c.sendScheduled(bytes, releaseNTP, true, runTag)
}

func (c *SharedChannel) sendBypass(bytes []byte, observe bool) error {
	_, err := c.writer.Write(context.Background(), bytes, c.cfg.SourceID)
	if err == nil {
		c.stats.bypassed.Add(1)
		c.stats.sent.Add(1)
		if observe {
			c.metrics.ObserveBypass()
			c.metrics.ObserveSend(uint64(len(bytes)))
		}
		return nil
	}

	if !errors.Is(err, ring.ErrFull) && !errors.Is(err, ring.ErrLockBusy) {
		return err
	}

	// Main thread never blocks: reroute to the prescheduler's blocking
	// release path with release_ntp = 0 so it sorts to the front and
	// goes out on the very next wake (spec.md §4.7 fallback policy).
	c.prescheduler.DirectDispatch(bytes, c.cfg.SourceID)
	c.stats.fallbacks.Add(1)
	c.stats.sent.Add(1)
	if observe {
		c.metrics.ObserveDirectWriteFallback()
		c.metrics.ObserveSend(uint64(len(bytes)))
	}
	return nil
}

func (c *SharedChannel) sendScheduled(bytes []byte, releaseNTP float64, observe bool, runTag uint32) error {
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

func (c *SharedChannel) CancelSessionTag(sessionID, runTag uint32) int {
	n := c.prescheduler.CancelSessionTag(sessionID, runTag)
	c.observeCancelled(n)
	return n
}

func (c *SharedChannel) CancelSession(sessionID uint32) int {
	n := c.prescheduler.CancelSession(sessionID)
	c.observeCancelled(n)
	return n
}

func (c *SharedChannel) CancelTag(runTag uint32) int {
	n := c.prescheduler.CancelTag(runTag)
	c.observeCancelled(n)
	return n
}

func (c *SharedChannel) CancelAll() int {
	n := c.prescheduler.CancelAll()
	c.observeCancelled(n)
	return n
}

func (c *SharedChannel) observeCancelled(n int) {
	if n <= 0 {
		return
	}
	c.stats.cancelled.Add(uint64(n))
	c.metrics.ObserveCancelled(uint64(n))
}

// NextNodeID performs the shared-memory fetch-add allocation (spec.md
// §4.7): trivially correct and contention-free, never fails.
func (c *SharedChannel) NextNodeID() (uint32, error) {
	return c.nodeIDs.NextNodeID(c.nodeIDStart), nil
}

// Transfer produces a descriptor a receiving thread can use to address
// this producer's source_id; shared-memory channels have no local
// node-ID range to hand over since allocation is a shared counter.
func (c *SharedChannel) Transfer() (Descriptor, error) {
	return Descriptor{SourceID: c.cfg.SourceID, Mode: "shared"}, nil
}

func (c *SharedChannel) Metrics() StatsSnapshot { return c.stats.snapshot() }

// Close releases no per-channel state in the shared-memory variant: the
// region and its workers outlive any one channel.
func (c *SharedChannel) Close() error { return nil }
