// Package channel implements the per-producer handle described in
// spec.md §4.7: it unifies classification, ring writes, prescheduler
// handoff, node-ID allocation, and metrics behind one contract shared by
// a shared-memory variant and a message-passing variant.
package channel

import (
	"context"
	"sync/atomic"

	"github.com/supersonic-audio/supersonic/internal/classify"
	"github.com/supersonic-audio/supersonic/internal/prescheduler"
)

// RingWriter is the non-blocking write surface a channel's bypass path
// drives directly. Satisfied by *ring.Writer's Write method without an
// import, the same structural-typing trick internal/prescheduler uses
// for its own RingWriter, so this package never depends on internal/ring
// for anything but tests.
type RingWriter interface {
	Write(ctx context.Context, payload []byte, sourceID uint32) (uint32, error)
}

// PreschedulerPort is the far-future handoff surface, satisfied by
// *prescheduler.Worker.
type PreschedulerPort interface {
	Enqueue(req prescheduler.EnqueueRequest) error
	DirectDispatch(bytes []byte, sourceID uint32)
	CancelSessionTag(sessionID, runTag uint32) int
	CancelSession(sessionID uint32) int
	CancelTag(runTag uint32) int
	CancelAll() int
}

// MetricsSink is the subset of the root Observer contract a channel
// reports through, satisfied structurally by *supersonic.MetricsObserver
// and supersonic.NoOpObserver — the root package owns the adaptor that
// constructs channels, so an import the other way would cycle.
type MetricsSink interface {
	ObserveSend(bytes uint64)
	ObserveClassification(category classify.Category)
	ObserveBypass()
	ObserveScheduled()
	ObserveCancelled(n uint64)
	ObserveDirectWriteFallback()
}

// Descriptor is what Transfer() hands to another thread: enough state to
// reconstruct an equivalent channel handle on the receiving side without
// re-running node-ID allocation from scratch.
type Descriptor struct {
	SourceID       uint32
	Mode           string
	NodeIDRangeNext uint32
	NodeIDRangeEnd  uint32
}

// Stats is a channel's own local counters, independent of whatever
// MetricsSink it forwards events to — spec.md §4.7's metrics() op is
// scoped per channel, not global.
type Stats struct {
	sent      atomic.Uint64
	bypassed  atomic.Uint64
	scheduled atomic.Uint64
	cancelled atomic.Uint64
	fallbacks atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Sent      uint64
	Bypassed  uint64
	Scheduled uint64
	Cancelled uint64
	Fallbacks uint64
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sent:      s.sent.Load(),
		Bypassed:  s.bypassed.Load(),
		Scheduled: s.scheduled.Load(),
		Cancelled: s.cancelled.Load(),
		Fallbacks: s.fallbacks.Load(),
	}
}

// Channel is the contract spec.md §4.7 specifies, implemented by both
// the shared-memory and message-passing variants.
type Channel interface {
	Send(bytes []byte) error
	SendDirect(bytes []byte) error
	SendToPrescheduler(bytes []byte) error
	SendTagged(bytes []byte, runTag uint32) error
	CancelSessionTag(sessionID, runTag uint32) int
	CancelSession(sessionID uint32) int
	CancelTag(runTag uint32) int
	CancelAll() int
	NextNodeID() (uint32, error)
	Transfer() (Descriptor, error)
	Metrics() StatsSnapshot
	Close() error
}

// Config tunes the common behavior of either channel variant.
type Config struct {
	SourceID         uint32
	LookaheadSeconds float64 // spec.md §4.5 near-future window, default 0.2
}

// preschedulerRequest builds the prescheduler enqueue request for a
// far-future record. A channel's own source_id doubles as the
// cancellation session key: spec.md §4.7's contract has no separate
// "session" concept beyond the producer issuing the bundle, so
// cancel_session cancels everything outstanding from this channel, while
// runTag is the caller-supplied grouping cancel_tag/cancel_session_tag
// filter on (spec.md §6.3's send(bytes, {run_tag?})), zero when unset.
func preschedulerRequest(bytes []byte, sourceID uint32, releaseNTP float64, runTag uint32) prescheduler.EnqueueRequest {
	return prescheduler.EnqueueRequest{
		Bytes:      bytes,
		SourceID:   sourceID,
		ReleaseNTP: releaseNTP,
		SessionID:  sourceID,
		RunTag:     runTag,
	}
}
