// Package constants holds fixed-layout and default tuning values shared
// across the region, ring, codec, timing, classifier and prescheduler
// packages.
package constants

import "time"

// Frame header layout (spec.md §3.2).
const (
	// MessageMagic marks the start of a real framed record.
	MessageMagic uint32 = 0x4f53434d // "OSCM"

	// PaddingMagic marks a padding record emitted when a real record
	// would straddle the ring's wrap boundary.
	PaddingMagic uint32 = 0x4f534350 // "OSCP"

	// FrameHeaderSize is the size in bytes of the fixed record header:
	// magic, payload_len, sequence, source_id (all u32).
	FrameHeaderSize = 16

	// PaddingMarkerSize is the size in bytes of a padding record's marker:
	// just the magic word. A padding record always means "skip to the end
	// of the ring", so its length is derivable from the marker's own
	// position and never needs a stored length field.
	PaddingMarkerSize = 4

	// FrameAlign is the alignment, in bytes, every record (header+payload+
	// padding) is rounded up to.
	FrameAlign = 4
)

// Control block layout (spec.md §3.1): 11 atomic 32-bit words plus the
// non-consuming log tail.
const ControlBlockWords = 11

// Node-tree mirror layout (spec.md §3.1).
const (
	NodeTreeEntrySize   = 56 // 6 * int32 + 32-byte def-name
	NodeTreeDefNameSize = 32
	NodeTreeEmptySlotID = -1
)

// Default tuning values (spec.md §4, §6.3).
const (
	// DefaultPreschedulerCapacity bounds the prescheduler's heap.
	DefaultPreschedulerCapacity = 65536

	// DefaultBypassLookaheadSeconds is the classifier's LOOKAHEAD (spec.md §4.5).
	DefaultBypassLookaheadSeconds = 0.2

	// DefaultMaxBuffers bounds outstanding sample buffers (spec.md §6.3).
	DefaultMaxBuffers = 1024

	// DefaultNodeIDStart is the first ID ever handed out by next_node_id().
	DefaultNodeIDStart = 1000

	// DefaultWorkerNodeIDRangeSize is the per-refill range size for
	// message-passing channels (spec.md §4.7).
	DefaultWorkerNodeIDRangeSize = 1000

	// InitialWorkerNodeIDRangeSize is the first allocation for a new
	// worker channel, larger than steady-state refills to avoid an early
	// synchronous wait.
	InitialWorkerNodeIDRangeSize = 10000

	// NodeIDRangeRefillThreshold triggers an async prefetch of the next
	// range once remaining IDs drop below this count.
	NodeIDRangeRefillThreshold = 1000
)

// Timing constants (spec.md §4.4).
const (
	// DefaultResyncInterval is how often ntp_start is recomputed from a
	// fresh (wall_ntp, context_time) pair.
	DefaultResyncInterval = 1000 * time.Millisecond

	// DriftWarmup is how long the adaptor waits before it starts
	// publishing drift measurements.
	DriftWarmup = 500 * time.Millisecond

	// NTPEpochOffset is the number of seconds between the NTP epoch
	// (1900-01-01) and the Unix epoch (1970-01-01).
	NTPEpochOffset = 2_208_988_800

	// DefaultDispatchSlack is the prescheduler's release tolerance,
	// nominally one audio buffer period.
	DefaultDispatchSlack = 3 * time.Millisecond
)

// Operation timeouts (spec.md §5).
const (
	AllocateTimeout = 5 * time.Second
	DecodeTimeout   = 30 * time.Second
	FetchTimeout    = 60 * time.Second
)

// Ring writer constants.
const (
	// MainThreadLockSpinBudget is the number of CAS attempts the
	// non-blocking (main-thread) writer makes before giving up and
	// reporting LockBusy.
	MainThreadLockSpinBudget = 1

	// CorruptionLogThreshold is a corruption-logging threshold that no
	// code reads: the ring reader does no logging and reports every
	// corruption event through its CorruptionHandler.
	CorruptionLogThreshold = 3
)
