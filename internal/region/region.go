// Package region lays out the single contiguous shared byte buffer that
// the host adaptor, its channels, and the engine all operate on: three
// byte rings (IN/OUT/DEBUG), a control block of atomic words, a metrics
// block, the NTP timing anchor, the node-ID counter, and the node-tree
// mirror (spec.md §3.1).
//
// In production this buffer is a SharedArrayBuffer handed to the engine's
// WASM instance; here it is a plain Go byte slice, and every
// cross-thread field is accessed through sync/atomic the same way
// go-ublk's internal/uapi marshalled kernel ABI structs field-by-field
// at fixed offsets, rather than through struct tags or reflection.
package region

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Control block field offsets, in 32-bit words, matching spec.md §3.1's
// listed order.
const (
	fieldInHead = iota
	fieldInTail
	fieldOutHead
	fieldOutTail
	fieldDebugHead
	fieldDebugTail
	fieldInSequence
	fieldOutSequence
	fieldDebugSequence
	fieldStatusFlags
	fieldInWriteLock
	fieldInLogTail
	controlBlockWords
)

// ControlBlockSize is the control block's size in bytes.
const ControlBlockSize = controlBlockWords * 4

// Status flag bits stored in the control block's status_flags word.
const (
	StatusReady uint32 = 1 << iota
	StatusShuttingDown
)

// Metrics block field offsets, in 32-bit words.
const (
	metricMessagesSent = iota
	metricMessagesReceived
	metricBytesSent
	metricBytesReceived
	metricNonBundle
	metricImmediate
	metricNearFuture
	metricLate
	metricFarFuture
	metricRingWriteRetries
	metricProcessTick
	metricEngineHeadroom
	metricsBlockWords
)

// MetricsBlockSize is the metrics block's size in bytes.
const MetricsBlockSize = metricsBlockWords * 4

// NodeTreeEntrySize is the byte size of one node-tree mirror entry
// (6 int32 fields + a 32-byte null-padded definition name).
const NodeTreeEntrySize = 6*4 + 32

// NodeTreeHeaderSize is the byte size of the node-tree mirror's header
// ({node_count, version, dropped_count}, each int32).
const NodeTreeHeaderSize = 3 * 4

// Layout describes the byte offsets of every section within the shared
// region, resolved once at init time the way the engine's own constants
// table would be resolved in a real deployment.
type Layout struct {
	InRingOffset, InRingSize       int
	OutRingOffset, OutRingSize     int
	DebugRingOffset, DebugRingSize int
	ControlOffset                  int
	MetricsOffset                  int
	NTPAnchorOffset                int
	GlobalOffsetOffset              int
	DriftOffset                    int
	NodeIDOffset                   int
	NodeTreeOffset                 int
	NodeTreeCapacity                int
	AudioCaptureOffset              int
	AudioCaptureSize                 int
	TotalSize                       int
}

// NewLayout computes a Layout from ring capacities and node-tree
// capacity, packing every section back to back on 4-byte boundaries.
func NewLayout(inSize, outSize, debugSize, nodeTreeCapacity, audioCaptureSize int) Layout {
	l := Layout{}
	offset := 0

	l.InRingOffset, l.InRingSize = offset, inSize
	offset += inSize

	l.OutRingOffset, l.OutRingSize = offset, outSize
	offset += outSize

	l.DebugRingOffset, l.DebugRingSize = offset, debugSize
	offset += debugSize

	l.ControlOffset = offset
	offset += ControlBlockSize

	l.MetricsOffset = offset
	offset += MetricsBlockSize

	l.NTPAnchorOffset = offset
	offset += 8

	l.GlobalOffsetOffset = offset
	offset += 4

	l.DriftOffset = offset
	offset += 4

	l.NodeIDOffset = offset
	offset += 4

	l.NodeTreeOffset = offset
	l.NodeTreeCapacity = nodeTreeCapacity
	offset += NodeTreeHeaderSize + nodeTreeCapacity*NodeTreeEntrySize

	l.AudioCaptureOffset = offset
	l.AudioCaptureSize = audioCaptureSize
	offset += audioCaptureSize

	l.TotalSize = offset
	return l
}

// Region wraps the shared byte buffer and the resolved Layout, and is
// the single handle passed to ring writers/readers, the timing model,
// and the node-tree mirror.
type Region struct {
	Layout Layout
	buf    []byte
}

// New allocates a zero-initialized region for the given layout. The
// node-tree mirror's empty-slot sentinel (id == -1 in every entry) is
// the only non-zero initialization the spec requires (spec.md §6.4).
func New(layout Layout) *Region {
	r := &Region{Layout: layout, buf: make([]byte, layout.TotalSize)}
	r.initNodeTree()
	return r
}

// Bytes returns the backing buffer. Callers must not retain slices of it
// past the region's lifetime.
func (r *Region) Bytes() []byte { return r.buf }

func (r *Region) wordPtr(byteOffset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.buf[byteOffset]))
}

func (r *Region) dwordPtr(byteOffset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.buf[byteOffset]))
}

func (r *Region) controlWord(field int) *uint32 {
	return r.wordPtr(r.Layout.ControlOffset + field*4)
}

func (r *Region) metricWord(field int) *uint32 {
	return r.wordPtr(r.Layout.MetricsOffset + field*4)
}

func (r *Region) initNodeTree() {
	for i := 0; i < r.Layout.NodeTreeCapacity; i++ {
		entryOffset := r.Layout.NodeTreeOffset + NodeTreeHeaderSize + i*NodeTreeEntrySize
		atomic.StoreUint32(r.wordPtr(entryOffset), ^uint32(0)) // int32 -1
	}
}

// Ring byte-ring head/tail/sequence accessors (spec.md §3.1, §4.1-4.2).

func (r *Region) InHead() *uint32       { return r.controlWord(fieldInHead) }
func (r *Region) InTail() *uint32       { return r.controlWord(fieldInTail) }
func (r *Region) OutHead() *uint32      { return r.controlWord(fieldOutHead) }
func (r *Region) OutTail() *uint32      { return r.controlWord(fieldOutTail) }
func (r *Region) DebugHead() *uint32    { return r.controlWord(fieldDebugHead) }
func (r *Region) DebugTail() *uint32    { return r.controlWord(fieldDebugTail) }
func (r *Region) InSequence() *uint32   { return r.controlWord(fieldInSequence) }
func (r *Region) OutSequence() *uint32  { return r.controlWord(fieldOutSequence) }
func (r *Region) DebugSequence() *uint32 { return r.controlWord(fieldDebugSequence) }
func (r *Region) StatusFlags() *uint32  { return r.controlWord(fieldStatusFlags) }
func (r *Region) InWriteLock() *uint32  { return r.controlWord(fieldInWriteLock) }
func (r *Region) InLogTail() *uint32    { return r.controlWord(fieldInLogTail) }

// InRing / OutRing / DebugRing return the backing byte slices for each
// ring, sized per the Layout.
func (r *Region) InRing() []byte {
	return r.buf[r.Layout.InRingOffset : r.Layout.InRingOffset+r.Layout.InRingSize]
}

func (r *Region) OutRing() []byte {
	return r.buf[r.Layout.OutRingOffset : r.Layout.OutRingOffset+r.Layout.OutRingSize]
}

// NodeTreeBytes returns the node-tree mirror's raw backing bytes,
// header and every slot (including empty ones), for the host API's
// get_raw_tree() (spec.md §6.3) — unlike Tree(), it does no parsing, no
// empty-slot filtering, and no version-stable retry; callers that need a
// consistent snapshot should use Tree() instead.
func (r *Region) NodeTreeBytes() []byte {
	size := NodeTreeHeaderSize + r.Layout.NodeTreeCapacity*NodeTreeEntrySize
	return r.buf[r.Layout.NodeTreeOffset : r.Layout.NodeTreeOffset+size]
}

func (r *Region) DebugRing() []byte {
	return r.buf[r.Layout.DebugRingOffset : r.Layout.DebugRingOffset+r.Layout.DebugRingSize]
}

// Metrics block accessors (spec.md §3.1).

func (r *Region) MetricMessagesSent() *uint32     { return r.metricWord(metricMessagesSent) }
func (r *Region) MetricMessagesReceived() *uint32 { return r.metricWord(metricMessagesReceived) }
func (r *Region) MetricBytesSent() *uint32        { return r.metricWord(metricBytesSent) }
func (r *Region) MetricBytesReceived() *uint32    { return r.metricWord(metricBytesReceived) }
func (r *Region) MetricNonBundle() *uint32        { return r.metricWord(metricNonBundle) }
func (r *Region) MetricImmediate() *uint32        { return r.metricWord(metricImmediate) }
func (r *Region) MetricNearFuture() *uint32       { return r.metricWord(metricNearFuture) }
func (r *Region) MetricLate() *uint32             { return r.metricWord(metricLate) }
func (r *Region) MetricFarFuture() *uint32        { return r.metricWord(metricFarFuture) }
func (r *Region) MetricRingWriteRetries() *uint32 { return r.metricWord(metricRingWriteRetries) }
func (r *Region) MetricProcessTick() *uint32      { return r.metricWord(metricProcessTick) }
func (r *Region) MetricEngineHeadroom() *uint32   { return r.metricWord(metricEngineHeadroom) }

// NTP anchor, global offset, and drift (spec.md §4.4).

// NTPStart returns the NTP timestamp at which the engine's audio clock
// read zero. Backed by an atomic 64-bit word: go-ublk's teacher domain
// has no equivalent torn-read tolerance requirement, but nothing here
// forbids using a true atomic load in place of the spec's "tolerate a
// torn value" allowance — it is strictly safer.
func (r *Region) NTPStart() float64 {
	bits := atomic.LoadUint64(r.dwordPtr(r.Layout.NTPAnchorOffset))
	return math.Float64frombits(bits)
}

// SetNTPStart stores a freshly resynced NTP anchor. Only the host thread
// calls this (spec.md §5).
func (r *Region) SetNTPStart(v float64) {
	atomic.StoreUint64(r.dwordPtr(r.Layout.NTPAnchorOffset), math.Float64bits(v))
}

// GlobalOffsetMs returns the user-supplied multi-system clock skew.
func (r *Region) GlobalOffsetMs() int32 {
	return int32(atomic.LoadUint32(r.wordPtr(r.Layout.GlobalOffsetOffset)))
}

// SetGlobalOffsetMs sets the user-supplied multi-system clock skew.
func (r *Region) SetGlobalOffsetMs(ms int32) {
	atomic.StoreUint32(r.wordPtr(r.Layout.GlobalOffsetOffset), uint32(ms))
}

// DriftMs returns the most recently measured host-vs-audio drift.
func (r *Region) DriftMs() int32 {
	return int32(atomic.LoadUint32(r.wordPtr(r.Layout.DriftOffset)))
}

// SetDriftMs publishes a freshly measured host-vs-audio drift.
func (r *Region) SetDriftMs(ms int32) {
	atomic.StoreUint32(r.wordPtr(r.Layout.DriftOffset), uint32(ms))
}

// NextNodeID performs the shared-memory channel's fetch-add node-ID
// allocation (spec.md §4.7): trivially correct and contention-free.
func (r *Region) NextNodeID(start uint32) uint32 {
	word := r.wordPtr(r.Layout.NodeIDOffset)
	// The counter is zero until first use; seed it lazily so New()
	// doesn't need a caller-supplied starting value.
	for {
		current := atomic.LoadUint32(word)
		if current != 0 {
			break
		}
		if atomic.CompareAndSwapUint32(word, 0, start) {
			break
		}
	}
	return atomic.AddUint32(word, 1) - 1
}

// AllocateNodeIDRange reserves size contiguous IDs from the same counter
// NextNodeID draws from, for a message-passing channel's range allocator
// (spec.md §4.7). Sharing one counter keeps node-ID uniqueness (spec.md
// property 6) global across shared-memory and message-passing channels
// in the same process, even though only the message-passing variant asks
// for more than one ID at a time.
func (r *Region) AllocateNodeIDRange(start uint32, size uint32) uint32 {
	word := r.wordPtr(r.Layout.NodeIDOffset)
	for {
		current := atomic.LoadUint32(word)
		if current != 0 {
			break
		}
		if atomic.CompareAndSwapUint32(word, 0, start) {
			break
		}
	}
	return atomic.AddUint32(word, size) - size
}
