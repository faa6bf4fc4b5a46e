// Package ring implements the lock-free framed byte-ring writer and
// reader described in spec.md §4.1-4.2, grounded on sakateka-yanet2's
// pdump ring reader (modules/pdump/controlplane/ring.go) for the overall
// shape: atomic head/tail words, 4-byte-aligned framed records, and a
// corruption-resync path. The errgroup-driven reader loops built on this
// package live in internal/inbound.
package ring

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/supersonic-audio/supersonic/internal/constants"
)

// align4 rounds n up to the next 4-byte boundary, the same helper
// sakateka-yanet2's ring.go calls alignToU32.
func align4(n int) int {
	return (n + 3) &^ 3
}

// ErrFull is returned by a non-blocking Write when the ring has no room
// for the record.
var ErrFull = ringErr("ring full")

// ErrLockBusy is returned by a non-blocking Write when the write lock
// could not be acquired within its spin budget.
var ErrLockBusy = ringErr("write lock busy")

// ErrRecordTooLarge is returned when payload+header cannot ever fit in
// the ring, regardless of current occupancy.
var ErrRecordTooLarge = ringErr("record too large")

type ringErr string

func (e ringErr) Error() string { return string(e) }

// Writer inserts framed records into one byte ring, serializing
// concurrent producers through an optional write lock (only the IN ring
// needs one; OUT/DEBUG have a single writer, the engine, and don't use
// this type).
type Writer struct {
	buf  []byte
	head *uint32
	tail *uint32
	seq  *uint32
	lock *uint32 // nil if the ring has only one writer
}

// NewWriter constructs a Writer over a ring's backing bytes and its
// control-block words.
func NewWriter(buf []byte, head, tail, seq, lock *uint32) *Writer {
	return &Writer{buf: buf, head: head, tail: tail, seq: seq, lock: lock}
}

// Write inserts one framed record (spec.md §4.1) under the main-thread
// (non-blocking, 0-spin) policy: lock contention or a full ring returns
// ErrLockBusy or ErrFull at once. WriteBlocking is the worker
// (blocking-with-retry) variant.
func (w *Writer) Write(ctx context.Context, payload []byte, sourceID uint32) (sequence uint32, err error) {
	return w.write(ctx, payload, sourceID, false)
}

// WriteBlocking is the worker-thread variant: on lock contention or a
// full ring it parks and retries instead of returning an error.
func (w *Writer) WriteBlocking(ctx context.Context, payload []byte, sourceID uint32) (sequence uint32, err error) {
	return w.write(ctx, payload, sourceID, true)
}

func (w *Writer) write(ctx context.Context, payload []byte, sourceID uint32, blocking bool) (uint32, error) {
	needed := align4(constants.FrameHeaderSize + len(payload))
	capacity := len(w.buf)
	if needed > capacity {
		return 0, ErrRecordTooLarge
	}

	if !w.acquireLock(ctx, blocking) {
		return 0, ErrLockBusy
	}
	defer w.releaseLock()

	for {
		head := atomic.LoadUint32(w.head)
		tail := atomic.LoadUint32(w.tail)
		free := uint32(capacity) - (head - tail)

		// Account for a possible padding record at the wrap boundary:
		// worst case we need `needed` plus the remainder of the ring.
		headPos := int(head) % capacity
		spanToEnd := capacity - headPos
		wrap := needed > spanToEnd
		extra := 0
		if wrap {
			extra = spanToEnd
		}

		if uint32(needed+extra)+constants.FrameHeaderSize > free {
			if !blocking {
				return 0, ErrFull
			}
			if !w.parkForSpace(ctx) {
				return 0, ctx.Err()
			}
			continue
		}

		return w.writeRecord(head, headPos, spanToEnd, needed, wrap, payload, sourceID), nil
	}
}

func (w *Writer) writeRecord(head uint32, headPos, spanToEnd, needed int, wrap bool, payload []byte, sourceID uint32) uint32 {
	writeAt := headPos

	if wrap {
		w.emitPadding(headPos)
		writeAt = 0
		head += uint32(spanToEnd)
	}

	seq := atomic.AddUint32(w.seq, 1)
	putUint32(w.buf[writeAt:], constants.MessageMagic)
	putUint32(w.buf[writeAt+4:], uint32(len(payload)))
	putUint32(w.buf[writeAt+8:], seq)
	putUint32(w.buf[writeAt+12:], sourceID)
	copy(w.buf[writeAt+constants.FrameHeaderSize:], payload)

	newHead := head + uint32(needed)
	atomic.StoreUint32(w.head, newHead)
	return seq
}

// emitPadding marks the ring's wrap boundary at at. A padding record
// always means "skip to the end of the buffer", so its length is just
// capacity-at and never needs a stored length field — only the magic
// word is written, and since at is always 4-byte aligned and less than
// capacity, there are always at least 4 bytes to hold it.
func (w *Writer) emitPadding(at int) {
	putUint32(w.buf[at:], constants.PaddingMagic)
}

func (w *Writer) acquireLock(ctx context.Context, blocking bool) bool {
	if w.lock == nil {
		return true
	}
	if !blocking {
		for i := 0; i < constants.MainThreadLockSpinBudget; i++ {
			if atomic.CompareAndSwapUint32(w.lock, 0, 1) {
				return true
			}
		}
		return false
	}
	for {
		if atomic.CompareAndSwapUint32(w.lock, 0, 1) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

func (w *Writer) releaseLock() {
	if w.lock != nil {
		atomic.StoreUint32(w.lock, 0)
	}
}

func (w *Writer) parkForSpace(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(pollInterval):
		return true
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
