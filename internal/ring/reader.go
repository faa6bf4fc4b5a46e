package ring

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/supersonic-audio/supersonic/internal/constants"
)

// pollInterval is how often a blocked reader/writer re-checks ring state
// in the absence of a real futex wake, matching the polling cadence
// sakateka-yanet2's pdump ring reader uses for its waker ticker.
const pollInterval = time.Millisecond

// Record is one decoded framed record handed to a drain caller. Bytes is
// a caller-owned copy; the ring's memory must not escape (spec.md §4.2).
type Record struct {
	Sequence uint32
	SourceID uint32
	Bytes    []byte
}

// CorruptionHandler is invoked when a reader's tail lands on neither
// MESSAGE_MAGIC nor PADDING_MAGIC. The default policy (spec.md §3.2,
// §7) is to resync tail to head and report the event; callers supply a
// handler to log/increment metrics.
type CorruptionHandler func()

// Reader drains framed records from one byte ring, non-destructively
// advancing its own private tail or the shared control-block tail
// depending on which constructor is used.
type Reader struct {
	buf        []byte
	head       *uint32
	tail       *uint32
	onCorrupt  CorruptionHandler
	ownsTail   bool // false for a log-sniffer that must not publish tail
}

// NewReader constructs a Reader that owns (reads and publishes) the
// ring's shared tail word — the normal consuming-reader role.
func NewReader(buf []byte, head, tail *uint32, onCorrupt CorruptionHandler) *Reader {
	return &Reader{buf: buf, head: head, tail: tail, onCorrupt: onCorrupt, ownsTail: true}
}

// NewNonConsumingReader constructs a Reader for the IN_LOG_TAIL
// secondary observer (spec.md §4.1): it tracks its own tail position
// but never advances the ring's real tail, so it cannot block writers
// and may lag or drop arbitrarily far behind.
func NewNonConsumingReader(buf []byte, head *uint32, startTail uint32, onCorrupt CorruptionHandler) *Reader {
	tail := startTail
	return &Reader{buf: buf, head: head, tail: &tail, onCorrupt: onCorrupt, ownsTail: false}
}

// Drain reads up to maxRecords framed records (spec.md §4.2).
func (r *Reader) Drain(maxRecords int) []Record {
	capacity := len(r.buf)
	head := atomic.LoadUint32(r.head)
	tail := atomic.LoadUint32(r.tail)

	var out []Record
	for i := 0; i < maxRecords && tail != head; i++ {
		pos := int(tail) % capacity

		magic := getUint32(r.buf[pos:])
		switch magic {
		case constants.PaddingMagic:
			// A padding marker always means "skip to the end of the
			// ring" — its length is derived from its own position, not
			// a stored field, so there's nothing to read beyond the
			// magic word itself.
			tail += uint32(capacity - pos)
			continue
		case constants.MessageMagic:
			payloadLen := getUint32(r.buf[pos+4:])
			seq := getUint32(r.buf[pos+8:])
			sourceID := getUint32(r.buf[pos+12:])

			payloadStart := pos + constants.FrameHeaderSize
			payload := make([]byte, payloadLen)
			copy(payload, r.buf[payloadStart:payloadStart+int(payloadLen)])

			out = append(out, Record{Sequence: seq, SourceID: sourceID, Bytes: payload})
			tail += uint32(align4(constants.FrameHeaderSize + int(payloadLen)))
		default:
			if r.onCorrupt != nil {
				r.onCorrupt()
			}
			tail = head
		}
	}

	if r.ownsTail {
		atomic.StoreUint32(r.tail, tail)
	} else {
		*r.tail = tail
	}
	return out
}

// Wait blocks until the ring has at least one record or ctx is done,
// matching the worker reader's timed park on head when empty (spec.md
// §5) — here approximated with a cooperative yield loop since there is
// no futex primitive in plain Go.
func (r *Reader) Wait(ctx context.Context) bool {
	for atomic.LoadUint32(r.head) == atomic.LoadUint32(r.tail) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
	return true
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
