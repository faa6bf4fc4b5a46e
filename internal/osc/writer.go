package osc

import "sync"

// defaultScratchSize is the initial capacity of a pooled Writer's
// scratch buffer, sized for a typical scsynth control message.
const defaultScratchSize = 1024

// Writer accumulates one encoded OSC packet into a reusable buffer,
// the same pooled-buffer-behind-a-thin-struct shape cloudwego-gopkg's
// thrift BinaryWriter uses (protocol/thrift/binarywriter.go): Get/Reset
// from a sync.Pool, grow in place with append, Release back when done.
// Per spec.md §4.3, a payload that outgrows the scratch just grows the
// backing array instead of erroring; PutWriter drops oversized buffers
// instead of pooling them so steady-state allocations stay small.
type Writer struct {
	buf []byte
}

var writerPool = sync.Pool{
	New: func() any { return &Writer{buf: make([]byte, 0, defaultScratchSize)} },
}

// GetWriter returns a pooled Writer with an empty buffer.
func GetWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.buf = w.buf[:0]
	return w
}

// PutWriter returns w to the pool. Buffers that grew far beyond the
// default scratch size are dropped instead of pooled, so one oversized
// blob doesn't permanently inflate the pool's steady-state footprint.
func PutWriter(w *Writer) {
	if cap(w.buf) > defaultScratchSize*16 {
		return
	}
	writerPool.Put(w)
}

// Bytes returns the writer's accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Reset clears the writer for reuse without returning it to the pool.
func (w *Writer) Reset() { w.buf = w.buf[:0] }
